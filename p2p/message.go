// Package p2p implements the node-to-node transport (C9/C10 support): a
// length-prefixed JSON envelope over TCP, a small request/response RPC set
// (ping, hello, get_latest_block, get_block, get_network_map), and a
// pub/sub fan-out for the work/contenders/new_peer_connection topics, per
// spec.md's peer layer and the handshake/network-map detail supplemented
// from original_source/network.py.
package p2p

import "encoding/json"

// MsgType labels a P2P envelope.
type MsgType string

const (
	MsgPing           MsgType = "ping"
	MsgPong           MsgType = "pong"
	MsgHello          MsgType = "hello"
	MsgHelloResponse  MsgType = "hello_response"
	MsgGetLatest      MsgType = "get_latest_block"
	MsgLatest         MsgType = "latest_block"
	MsgGetBlock       MsgType = "get_block"
	MsgBlockResponse  MsgType = "block_response"
	MsgGetNetworkMap  MsgType = "get_network_map"
	MsgNetworkMap     MsgType = "network_map"
	MsgPublish        MsgType = "publish"
)

// Pub/sub topic names, per spec.md's gossip surface.
const (
	TopicWork              = "work"
	TopicContenders        = "contenders"
	TopicNewPeerConnection = "new_peer_connection"
)

// Message is the envelope for all P2P communication. ID correlates a
// response to its originating request; Topic is set only for MsgPublish.
type Message struct {
	Type    MsgType         `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloRequest carries the connecting node's challenge and advertised IP.
type HelloRequest struct {
	Challenge string `json:"challenge"`
	IP        string `json:"ip"`
}

// HelloResponse answers a HelloRequest, signed over the raw challenge by
// the responding node's key, plus its current chain tip so the dialer can
// tell right away whether it is behind.
type HelloResponse struct {
	Signer               string `json:"signer"`
	ChallengeResponseSig string `json:"challenge_response_sig"`
	LatestBlockNumber    uint64 `json:"latest_block_number"`
	LatestHLC            string `json:"latest_hlc"`
}

// GetBlockRequest asks a peer for a single block by number.
type GetBlockRequest struct {
	Number uint64 `json:"number"`
}

// BlockResponse answers GetBlockRequest/MsgGetLatest. Found is false when
// the responder has no such block.
type BlockResponse struct {
	Found bool            `json:"found"`
	Block json.RawMessage `json:"block,omitempty"`
}

// NetworkMapResponse answers MsgGetNetworkMap with the responder's view of
// the membership set. Membership is read opaquely as vk->ip maps; no
// governance contract logic decides who belongs in them.
type NetworkMapResponse struct {
	Masternodes map[string]string `json:"masternodes"`
	Delegates   map[string]string `json:"delegates"`
}
