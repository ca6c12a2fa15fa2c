package p2p

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/crypto"
)

// doHello runs the challenge-response handshake against an already-
// connected peer: send a random challenge, verify the peer signed it back
// with the key it claims.
func (n *Node) doHello(peer *Peer) (*HelloResponse, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return nil, err
	}
	req := HelloRequest{Challenge: hex.EncodeToString(challenge), IP: n.listenAddr}
	reply, err := n.request(peer, MsgHello, req, DefaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	var resp HelloResponse
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, fmt.Errorf("p2p: hello response from %s: %w", peer.ID, err)
	}
	pub, err := crypto.PubKeyFromHex(resp.Signer)
	if err != nil {
		return nil, fmt.Errorf("p2p: hello response signer from %s: %w", peer.ID, err)
	}
	if err := crypto.Verify(pub, challenge, resp.ChallengeResponseSig); err != nil {
		return nil, fmt.Errorf("p2p: hello response signature from %s: %w", peer.ID, err)
	}
	return &resp, nil
}

func (n *Node) handleHello(peer *Peer, msg Message) {
	var req HelloRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	challenge, err := hex.DecodeString(req.Challenge)
	if err != nil {
		return
	}
	sig := crypto.Sign(n.priv, challenge)

	var number uint64
	var latestHLC string
	if n.store != nil {
		if tip, err := n.store.GetTip(); err == nil && tip != nil {
			number = tip.Number
			latestHLC = string(tip.HLCTimestamp)
		} else if err != nil && err != blockstore.ErrNotFound {
			return
		}
	}

	resp := HelloResponse{
		Signer:               n.nodeID,
		ChallengeResponseSig: sig,
		LatestBlockNumber:    number,
		LatestHLC:            latestHLC,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgHelloResponse, ID: msg.ID, Payload: data})
}
