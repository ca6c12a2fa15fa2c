package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
)

func (n *Node) handleGetLatest(peer *Peer, msg Message) {
	n.respondWithBlock(peer, msg, func() (*chain.Block, bool, error) {
		if n.store == nil {
			return nil, false, nil
		}
		tip, err := n.store.GetTip()
		if err == blockstore.ErrNotFound {
			return nil, false, nil
		}
		return tip, err == nil, err
	}, MsgLatest)
}

func (n *Node) handleGetBlock(peer *Peer, msg Message) {
	var req GetBlockRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	n.respondWithBlock(peer, msg, func() (*chain.Block, bool, error) {
		if n.store == nil {
			return nil, false, nil
		}
		b, err := n.store.GetBlockByNumber(req.Number)
		if err == blockstore.ErrNotFound {
			return nil, false, nil
		}
		return b, err == nil, err
	}, MsgBlockResponse)
}

func (n *Node) respondWithBlock(peer *Peer, msg Message, lookup func() (*chain.Block, bool, error), replyType MsgType) {
	block, found, err := lookup()
	if err != nil {
		return
	}
	resp := BlockResponse{Found: found}
	if found {
		data, err := json.Marshal(block)
		if err != nil {
			return
		}
		resp.Block = data
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: replyType, ID: msg.ID, Payload: data})
}

func (n *Node) handleGetNetworkMap(peer *Peer, msg Message) {
	var resp NetworkMapResponse
	if n.networkMap != nil {
		resp = n.networkMap()
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = peer.Send(Message{Type: MsgNetworkMap, ID: msg.ID, Payload: data})
}

// GetLatestBlock asks peer for its chain tip.
func (n *Node) GetLatestBlock(peer *Peer) (*chain.Block, bool, error) {
	reply, err := n.request(peer, MsgGetLatest, struct{}{}, DefaultRequestTimeout)
	if err != nil {
		return nil, false, err
	}
	return decodeBlockResponse(reply)
}

// GetBlock asks peer for the block at number.
func (n *Node) GetBlock(peer *Peer, number uint64) (*chain.Block, bool, error) {
	reply, err := n.request(peer, MsgGetBlock, GetBlockRequest{Number: number}, DefaultRequestTimeout)
	if err != nil {
		return nil, false, err
	}
	return decodeBlockResponse(reply)
}

func decodeBlockResponse(reply Message) (*chain.Block, bool, error) {
	var resp BlockResponse
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	var b chain.Block
	if err := json.Unmarshal(resp.Block, &b); err != nil {
		return nil, false, fmt.Errorf("p2p: decode block: %w", err)
	}
	return &b, true, nil
}

// GetNetworkMap asks peer for its membership view.
func (n *Node) GetNetworkMap(peer *Peer) (*NetworkMapResponse, error) {
	reply, err := n.request(peer, MsgGetNetworkMap, struct{}{}, DefaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	var resp NetworkMapResponse
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchBlock asks every connected peer for block number, stopping at the
// first peer that has it, per original_source/catchup_new.py's "ask next
// peer on miss" policy. Satisfies missingblocks.PeerFetcher.
func (n *Node) FetchBlock(number uint64) (*chain.Block, bool, error) {
	for _, p := range n.Peers() {
		b, ok, err := n.GetBlock(p, number)
		if err != nil {
			continue
		}
		if ok {
			return b, true, nil
		}
	}
	return nil, false, nil
}
