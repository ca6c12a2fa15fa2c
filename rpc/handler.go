package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/indexer"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/wallet"
)

// Admitter is the admitted-transaction file queue the tx-file pump drains.
// Satisfied by *txqueue.Queue.
type Admitter interface {
	Push(tx chain.Tx) error
}

// QueueSizer reports how many transactions are waiting to be processed,
// for getMempoolSize. Satisfied by *procqueue.Queue.
type QueueSizer interface {
	Len() int
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	store   *blockstore.Store
	driver  *statedriver.Driver
	idx     *indexer.Indexer
	admit   Admitter
	pending QueueSizer
}

// NewHandler creates an RPC Handler.
func NewHandler(store *blockstore.Store, driver *statedriver.Driver, idx *indexer.Indexer, admit Admitter, pending QueueSizer) *Handler {
	return &Handler{
		store:   store,
		driver:  driver,
		idx:     idx,
		admit:   admit,
		pending: pending,
	}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "submitTransaction":
		return h.submitTransaction(req)

	case "getBlock":
		return h.getBlock(req)

	case "getLatestBlock":
		return h.getLatestBlock(req)

	case "getState":
		return h.getState(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.pending.Len())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// submitTransaction is the node's admission endpoint: it verifies the
// sender's signature and nonce and pushes the tx onto the admitted-
// transaction file queue. The orchestrator's tx-file pump stamps it with
// an HLC timestamp, publishes it, and appends it to the Processing Queue.
func (h *Handler) submitTransaction(req Request) Response {
	var tx chain.Tx
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	if err := wallet.VerifyTxSignature(tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "signature: "+err.Error())
	}

	current, err := h.idx.Nonce(tx.Payload.Processor, tx.Payload.Sender)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if tx.Payload.Nonce <= current {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("nonce %d already committed, current is %d", tx.Payload.Nonce, current))
	}

	txHash, err := chain.TxHash(tx)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if err := h.admit.Push(tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}

	return okResponse(req.ID, map[string]string{"tx_hash": txHash, "status": "admitted"})
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string  `json:"hash"`
		Number *uint64 `json:"number"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *chain.Block
	var err error
	switch {
	case params.Hash != "":
		block, err = h.store.GetBlockByHash(params.Hash)
	case params.Number != nil:
		block, err = h.store.GetBlockByNumber(*params.Number)
	default:
		block, err = h.store.GetTip()
	}
	if err == blockstore.ErrNotFound {
		return errResponse(req.ID, CodeInvalidParams, "no block found")
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getLatestBlock(req Request) Response {
	block, err := h.store.GetTip()
	if err == blockstore.ErrNotFound {
		return errResponse(req.ID, CodeInvalidParams, "no blocks yet")
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getState(req Request) Response {
	var params struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Key == "" {
		return errResponse(req.ID, CodeInvalidParams, "key is required")
	}
	value, exists, err := h.driver.Get(params.Key)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if !exists {
		return okResponse(req.ID, map[string]any{"key": params.Key, "exists": false})
	}
	return okResponse(req.ID, map[string]any{"key": params.Key, "exists": true, "value": string(value)})
}
