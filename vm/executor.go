// Package vm is the contract-execution oracle boundary: execute(tx, state)
// → (writes, reward, status). Transaction semantics themselves are out of
// scope (spec.md §1); this package only defines the interface the
// Processing Queue calls through and a dispatch-by-(contract,function)
// registry, the way the teacher's executor dispatches by TxType.
package vm

import (
	"fmt"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/events"
)

// State is the read/write surface a Handler sees. statedriver.Driver
// satisfies it directly.
type State interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte)
	SetDeleted(key string)
}

// Context is passed to every Handler.
type Context struct {
	State   State
	Tx      chain.Tx
	Emitter *events.Emitter
}

// Handler executes one (contract, function) pair against kwargs. It
// returns the stamps it consumed and a reward amount (may be "0"), or an
// error if execution failed; a returned error becomes a non-zero status
// result, never a retry.
type Handler func(ctx *Context, kwargs map[string]any) (stampsUsed uint64, reward string, err error)

// Executor runs a Tx's handler with a snapshot-free synchronous call: the
// caller (Processing Queue) owns soft-apply/rollback around the State it
// passes in, matching spec.md §4.5's "execute via the contract oracle
// using the current view" language.
type Executor struct {
	registry *Registry
	emitter  *events.Emitter
}

// NewExecutor creates an Executor dispatching through registry.
func NewExecutor(registry *Registry, emitter *events.Emitter) *Executor {
	return &Executor{registry: registry, emitter: emitter}
}

// Execute runs tx against state and returns a TxResult plus the reward
// amount the handler reported (empty string if none). The oracle never
// panics its way out of this call: a Handler error is captured into a
// non-zero Status result rather than propagated, per spec.md §4.5's error
// behavior and §7 kind 6 (Execution errors never abort consensus).
func (e *Executor) Execute(tx chain.Tx, state State) (result chain.TxResult, reward string) {
	txHash, err := chain.TxHash(tx)
	if err != nil {
		return failureResult(tx, fmt.Sprintf("hash tx: %v", err)), ""
	}

	ctx := &Context{State: state, Tx: tx, Emitter: e.emitter}
	h, ok := e.registry.Lookup(tx.Payload.Contract, tx.Payload.Function)
	if !ok {
		return chain.TxResult{
			Hash:        txHash,
			Result:      fmt.Sprintf("no handler for %s.%s", tx.Payload.Contract, tx.Payload.Function),
			Status:      chain.StatusFailure,
			Transaction: tx,
		}, ""
	}

	defer func() {
		if r := recover(); r != nil {
			result = chain.TxResult{
				Hash:        txHash,
				Result:      fmt.Sprintf("handler panic: %v", r),
				Status:      chain.StatusFailure,
				Transaction: tx,
			}
			reward = ""
		}
	}()

	stamps, reward, err := h(ctx, tx.Payload.Kwargs)
	if err != nil {
		return chain.TxResult{
			Hash:        txHash,
			Result:      err.Error(),
			StampsUsed:  stamps,
			Status:      chain.StatusFailure,
			Transaction: tx,
		}, ""
	}
	return chain.TxResult{
		Hash:        txHash,
		Result:      "success",
		StampsUsed:  stamps,
		Status:      chain.StatusSuccess,
		Transaction: tx,
	}, reward
}

func failureResult(tx chain.Tx, msg string) chain.TxResult {
	return chain.TxResult{Result: msg, Status: chain.StatusFailure, Transaction: tx}
}
