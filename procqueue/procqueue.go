// Package procqueue implements the Processing Queue: an HLC-ordered map of
// pending TxMessages, executed one at a time through the contract oracle
// once each one's processing delay has elapsed, per spec.md §4.5.
package procqueue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/vm"
)

// Executor is the oracle boundary the queue drives. *vm.Executor satisfies
// this directly.
type Executor interface {
	Execute(tx chain.Tx, state vm.State) (chain.TxResult, string)
}

// Queue owns the HLC → TxMessage map described in spec.md §4.5.
type Queue struct {
	mu sync.Mutex

	pending map[hlc.Timestamp]chain.TxMessage
	order   []hlc.Timestamp // ascending

	lastHardApplied hlc.Timestamp

	driver *statedriver.Driver
	exec   Executor

	delayBase time.Duration
	delaySelf time.Duration
	now       func() time.Time
}

// New creates a Queue that executes against driver via exec, gating
// execution with a processing delay of delayBase+delaySelf.
func New(driver *statedriver.Driver, exec Executor, delayBase, delaySelf time.Duration) *Queue {
	return &Queue{
		pending:   make(map[hlc.Timestamp]chain.TxMessage),
		driver:    driver,
		exec:      exec,
		delayBase: delayBase,
		delaySelf: delaySelf,
		now:       time.Now,
	}
}

// SetLastHardApplied records the most recently committed HLC, so Append can
// reject already-decided timestamps.
func (q *Queue) SetLastHardApplied(ts hlc.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastHardApplied = ts
}

// Append inserts msg into the pending map in HLC order. It rejects msg if
// its HLC has already been hard-applied. It reports needsReprocess=true if
// msg's HLC is strictly earlier than the newest entry already pending,
// which the caller must follow up with a Reprocessor run.
func (q *Queue) Append(msg chain.TxMessage) (needsReprocess bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts := msg.HLCTimestamp
	if q.lastHardApplied != "" && ts <= q.lastHardApplied {
		return false, fmt.Errorf("procqueue: hlc %s already committed", ts)
	}
	if _, exists := q.pending[ts]; exists {
		return false, fmt.Errorf("procqueue: hlc %s already pending", ts)
	}

	needsReprocess = len(q.order) > 0 && ts < q.order[len(q.order)-1]

	q.pending[ts] = msg
	i := sort.Search(len(q.order), func(i int) bool { return q.order[i] >= ts })
	q.order = append(q.order, "")
	copy(q.order[i+1:], q.order[i:])
	q.order[i] = ts
	return needsReprocess, nil
}

// ProcessNext selects the earliest pending HLC whose processing delay has
// elapsed, executes it, and soft-applies the result. It returns ok=false
// with no error when the queue is empty or the earliest entry isn't ready
// yet.
func (q *Queue) ProcessNext() (result chain.ProcessingResult, ok bool, err error) {
	q.mu.Lock()
	if len(q.order) == 0 {
		q.mu.Unlock()
		return chain.ProcessingResult{}, false, nil
	}
	ts := q.order[0]
	msg := q.pending[ts]
	wallNanos, err := hlc.Nanos(ts)
	if err != nil {
		q.mu.Unlock()
		return chain.ProcessingResult{}, false, err
	}
	readyAt := time.Unix(0, int64(wallNanos)).Add(q.delayBase).Add(q.delaySelf)
	if q.now().Before(readyAt) {
		q.mu.Unlock()
		return chain.ProcessingResult{}, false, nil
	}
	delete(q.pending, ts)
	q.order = q.order[1:]
	q.mu.Unlock()

	return q.ProcessTx(msg), true, nil
}

// ProcessTx runs msg through the oracle using the current view (durable
// plus pending deltas for HLCs earlier than msg's own) without touching
// the pending map. Used directly by the Reprocessor, which manages its own
// snapshot/replay bookkeeping.
func (q *Queue) ProcessTx(msg chain.TxMessage) chain.ProcessingResult {
	q.driver.BeginView(msg.HLCTimestamp)
	tr, reward := q.exec.Execute(msg.Tx, q.driver)
	delta := q.driver.SoftApply(msg.HLCTimestamp)
	tr.State = stateChangesFromDelta(delta)

	var rewards []chain.Reward
	if reward != "" && reward != "0" {
		rewards = []chain.Reward{{Key: msg.Tx.Payload.Sender, Amount: reward}}
	}

	return chain.ProcessingResult{
		HLCTimestamp: msg.HLCTimestamp,
		TxResult:     tr,
		Rewards:      rewards,
		TxMessage:    msg,
	}
}

// Len returns the number of pending HLCs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Oldest returns the smallest pending HLC, if any.
func (q *Queue) Oldest() (hlc.Timestamp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return "", false
	}
	return q.order[0], true
}

func stateChangesFromDelta(delta *statedriver.Delta) []chain.StateChange {
	keys := make([]string, 0, len(delta.Writes))
	for k := range delta.Writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]chain.StateChange, len(keys))
	for i, k := range keys {
		w := delta.Writes[k]
		if w.Post == nil {
			out[i] = chain.StateChange{Key: k, Value: nil}
		} else {
			out[i] = chain.StateChange{Key: k, Value: string(w.Post)}
		}
	}
	return out
}
