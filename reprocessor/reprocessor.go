// Package reprocessor implements the Reprocessor (C7): replaying pending
// HLCs in order after an out-of-order tx arrival, per spec.md §4.7.
package reprocessor

import (
	"sort"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/statedriver"
)

// Executor is the subset of procqueue.Queue the Reprocessor drives: replay
// a tx against the current view without touching the processing queue's
// own pending map.
type Executor interface {
	ProcessTx(msg chain.TxMessage) chain.ProcessingResult
}

// Publisher is called once per HLC whose result changed and needs to be
// re-announced to peers.
type Publisher func(chain.ProcessingResult)

// Reprocessor replays the tail of pending deltas affected by a late-
// arriving, out-of-order transaction.
type Reprocessor struct {
	driver  *statedriver.Driver
	exec    Executor
	publish Publisher
}

// New creates a Reprocessor over driver, replaying through exec and
// announcing changed results via publish.
func New(driver *statedriver.Driver, exec Executor, publish Publisher) *Reprocessor {
	return &Reprocessor{driver: driver, exec: exec, publish: publish}
}

// Run executes the snapshot-sort-replay algorithm for newMsg, whose HLC is
// strictly earlier than at least one currently pending delta. processed
// must map every HLC in driver.PendingHLCs() to the TxMessage that
// produced it, so later entries can be replayed.
func (r *Reprocessor) Run(newMsg chain.TxMessage, processed map[hlc.Timestamp]chain.TxMessage) error {
	newHLC := newMsg.HLCTimestamp

	pending := r.driver.PendingHLCs()
	snapshot := make(map[hlc.Timestamp]*statedriver.Delta, len(pending))
	for _, ts := range pending {
		if delta, ok := r.driver.Pending(ts); ok {
			snapshot[ts] = delta
		}
	}

	keys := make([]hlc.Timestamp, 0, len(snapshot)+1)
	seen := map[hlc.Timestamp]struct{}{newHLC: {}}
	keys = append(keys, newHLC)
	for ts := range snapshot {
		if _, ok := seen[ts]; ok {
			continue
		}
		seen[ts] = struct{}{}
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	changedKeys := make(map[string]struct{})

	for _, h := range keys {
		switch {
		case h < newHLC:
			continue

		case h == newHLC:
			r.driver.RollbackTo(newHLC)
			result := r.exec.ProcessTx(newMsg)
			for _, sc := range result.TxResult.State {
				changedKeys[sc.Key] = struct{}{}
			}
			r.publish(result)

		default: // h > newHLC
			delta, ok := snapshot[h]
			if !ok {
				continue
			}
			if !intersects(delta.Reads, changedKeys) {
				// Unaffected: RollbackTo(newHLC) already dropped this
				// delta from pending_deltas, so restore it as-is (no
				// replay, no republish) rather than losing it.
				r.driver.RestorePending(h, delta)
				continue
			}
			msg, ok := processed[h]
			if !ok {
				r.driver.RestorePending(h, delta)
				continue
			}
			result := r.exec.ProcessTx(msg)
			newDelta, _ := r.driver.Pending(h)
			var newWrites map[string]statedriver.WriteEntry
			if newDelta != nil {
				newWrites = newDelta.Writes
			}
			ck := statedriver.ChangedKeys(delta.Writes, newWrites)
			if len(ck) == 0 {
				continue
			}
			for k := range ck {
				changedKeys[k] = struct{}{}
			}
			r.publish(result)
		}
	}
	return nil
}

func intersects(a map[string]struct{}, b map[string]struct{}) bool {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}
