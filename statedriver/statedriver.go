// Package statedriver implements the layered key-value store that backs
// speculative transaction execution: a durable bottom layer, a cache layer
// for values touched by already hard-applied deltas, and an ordered map of
// per-HLC pending deltas sitting on top.
package statedriver

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/storage"
)

// entry is a single key's value plus an existence flag, since a nil byte
// slice is ambiguous between "absent" and "present but empty".
type entry struct {
	value  []byte
	exists bool
}

// WriteEntry records a key's value before and after a delta's writes.
type WriteEntry struct {
	Pre       []byte
	PreExists bool
	Post      []byte
}

// Delta is the recorded effect of one speculative HLC: the keys it read
// and, for each key it wrote, the value before and after.
type Delta struct {
	Reads  map[string]struct{}
	Writes map[string]WriteEntry
}

// Driver is the state layer described in spec.md §4.2. The zero value is
// not usable; construct with New.
type Driver struct {
	mu sync.Mutex

	db storage.DB

	cache map[string]entry

	pendingDeltas map[hlc.Timestamp]*Delta
	order         []hlc.Timestamp // ascending, kept sorted

	curWrites map[string]entry
	curReads  map[string]struct{}

	// viewTS bounds Get to pending deltas strictly earlier than it, the
	// view the Processing Queue executes a tx at viewTS against. Empty
	// means unbounded (the newest value across all pending deltas), used
	// for reads outside of tx execution, e.g. RPC state lookups.
	viewTS hlc.Timestamp
}

// New creates a Driver backed by db for durable writes.
func New(db storage.DB) *Driver {
	return &Driver{
		db:            db,
		cache:         make(map[string]entry),
		pendingDeltas: make(map[hlc.Timestamp]*Delta),
		curWrites:     make(map[string]entry),
		curReads:      make(map[string]struct{}),
	}
}

// Get returns the newest visible value for key: the current speculative
// write buffer first, then pending deltas from newest to oldest, then the
// cache, then the durable store. The read is recorded in the current
// read-set regardless of which layer answered it.
func (d *Driver) Get(key string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.curReads[key] = struct{}{}

	if e, ok := d.curWrites[key]; ok {
		return e.value, e.exists, nil
	}
	for i := len(d.order) - 1; i >= 0; i-- {
		ts := d.order[i]
		if d.viewTS != "" && ts >= d.viewTS {
			continue
		}
		if w, ok := d.pendingDeltas[ts].Writes[key]; ok {
			return w.Post, w.exists(), nil
		}
	}
	if e, ok := d.cache[key]; ok {
		return e.value, e.exists, nil
	}
	val, err := d.db.Get([]byte(key))
	if err == storage.ErrNotFound {
		d.cache[key] = entry{exists: false}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statedriver: get %q: %w", key, err)
	}
	d.cache[key] = entry{value: val, exists: true}
	return val, true, nil
}

// Set writes value into the current speculative write buffer.
func (d *Driver) Set(key string, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	d.curWrites[key] = entry{value: cp, exists: true}
}

// SetDeleted marks key as deleted in the current speculative write buffer.
func (d *Driver) SetDeleted(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.curWrites[key] = entry{exists: false}
}

// ResetCurrent discards the current speculative write/read buffer without
// recording a delta. Used before re-executing a transaction in place
// (reprocessing) so the prior attempt's writes don't leak into the retry.
func (d *Driver) ResetCurrent() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCurrentLocked()
}

// BeginView resets the current write/read buffer and bounds subsequent
// Get calls to pending deltas strictly earlier than ts, the view the
// Processing Queue executes a transaction at ts against. Call with an
// empty ts to return to unbounded reads (the newest value overall).
func (d *Driver) BeginView(ts hlc.Timestamp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewTS = ts
	d.ResetCurrentLocked()
}

// SoftApply snapshots the current write/read buffer into pending_deltas[ts]
// and clears the current buffer. ts must not already have a pending delta.
func (d *Driver) SoftApply(ts hlc.Timestamp) *Delta {
	d.mu.Lock()
	defer d.mu.Unlock()

	writes := make(map[string]WriteEntry, len(d.curWrites))
	for k, w := range d.curWrites {
		pre, preExists := d.readThroughLocked(k, ts)
		var post []byte
		if w.exists {
			post = w.value
		}
		writes[k] = WriteEntry{Pre: pre, PreExists: preExists, Post: post}
	}
	reads := make(map[string]struct{}, len(d.curReads))
	for k := range d.curReads {
		reads[k] = struct{}{}
	}

	delta := &Delta{Reads: reads, Writes: writes}
	d.insertDeltaLocked(ts, delta)

	d.ResetCurrentLocked()
	d.viewTS = ""
	return delta
}

// readThroughLocked resolves key's value as of just before ts was applied:
// newest pending delta strictly older than ts, else cache, else durable.
// Caller must hold d.mu.
func (d *Driver) readThroughLocked(key string, ts hlc.Timestamp) ([]byte, bool) {
	for i := len(d.order) - 1; i >= 0; i-- {
		if d.order[i] >= ts {
			continue
		}
		if w, ok := d.pendingDeltas[d.order[i]].Writes[key]; ok {
			return w.Post, w.Post != nil
		}
	}
	if e, ok := d.cache[key]; ok {
		return e.value, e.exists
	}
	val, err := d.db.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (d *Driver) insertDeltaLocked(ts hlc.Timestamp, delta *Delta) {
	d.pendingDeltas[ts] = delta
	i := sort.Search(len(d.order), func(i int) bool { return d.order[i] >= ts })
	d.order = append(d.order, "")
	copy(d.order[i+1:], d.order[i:])
	d.order[i] = ts
}

// HardApplyOne pops the oldest pending delta, which must equal ts, and
// promotes its writes to the durable store. Returns the applied delta.
func (d *Driver) HardApplyOne(ts hlc.Timestamp) (*Delta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.order) == 0 || d.order[0] != ts {
		return nil, fmt.Errorf("statedriver: hard apply %q is not the oldest pending delta", ts)
	}
	delta := d.pendingDeltas[ts]
	batch := d.db.NewBatch()
	for k, w := range delta.Writes {
		if w.Post == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Set([]byte(k), w.Post)
		}
		delete(d.cache, k)
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("statedriver: hard apply %q: %w", ts, err)
	}

	delete(d.pendingDeltas, ts)
	d.order = d.order[1:]
	return delta, nil
}

// RollbackTo restores cache values for every pending delta with HLC
// strictly greater than or equal to ts, dropping those deltas in reverse
// (newest-first) order. Passing an empty ts clears all speculative state.
func (d *Driver) RollbackTo(ts hlc.Timestamp) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ResetCurrentLocked()

	i := len(d.order) - 1
	for ; i >= 0; i-- {
		h := d.order[i]
		if ts != "" && h < ts {
			break
		}
		delta := d.pendingDeltas[h]
		for k, w := range delta.Writes {
			d.cache[k] = entry{value: w.Pre, exists: w.PreExists}
		}
		delete(d.pendingDeltas, h)
	}
	d.order = d.order[:i+1]
}

// ResetCurrentLocked is ResetCurrent for callers already holding d.mu.
func (d *Driver) ResetCurrentLocked() {
	d.curWrites = make(map[string]entry)
	d.curReads = make(map[string]struct{})
}

// ExternalWrite is one key's already-decided value, applied directly to
// the durable store without going through the speculative delta
// machinery. Used when catching up on a peer-verified block.
type ExternalWrite struct {
	Key     string
	Value   []byte
	Deleted bool
}

// ApplyExternal writes a peer-verified block's state changes straight to
// the durable store, busting any cache entries they touch.
func (d *Driver) ApplyExternal(writes []ExternalWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := d.db.NewBatch()
	for _, w := range writes {
		if w.Deleted {
			batch.Delete([]byte(w.Key))
		} else {
			batch.Set([]byte(w.Key), w.Value)
		}
		delete(d.cache, w.Key)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("statedriver: apply external writes: %w", err)
	}
	return nil
}

// BustCache invalidates cache entries for the given keys so the next Get
// reads through to the durable store.
func (d *Driver) BustCache(keys map[string]struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range keys {
		delete(d.cache, k)
	}
}

// PendingHLCs returns the HLCs with an outstanding pending delta, ascending.
func (d *Driver) PendingHLCs() []hlc.Timestamp {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]hlc.Timestamp, len(d.order))
	copy(out, d.order)
	return out
}

// RestorePending re-inserts delta as the pending entry for ts without
// replaying it through the current write/read buffer. Used by the
// Reprocessor to put back an unaffected HLC's delta after a RollbackTo
// dropped it along with the rest of the tail.
func (d *Driver) RestorePending(ts hlc.Timestamp, delta *Delta) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertDeltaLocked(ts, delta)
}

// Pending returns the delta recorded for ts, if any.
func (d *Driver) Pending(ts hlc.Timestamp) (*Delta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delta, ok := d.pendingDeltas[ts]
	return delta, ok
}

// Oldest returns the smallest pending HLC, if any.
func (d *Driver) Oldest() (hlc.Timestamp, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.order) == 0 {
		return "", false
	}
	return d.order[0], true
}

// ChangedKeys returns the set of keys whose write entries differ between
// two snapshots of the same HLC's delta: present in exactly one (symmetric
// difference) or present in both with a different post-value. This is the
// single change-detection rule the Reprocessor uses uniformly, replacing
// the pop-then-compare approach that could double-count removed keys.
func ChangedKeys(prev, next map[string]WriteEntry) map[string]struct{} {
	out := make(map[string]struct{})
	for k, pw := range prev {
		nw, ok := next[k]
		if !ok {
			out[k] = struct{}{}
			continue
		}
		if !bytes.Equal(pw.Post, nw.Post) || pw.exists() != nw.exists() {
			out[k] = struct{}{}
		}
	}
	for k := range next {
		if _, ok := prev[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func (w WriteEntry) exists() bool { return w.Post != nil }
