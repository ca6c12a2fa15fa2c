// Package txqueue implements the admitted-transaction file queue the
// Orchestrator's transaction-file pump drains, per spec.md §4.10: the RPC
// admission endpoint validates a tx and pushes it here; the pump pops it,
// stamps an HLC, publishes it, and appends it to the Processing Queue.
// Grounded on the same marker-file-directory idiom as missingblocks, and on
// original_source/lamden/nodes/base.py's file-backed tx_queue.
package txqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/rubin-dev/hlcnode/chain"
)

// Queue is a durable FIFO of admitted-but-not-yet-stamped transactions,
// one file per entry named by a monotonically increasing sequence number.
type Queue struct {
	dir string
	mu  sync.Mutex
	seq uint64
}

// New creates a Queue backed by dir, which is created if missing. Any
// files already present (from a previous run) are picked up by Pop in
// ascending sequence order.
func New(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("txqueue: %w", err)
	}
	seq, err := highestSeq(dir)
	if err != nil {
		return nil, err
	}
	return &Queue{dir: dir, seq: seq}, nil
}

// Push admits tx into the queue, durably, before returning.
func (q *Queue) Push(tx chain.Tx) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("txqueue: marshal: %w", err)
	}
	q.mu.Lock()
	q.seq++
	name := fmt.Sprintf("%020d.json", q.seq)
	q.mu.Unlock()

	path := filepath.Join(q.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("txqueue: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("txqueue: commit: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest admitted tx, if any.
func (q *Queue) Pop() (chain.Tx, bool, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return chain.Tx{}, false, fmt.Errorf("txqueue: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return chain.Tx{}, false, nil
	}
	sort.Strings(names)
	oldest := filepath.Join(q.dir, names[0])

	data, err := os.ReadFile(oldest)
	if err != nil {
		return chain.Tx{}, false, fmt.Errorf("txqueue: read: %w", err)
	}
	var tx chain.Tx
	if err := json.Unmarshal(data, &tx); err != nil {
		_ = os.Remove(oldest)
		return chain.Tx{}, false, fmt.Errorf("txqueue: corrupt entry %s: %w", names[0], err)
	}
	if err := os.Remove(oldest); err != nil {
		return chain.Tx{}, false, fmt.Errorf("txqueue: remove: %w", err)
	}
	return tx, true, nil
}

// Len reports how many admitted transactions are still queued.
func (q *Queue) Len() (int, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0, fmt.Errorf("txqueue: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			n++
		}
	}
	return n, nil
}

func highestSeq(dir string) (uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("txqueue: %w", err)
	}
	var max uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		n, err := strconv.ParseUint(name[:len(name)-len(".json")], 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}
