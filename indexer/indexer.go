// Package indexer maintains secondary indexes over committed state. Here it
// tracks the highest committed nonce per (processor, sender) pair so the
// Missing-Block Handler can enforce nonce monotonicity on blocks fetched
// from peers (spec.md §4.9, §8).
package indexer

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rubin-dev/hlcnode/storage"
)

const noncePrefix = "idx:nonce:"

// Indexer tracks per-(processor, sender) nonces over a durable store.
type Indexer struct {
	db storage.DB
}

// New creates an Indexer backed by db.
func New(db storage.DB) *Indexer {
	return &Indexer{db: db}
}

func nonceKey(processor, sender string) string {
	return noncePrefix + processor + "·" + sender
}

// Nonce returns the highest committed nonce for (processor, sender), or 0
// if none has been committed yet.
func (idx *Indexer) Nonce(processor, sender string) (uint64, error) {
	data, err := idx.db.Get([]byte(nonceKey(processor, sender)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("indexer: corrupt nonce for %s/%s: %w", processor, sender, err)
	}
	return n, nil
}

// CommitNonce records newNonce for (processor, sender) only if it is
// strictly greater than the currently recorded nonce, per spec.md §4.9's
// "update nonce table only if new_nonce > existing" rule. Returns whether
// the write happened.
func (idx *Indexer) CommitNonce(processor, sender string, newNonce uint64) (bool, error) {
	current, err := idx.Nonce(processor, sender)
	if err != nil {
		return false, err
	}
	if newNonce <= current {
		return false, nil
	}
	key := []byte(nonceKey(processor, sender))
	if err := idx.db.Set(key, []byte(strconv.FormatUint(newNonce, 10))); err != nil {
		return false, fmt.Errorf("indexer: commit nonce for %s/%s: %w", processor, sender, err)
	}
	return true, nil
}
