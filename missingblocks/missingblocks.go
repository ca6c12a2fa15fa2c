// Package missingblocks implements the Missing-Block Handler (C9): a
// marker-file directory watched for gaps, resolved by fetching the block
// from a connected peer, verifying it, and applying it, per spec.md §4.9.
package missingblocks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/events"
	"github.com/rubin-dev/hlcnode/indexer"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/storage"
)

const heightPrefix = "mb:height:"

// PeerFetcher asks connected peers for a block by number, stopping at the
// first hit. Implemented by the p2p package.
type PeerFetcher interface {
	FetchBlock(number uint64) (*chain.Block, bool, error)
}

// Handler watches dir for marker files and resolves them.
type Handler struct {
	dir     string
	db      storage.DB
	store   *blockstore.Store
	driver  *statedriver.Driver
	idx     *indexer.Indexer
	peers   PeerFetcher
	emitter *events.Emitter
}

// New creates a Handler watching dir for missing_blocks/<number> markers.
func New(dir string, db storage.DB, store *blockstore.Store, driver *statedriver.Driver, idx *indexer.Indexer, peers PeerFetcher, emitter *events.Emitter) *Handler {
	return &Handler{dir: dir, db: db, store: store, driver: driver, idx: idx, peers: peers, emitter: emitter}
}

// MarkMissing writes a marker file for number, to be picked up by Run.
// Genesis (number 0) is never fetched from peers; marking it is a usage
// error.
func (h *Handler) MarkMissing(number uint64) error {
	if number == 0 {
		return fmt.Errorf("missingblocks: genesis must never be marked missing")
	}
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(h.dir, strconv.FormatUint(number, 10)), nil, 0644)
}

// PendingNumbers scans the marker directory and returns the block numbers
// found, ascending. Genesis is filtered out defensively even though it
// should never be written by MarkMissing.
func (h *Handler) PendingNumbers() ([]uint64, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var nums []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil || n == 0 {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

func (h *Handler) clearMarker(number uint64) error {
	err := os.Remove(filepath.Join(h.dir, strconv.FormatUint(number, 10)))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Run resolves every pending marker once: fetch from a peer, verify,
// apply, and recalc hashes for the tail. A marker is left in place if no
// connected peer has the block yet.
func (h *Handler) Run() error {
	nums, err := h.PendingNumbers()
	if err != nil {
		return err
	}
	for _, n := range nums {
		block, ok, err := h.peers.FetchBlock(n)
		if err != nil {
			return fmt.Errorf("missingblocks: fetch block %d: %w", n, err)
		}
		if !ok {
			continue
		}
		if err := h.processBlock(block); err != nil {
			return fmt.Errorf("missingblocks: process block %d: %w", n, err)
		}
		if err := h.clearMarker(n); err != nil {
			return err
		}
	}
	return nil
}

// processBlock verifies a peer-supplied block end to end, applies its
// state with safe_set_state semantics, updates the nonce table, stores it,
// and recalculates hashes for every later block already on disk.
func (h *Handler) processBlock(b *chain.Block) error {
	if err := chain.VerifyBlockHash(b); err != nil {
		return err
	}
	if b.IsGenesis() {
		if err := chain.VerifyGenesisOrigin(b); err != nil {
			return err
		}
	} else {
		if err := chain.VerifyOrigin(b.Origin, b.Processed.Transaction, string(b.HLCTimestamp)); err != nil {
			return err
		}
	}
	for _, p := range b.Proofs {
		if err := chain.VerifyProof(p, b.Processed, string(b.HLCTimestamp), b.Rewards); err != nil {
			return fmt.Errorf("missingblocks: proof from %s: %w", p.Signer, err)
		}
	}

	if err := h.safeSetState(b.Number, b.Processed.State); err != nil {
		return err
	}

	if h.idx != nil {
		sender := b.Processed.Transaction.Payload.Sender
		if sender != "" {
			proc := b.Processed.Transaction.Payload.Processor
			if _, err := h.idx.CommitNonce(proc, sender, b.Processed.Transaction.Payload.Nonce); err != nil {
				return err
			}
		}
	}

	if err := h.store.StoreBlock(b); err != nil {
		return err
	}
	return h.recalcBlockHashes(b.Number)
}

// safeSetState writes each key only if no later-numbered block has
// already written to it, per spec.md §4.9.
func (h *Handler) safeSetState(blockNumber uint64, changes []chain.StateChange) error {
	var writes []statedriver.ExternalWrite
	for _, sc := range changes {
		existing, err := h.heightOf(sc.Key)
		if err != nil && err != storage.ErrNotFound {
			return err
		}
		if err == nil && existing >= blockNumber {
			continue
		}
		if sc.Value == nil {
			writes = append(writes, statedriver.ExternalWrite{Key: sc.Key, Deleted: true})
		} else {
			s, ok := sc.Value.(string)
			if !ok {
				s = fmt.Sprintf("%v", sc.Value)
			}
			writes = append(writes, statedriver.ExternalWrite{Key: sc.Key, Value: []byte(s)})
		}
		if err := h.setHeight(sc.Key, blockNumber); err != nil {
			return err
		}
	}
	if len(writes) == 0 {
		return nil
	}
	return h.driver.ApplyExternal(writes)
}

func (h *Handler) heightOf(key string) (uint64, error) {
	v, err := h.db.Get([]byte(heightPrefix + key))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(v), 10, 64)
}

func (h *Handler) setHeight(key string, n uint64) error {
	return h.db.Set([]byte(heightPrefix+key), []byte(strconv.FormatUint(n, 10)))
}

// recalcBlockHashes rewrites previous/hash for every stored block after
// starting, in ascending order, chaining from starting's own hash.
func (h *Handler) recalcBlockHashes(starting uint64) error {
	later, err := h.store.GetLaterBlocks(starting)
	if err != nil {
		return err
	}
	if len(later) == 0 {
		return nil
	}
	base, err := h.store.GetBlockByNumber(starting)
	if err != nil {
		return err
	}
	previous := base.Hash
	for _, b := range later {
		newHash, err := chain.BlockHash(string(b.HLCTimestamp), b.Number, previous)
		if err != nil {
			return err
		}
		if err := h.store.RewriteHashAndPrevious(b.Number, newHash, previous); err != nil {
			return err
		}
		if h.emitter != nil {
			h.emitter.Emit(events.Event{Type: events.EventBlockReorg, Data: map[string]any{"number": b.Number, "hash": newHash}})
		}
		previous = newHash
	}
	return nil
}
