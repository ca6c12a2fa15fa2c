// Package blockstore implements content-addressed, durable block and
// transaction storage with a dual index: by numeric height (zero-padded to
// 64 digits so lexicographic and numeric order agree) and by hash.
package blockstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/storage"
)

const (
	blockPrefix = "block:"
	aliasPrefix = "alias:"
	txPrefix    = "tx:"
)

// ErrNotFound is returned when a requested block or transaction does not
// exist in the store.
var ErrNotFound = storage.ErrNotFound

// Store is a durable, content-addressed block store.
type Store struct {
	db storage.DB
}

// New wraps db as a Store.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

func blockKey(number uint64) []byte {
	return []byte(fmt.Sprintf("%s%064d", blockPrefix, number))
}

func aliasKey(hash string) []byte {
	return []byte(aliasPrefix + hash)
}

func txKey(hash string) []byte {
	return []byte(txPrefix + hash)
}

// storedTxResult mirrors chain.TxResult but references its transaction by
// hash instead of embedding it, so a tx shared across proofs is written
// once regardless of how many blocks or results reference it.
type storedTxResult struct {
	Hash       string              `json:"hash"`
	Result     string              `json:"result"`
	StampsUsed uint64              `json:"stamps_used"`
	State      []chain.StateChange `json:"state"`
	Status     int                 `json:"status"`
	TxHash     string              `json:"tx_hash"`
}

type storedBlock struct {
	Number       uint64        `json:"number"`
	Hash         string        `json:"hash"`
	HLCTimestamp hlc.Timestamp `json:"hlc_timestamp"`
	Previous     string        `json:"previous"`
	Proofs       []chain.Proof `json:"proofs"`
	Rewards      []chain.Reward `json:"rewards"`
	Processed    storedTxResult `json:"processed"`
	Origin       chain.Origin  `json:"origin"`
}

// StoreBlock persists b and its transaction. Writing the same block number
// twice is idempotent, and alias re-creation is tolerated if already
// present, matching the at-least-once durability the spec requires.
func (s *Store) StoreBlock(b *chain.Block) error {
	txHash, err := chain.TxHash(b.Processed.Transaction)
	if err != nil {
		return fmt.Errorf("blockstore: hash tx for block %d: %w", b.Number, err)
	}
	txData, err := json.Marshal(b.Processed.Transaction)
	if err != nil {
		return fmt.Errorf("blockstore: marshal tx for block %d: %w", b.Number, err)
	}
	if err := s.db.Set(txKey(txHash), txData); err != nil {
		return fmt.Errorf("blockstore: store tx %s: %w", txHash, err)
	}

	sb := storedBlock{
		Number:       b.Number,
		Hash:         b.Hash,
		HLCTimestamp: b.HLCTimestamp,
		Previous:     b.Previous,
		Proofs:       b.Proofs,
		Rewards:      b.Rewards,
		Origin:       b.Origin,
		Processed: storedTxResult{
			Hash:       b.Processed.Hash,
			Result:     b.Processed.Result,
			StampsUsed: b.Processed.StampsUsed,
			State:      b.Processed.State,
			Status:     b.Processed.Status,
			TxHash:     txHash,
		},
	}
	data, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("blockstore: marshal block %d: %w", b.Number, err)
	}
	if err := s.db.Set(blockKey(b.Number), data); err != nil {
		return fmt.Errorf("blockstore: store block %d: %w", b.Number, err)
	}
	if err := s.db.Set(aliasKey(b.Hash), blockKey(b.Number)); err != nil {
		return fmt.Errorf("blockstore: store alias for block %d: %w", b.Number, err)
	}
	return nil
}

func (s *Store) loadByKey(key []byte) (*chain.Block, error) {
	data, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	var sb storedBlock
	if err := json.Unmarshal(data, &sb); err != nil {
		return nil, fmt.Errorf("blockstore: decode block: %w", err)
	}
	txData, err := s.db.Get(txKey(sb.Processed.TxHash))
	if err != nil {
		return nil, fmt.Errorf("blockstore: load tx %s for block %d: %w", sb.Processed.TxHash, sb.Number, err)
	}
	var tx chain.Tx
	if err := json.Unmarshal(txData, &tx); err != nil {
		return nil, fmt.Errorf("blockstore: decode tx %s: %w", sb.Processed.TxHash, err)
	}
	return &chain.Block{
		Number:       sb.Number,
		Hash:         sb.Hash,
		HLCTimestamp: sb.HLCTimestamp,
		Previous:     sb.Previous,
		Proofs:       sb.Proofs,
		Rewards:      sb.Rewards,
		Origin:       sb.Origin,
		Processed: chain.TxResult{
			Hash:        sb.Processed.Hash,
			Result:      sb.Processed.Result,
			StampsUsed:  sb.Processed.StampsUsed,
			State:       sb.Processed.State,
			Status:      sb.Processed.Status,
			Transaction: tx,
		},
	}, nil
}

// GetBlockByNumber loads the block stored at the given primary index.
func (s *Store) GetBlockByNumber(number uint64) (*chain.Block, error) {
	return s.loadByKey(blockKey(number))
}

// GetBlockByHash resolves hash through the alias index and loads the block.
func (s *Store) GetBlockByHash(hash string) (*chain.Block, error) {
	key, err := s.db.Get(aliasKey(hash))
	if err != nil {
		return nil, err
	}
	return s.loadByKey(key)
}

// GetBlockByHLC translates ts to its nanosecond height and loads the block.
func (s *Store) GetBlockByHLC(ts hlc.Timestamp) (*chain.Block, error) {
	n, err := hlc.Nanos(ts)
	if err != nil {
		return nil, fmt.Errorf("blockstore: %w", err)
	}
	return s.GetBlockByNumber(n)
}

// GetPreviousBlock returns the block with the greatest number strictly less
// than number, or ErrNotFound if none exists (number is the earliest block).
func (s *Store) GetPreviousBlock(number uint64) (*chain.Block, error) {
	it := s.db.NewIterator([]byte(blockPrefix))
	defer it.Release()

	target := blockKey(number)
	var best []byte
	for it.Next() {
		k := it.Key()
		if bytes.Compare(k, target) >= 0 {
			continue
		}
		if best == nil || bytes.Compare(k, best) > 0 {
			best = append([]byte(nil), k...)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return s.loadByKey(best)
}

// GetLaterBlocks returns every stored block with number strictly greater
// than number, ascending.
func (s *Store) GetLaterBlocks(number uint64) ([]*chain.Block, error) {
	it := s.db.NewIterator([]byte(blockPrefix))
	defer it.Release()

	target := blockKey(number)
	var keys [][]byte
	for it.Next() {
		k := it.Key()
		if bytes.Compare(k, target) > 0 {
			keys = append(keys, append([]byte(nil), k...))
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	blocks := make([]*chain.Block, 0, len(keys))
	for _, k := range keys {
		b, err := s.loadByKey(k)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// TotalBlocks returns the number of blocks currently stored.
func (s *Store) TotalBlocks() (int, error) {
	it := s.db.NewIterator([]byte(blockPrefix))
	defer it.Release()
	count := 0
	for it.Next() {
		count++
	}
	return count, it.Error()
}

// HasGenesis reports whether block number 0 is stored.
func (s *Store) HasGenesis() (bool, error) {
	_, err := s.db.Get(blockKey(0))
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetTip returns the stored block with the highest number, or ErrNotFound
// if the store is empty.
func (s *Store) GetTip() (*chain.Block, error) {
	it := s.db.NewIterator([]byte(blockPrefix))
	defer it.Release()
	var best []byte
	for it.Next() {
		k := it.Key()
		if best == nil || bytes.Compare(k, best) > 0 {
			best = append([]byte(nil), k...)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return s.loadByKey(best)
}

// RewriteHashAndPrevious updates only the hash/previous fields of an
// already-stored block in place, used by the reorg path to rewrite the
// tail after an earlier HLC is inserted.
func (s *Store) RewriteHashAndPrevious(number uint64, newHash, newPrevious string) error {
	b, err := s.loadByKey(blockKey(number))
	if err != nil {
		return fmt.Errorf("blockstore: rewrite block %d: %w", number, err)
	}
	oldHash := b.Hash
	b.Hash = newHash
	b.Previous = newPrevious
	if err := s.StoreBlock(b); err != nil {
		return err
	}
	if oldHash != newHash {
		if err := s.db.Delete(aliasKey(oldHash)); err != nil {
			return fmt.Errorf("blockstore: drop stale alias for block %d: %w", number, err)
		}
	}
	return nil
}

// RewindToHeight deletes every stored block above height, along with its
// hash alias, so a node can discard a speculative tail after rolling its
// state driver back to an earlier HLC (the `--rollback-to` CLI flag).
// Genesis and everything at or below height are left untouched.
func (s *Store) RewindToHeight(height uint64) error {
	later, err := s.GetLaterBlocks(height)
	if err != nil {
		return fmt.Errorf("blockstore: rewind: %w", err)
	}
	for _, b := range later {
		if err := s.db.Delete(blockKey(b.Number)); err != nil {
			return fmt.Errorf("blockstore: rewind: drop block %d: %w", b.Number, err)
		}
		if err := s.db.Delete(aliasKey(b.Hash)); err != nil {
			return fmt.Errorf("blockstore: rewind: drop alias for block %d: %w", b.Number, err)
		}
	}
	return nil
}
