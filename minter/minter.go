// Package minter implements the Block Minter / Reorg component (C8):
// turning a consensus-reached ProcessingResult into a stored Block, either
// by extending the chain or by inserting and rewriting its tail, per
// spec.md §4.8.
package minter

import (
	"fmt"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/events"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/statedriver"
)

// Minter commits consensus results as blocks and keeps stored hashes
// consistent when an earlier HLC arrives after later ones are already
// committed.
type Minter struct {
	store   *blockstore.Store
	driver  *statedriver.Driver
	emitter *events.Emitter
}

// New creates a Minter over store and driver, optionally emitting block
// lifecycle events through emitter (nil disables emission).
func New(store *blockstore.Store, driver *statedriver.Driver, emitter *events.Emitter) *Minter {
	return &Minter{store: store, driver: driver, emitter: emitter}
}

// HardApply commits pr, which has reached consensus, as a block. It hard-
// applies pr's HLC in the state driver, then picks the normal-extend path
// if no stored block has a later number, or insert-then-reorg otherwise.
func (m *Minter) HardApply(pr chain.ProcessingResult, proofs []chain.Proof) (*chain.Block, error) {
	number, err := hlc.Nanos(pr.HLCTimestamp)
	if err != nil {
		return nil, fmt.Errorf("minter: %w", err)
	}

	later, err := m.store.GetLaterBlocks(number)
	if err != nil {
		return nil, fmt.Errorf("minter: list later blocks: %w", err)
	}

	var prev *chain.Block
	if len(later) == 0 {
		prev, err = m.store.GetTip()
	} else {
		prev, err = m.store.GetPreviousBlock(number)
	}
	if err != nil && err != blockstore.ErrNotFound {
		return nil, fmt.Errorf("minter: find previous block: %w", err)
	}
	previousHash := chain.GenesisPrevious
	if prev != nil {
		previousHash = prev.Hash
	}

	block, err := buildBlock(pr, proofs, number, previousHash)
	if err != nil {
		return nil, err
	}

	if _, err := m.driver.HardApplyOne(pr.HLCTimestamp); err != nil {
		return nil, fmt.Errorf("minter: hard apply state: %w", err)
	}
	if err := m.store.StoreBlock(block); err != nil {
		return nil, fmt.Errorf("minter: store block: %w", err)
	}

	if len(later) > 0 {
		if err := m.reorgTail(block, later); err != nil {
			return nil, err
		}
	}

	m.emit(events.EventNewBlock, map[string]any{"number": block.Number, "hash": block.Hash})
	return block, nil
}

func buildBlock(pr chain.ProcessingResult, proofs []chain.Proof, number uint64, previousHash string) (*chain.Block, error) {
	hash, err := chain.BlockHash(string(pr.HLCTimestamp), number, previousHash)
	if err != nil {
		return nil, fmt.Errorf("minter: hash block: %w", err)
	}
	return &chain.Block{
		Number:       number,
		Hash:         hash,
		HLCTimestamp: pr.HLCTimestamp,
		Previous:     previousHash,
		Proofs:       proofs,
		Rewards:      pr.Rewards,
		Processed:    pr.TxResult,
		Origin: chain.Origin{
			Sender:    pr.TxMessage.Sender,
			Signature: pr.TxMessage.Signature,
		},
	}, nil
}

// reorgTail recomputes hash/previous for every already-stored block after
// inserted, in ascending order, rewriting each in place.
func (m *Minter) reorgTail(inserted *chain.Block, later []*chain.Block) error {
	previous := inserted.Hash
	for _, b := range later {
		newHash, err := chain.BlockHash(string(b.HLCTimestamp), b.Number, previous)
		if err != nil {
			return fmt.Errorf("minter: reorg hash block %d: %w", b.Number, err)
		}
		if err := m.store.RewriteHashAndPrevious(b.Number, newHash, previous); err != nil {
			return fmt.Errorf("minter: reorg rewrite block %d: %w", b.Number, err)
		}
		m.emit(events.EventBlockReorg, map[string]any{"number": b.Number, "hash": newHash})
		previous = newHash
	}
	return nil
}

// ApplyFromPeer verifies and force-applies a fully formed block fetched
// from a peer during catch-up: its hash is checked, its previous must
// match the current tip, its state changes are written straight to the
// durable store, and it is appended to the chain.
func (m *Minter) ApplyFromPeer(b *chain.Block) error {
	if err := chain.VerifyBlockHash(b); err != nil {
		return fmt.Errorf("minter: %w", err)
	}

	tip, err := m.store.GetTip()
	if err != nil && err != blockstore.ErrNotFound {
		return fmt.Errorf("minter: %w", err)
	}
	if tip != nil && b.Previous != tip.Hash {
		return fmt.Errorf("minter: block %d previous %s does not match tip %s", b.Number, b.Previous, tip.Hash)
	}

	writes := make([]statedriver.ExternalWrite, len(b.Processed.State))
	for i, sc := range b.Processed.State {
		if sc.Value == nil {
			writes[i] = statedriver.ExternalWrite{Key: sc.Key, Deleted: true}
			continue
		}
		s, ok := sc.Value.(string)
		if !ok {
			s = fmt.Sprintf("%v", sc.Value)
		}
		writes[i] = statedriver.ExternalWrite{Key: sc.Key, Value: []byte(s)}
	}
	if err := m.driver.ApplyExternal(writes); err != nil {
		return fmt.Errorf("minter: %w", err)
	}
	if err := m.store.StoreBlock(b); err != nil {
		return fmt.Errorf("minter: store peer block %d: %w", b.Number, err)
	}
	m.emit(events.EventNewBlock, map[string]any{"number": b.Number, "hash": b.Hash})
	return nil
}

func (m *Minter) emit(kind events.EventType, data map[string]any) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(events.Event{Type: kind, Data: data})
}
