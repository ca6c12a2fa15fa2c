package minter_test

import (
	"testing"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/events"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/internal/testutil"
	"github.com/rubin-dev/hlcnode/minter"
	"github.com/rubin-dev/hlcnode/statedriver"
)

func resultAt(ts hlc.Timestamp) chain.ProcessingResult {
	return chain.ProcessingResult{
		HLCTimestamp: ts,
		TxResult:     chain.TxResult{Status: chain.StatusSuccess, State: []chain.StateChange{{Key: "k", Value: "v"}}},
		TxMessage:    chain.TxMessage{HLCTimestamp: ts, Sender: "node1", Signature: "sig"},
	}
}

func TestHardApplyNormalExtend(t *testing.T) {
	db := testutil.NewMemDB()
	store := blockstore.New(db)
	driver := statedriver.New(db)
	m := minter.New(store, driver, events.NewEmitter())

	ts1 := hlc.Timestamp("2026-01-01T00:00:00.000000001Z_0")
	driver.BeginView(ts1)
	driver.Set("k", []byte("v"))
	driver.SoftApply(ts1)

	block, err := m.HardApply(resultAt(ts1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if block.Previous != chain.GenesisPrevious {
		t.Fatalf("expected genesis-rooted previous, got %s", block.Previous)
	}

	ts2 := hlc.Timestamp("2026-01-01T00:00:00.000000002Z_0")
	driver.BeginView(ts2)
	driver.Set("k", []byte("v2"))
	driver.SoftApply(ts2)

	block2, err := m.HardApply(resultAt(ts2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if block2.Previous != block.Hash {
		t.Fatalf("expected block2.previous to chain from block1.hash")
	}
}

func TestHardApplyInsertThenReorg(t *testing.T) {
	db := testutil.NewMemDB()
	store := blockstore.New(db)
	driver := statedriver.New(db)
	m := minter.New(store, driver, events.NewEmitter())

	tsLater := hlc.Timestamp("2026-01-01T00:00:00.000000005Z_0")
	driver.BeginView(tsLater)
	driver.Set("k", []byte("later"))
	driver.SoftApply(tsLater)
	laterBlock, err := m.HardApply(resultAt(tsLater), nil)
	if err != nil {
		t.Fatal(err)
	}

	tsEarlier := hlc.Timestamp("2026-01-01T00:00:00.000000002Z_0")
	driver.BeginView(tsEarlier)
	driver.Set("k2", []byte("earlier"))
	driver.SoftApply(tsEarlier)
	_, err = m.HardApply(resultAt(tsEarlier), nil)
	if err != nil {
		t.Fatal(err)
	}

	rewritten, err := store.GetBlockByNumber(laterBlock.Number)
	if err != nil {
		t.Fatal(err)
	}
	if rewritten.Hash == laterBlock.Hash {
		t.Fatal("expected later block's hash to change after reorg")
	}
	if err := chain.VerifyBlockHash(rewritten); err != nil {
		t.Fatalf("rewritten block hash invalid: %v", err)
	}
}
