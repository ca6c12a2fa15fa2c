package orchestrator_test

import (
	"testing"
	"time"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/crypto"
	"github.com/rubin-dev/hlcnode/events"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/internal/testutil"
	"github.com/rubin-dev/hlcnode/minter"
	"github.com/rubin-dev/hlcnode/missingblocks"
	"github.com/rubin-dev/hlcnode/orchestrator"
	"github.com/rubin-dev/hlcnode/procqueue"
	"github.com/rubin-dev/hlcnode/reprocessor"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/txqueue"
	"github.com/rubin-dev/hlcnode/validationqueue"
	"github.com/rubin-dev/hlcnode/vm"
	_ "github.com/rubin-dev/hlcnode/vm/modules/currency"
)

type stubFetcher struct{}

func (stubFetcher) FetchBlock(number uint64) (*chain.Block, bool, error) { return nil, false, nil }

type recordingBroadcaster struct {
	txMessages []chain.TxMessage
	results    []chain.ProcessingResult
}

func (r *recordingBroadcaster) BroadcastTxMessage(tm chain.TxMessage) {
	r.txMessages = append(r.txMessages, tm)
}

func (r *recordingBroadcaster) BroadcastProcessingResult(pr chain.ProcessingResult) {
	r.results = append(r.results, pr)
}

func build(t *testing.T) (*orchestrator.Orchestrator, *blockstore.Store, *txqueue.Queue, crypto.PrivateKey, *recordingBroadcaster) {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	db := testutil.NewMemDB()
	store := blockstore.New(db)
	driver := statedriver.New(db)
	emitter := events.NewEmitter()

	genesis, err := chain.BuildGenesis(priv, []chain.GenesisChange{{Key: "seed", Value: "1"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.StoreBlock(genesis); err != nil {
		t.Fatal(err)
	}

	membersHash, err := chain.MembersListHash([]string{priv.Public().Hex()})
	if err != nil {
		t.Fatal(err)
	}

	exec := vm.NewExecutor(vm.Global(), emitter)
	procQ := procqueue.New(driver, exec, 0, 0)
	valQ := validationqueue.New(1, 51, membersHash, func(hlc.Timestamp) bool { return false })
	mint := minter.New(store, driver, emitter)

	bcast := &recordingBroadcaster{}
	reproc := reprocessor.New(driver, procQ, func(pr chain.ProcessingResult) {
		bcast.BroadcastProcessingResult(pr)
	})

	missingDir := t.TempDir()
	missing := missingblocks.New(missingDir, db, store, driver, nil, stubFetcher{}, emitter)

	txqDir := t.TempDir()
	txq, err := txqueue.New(txqDir)
	if err != nil {
		t.Fatal(err)
	}

	cfg := orchestrator.Config{
		TxPumpInterval:     5 * time.Millisecond,
		ProcessingInterval: 5 * time.Millisecond,
		ValidationInterval: 5 * time.Millisecond,
		NumOfMembers:       1,
		MembersListHash:    membersHash,
	}
	o := orchestrator.New(cfg, hlc.New(), priv, store, txq, procQ, valQ, mint, reproc, missing, bcast, emitter)
	return o, store, txq, priv, bcast
}

func TestEndToEndTxAdmissionToHardApply(t *testing.T) {
	o, store, txq, priv, bcast := build(t)

	tx := chain.Tx{Payload: chain.TxPayload{
		Contract: "currency", Function: "balance_of", Sender: priv.Public().Hex(), Nonce: 1, Processor: "proc",
	}}
	if err := txq.Push(tx); err != nil {
		t.Fatal(err)
	}

	o.Start()
	defer o.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		total, err := store.TotalBlocks()
		if err != nil {
			t.Fatal(err)
		}
		if total >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	total, err := store.TotalBlocks()
	if err != nil {
		t.Fatal(err)
	}
	if total < 2 {
		t.Fatalf("expected genesis plus one minted block, got %d blocks", total)
	}
	if len(bcast.txMessages) == 0 {
		t.Fatal("expected the tx-file pump to have broadcast a TxMessage")
	}
	if len(bcast.results) == 0 {
		t.Fatal("expected the processing pump to have broadcast a ProcessingResult")
	}
}

func TestValidateChainAcceptsGenesisOnly(t *testing.T) {
	_, store, _, _, _ := build(t)
	if err := orchestrator.ValidateChain(store); err != nil {
		t.Fatalf("expected a lone genesis block to validate cleanly: %v", err)
	}
}

func TestCatchUpNoOpWhenAlreadyCurrent(t *testing.T) {
	o, _, _, _, _ := build(t)
	if err := o.CatchUp([]uint64{0}, 3); err != nil {
		t.Fatalf("expected no catch-up needed, got %v", err)
	}
}
