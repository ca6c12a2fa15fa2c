package missingblocks_test

import (
	"path/filepath"
	"testing"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/crypto"
	"github.com/rubin-dev/hlcnode/events"
	"github.com/rubin-dev/hlcnode/indexer"
	"github.com/rubin-dev/hlcnode/internal/testutil"
	"github.com/rubin-dev/hlcnode/missingblocks"
	"github.com/rubin-dev/hlcnode/statedriver"
)

type stubFetcher struct {
	blocks map[uint64]*chain.Block
}

func (s *stubFetcher) FetchBlock(number uint64) (*chain.Block, bool, error) {
	b, ok := s.blocks[number]
	return b, ok, nil
}

func signedTxMessage(t *testing.T, priv crypto.PrivateKey, number uint64) (chain.Tx, chain.Origin) {
	t.Helper()
	tx := chain.Tx{Payload: chain.TxPayload{
		Contract: "currency", Function: "transfer", Sender: priv.Public().Hex(), Nonce: 1, Processor: "proc",
	}}
	txHash, err := chain.TxHash(tx)
	if err != nil {
		t.Fatal(err)
	}
	ts := hlcFor(number)
	sig := crypto.Sign(priv, append([]byte(txHash), []byte(ts)...))
	return tx, chain.Origin{Sender: priv.Public().Hex(), Signature: sig}
}

func hlcFor(n uint64) string {
	return "1970-01-01T00:00:00.00000000" + string(rune('0'+n)) + "Z_0"
}

func TestProcessBlockAppliesFetchedBlock(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	db := testutil.NewMemDB()
	store := blockstore.New(db)
	driver := statedriver.New(db)
	idx := indexer.New(db)

	genesisChanges := []chain.GenesisChange{{Key: "seed", Value: "1"}}
	genesis, err := chain.BuildGenesis(priv, genesisChanges)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.StoreBlock(genesis); err != nil {
		t.Fatal(err)
	}

	tx, origin := signedTxMessage(t, priv, 5)
	missingBlock := &chain.Block{
		Number:       5,
		HLCTimestamp: "1970-01-01T00:00:00.000000005Z_0",
		Previous:     genesis.Hash,
		Processed: chain.TxResult{
			Status:      chain.StatusSuccess,
			State:       []chain.StateChange{{Key: "k", Value: "v5"}},
			Transaction: tx,
		},
		Origin: origin,
	}
	hash, err := chain.BlockHash(string(missingBlock.HLCTimestamp), missingBlock.Number, missingBlock.Previous)
	if err != nil {
		t.Fatal(err)
	}
	missingBlock.Hash = hash

	dir := filepath.Join(t.TempDir(), "missing_blocks")
	fetcher := &stubFetcher{blocks: map[uint64]*chain.Block{5: missingBlock}}
	h := missingblocks.New(dir, db, store, driver, idx, fetcher, events.NewEmitter())

	if err := h.MarkMissing(5); err != nil {
		t.Fatal(err)
	}
	if err := h.Run(); err != nil {
		t.Fatal(err)
	}

	stored, err := store.GetBlockByNumber(5)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Hash != missingBlock.Hash {
		t.Fatalf("expected stored block to match fetched hash")
	}

	v, exists, err := driver.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if !exists || string(v) != "v5" {
		t.Fatalf("expected state applied from fetched block, got %q exists=%v", v, exists)
	}

	n, err := idx.Nonce("proc", tx.Payload.Sender)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected nonce committed, got %d", n)
	}

	pending, err := h.PendingNumbers()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected marker cleared, got %v", pending)
	}
}

func TestMarkMissingRejectsGenesis(t *testing.T) {
	db := testutil.NewMemDB()
	store := blockstore.New(db)
	driver := statedriver.New(db)
	idx := indexer.New(db)
	h := missingblocks.New(t.TempDir(), db, store, driver, idx, &stubFetcher{}, nil)
	if err := h.MarkMissing(0); err == nil {
		t.Fatal("expected error marking genesis as missing")
	}
}
