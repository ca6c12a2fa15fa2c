package rpc_test

import (
	"encoding/json"
	"testing"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/indexer"
	"github.com/rubin-dev/hlcnode/internal/testutil"
	"github.com/rubin-dev/hlcnode/rpc"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/wallet"
)

type fakeAdmitter struct {
	pushed []chain.Tx
	err    error
}

func (f *fakeAdmitter) Push(tx chain.Tx) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, tx)
	return nil
}

type fakeSizer struct{ n int }

func (f *fakeSizer) Len() int { return f.n }

func setup(t *testing.T) (*rpc.Handler, *fakeAdmitter, *wallet.Wallet) {
	t.Helper()
	db := testutil.NewMemDB()
	store := blockstore.New(db)
	driver := statedriver.New(db)
	idx := indexer.New(db)
	admit := &fakeAdmitter{}
	h := rpc.NewHandler(store, driver, idx, admit, &fakeSizer{})
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return h, admit, w
}

func TestSubmitTransactionAdmitsValidTx(t *testing.T) {
	h, admit, w := setup(t)

	tx, err := w.NewTx("currency", "transfer", map[string]any{"to": "bob", "amount": "10"}, 1, "proc", 100)
	if err != nil {
		t.Fatal(err)
	}
	params, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}

	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "submitTransaction", Params: params})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if len(admit.pushed) != 1 {
		t.Fatalf("expected 1 admitted tx, got %d", len(admit.pushed))
	}
	if admit.pushed[0].Payload.Sender != w.PubKey() {
		t.Fatalf("expected original sender preserved")
	}
}

func TestSubmitTransactionRejectsBadSignature(t *testing.T) {
	h, _, w := setup(t)

	tx, err := w.NewTx("currency", "transfer", map[string]any{}, 1, "proc", 0)
	if err != nil {
		t.Fatal(err)
	}
	tx.Metadata.Signature = "00"
	params, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}

	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "submitTransaction", Params: params})
	if resp.Error == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestSubmitTransactionRejectsStaleNonce(t *testing.T) {
	h, _, w := setup(t)

	tx, err := w.NewTx("currency", "transfer", map[string]any{}, 0, "proc", 0)
	if err != nil {
		t.Fatal(err)
	}
	params, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}

	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "submitTransaction", Params: params})
	if resp.Error == nil {
		t.Fatal("expected nonce 0 to be rejected (must be > current committed nonce of 0)")
	}
}

func TestGetLatestBlockErrorsWithNoBlocks(t *testing.T) {
	h, _, _ := setup(t)
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "getLatestBlock", Params: json.RawMessage("{}")})
	if resp.Error == nil {
		t.Fatal("expected error with no blocks stored")
	}
}

func TestGetStateRoundTrip(t *testing.T) {
	h, _, _ := setup(t)
	resp := h.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "getState", Params: json.RawMessage(`{"key":"missing"}`)})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	if m["exists"] != false {
		t.Fatalf("expected exists=false for missing key")
	}
}
