package wallet

import "testing"

func TestNewTxVerifies(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := w.NewTx("currency", "transfer", map[string]any{"to": "bob", "amount": float64(5)}, 1, "proc", 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyTxSignature(tx); err != nil {
		t.Fatalf("expected valid signature, got: %v", err)
	}
	tx.Payload.Nonce = 2
	if err := VerifyTxSignature(tx); err == nil {
		t.Fatal("expected tampered tx to fail verification")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	path := t.TempDir() + "/key.json"
	if err := SaveKey(path, "hunter2", w.PrivKey()); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadKey(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Public().Hex() != w.PubKey() {
		t.Fatal("expected loaded key to match original")
	}
	if _, err := LoadKey(path, "wrong"); err == nil {
		t.Fatal("expected wrong password to fail")
	}
}
