package chain

import (
	"testing"

	"github.com/rubin-dev/hlcnode/crypto"
)

func sampleTx(t *testing.T, sender string) Tx {
	t.Helper()
	return Tx{
		Payload: TxPayload{
			Contract:       "currency",
			Function:       "transfer",
			Kwargs:         map[string]any{"amount": uint64(10), "to": "someone"},
			Nonce:          1,
			Processor:      "proc",
			Sender:         sender,
			StampsSupplied: 100,
		},
	}
}

func TestTxHashStable(t *testing.T) {
	tx := sampleTx(t, "abc")
	h1, err := TxHash(tx)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := TxHash(tx)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("tx hash must be stable")
	}
}

func TestBlockHashMatchesVerify(t *testing.T) {
	h, err := BlockHash("2024-01-01T00:00:00.000000001Z_0", 1, GenesisPrevious)
	if err != nil {
		t.Fatal(err)
	}
	b := &Block{Number: 1, Hash: h, HLCTimestamp: "2024-01-01T00:00:00.000000001Z_0", Previous: GenesisPrevious}
	if err := VerifyBlockHash(b); err != nil {
		t.Fatalf("expected matching hash to verify: %v", err)
	}
	b.Hash = "deadbeef"
	if err := VerifyBlockHash(b); err == nil {
		t.Fatal("expected tampered hash to fail verification")
	}
}

func TestVerifyOriginRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx := sampleTx(t, pub.Hex())
	txHash, err := TxHash(tx)
	if err != nil {
		t.Fatal(err)
	}
	hlcTs := "2024-01-01T00:00:00.000000001Z_0"
	msg := append([]byte(txHash), []byte(hlcTs)...)
	origin := Origin{Sender: pub.Hex(), Signature: crypto.Sign(priv, msg)}
	if err := VerifyOrigin(origin, tx, hlcTs); err != nil {
		t.Fatalf("valid origin rejected: %v", err)
	}
	if err := VerifyOrigin(origin, tx, "2024-01-01T00:00:00.000000002Z_0"); err == nil {
		t.Fatal("expected mismatched hlc to fail verification")
	}
}

func TestBuildGenesisVerifies(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	g, err := BuildGenesis(priv, []GenesisChange{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}})
	if err != nil {
		t.Fatal(err)
	}
	if !g.IsGenesis() {
		t.Fatal("expected IsGenesis")
	}
	if err := VerifyBlockHash(g); err != nil {
		t.Fatalf("genesis hash mismatch: %v", err)
	}
	if g.Processed.State[0].Key != "a" {
		t.Fatal("expected genesis state changes sorted by key")
	}
}
