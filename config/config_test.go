package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/crypto"
)

func validMember() string {
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return pub.Hex()
}

func TestValidateRejectsEmptyMembers(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty members list")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Members = []string{validMember(), validMember()}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Members = []string{validMember()}
	path := filepath.Join(t.TempDir(), "node.json")
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.NodeID != cfg.NodeID || loaded.Members[0] != cfg.Members[0] {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, cfg)
	}
}

func TestParseFlagsAppliesOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Members = []string{validMember()}
	path := filepath.Join(t.TempDir(), "node.json")
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	parsed, err := ParseFlags(fs, []string{
		"-config", path,
		"-rollback-to", "2026-01-01T00:00:00.000000000Z_0",
		"-safe-block-height", "42",
		"-bootnodes", "peerA=127.0.0.1:30303,peerB=127.0.0.1:30304",
		"-no-catchup",
	})
	if err != nil {
		t.Fatal(err)
	}
	if parsed.RollbackTo == "" {
		t.Fatal("expected rollback-to to be set")
	}
	if parsed.SafeBlockHeight != 42 {
		t.Fatalf("expected safe block height 42, got %d", parsed.SafeBlockHeight)
	}
	if !parsed.NoCatchup {
		t.Fatal("expected no-catchup to be set")
	}
	if len(parsed.SeedPeers) != 2 || parsed.SeedPeers[0].ID != "peerA" {
		t.Fatalf("unexpected seed peers: %+v", parsed.SeedPeers)
	}
}

func TestGenesisRoundTrip(t *testing.T) {
	founder, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	specPath := filepath.Join(t.TempDir(), "genesis_spec.json")
	spec := GenesisSpec{Changes: []chain.GenesisChange{
		{Key: "currency.balances:founder", Value: "1000000"},
	}}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(specPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	block, err := CreateGenesisBlock(specPath, founder)
	if err != nil {
		t.Fatal(err)
	}
	if !block.IsGenesis() {
		t.Fatal("expected genesis block")
	}

	blockPath := filepath.Join(t.TempDir(), "genesis.json")
	if err := SaveGenesisBlock(block, blockPath); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadGenesisBlock(blockPath)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Hash != block.Hash {
		t.Fatalf("expected matching hash, got %s vs %s", loaded.Hash, block.Hash)
	}
}
