package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/crypto"
)

// GenesisSpec is the on-disk shape of a genesis file: an arbitrary set of
// founder-authored key/value writes, per spec.md §6. It carries no balances
// or account allocations — those are Non-goals.
type GenesisSpec struct {
	Changes []chain.GenesisChange `json:"genesis"`
}

// LoadGenesisSpec reads and parses a genesis spec file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec GenesisSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("config: parse genesis spec: %w", err)
	}
	return &spec, nil
}

// CreateGenesisBlock loads the genesis spec at path and signs block #0 with
// founderPriv.
func CreateGenesisBlock(path string, founderPriv crypto.PrivateKey) (*chain.Block, error) {
	spec, err := LoadGenesisSpec(path)
	if err != nil {
		return nil, err
	}
	return chain.BuildGenesis(founderPriv, spec.Changes)
}

// SaveGenesisBlock writes a signed genesis block to path as JSON, so peers
// catching up can fetch and verify it without access to the founder key.
func SaveGenesisBlock(b *chain.Block, path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadGenesisBlock reads a previously signed genesis block from path and
// verifies its hash and origin signature before returning it.
func LoadGenesisBlock(path string) (*chain.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b chain.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: parse genesis block: %w", err)
	}
	if !b.IsGenesis() {
		return nil, fmt.Errorf("config: %s is not a genesis block", path)
	}
	if err := chain.VerifyBlockHash(&b); err != nil {
		return nil, fmt.Errorf("config: genesis block hash: %w", err)
	}
	if err := chain.VerifyGenesisOrigin(&b); err != nil {
		return nil, fmt.Errorf("config: genesis origin: %w", err)
	}
	return &b, nil
}
