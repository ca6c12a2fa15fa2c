package config

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Config holds all node configuration.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`
	P2PPort int    `json:"p2p_port"`

	// Members is the governance-defined set of verifying keys eligible to
	// contribute proofs (spec.md §3, §4.6). Read opaquely as a set.
	Members []string `json:"members"`
	// ConsensusPercent is the percentage of members (excluding self, per
	// spec.md §4.6) whose agreement on a result hash is required.
	ConsensusPercent int `json:"consensus_percent"`

	// ProcessingDelayBaseMS and ProcessingDelaySelfMS together form the
	// lower bound spec.md §4.5 requires before a pending HLC is executed:
	// wall(hlc) + base + self ≤ now.
	ProcessingDelayBaseMS int64 `json:"processing_delay_base_ms"`
	ProcessingDelaySelfMS int64 `json:"processing_delay_self_ms"`

	GenesisPath string     `json:"genesis_path"`
	WalletPath  string     `json:"wallet_path"`
	SeedPeers   []SeedPeer `json:"seed_peers,omitempty"`
	TLS         *TLSConfig `json:"tls,omitempty"`

	RPCAuthToken string `json:"rpc_auth_token,omitempty"`
	ObserverDir  string `json:"observer_dir"`

	// RollbackTo, if non-empty, is an HLC the node should roll back its
	// speculative state to on startup (CLI --rollback-to).
	RollbackTo      string `json:"-"`
	SafeBlockHeight uint64 `json:"-"`
	NoCatchup       bool   `json:"-"`
	NoValidateChain bool   `json:"-"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:                "node0",
		DataDir:               "./data",
		RPCPort:               8545,
		P2PPort:               30303,
		ConsensusPercent:      51,
		ProcessingDelayBaseMS: 500,
		ProcessingDelaySelfMS: 0,
		ObserverDir:           "./data/events",
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Members) == 0 {
		return fmt.Errorf("members list must not be empty")
	}
	for i, v := range c.Members {
		b, err := hex.DecodeString(v)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("members[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v)
		}
	}
	if c.ConsensusPercent <= 0 || c.ConsensusPercent > 100 {
		return fmt.Errorf("consensus_percent must be 1-100, got %d", c.ConsensusPercent)
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ParseFlags layers the CLI surface from spec.md §6 over a base config
// loaded from a JSON file, the way cmd/node/main.go layers flags over a
// loaded config. configPath, if non-empty, is read with Load before flags
// are applied; otherwise DefaultConfig is the base.
func ParseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	var (
		configPath      = fs.String("config", "", "path to node config JSON")
		wallet          = fs.String("wallet", "", "path to encrypted wallet keystore")
		bootnodes       = fs.String("bootnodes", "", "comma-separated id=addr seed peers")
		genesis         = fs.String("genesis", "", "path to genesis block file")
		rollbackTo      = fs.String("rollback-to", "", "roll back speculative state to this HLC on startup")
		safeBlockHeight = fs.Uint64("safe-block-height", 0, "height below which state writes are considered safe")
		noCatchup       = fs.Bool("no-catchup", false, "skip peer catch-up on startup")
		noValidateChain = fs.Bool("no-validate-chain", false, "skip end-to-end chain validation on startup")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var cfg *Config
	if *configPath != "" {
		loaded, err := Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = DefaultConfig()
	}

	if *wallet != "" {
		cfg.WalletPath = *wallet
	}
	if *genesis != "" {
		cfg.GenesisPath = *genesis
	}
	if *bootnodes != "" {
		peers, err := parseBootnodes(*bootnodes)
		if err != nil {
			return nil, err
		}
		cfg.SeedPeers = peers
	}
	cfg.RollbackTo = *rollbackTo
	cfg.SafeBlockHeight = *safeBlockHeight
	cfg.NoCatchup = *noCatchup
	cfg.NoValidateChain = *noValidateChain

	if *configPath == "" {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}
	return cfg, nil
}

func parseBootnodes(s string) ([]SeedPeer, error) {
	var peers []SeedPeer
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			entry := s[start:i]
			start = i + 1
			if entry == "" {
				continue
			}
			eq := -1
			for j := 0; j < len(entry); j++ {
				if entry[j] == '=' {
					eq = j
					break
				}
			}
			if eq < 0 {
				return nil, fmt.Errorf("bootnodes entry %q must be id=addr", entry)
			}
			peers = append(peers, SeedPeer{ID: entry[:eq], Addr: entry[eq+1:]})
		}
	}
	return peers, nil
}
