// Package config loads and validates the node's runtime configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds process-level configuration loaded from environment variables.
type Config struct {
	MnemonicFile string `envconfig:"BRIDGE_MNEMONIC_FILE"`
	StoragePath  string `envconfig:"BRIDGE_STORAGE_PATH" default:"./data/bridge.sqlite"`
	Port         int    `envconfig:"BRIDGE_PORT" default:"8080"`
	LogLevel     string `envconfig:"BRIDGE_LOG_LEVEL" default:"info"`
	LogDir       string `envconfig:"BRIDGE_LOG_DIR" default:"./logs"`
	Network      string `envconfig:"BRIDGE_NETWORK" default:"testnet"`

	// EsploraURLs is a comma-separated list of Esplora/mempool.space-compatible
	// base URLs the off-chain relayer rotates across.
	EsploraURLs string `envconfig:"BRIDGE_ESPLORA_URLS"`

	// TokenSinkRPCURL is the EVM sidechain JSON-RPC endpoint the token sink
	// dials to submit mint/burn transactions.
	TokenSinkRPCURL   string `envconfig:"BRIDGE_TOKENSINK_RPC_URL"`
	TokenSinkContract string `envconfig:"BRIDGE_TOKENSINK_CONTRACT"`
	TokenSinkMnemonic string `envconfig:"BRIDGE_TOKENSINK_MNEMONIC_FILE"`
	TokenSinkChainID  int64  `envconfig:"BRIDGE_TOKENSINK_CHAIN_ID" default:"97"`

	// ValidatorsFile points at a JSON file listing the validator set's
	// consensus keys and voting power, used to bootstrap a StaticOracle
	// until a live staking module is wired in; the validator oracle is an
	// external collaborator this core doesn't implement.
	ValidatorsFile string `envconfig:"BRIDGE_VALIDATORS_FILE"`

	// NodeAPIURL is the base URL of a running node's HTTP API, used by
	// the relayer and signer processes to submit deposits, checkpoints,
	// and signatures.
	NodeAPIURL string `envconfig:"BRIDGE_NODE_API_URL" default:"http://127.0.0.1:8080"`
}

// Load reads configuration from a .env file (if present) then environment
// variables. Real environment variables always take precedence over .env
// values, since godotenv.Load never overwrites an already-set variable.
func Load() (*Config, error) {
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "testnet" && c.Network != "regtest" {
		return fmt.Errorf("%w: network must be \"mainnet\", \"testnet\" or \"regtest\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	return nil
}
