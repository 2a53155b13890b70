package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress         string `toml:"RPCAddress"`
	OpsAddress         string `toml:"OpsAddress"`
	DataDir            string `toml:"DataDir"`
	AuthorityAddress   string `toml:"AuthorityAddress"`
	RPCAuthTokenEnv    string `toml:"RPCAuthTokenEnv"`
	RPCRateLimitPerMin uint32 `toml:"RPCRateLimitPerMin"`

	Risk   Risk   `toml:"risk"`
	Oracle Oracle `toml:"oracle"`
	Quota  Quota  `toml:"quota"`
	Pauses Pauses `toml:"pauses"`
}

// Load loads the configuration from the given path. A missing file is
// populated with defaults and written back so operators have a template to
// edit.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.OpsAddress) == "" {
		cfg.OpsAddress = ":9090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./eurstable-data"
	}
	if strings.TrimSpace(cfg.RPCAuthTokenEnv) == "" {
		cfg.RPCAuthTokenEnv = "EURSTABLE_RPC_TOKEN"
	}
	if cfg.RPCRateLimitPerMin == 0 {
		cfg.RPCRateLimitPerMin = 600
	}
	if cfg.Risk.LiquidationThreshold == 0 {
		cfg.Risk.LiquidationThreshold = 150
	}
	if strings.TrimSpace(cfg.Risk.InterestRatePerSecond) == "" {
		cfg.Risk.InterestRatePerSecond = "0"
	}
	if cfg.Oracle.MaxQuoteAgeSeconds == 0 {
		cfg.Oracle.MaxQuoteAgeSeconds = 300
	}
	if cfg.Quota.EpochSeconds == 0 {
		cfg.Quota.EpochSeconds = 3600
	}
	if strings.TrimSpace(cfg.Quota.MaxMintWeiPerEpoch) == "" {
		cfg.Quota.MaxMintWeiPerEpoch = "0"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Quota.MaxRequestsPerMin = 60

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// InterestRate parses the configured per-second interest rate into its
// 1e18-scaled runtime value.
func (c *Config) InterestRate() (*big.Int, error) {
	rate, err := parseUintAmount(c.Risk.InterestRatePerSecond)
	if err != nil {
		return nil, fmt.Errorf("invalid risk.InterestRatePerSecond: %w", err)
	}
	return rate, nil
}

// MintCap parses the configured per-epoch mint ceiling. A zero cap disables
// the check.
func (c *Config) MintCap() (*big.Int, error) {
	limit, err := parseUintAmount(c.Quota.MaxMintWeiPerEpoch)
	if err != nil {
		return nil, fmt.Errorf("invalid quota.MaxMintWeiPerEpoch: %w", err)
	}
	return limit, nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("expected non-negative integer, got %q", value)
	}
	return parsed, nil
}
