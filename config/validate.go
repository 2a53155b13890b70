package config

import "fmt"

func Validate(cfg *Config) error {
	if cfg.Risk.LiquidationThreshold < 100 {
		return fmt.Errorf("risk: LiquidationThreshold below 100 makes every borrow instantly liquidatable")
	}
	if cfg.Risk.LiquidationBonusBPS >= 10_000 {
		return fmt.Errorf("risk: LiquidationBonusBPS must be below 10000")
	}
	if _, err := cfg.InterestRate(); err != nil {
		return err
	}
	if _, err := cfg.MintCap(); err != nil {
		return err
	}
	if cfg.Oracle.MaxQuoteAgeSeconds == 0 {
		return fmt.Errorf("oracle: MaxQuoteAgeSeconds must be positive")
	}
	if cfg.Quota.MaxRequestsPerMin > 0 && cfg.Quota.EpochSeconds == 0 {
		return fmt.Errorf("quota: EpochSeconds must be positive when quotas are enabled")
	}
	return nil
}
