package config

// Risk captures the lending pool's risk policy. Amount-like fields are
// decimal strings so operators can express 18-decimal values without
// floating point.
type Risk struct {
	LiquidationThreshold  uint64 `toml:"LiquidationThreshold"`
	LiquidationBonusBPS   uint64 `toml:"LiquidationBonusBPS"`
	InterestRatePerSecond string `toml:"InterestRatePerSecond"`
}

// Oracle controls how price quotes are admitted.
type Oracle struct {
	MaxQuoteAgeSeconds uint64 `toml:"MaxQuoteAgeSeconds"`
}

// Quota defines per-address rate limits for pool interactions.
type Quota struct {
	MaxRequestsPerMin  uint32 `toml:"MaxRequestsPerMin"`
	MaxMintWeiPerEpoch string `toml:"MaxMintWeiPerEpoch"`
	EpochSeconds       uint32 `toml:"EpochSeconds"`
}

// Pauses flags modules whose state-changing operations are suspended.
type Pauses struct {
	Pool  bool `toml:"Pool"`
	Token bool `toml:"Token"`
}
