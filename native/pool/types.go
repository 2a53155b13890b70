package pool

import (
	"math/big"
	"time"

	"eurstable/crypto"
)

// RiskParameters groups the safety limits governing debt issuance and
// liquidation.
type RiskParameters struct {
	// LiquidationThreshold is the minimum health ratio, expressed as a
	// percentage, below which positions become eligible for liquidation and
	// above (or at) which new debt may be minted.
	LiquidationThreshold uint64
	// LiquidationBonus is the discount applied to collateral seized during
	// liquidation, expressed in basis points.
	LiquidationBonus uint64
	// DebtRatePerSecond is the 18-decimal fixed-point per-second interest
	// rate applied to outstanding debt.
	DebtRatePerSecond *big.Int
	// MaxQuoteAge bounds how old an oracle observation may be before it is
	// rejected as stale. Zero disables the check.
	MaxQuoteAge time.Duration
}

// Clone returns a deep copy of the risk parameters.
func (p RiskParameters) Clone() RiskParameters {
	clone := RiskParameters{
		LiquidationThreshold: p.LiquidationThreshold,
		LiquidationBonus:     p.LiquidationBonus,
		MaxQuoteAge:          p.MaxQuoteAge,
	}
	if p.DebtRatePerSecond != nil {
		clone.DebtRatePerSecond = new(big.Int).Set(p.DebtRatePerSecond)
	}
	return clone
}

// DebtPosition tracks one borrower's outstanding stablecoin debt. Principal
// already includes interest accrued up to LastAccrual.
type DebtPosition struct {
	Account     crypto.Address
	Principal   *big.Int
	LastAccrual uint64
}

// Clone returns a deep copy of the position.
func (d *DebtPosition) Clone() *DebtPosition {
	if d == nil {
		return nil
	}
	clone := &DebtPosition{Account: d.Account, LastAccrual: d.LastAccrual}
	if d.Principal != nil {
		clone.Principal = new(big.Int).Set(d.Principal)
	}
	return clone
}
