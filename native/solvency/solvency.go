// Package solvency holds the pure arithmetic behind debt issuance and
// liquidation decisions: EUR conversion of collateral, health-ratio
// evaluation, and simple interest accrual. Nothing here touches ledgers or
// external systems.
package solvency

import (
	"errors"
	"math/big"
)

var (
	// ErrInvalidPrice is returned when a conversion receives a zero or
	// negative price. A zero feed value must surface as an error, never as a
	// computed zero collateral value.
	ErrInvalidPrice = errors.New("solvency: price must be positive")
)

var (
	ratioBase = big.NewInt(100)
	// interestScale is the fixed-point base for per-second interest rates.
	interestScale = mustBigInt("1000000000000000000") // 1e18
)

// RatioInfinite is the sentinel health ratio for debt-free positions. It
// compares above any finite threshold.
var RatioInfinite = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// ToEUR converts a token amount into its EUR value. Amounts carry 18 decimals
// and both prices carry 8 decimals, so the price decimals cancel and the
// result stays in 18-decimal EUR wei. Division truncates toward zero, which
// under-reports collateral value and therefore favours the protocol.
func ToEUR(amount, assetUsdPrice, eurUsdPrice *big.Int) (*big.Int, error) {
	if assetUsdPrice == nil || assetUsdPrice.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if eurUsdPrice == nil || eurUsdPrice.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	value := new(big.Int).Mul(amount, assetUsdPrice)
	value.Quo(value, eurUsdPrice)
	return value, nil
}

// HealthRatio returns collateral/debt as a percentage. A debt-free position
// reports RatioInfinite so that IsHealthy holds against any threshold.
func HealthRatio(collateralEur, debtEur *big.Int) *big.Int {
	if debtEur == nil || debtEur.Sign() == 0 {
		return new(big.Int).Set(RatioInfinite)
	}
	if collateralEur == nil || collateralEur.Sign() <= 0 {
		return big.NewInt(0)
	}
	ratio := new(big.Int).Mul(collateralEur, ratioBase)
	ratio.Quo(ratio, debtEur)
	return ratio
}

// IsHealthy reports whether the ratio meets the liquidation threshold. Its
// negation is exactly liquidation eligibility; there is no third state.
func IsHealthy(ratio, threshold *big.Int) bool {
	if ratio == nil {
		return false
	}
	if threshold == nil || threshold.Sign() <= 0 {
		return true
	}
	return ratio.Cmp(threshold) >= 0
}

// AccrueInterest applies simple per-second interest to the principal:
// principal + principal * ratePerSecond * elapsed / 1e18. The rate is an
// 18-decimal fixed-point per-second rate. The result is never below the
// principal for non-negative inputs.
func AccrueInterest(principal, ratePerSecond *big.Int, elapsedSeconds uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	if ratePerSecond == nil || ratePerSecond.Sign() <= 0 || elapsedSeconds == 0 {
		return new(big.Int).Set(principal)
	}
	interest := new(big.Int).Mul(principal, ratePerSecond)
	interest.Mul(interest, new(big.Int).SetUint64(elapsedSeconds))
	interest.Quo(interest, interestScale)
	return new(big.Int).Add(principal, interest)
}

// InterestScale exposes the fixed-point base used by AccrueInterest so that
// configuration code can derive per-second rates from annual percentages.
func InterestScale() *big.Int {
	return new(big.Int).Set(interestScale)
}
