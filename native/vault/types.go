package vault

import (
	"math/big"

	"eurstable/crypto"
)

// AssetTransferor is the external asset-movement capability the vault relies
// on for deposits and withdrawals. A returned error is treated identically to
// a failed transfer; the vault never inspects partial success.
type AssetTransferor interface {
	TransferFrom(owner, to crypto.Address, amount *big.Int) error
	Transfer(to crypto.Address, amount *big.Int) error
	BalanceOf(account crypto.Address) *big.Int
}

// YieldSource is the external venue where the vault can park collateral to
// earn yield. Supply moves funds out of the vault, Withdraw recalls them.
type YieldSource interface {
	Supply(asset string, amount *big.Int) error
	Withdraw(asset string, amount *big.Int, to crypto.Address) error
}
