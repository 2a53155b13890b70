package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"eurstable/crypto"
)

var (
	// ErrUnauthorized is returned when a pool-only operation is invoked by
	// anyone other than the vault authority.
	ErrUnauthorized = errors.New("collateral vault: caller is not the vault authority")
	// ErrInvalidAmount is returned for nil or non-positive amounts.
	ErrInvalidAmount = errors.New("collateral vault: amount must be positive")
	// ErrInsufficientShares is returned when a withdrawal exceeds the user's
	// share balance.
	ErrInsufficientShares = errors.New("collateral vault: insufficient shares")
	// ErrZeroShares is returned when a deposit is too small to mint a single
	// share at the current share price. The deposit is rejected rather than
	// letting the value accrue to existing holders.
	ErrZeroShares = errors.New("collateral vault: deposit too small to mint shares")
	// ErrTransferFailed wraps failures reported by the external asset or
	// yield-source capability.
	ErrTransferFailed = errors.New("collateral vault: external transfer failed")
	// ErrInsufficientIdle is returned when a yield-source move exceeds the
	// idle balance, and ErrInsufficientDeployed mirrors it for recalls.
	ErrInsufficientIdle     = errors.New("collateral vault: idle balance insufficient")
	ErrInsufficientDeployed = errors.New("collateral vault: deployed balance insufficient")
)

// Vault tracks one collateral asset as a share ledger. Users hold shares,
// shares claim a pro-rata slice of the pooled collateral, and the pooled
// collateral is split between funds held directly (idle) and funds placed
// with an external yield source (deployed).
//
// The recorded totals are authoritative: totalCollateral is maintained by the
// vault's own operations rather than derived from external balance reads, and
// idle + deployed always reconciles with it.
type Vault struct {
	mu sync.Mutex

	asset     string
	address   crypto.Address
	authority crypto.Address

	assetToken AssetTransferor
	yield      YieldSource

	totalShares     *big.Int
	userShares      map[string]*big.Int
	idleBalance     *big.Int
	deployedBalance *big.Int
	totalCollateral *big.Int
}

// New constructs a vault for the given underlying asset. The authority is the
// lending pool's module address; it alone may move funds to and from the
// yield source or reassign shares during liquidation.
func New(asset string, address, authority crypto.Address, assetToken AssetTransferor, yield YieldSource) *Vault {
	return &Vault{
		asset:           asset,
		address:         address,
		authority:       authority,
		assetToken:      assetToken,
		yield:           yield,
		totalShares:     big.NewInt(0),
		userShares:      make(map[string]*big.Int),
		idleBalance:     big.NewInt(0),
		deployedBalance: big.NewInt(0),
		totalCollateral: big.NewInt(0),
	}
}

// Asset returns the underlying asset symbol.
func (v *Vault) Asset() string { return v.asset }

// Address returns the vault's fund-holding address.
func (v *Vault) Address() crypto.Address { return v.address }

// Deposit pulls amount of the underlying asset from the user and mints shares
// against the pre-deposit totals. The bootstrap deposit mints 1:1; later
// deposits mint amount * totalShares / totalCollateral rounded down, so any
// rounding loss favours existing holders rather than the depositor.
func (v *Vault) Deposit(user crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	shares := new(big.Int)
	if v.totalShares.Sign() == 0 || v.totalCollateral.Sign() == 0 {
		shares.Set(amount)
	} else {
		shares.Mul(amount, v.totalShares)
		shares.Quo(shares, v.totalCollateral)
	}
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}

	// External pull happens before any ledger mutation so a failed transfer
	// leaves the vault untouched.
	if err := v.assetToken.TransferFrom(user, v.address, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	userBalance := v.shareRef(user)
	userBalance.Add(userBalance, shares)
	v.totalShares.Add(v.totalShares, shares)
	v.idleBalance.Add(v.idleBalance, amount)
	v.totalCollateral.Add(v.totalCollateral, amount)

	return new(big.Int).Set(shares), nil
}

// Withdraw burns shareAmount of the user's shares and pays out the pro-rata
// collateral, drawing from the idle balance first and recalling from the
// yield source when idle funds are short. Redeeming the final outstanding
// share returns the full recorded collateral so rounding can never strand
// dust in the vault.
func (v *Vault) Withdraw(user crypto.Address, shareAmount *big.Int) (*big.Int, error) {
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// Plain lookup: a rejected withdrawal must not seed a ledger entry for an
	// unknown holder.
	userBalance, ok := v.userShares[user.Key()]
	if !ok || userBalance.Cmp(shareAmount) < 0 {
		return nil, ErrInsufficientShares
	}

	amountOut := new(big.Int)
	if shareAmount.Cmp(v.totalShares) == 0 {
		amountOut.Set(v.totalCollateral)
	} else {
		amountOut.Mul(shareAmount, v.totalCollateral)
		amountOut.Quo(amountOut, v.totalShares)
	}

	if v.idleBalance.Cmp(amountOut) < 0 {
		shortfall := new(big.Int).Sub(amountOut, v.idleBalance)
		// A failed recall is fatal: paying out less than the computed amount
		// would break share accounting, so the error surfaces unchanged.
		if err := v.yield.Withdraw(v.asset, shortfall, v.address); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		v.deployedBalance.Sub(v.deployedBalance, shortfall)
		v.idleBalance.Add(v.idleBalance, shortfall)
	}

	if amountOut.Sign() > 0 {
		if err := v.assetToken.Transfer(user, amountOut); err != nil {
			// The recall above, if any, stays as an idle/deployed rebalance;
			// shares and totals are untouched.
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	userBalance.Sub(userBalance, shareAmount)
	if userBalance.Sign() == 0 {
		delete(v.userShares, user.Key())
	}
	v.totalShares.Sub(v.totalShares, shareAmount)
	v.idleBalance.Sub(v.idleBalance, amountOut)
	v.totalCollateral.Sub(v.totalCollateral, amountOut)

	return amountOut, nil
}

// MoveToYieldSource places idle collateral with the yield source. Pool-only.
// The operation is share-neutral and collateral-total-neutral: only the
// idle/deployed split changes.
func (v *Vault) MoveToYieldSource(caller crypto.Address, amount *big.Int) error {
	if !caller.Equal(v.authority) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.idleBalance.Cmp(amount) < 0 {
		return ErrInsufficientIdle
	}
	if err := v.yield.Supply(v.asset, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	v.idleBalance.Sub(v.idleBalance, amount)
	v.deployedBalance.Add(v.deployedBalance, amount)
	return nil
}

// RecallFromYieldSource pulls deployed collateral back into the vault.
// Pool-only; share- and total-neutral like MoveToYieldSource.
func (v *Vault) RecallFromYieldSource(caller crypto.Address, amount *big.Int) error {
	if !caller.Equal(v.authority) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.deployedBalance.Cmp(amount) < 0 {
		return ErrInsufficientDeployed
	}
	if err := v.yield.Withdraw(v.asset, amount, v.address); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	v.deployedBalance.Sub(v.deployedBalance, amount)
	v.idleBalance.Add(v.idleBalance, amount)
	return nil
}

// HarvestYield records gains reported by the yield source. The gain lands on
// the deployed balance and the recorded collateral total, which raises the
// value of every outstanding share without minting new ones. Pool-only.
func (v *Vault) HarvestYield(caller crypto.Address, gain *big.Int) error {
	if !caller.Equal(v.authority) {
		return ErrUnauthorized
	}
	if gain == nil || gain.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.deployedBalance.Add(v.deployedBalance, gain)
	v.totalCollateral.Add(v.totalCollateral, gain)
	return nil
}

// TransferShares reassigns shares between users without touching collateral.
// Pool-only; used when liquidation seizes a borrower's claim.
func (v *Vault) TransferShares(caller, from, to crypto.Address, shareAmount *big.Int) error {
	if !caller.Equal(v.authority) {
		return ErrUnauthorized
	}
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	fromBalance := v.shareRef(from)
	if fromBalance.Cmp(shareAmount) < 0 {
		return ErrInsufficientShares
	}
	fromBalance.Sub(fromBalance, shareAmount)
	if fromBalance.Sign() == 0 {
		delete(v.userShares, from.Key())
	}
	toBalance := v.shareRef(to)
	toBalance.Add(toBalance, shareAmount)
	return nil
}

// SharesOf returns a copy of the user's share balance.
func (v *Vault) SharesOf(user crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if balance, ok := v.userShares[user.Key()]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// TotalShares returns a copy of the outstanding share count.
func (v *Vault) TotalShares() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalShares)
}

// TotalCollateral returns a copy of the recorded collateral total.
func (v *Vault) TotalCollateral() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalCollateral)
}

// IdleBalance returns a copy of the directly-held balance.
func (v *Vault) IdleBalance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.idleBalance)
}

// DeployedBalance returns a copy of the yield-source balance.
func (v *Vault) DeployedBalance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.deployedBalance)
}

// CollateralValueOf returns the collateral amount claimable by the user's
// shares at current totals, using the same rounding as Withdraw.
func (v *Vault) CollateralValueOf(user crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, ok := v.userShares[user.Key()]
	if !ok || balance.Sign() == 0 || v.totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	if balance.Cmp(v.totalShares) == 0 {
		return new(big.Int).Set(v.totalCollateral)
	}
	value := new(big.Int).Mul(balance, v.totalCollateral)
	value.Quo(value, v.totalShares)
	return value
}

// SharesForCollateral converts a collateral amount into the share count that
// currently claims it, rounding up so a seizure never undershoots the target
// value. The result is capped by the outstanding total.
func (v *Vault) SharesForCollateral(amount *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 || v.totalCollateral.Sign() == 0 {
		return big.NewInt(0)
	}
	shares := new(big.Int).Mul(amount, v.totalShares)
	remainder := new(big.Int)
	shares.QuoRem(shares, v.totalCollateral, remainder)
	if remainder.Sign() > 0 {
		shares.Add(shares, big.NewInt(1))
	}
	if shares.Cmp(v.totalShares) > 0 {
		shares.Set(v.totalShares)
	}
	return shares
}

// Reconcile verifies the vault's internal accounting: the share ledger must
// sum to totalShares and the idle/deployed split must cover the recorded
// collateral exactly.
func (v *Vault) Reconcile() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	sum := big.NewInt(0)
	for _, balance := range v.userShares {
		sum.Add(sum, balance)
	}
	if sum.Cmp(v.totalShares) != 0 {
		return fmt.Errorf("collateral vault: share ledger sum %s != total shares %s", sum, v.totalShares)
	}
	split := new(big.Int).Add(v.idleBalance, v.deployedBalance)
	if split.Cmp(v.totalCollateral) != 0 {
		return fmt.Errorf("collateral vault: idle %s + deployed %s != recorded collateral %s",
			v.idleBalance, v.deployedBalance, v.totalCollateral)
	}
	return nil
}

func (v *Vault) shareRef(user crypto.Address) *big.Int {
	key := user.Key()
	balance, ok := v.userShares[key]
	if !ok {
		balance = big.NewInt(0)
		v.userShares[key] = balance
	}
	return balance
}
