package pool

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"eurstable/crypto"
	nativecommon "eurstable/native/common"
	"eurstable/native/oracle"
	"eurstable/native/solvency"
	"eurstable/native/token"
	"eurstable/native/vault"
	"eurstable/observability"
)

var (
	// ErrUnauthorized is returned when vault creation is attempted by anyone
	// other than the pool authority.
	ErrUnauthorized = errors.New("lending pool: caller is not the pool authority")
	// ErrVaultExists is returned when an asset already has a vault; bindings
	// are never reassigned.
	ErrVaultExists = errors.New("lending pool: vault already registered for asset")
	// ErrNoSuchVault is returned for operations against an unregistered asset.
	ErrNoSuchVault = errors.New("lending pool: no vault registered for asset")
	// ErrInvalidAmount is returned for nil or non-positive amounts.
	ErrInvalidAmount = errors.New("lending pool: amount must be positive")
	// ErrUndercollateralized is returned when an operation would leave the
	// health ratio below the liquidation threshold.
	ErrUndercollateralized = errors.New("lending pool: health ratio below liquidation threshold")
	// ErrNoDebt is returned when repayment or liquidation targets a
	// debt-free account.
	ErrNoDebt = errors.New("lending pool: no outstanding debt")
	// ErrHealthy is returned when liquidation targets a position at or above
	// the threshold.
	ErrHealthy = errors.New("lending pool: position not eligible for liquidation")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "pool"

// eurSymbol is the oracle symbol carrying the EUR/USD rate used to express
// collateral values in the stablecoin's own denomination.
const eurSymbol = "EUR"

// Engine routes collateral deposits to per-asset vaults, aggregates
// EUR-denominated collateral value across them, and gates stablecoin
// mint/burn on the solvency model. The engine's module address is the stable
// token's sole mint authority.
type Engine struct {
	mu sync.Mutex

	authority     crypto.Address
	moduleAddress crypto.Address
	stable        *token.Token
	feeds         *oracle.Aggregator
	params        RiskParameters
	pauses        nativecommon.PauseView

	vaults map[string]*vault.Vault
	assets []string

	debts map[string]*DebtPosition

	mintQuota  nativecommon.Quota
	quotaUsage map[string]nativecommon.QuotaNow
}

// NewEngine constructs a pool. The authority may create vaults; the module
// address holds pool funds and must match the stable token's mint authority.
func NewEngine(authority, moduleAddress crypto.Address, stable *token.Token, feeds *oracle.Aggregator, params RiskParameters) *Engine {
	return &Engine{
		authority:     authority,
		moduleAddress: moduleAddress,
		stable:        stable,
		feeds:         feeds,
		params:        params.Clone(),
		vaults:        make(map[string]*vault.Vault),
		debts:         make(map[string]*DebtPosition),
		quotaUsage:    make(map[string]nativecommon.QuotaNow),
	}
}

// SetPauses wires the pause switchboard consulted before mutating operations.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetMintQuota configures the per-account mint throttle. A zero quota
// disables throttling.
func (e *Engine) SetMintQuota(q nativecommon.Quota) {
	if e == nil {
		return
	}
	if q.MaxMintWeiPerEpoch != nil {
		q.MaxMintWeiPerEpoch = new(big.Int).Set(q.MaxMintWeiPerEpoch)
	}
	e.mu.Lock()
	e.mintQuota = q
	e.mu.Unlock()
}

// Authority returns the administrative address allowed to register vaults.
func (e *Engine) Authority() crypto.Address {
	return e.authority
}

// ModuleAddress returns the pool's fund-holding module address.
func (e *Engine) ModuleAddress() crypto.Address {
	return e.moduleAddress
}

// VaultAddress derives the deterministic module address a vault for the asset
// will hold funds under.
func VaultAddress(asset string) crypto.Address {
	sum := sha256.Sum256([]byte("eurstable/vault/" + strings.ToUpper(strings.TrimSpace(asset))))
	return crypto.NewAddress(crypto.ModulePrefix, sum[:20])
}

// CreateVault registers a new collateral vault for the asset and binds its
// price feed. Authority-gated; each asset maps to at most one vault and the
// binding is never reassigned.
func (e *Engine) CreateVault(caller crypto.Address, asset string, assetToken vault.AssetTransferor, yield vault.YieldSource, feed oracle.PriceFeed) (*vault.Vault, error) {
	if !caller.Equal(e.authority) {
		return nil, ErrUnauthorized
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if symbol == "" {
		return nil, fmt.Errorf("lending pool: asset symbol required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.vaults[symbol]; exists {
		return nil, ErrVaultExists
	}
	v := vault.New(symbol, VaultAddress(symbol), e.moduleAddress, assetToken, yield)
	e.vaults[symbol] = v
	e.assets = append(e.assets, symbol)
	sort.Strings(e.assets)
	if feed != nil && e.feeds != nil {
		e.feeds.Register("feed/"+strings.ToLower(symbol), feed)
	}
	return v, nil
}

// Vault returns the vault registered for the asset.
func (e *Engine) Vault(asset string) (*vault.Vault, error) {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.vaults[symbol]
	if !ok {
		return nil, ErrNoSuchVault
	}
	return v, nil
}

// Assets returns the registered asset symbols in deterministic order.
func (e *Engine) Assets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.assets...)
}

// DepositCollateral pulls collateral into the asset's vault. Depositing never
// mints stablecoin; issuance is a separate, explicitly gated operation.
func (e *Engine) DepositCollateral(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	v, err := e.Vault(asset)
	if err != nil {
		return nil, err
	}
	return v.Deposit(user, amount)
}

// WithdrawCollateral redeems vault shares for the underlying asset, provided
// the caller's position stays healthy after the value leaves.
func (e *Engine) WithdrawCollateral(user crypto.Address, asset string, shareAmount *big.Int, now time.Time) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	v, err := e.Vault(asset)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	debt := e.accrueLocked(user, now)
	if debt.Sign() > 0 {
		collateralEur, err := e.collateralValueLocked(user, now)
		if err != nil {
			return nil, err
		}
		leavingAsset := shareValue(v, user, shareAmount)
		leavingEur, err := e.assetToEurLocked(v.Asset(), leavingAsset, now)
		if err != nil {
			return nil, err
		}
		remaining := new(big.Int).Sub(collateralEur, leavingEur)
		if remaining.Sign() < 0 {
			remaining = big.NewInt(0)
		}
		ratio := solvency.HealthRatio(remaining, debt)
		if !solvency.IsHealthy(ratio, e.thresholdLocked()) {
			return nil, ErrUndercollateralized
		}
	}
	return v.Withdraw(user, shareAmount)
}

// MintDebt issues stablecoin against the caller's aggregate collateral. The
// post-mint health ratio must stay at or above the liquidation threshold.
func (e *Engine) MintDebt(user crypto.Address, amount *big.Int, now time.Time) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	quotaNext, quotaEnforced, err := e.mintQuotaLocked(user, amount, now)
	if err != nil {
		return err
	}

	debt := e.accrueLocked(user, now)
	collateralEur, err := e.collateralValueLocked(user, now)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(debt, amount)
	ratio := solvency.HealthRatio(collateralEur, projected)
	if !solvency.IsHealthy(ratio, e.thresholdLocked()) {
		return ErrUndercollateralized
	}

	if err := e.stable.Mint(e.moduleAddress, user, amount); err != nil {
		return err
	}
	if quotaEnforced {
		e.quotaUsage[user.Key()] = quotaNext
	}

	position := e.positionRefLocked(user)
	position.Principal = projected
	position.LastAccrual = uint64(now.Unix())
	return nil
}

// RepayDebt burns stablecoin from the caller and reduces outstanding debt.
// Repayment beyond the outstanding amount is clamped. The repaid amount is
// returned.
func (e *Engine) RepayDebt(user crypto.Address, amount *big.Int, now time.Time) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	debt := e.accrueLocked(user, now)
	if debt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	repay := new(big.Int).Set(amount)
	if repay.Cmp(debt) > 0 {
		repay.Set(debt)
	}

	if err := e.stable.Burn(e.moduleAddress, user, repay); err != nil {
		return nil, err
	}

	position := e.positionRefLocked(user)
	position.Principal = new(big.Int).Sub(debt, repay)
	position.LastAccrual = uint64(now.Unix())
	if position.Principal.Sign() == 0 {
		delete(e.debts, user.Key())
	}
	return repay, nil
}

// Liquidate lets any caller close an unhealthy position: the liquidator's
// stablecoin covers the full debt and they receive vault shares worth the
// debt plus the liquidation bonus, capped by what the borrower holds. The
// burned debt and the EUR value of the seized collateral are returned.
func (e *Engine) Liquidate(liquidator, user crypto.Address, now time.Time) (*big.Int, *big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	debt := e.accrueLocked(user, now)
	if debt.Sign() == 0 {
		return nil, nil, ErrNoDebt
	}
	collateralEur, err := e.collateralValueLocked(user, now)
	if err != nil {
		return nil, nil, err
	}
	ratio := solvency.HealthRatio(collateralEur, debt)
	if solvency.IsHealthy(ratio, e.thresholdLocked()) {
		return nil, nil, ErrHealthy
	}

	seizeTarget := new(big.Int).Mul(debt, new(big.Int).SetUint64(10_000+e.params.LiquidationBonus))
	seizeTarget.Quo(seizeTarget, basisPoints)

	// Plan the seizure before touching any ledger so a price failure cannot
	// strand a half-applied liquidation.
	type seizure struct {
		v       *vault.Vault
		shares  *big.Int
		takeEur *big.Int
	}
	var plan []seizure
	seizedEur := big.NewInt(0)
	remaining := new(big.Int).Set(seizeTarget)
	for _, symbol := range e.assets {
		if remaining.Sign() <= 0 {
			break
		}
		v := e.vaults[symbol]
		held := v.CollateralValueOf(user)
		if held.Sign() == 0 {
			continue
		}
		heldEur, err := e.assetToEurLocked(symbol, held, now)
		if err != nil {
			return nil, nil, err
		}
		takeEur := new(big.Int).Set(remaining)
		if takeEur.Cmp(heldEur) > 0 {
			takeEur.Set(heldEur)
		}
		takeAsset, err := e.eurToAssetLocked(symbol, takeEur, now)
		if err != nil {
			return nil, nil, err
		}
		shares := v.SharesForCollateral(takeAsset)
		userShares := v.SharesOf(user)
		if shares.Cmp(userShares) > 0 {
			shares.Set(userShares)
		}
		if shares.Sign() == 0 {
			continue
		}
		plan = append(plan, seizure{v: v, shares: shares, takeEur: takeEur})
		seizedEur.Add(seizedEur, takeEur)
		remaining.Sub(remaining, takeEur)
	}

	// The liquidator covers the full debt up front; an insufficient balance
	// aborts before any collateral moves.
	if err := e.stable.Burn(e.moduleAddress, liquidator, debt); err != nil {
		return nil, nil, err
	}
	for _, s := range plan {
		// Cannot fail: share amounts were capped against the user's balance
		// under the same lock.
		if err := s.v.TransferShares(e.moduleAddress, user, liquidator, s.shares); err != nil {
			return nil, nil, err
		}
	}

	position := e.positionRefLocked(user)
	position.Principal = big.NewInt(0)
	position.LastAccrual = uint64(now.Unix())
	delete(e.debts, user.Key())

	return debt, seizedEur, nil
}

// DebtOf returns the caller's debt including interest accrued to now, without
// mutating the stored position.
func (e *Engine) DebtOf(user crypto.Address, now time.Time) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	position, ok := e.debts[user.Key()]
	if !ok || position.Principal == nil || position.Principal.Sign() == 0 {
		return big.NewInt(0)
	}
	elapsed := elapsedSeconds(position.LastAccrual, now)
	return solvency.AccrueInterest(position.Principal, e.params.DebtRatePerSecond, elapsed)
}

// CollateralValueEUR aggregates the EUR value of the user's shares across
// every registered vault.
func (e *Engine) CollateralValueEUR(user crypto.Address, now time.Time) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collateralValueLocked(user, now)
}

// HealthRatio reports the user's current health ratio.
func (e *Engine) HealthRatio(user crypto.Address, now time.Time) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	debt := big.NewInt(0)
	if position, ok := e.debts[user.Key()]; ok && position.Principal != nil {
		debt = solvency.AccrueInterest(position.Principal, e.params.DebtRatePerSecond, elapsedSeconds(position.LastAccrual, now))
	}
	collateralEur, err := e.collateralValueLocked(user, now)
	if err != nil {
		return nil, err
	}
	return solvency.HealthRatio(collateralEur, debt), nil
}

// Params returns a copy of the active risk parameters.
func (e *Engine) Params() RiskParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.Clone()
}

// LatestPrice returns the freshest admissible quote for an asset.
func (e *Engine) LatestPrice(asset string, now time.Time) (oracle.Quote, error) {
	return e.quoteFor(asset, now)
}

func (e *Engine) thresholdLocked() *big.Int {
	return new(big.Int).SetUint64(e.params.LiquidationThreshold)
}

// accrueLocked folds accrued interest into the stored principal and returns
// the up-to-date debt.
func (e *Engine) accrueLocked(user crypto.Address, now time.Time) *big.Int {
	position, ok := e.debts[user.Key()]
	if !ok || position.Principal == nil || position.Principal.Sign() == 0 {
		return big.NewInt(0)
	}
	elapsed := elapsedSeconds(position.LastAccrual, now)
	if elapsed > 0 {
		position.Principal = solvency.AccrueInterest(position.Principal, e.params.DebtRatePerSecond, elapsed)
		position.LastAccrual = uint64(now.Unix())
	}
	return new(big.Int).Set(position.Principal)
}

func (e *Engine) positionRefLocked(user crypto.Address) *DebtPosition {
	key := user.Key()
	position, ok := e.debts[key]
	if !ok {
		position = &DebtPosition{Account: user, Principal: big.NewInt(0)}
		e.debts[key] = position
	}
	return position
}

func (e *Engine) collateralValueLocked(user crypto.Address, now time.Time) (*big.Int, error) {
	total := big.NewInt(0)
	for _, symbol := range e.assets {
		v := e.vaults[symbol]
		held := v.CollateralValueOf(user)
		if held.Sign() == 0 {
			continue
		}
		value, err := e.assetToEurLocked(symbol, held, now)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// quoteFor resolves a quote and feeds the oracle gauges: quote age on
// success, the stale counter when freshness filtering rejects every feed.
func (e *Engine) quoteFor(asset string, now time.Time) (oracle.Quote, error) {
	quote, err := e.feeds.LatestPrice(asset, now)
	if err != nil {
		if errors.Is(err, oracle.ErrNoFreshQuote) {
			observability.Oracle().RecordStaleQuote(asset)
		}
		return oracle.Quote{}, err
	}
	observability.Oracle().RecordFreshness(asset, now.Sub(quote.Timestamp))
	return quote, nil
}

func (e *Engine) assetToEurLocked(asset string, amount *big.Int, now time.Time) (*big.Int, error) {
	assetQuote, err := e.quoteFor(asset, now)
	if err != nil {
		return nil, err
	}
	eurQuote, err := e.quoteFor(eurSymbol, now)
	if err != nil {
		return nil, err
	}
	return solvency.ToEUR(amount, assetQuote.Price, eurQuote.Price)
}

func (e *Engine) eurToAssetLocked(asset string, amountEur *big.Int, now time.Time) (*big.Int, error) {
	assetQuote, err := e.quoteFor(asset, now)
	if err != nil {
		return nil, err
	}
	eurQuote, err := e.quoteFor(eurSymbol, now)
	if err != nil {
		return nil, err
	}
	// Inverse of ToEUR with the same truncation direction.
	return solvency.ToEUR(amountEur, eurQuote.Price, assetQuote.Price)
}

// mintQuotaLocked validates the mint against the per-account quota and
// returns the updated counters. The caller commits them only after the mint
// succeeds, so a rejected mint never burns quota.
func (e *Engine) mintQuotaLocked(user crypto.Address, amount *big.Int, now time.Time) (nativecommon.QuotaNow, bool, error) {
	capSet := e.mintQuota.MaxMintWeiPerEpoch != nil && e.mintQuota.MaxMintWeiPerEpoch.Sign() > 0
	if !capSet && e.mintQuota.MaxRequestsPerMin == 0 {
		return nativecommon.QuotaNow{}, false, nil
	}
	epochSeconds := uint64(e.mintQuota.EpochSeconds)
	if epochSeconds == 0 {
		epochSeconds = 3600
	}
	epoch := uint64(now.Unix()) / epochSeconds
	next, err := nativecommon.CheckQuota(e.mintQuota, epoch, e.quotaUsage[user.Key()], 1, amount)
	if err != nil {
		return nativecommon.QuotaNow{}, false, err
	}
	return next, true, nil
}

func shareValue(v *vault.Vault, user crypto.Address, shareAmount *big.Int) *big.Int {
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return big.NewInt(0)
	}
	totalShares := v.TotalShares()
	if totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	if shareAmount.Cmp(totalShares) == 0 {
		return v.TotalCollateral()
	}
	value := new(big.Int).Mul(shareAmount, v.TotalCollateral())
	value.Quo(value, totalShares)
	return value
}

func elapsedSeconds(last uint64, now time.Time) uint64 {
	current := uint64(now.Unix())
	if current <= last {
		return 0
	}
	return current - last
}
