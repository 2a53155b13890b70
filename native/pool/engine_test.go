package pool

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"eurstable/crypto"
	nativecommon "eurstable/native/common"
	"eurstable/native/oracle"
	"eurstable/native/solvency"
	"eurstable/native/token"
)

func makeAddress(prefix crypto.AddressPrefix, fill byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(prefix, raw)
}

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func usd8(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), big.NewInt(100_000_000))
}

// mockAsset mirrors an external transferable token.
type mockAsset struct {
	balances map[string]*big.Int
}

func newMockAsset() *mockAsset {
	return &mockAsset{balances: make(map[string]*big.Int)}
}

func (m *mockAsset) fund(account crypto.Address, amount *big.Int) {
	m.balances[account.Key()] = new(big.Int).Set(amount)
}

func (m *mockAsset) ref(account crypto.Address) *big.Int {
	balance, ok := m.balances[account.Key()]
	if !ok {
		balance = big.NewInt(0)
		m.balances[account.Key()] = balance
	}
	return balance
}

func (m *mockAsset) TransferFrom(owner, to crypto.Address, amount *big.Int) error {
	from := m.ref(owner)
	if from.Cmp(amount) < 0 {
		return errors.New("insufficient funds")
	}
	from.Sub(from, amount)
	m.ref(to).Add(m.ref(to), amount)
	return nil
}

func (m *mockAsset) Transfer(to crypto.Address, amount *big.Int) error {
	m.ref(to).Add(m.ref(to), amount)
	return nil
}

func (m *mockAsset) BalanceOf(account crypto.Address) *big.Int {
	return new(big.Int).Set(m.ref(account))
}

type mockYield struct{ supplied *big.Int }

func newMockYield() *mockYield { return &mockYield{supplied: big.NewInt(0)} }

func (m *mockYield) Supply(asset string, amount *big.Int) error {
	m.supplied.Add(m.supplied, amount)
	return nil
}

func (m *mockYield) Withdraw(asset string, amount *big.Int, to crypto.Address) error {
	if m.supplied.Cmp(amount) < 0 {
		return errors.New("yield balance insufficient")
	}
	m.supplied.Sub(m.supplied, amount)
	return nil
}

type stubPauseView struct{ modules map[string]bool }

func (s stubPauseView) IsPaused(module string) bool { return s.modules[module] }

type fixture struct {
	engine    *Engine
	stable    *token.Token
	weth      *oracle.StaticFeed
	eur       *oracle.StaticFeed
	asset     *mockAsset
	authority crypto.Address
	module    crypto.Address
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authority := makeAddress(crypto.AccountPrefix, 0xA0)
	module := makeAddress(crypto.ModulePrefix, 0xB0)
	now := time.Unix(1_700_000_000, 0)

	weth := oracle.NewStaticFeed()
	weth.SetPrice("WETH", usd8(4000), 8, now)
	eur := oracle.NewStaticFeed()
	eur.SetPrice("EUR", usd8(1), 8, now)

	feeds := oracle.NewAggregator(nil, time.Hour)
	feeds.Register("feed/eur", eur)

	stable := token.New(module)
	engine := NewEngine(authority, module, stable, feeds, RiskParameters{
		LiquidationThreshold: 150,
		LiquidationBonus:     1000,
		DebtRatePerSecond:    big.NewInt(0),
		MaxQuoteAge:          time.Hour,
	})

	asset := newMockAsset()
	if _, err := engine.CreateVault(authority, "WETH", asset, newMockYield(), weth); err != nil {
		t.Fatalf("create vault: %v", err)
	}
	return &fixture{
		engine:    engine,
		stable:    stable,
		weth:      weth,
		eur:       eur,
		asset:     asset,
		authority: authority,
		module:    module,
		now:       now,
	}
}

func TestCreateVaultAuthorityOnly(t *testing.T) {
	fx := newFixture(t)
	intruder := makeAddress(crypto.AccountPrefix, 0x99)

	if _, err := fx.engine.CreateVault(intruder, "WBTC", fx.asset, newMockYield(), nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := fx.engine.CreateVault(fx.authority, "WETH", fx.asset, newMockYield(), nil); !errors.Is(err, ErrVaultExists) {
		t.Fatalf("expected ErrVaultExists, got %v", err)
	}
}

func TestDepositCollateralDoesNotMint(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(2))

	shares, err := fx.engine.DepositCollateral(user, "WETH", wei(2))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Cmp(wei(2)) != 0 {
		t.Fatalf("expected bootstrap shares %s, got %s", wei(2), shares)
	}
	if supply := fx.stable.TotalSupply(); supply.Sign() != 0 {
		t.Fatalf("deposit must not mint, supply %s", supply)
	}
	if _, err := fx.engine.DepositCollateral(user, "WBTC", wei(1)); !errors.Is(err, ErrNoSuchVault) {
		t.Fatalf("expected ErrNoSuchVault, got %v", err)
	}
}

func TestMintDebtAgainstCollateral(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// 1 WETH at $4000 with EUR at $1 backs 4000 EUR of collateral; minting
	// 2000 leaves a ratio of 200 against a threshold of 150.
	if err := fx.engine.MintDebt(user, wei(2000), fx.now); err != nil {
		t.Fatalf("mint debt: %v", err)
	}
	if balance := fx.stable.BalanceOf(user); balance.Cmp(wei(2000)) != 0 {
		t.Fatalf("expected stable balance %s, got %s", wei(2000), balance)
	}
	if debt := fx.engine.DebtOf(user, fx.now); debt.Cmp(wei(2000)) != 0 {
		t.Fatalf("expected debt %s, got %s", wei(2000), debt)
	}

	ratio, err := fx.engine.HealthRatio(user, fx.now)
	if err != nil {
		t.Fatalf("health ratio: %v", err)
	}
	if ratio.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected ratio 200, got %s", ratio)
	}
}

func TestMintDebtRejectsUndercollateralized(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// 2700 EUR of debt against 4000 EUR of collateral is a ratio of 148.
	if err := fx.engine.MintDebt(user, wei(2700), fx.now); !errors.Is(err, ErrUndercollateralized) {
		t.Fatalf("expected ErrUndercollateralized, got %v", err)
	}
	if supply := fx.stable.TotalSupply(); supply.Sign() != 0 {
		t.Fatalf("rejected mint must not change supply, got %s", supply)
	}
	if debt := fx.engine.DebtOf(user, fx.now); debt.Sign() != 0 {
		t.Fatalf("rejected mint must not record debt, got %s", debt)
	}
}

func TestMintDebtRejectsStalePrice(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fx.weth.SetPrice("WETH", usd8(4000), 8, fx.now.Add(-2*time.Hour))

	if err := fx.engine.MintDebt(user, wei(100), fx.now); !errors.Is(err, oracle.ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}

func TestMintDebtRejectsZeroPrice(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fx.weth.SetPrice("WETH", big.NewInt(0), 8, fx.now)

	if err := fx.engine.MintDebt(user, wei(100), fx.now); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestRepayDebtBurnsAndClamps(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(2000), fx.now); err != nil {
		t.Fatalf("mint debt: %v", err)
	}

	repaid, err := fx.engine.RepayDebt(user, wei(5000), fx.now)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Cmp(wei(2000)) != 0 {
		t.Fatalf("expected clamp to outstanding %s, got %s", wei(2000), repaid)
	}
	if supply := fx.stable.TotalSupply(); supply.Sign() != 0 {
		t.Fatalf("expected supply burned to zero, got %s", supply)
	}
	if _, err := fx.engine.RepayDebt(user, wei(1), fx.now); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("expected ErrNoDebt, got %v", err)
	}
}

func TestWithdrawCollateralKeepsPositionHealthy(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(2))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(2)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(4000), fx.now); err != nil {
		t.Fatalf("mint debt: %v", err)
	}
	// Removing half the collateral would leave 4000 EUR against 4000 EUR of
	// debt: ratio 100, below 150.
	if _, err := fx.engine.WithdrawCollateral(user, "WETH", wei(1), fx.now); !errors.Is(err, ErrUndercollateralized) {
		t.Fatalf("expected ErrUndercollateralized, got %v", err)
	}

	if _, err := fx.engine.RepayDebt(user, wei(4000), fx.now); err != nil {
		t.Fatalf("repay: %v", err)
	}
	amount, err := fx.engine.WithdrawCollateral(user, "WETH", wei(1), fx.now)
	if err != nil {
		t.Fatalf("withdraw after repay: %v", err)
	}
	if amount.Cmp(wei(1)) != 0 {
		t.Fatalf("expected payout %s, got %s", wei(1), amount)
	}
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	liquidator := makeAddress(crypto.AccountPrefix, 0x02)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(2000), fx.now); err != nil {
		t.Fatalf("mint debt: %v", err)
	}
	if _, _, err := fx.engine.Liquidate(liquidator, user, fx.now); !errors.Is(err, ErrHealthy) {
		t.Fatalf("expected ErrHealthy, got %v", err)
	}
}

func TestLiquidateSeizesSharesAndClearsDebt(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	liquidator := makeAddress(crypto.AccountPrefix, 0x02)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(2000), fx.now); err != nil {
		t.Fatalf("mint debt: %v", err)
	}

	// Price collapse: 1 WETH now backs 2500 EUR against 2000 of debt, ratio
	// 125 < 150.
	fx.weth.SetPrice("WETH", usd8(2500), 8, fx.now)
	if err := fx.stable.Mint(fx.module, liquidator, wei(2000)); err != nil {
		t.Fatalf("fund liquidator: %v", err)
	}

	repaid, seizedEur, err := fx.engine.Liquidate(liquidator, user, fx.now)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(wei(2000)) != 0 {
		t.Fatalf("expected repaid %s, got %s", wei(2000), repaid)
	}
	// Target is debt plus the 10% bonus: 2200 EUR.
	if seizedEur.Cmp(wei(2200)) != 0 {
		t.Fatalf("expected seized value %s, got %s", wei(2200), seizedEur)
	}
	if balance := fx.stable.BalanceOf(liquidator); balance.Sign() != 0 {
		t.Fatalf("expected liquidator stable burned, got %s", balance)
	}
	if debt := fx.engine.DebtOf(user, fx.now); debt.Sign() != 0 {
		t.Fatalf("expected debt cleared, got %s", debt)
	}

	v, err := fx.engine.Vault("WETH")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	// 2200 EUR at $2500/WETH is 0.88 WETH of the user's 1 WETH claim.
	if shares := v.SharesOf(liquidator); shares.Sign() == 0 {
		t.Fatal("expected liquidator to hold seized shares")
	}
	if err := v.Reconcile(); err != nil {
		t.Fatal(err)
	}

	ratio, err := fx.engine.HealthRatio(user, fx.now)
	if err != nil {
		t.Fatalf("health ratio: %v", err)
	}
	// Debt is cleared, so the sentinel ratio must report healthy.
	if !solvency.IsHealthy(ratio, big.NewInt(150)) {
		t.Fatalf("expected post-liquidation position healthy, ratio %s", ratio)
	}
}

func TestLiquidateRequiresLiquidatorFunds(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	liquidator := makeAddress(crypto.AccountPrefix, 0x02)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(2000), fx.now); err != nil {
		t.Fatalf("mint debt: %v", err)
	}
	fx.weth.SetPrice("WETH", usd8(2500), 8, fx.now)

	if _, _, err := fx.engine.Liquidate(liquidator, user, fx.now); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if debt := fx.engine.DebtOf(user, fx.now); debt.Cmp(wei(2000)) != 0 {
		t.Fatalf("expected debt unchanged, got %s", debt)
	}
}

func TestDebtAccruesInterest(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	// 1e12 per second: 0.1% over 1e6 seconds.
	fx.engine.params.DebtRatePerSecond = big.NewInt(1_000_000_000_000)

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(1000), fx.now); err != nil {
		t.Fatalf("mint debt: %v", err)
	}

	later := fx.now.Add(1_000_000 * time.Second)
	fx.weth.SetPrice("WETH", usd8(4000), 8, later)
	fx.eur.SetPrice("EUR", usd8(1), 8, later)

	debt := fx.engine.DebtOf(user, later)
	want := new(big.Int).Add(wei(1000), wei(1))
	if debt.Cmp(want) != 0 {
		t.Fatalf("expected accrued debt %s, got %s", want, debt)
	}
	if debt := fx.engine.DebtOf(user, fx.now.Add(-time.Hour)); debt.Cmp(wei(1000)) != 0 {
		t.Fatalf("accrual must never run backwards, got %s", debt)
	}
}

func TestPauseGuardBlocksMint(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fx.engine.SetPauses(stubPauseView{modules: map[string]bool{"pool": true}})

	if err := fx.engine.MintDebt(user, wei(100), fx.now); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if supply := fx.stable.TotalSupply(); supply.Sign() != 0 {
		t.Fatalf("paused mint must not change supply, got %s", supply)
	}
}

func TestMintQuotaEnforced(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fx.engine.SetMintQuota(nativecommon.Quota{MaxRequestsPerMin: 2, EpochSeconds: 60})

	if err := fx.engine.MintDebt(user, wei(10), fx.now); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(10), fx.now); err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(10), fx.now); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
}

func TestMintQuotaAdmitsAmountsBeyond64Bits(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(100))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fx.engine.SetMintQuota(nativecommon.Quota{MaxRequestsPerMin: 5, EpochSeconds: 60})

	// 100 tokens at 18 decimals exceeds 2^64 wei; with no wei cap configured
	// every request slot must stay usable afterwards.
	if err := fx.engine.MintDebt(user, wei(100), fx.now); err != nil {
		t.Fatalf("large mint: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(1), fx.now); err != nil {
		t.Fatalf("mint after large amount in same epoch: %v", err)
	}
}

func TestMintQuotaWeiCapAcrossEpochs(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(100))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fx.engine.SetMintQuota(nativecommon.Quota{MaxMintWeiPerEpoch: wei(150), EpochSeconds: 60})

	if err := fx.engine.MintDebt(user, wei(100), fx.now); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(100), fx.now); !errors.Is(err, nativecommon.ErrQuotaMintCapExceeded) {
		t.Fatalf("expected ErrQuotaMintCapExceeded, got %v", err)
	}

	later := fx.now.Add(2 * time.Minute)
	if err := fx.engine.MintDebt(user, wei(100), later); err != nil {
		t.Fatalf("mint after epoch rollover: %v", err)
	}
}

func TestRejectedMintDoesNotConsumeQuota(t *testing.T) {
	fx := newFixture(t)
	user := makeAddress(crypto.AccountPrefix, 0x01)
	fx.asset.fund(user, wei(1))

	if _, err := fx.engine.DepositCollateral(user, "WETH", wei(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fx.engine.SetMintQuota(nativecommon.Quota{MaxRequestsPerMin: 1, EpochSeconds: 60})

	// 3000 EUR against 4000 EUR of collateral is a ratio of 133: rejected,
	// and the single request slot must survive the rejection.
	if err := fx.engine.MintDebt(user, wei(3000), fx.now); !errors.Is(err, ErrUndercollateralized) {
		t.Fatalf("expected ErrUndercollateralized, got %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(100), fx.now); err != nil {
		t.Fatalf("healthy mint after rejected one: %v", err)
	}
	if err := fx.engine.MintDebt(user, wei(100), fx.now); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
}
