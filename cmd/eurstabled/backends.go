package main

import (
	"errors"
	"math/big"
	"strings"
	"sync"

	"eurstable/crypto"
	"eurstable/native/oracle"
	"eurstable/native/vault"
)

// memoryBackends serves the in-process adapters for local deployments: a
// per-asset balance ledger, a book-entry yield venue, and the shared static
// price feed. Production deployments replace these with bridges to the
// custody and market-data systems.
type memoryBackends struct {
	mu      sync.Mutex
	prices  *oracle.StaticFeed
	ledgers map[string]*assetLedger
	yields  map[string]*bookYield
}

func newMemoryBackends(prices *oracle.StaticFeed) *memoryBackends {
	return &memoryBackends{
		prices:  prices,
		ledgers: make(map[string]*assetLedger),
		yields:  make(map[string]*bookYield),
	}
}

func (b *memoryBackends) AssetTransferor(asset string) (vault.AssetTransferor, error) {
	return b.ledger(asset), nil
}

func (b *memoryBackends) YieldSource(asset string) (vault.YieldSource, error) {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	b.mu.Lock()
	defer b.mu.Unlock()
	yield, ok := b.yields[symbol]
	if !ok {
		yield = &bookYield{supplied: big.NewInt(0)}
		b.yields[symbol] = yield
	}
	return yield, nil
}

func (b *memoryBackends) PriceFeed(asset string) (oracle.PriceFeed, error) {
	return b.prices, nil
}

// Fund seeds an account's collateral balance. Exposed over RPC through the
// asset_fund admin method.
func (b *memoryBackends) Fund(asset string, account crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("fund amount must be positive")
	}
	return b.ledger(asset).Transfer(account, amount)
}

func (b *memoryBackends) ledger(asset string) *assetLedger {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	b.mu.Lock()
	defer b.mu.Unlock()
	ledger, ok := b.ledgers[symbol]
	if !ok {
		ledger = &assetLedger{balances: make(map[string]*big.Int)}
		b.ledgers[symbol] = ledger
	}
	return ledger
}

type assetLedger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

func (l *assetLedger) ref(account crypto.Address) *big.Int {
	balance, ok := l.balances[account.Key()]
	if !ok {
		balance = big.NewInt(0)
		l.balances[account.Key()] = balance
	}
	return balance
}

func (l *assetLedger) TransferFrom(owner, to crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := l.ref(owner)
	if from.Cmp(amount) < 0 {
		return errors.New("asset ledger: insufficient funds")
	}
	from.Sub(from, amount)
	l.ref(to).Add(l.ref(to), amount)
	return nil
}

func (l *assetLedger) Transfer(to crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ref(to).Add(l.ref(to), amount)
	return nil
}

func (l *assetLedger) BalanceOf(account crypto.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.ref(account))
}

// bookYield tracks supplied principal as a book entry without moving funds.
type bookYield struct {
	mu       sync.Mutex
	supplied *big.Int
}

func (y *bookYield) Supply(asset string, amount *big.Int) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.supplied.Add(y.supplied, amount)
	return nil
}

func (y *bookYield) Withdraw(asset string, amount *big.Int, to crypto.Address) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.supplied.Cmp(amount) < 0 {
		return errors.New("yield source balance insufficient")
	}
	y.supplied.Sub(y.supplied, amount)
	return nil
}
