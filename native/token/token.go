package token

import (
	"errors"
	"math/big"
	"sync"

	"eurstable/crypto"

	"github.com/holiman/uint256"
)

var (
	// ErrUnauthorized is returned when the caller is not the mint authority.
	ErrUnauthorized = errors.New("stable token: caller is not the mint authority")
	// ErrInvalidAmount is returned for nil or non-positive amounts.
	ErrInvalidAmount = errors.New("stable token: amount must be positive")
	// ErrInsufficientBalance is returned when a burn exceeds the holder balance.
	ErrInsufficientBalance = errors.New("stable token: insufficient balance")
	// ErrOverflow is returned when minting would push the supply past 256 bits.
	ErrOverflow = errors.New("stable token: total supply overflow")
)

// Token is the EUR stablecoin balance ledger. Supply only moves through Mint
// and Burn, both restricted to the single authority fixed at construction.
// The authority field has no setter; reassignment is structurally impossible.
type Token struct {
	mu          sync.Mutex
	authority   crypto.Address
	balances    map[string]*big.Int
	totalSupply *big.Int
}

// New constructs the ledger with the given mint/burn authority. The authority
// is typically the lending pool's module address.
func New(authority crypto.Address) *Token {
	return &Token{
		authority:   authority,
		balances:    make(map[string]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

// Authority returns the fixed mint/burn authority.
func (t *Token) Authority() crypto.Address {
	return t.authority
}

// Mint credits amount to the recipient. Only the authority may mint, and the
// post-mint supply must stay within 256 bits.
func (t *Token) Mint(caller, to crypto.Address, amount *big.Int) error {
	if !caller.Equal(t.authority) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	nextSupply := new(big.Int).Add(t.totalSupply, amount)
	if _, overflow := uint256.FromBig(nextSupply); overflow {
		return ErrOverflow
	}

	balance := t.balanceRef(to)
	balance.Add(balance, amount)
	t.totalSupply = nextSupply
	return nil
}

// Burn debits amount from the holder. Only the authority may burn.
func (t *Token) Burn(caller, from crypto.Address, amount *big.Int) error {
	if !caller.Equal(t.authority) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	balance := t.balanceRef(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

// BalanceOf returns a copy of the account balance. Never fails; unknown
// accounts hold zero.
func (t *Token) BalanceOf(account crypto.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if balance, ok := t.balances[account.Key()]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// TotalSupply returns a copy of the aggregate supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.totalSupply)
}

// SumBalances walks the ledger and adds every balance. Exposed for invariant
// checks; the result must always equal TotalSupply.
func (t *Token) SumBalances() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	sum := big.NewInt(0)
	for _, balance := range t.balances {
		sum.Add(sum, balance)
	}
	return sum
}

func (t *Token) balanceRef(account crypto.Address) *big.Int {
	key := account.Key()
	balance, ok := t.balances[key]
	if !ok {
		balance = big.NewInt(0)
		t.balances[key] = balance
	}
	return balance
}
