package token

import (
	"fmt"
	"math/big"
	"strings"

	"eurstable/crypto"
)

// State is the serializable snapshot of the token ledger. Balances are keyed
// by bech32 address with decimal string amounts so the encoding stays exact at
// any magnitude.
type State struct {
	TotalSupply string            `json:"totalSupply"`
	Balances    map[string]string `json:"balances"`
}

// State captures the ledger for persistence. Zero balances are dropped.
func (t *Token) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	balances := make(map[string]string, len(t.balances))
	for key, balance := range t.balances {
		if balance.Sign() == 0 {
			continue
		}
		addr, err := addressFromKey(key)
		if err != nil {
			continue
		}
		balances[addr.String()] = balance.String()
	}
	return State{TotalSupply: t.totalSupply.String(), Balances: balances}
}

// LoadState replaces the ledger with a snapshot. The recorded supply must
// equal the sum of balances or the snapshot is rejected, so supply
// conservation survives a restore.
func (t *Token) LoadState(state State) error {
	supply, err := parseBalance(state.TotalSupply)
	if err != nil {
		return err
	}
	balances := make(map[string]*big.Int, len(state.Balances))
	sum := big.NewInt(0)
	for encoded, value := range state.Balances {
		addr, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return fmt.Errorf("stable token: decode holder: %w", err)
		}
		amount, err := parseBalance(value)
		if err != nil {
			return err
		}
		balances[addr.Key()] = amount
		sum.Add(sum, amount)
	}
	if sum.Cmp(supply) != 0 {
		return fmt.Errorf("stable token: snapshot supply %s != balance sum %s", supply, sum)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = balances
	t.totalSupply = supply
	return nil
}

func parseBalance(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("stable token: invalid balance %q", value)
	}
	return parsed, nil
}

func addressFromKey(key string) (crypto.Address, error) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 || len(key)-idx-1 != 20 {
		return crypto.Address{}, fmt.Errorf("stable token: malformed balance key")
	}
	return crypto.NewAddress(crypto.AddressPrefix(key[:idx]), []byte(key[idx+1:])), nil
}
