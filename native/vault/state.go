package vault

import (
	"fmt"
	"math/big"
	"strings"

	"eurstable/crypto"
)

// State is the serializable snapshot of a vault's ledgers. Balances are
// decimal strings so the encoding stays exact at any magnitude.
type State struct {
	Asset           string            `json:"asset"`
	Address         string            `json:"address"`
	Authority       string            `json:"authority"`
	TotalShares     string            `json:"totalShares"`
	UserShares      map[string]string `json:"userShares"`
	IdleBalance     string            `json:"idleBalance"`
	DeployedBalance string            `json:"deployedBalance"`
	TotalCollateral string            `json:"totalCollateral"`
}

// State captures the vault's current ledgers for persistence.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()

	shares := make(map[string]string, len(v.userShares))
	for key, balance := range v.userShares {
		addr, err := addressFromKey(key)
		if err != nil {
			continue
		}
		shares[addr.String()] = balance.String()
	}
	return State{
		Asset:           v.asset,
		Address:         v.address.String(),
		Authority:       v.authority.String(),
		TotalShares:     v.totalShares.String(),
		UserShares:      shares,
		IdleBalance:     v.idleBalance.String(),
		DeployedBalance: v.deployedBalance.String(),
		TotalCollateral: v.totalCollateral.String(),
	}
}

// FromState reconstructs a vault from a snapshot, rebinding the external
// capabilities which are not serializable. The restored ledgers are
// reconciled before the vault is returned.
func FromState(state State, assetToken AssetTransferor, yield YieldSource) (*Vault, error) {
	address, err := crypto.DecodeAddress(state.Address)
	if err != nil {
		return nil, fmt.Errorf("collateral vault: decode address: %w", err)
	}
	authority, err := crypto.DecodeAddress(state.Authority)
	if err != nil {
		return nil, fmt.Errorf("collateral vault: decode authority: %w", err)
	}

	v := New(strings.ToUpper(strings.TrimSpace(state.Asset)), address, authority, assetToken, yield)
	if v.totalShares, err = parseBig(state.TotalShares); err != nil {
		return nil, err
	}
	if v.idleBalance, err = parseBig(state.IdleBalance); err != nil {
		return nil, err
	}
	if v.deployedBalance, err = parseBig(state.DeployedBalance); err != nil {
		return nil, err
	}
	if v.totalCollateral, err = parseBig(state.TotalCollateral); err != nil {
		return nil, err
	}
	for encoded, balance := range state.UserShares {
		addr, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return nil, fmt.Errorf("collateral vault: decode share holder: %w", err)
		}
		amount, err := parseBig(balance)
		if err != nil {
			return nil, err
		}
		v.userShares[addr.Key()] = amount
	}
	if err := v.Reconcile(); err != nil {
		return nil, err
	}
	return v, nil
}

func parseBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("collateral vault: invalid balance %q", value)
	}
	return parsed, nil
}

func addressFromKey(key string) (crypto.Address, error) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 || len(key)-idx-1 != 20 {
		return crypto.Address{}, fmt.Errorf("collateral vault: malformed share key")
	}
	return crypto.NewAddress(crypto.AddressPrefix(key[:idx]), []byte(key[idx+1:])), nil
}
