package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"eurstable/crypto"
	"eurstable/native/oracle"
	"eurstable/native/token"
	"eurstable/native/vault"
	"eurstable/storage"
)

var snapshotKey = []byte("pool/snapshot")

// VaultDeps rebinds the external capabilities a restored vault needs. The
// capabilities themselves are process-local adapters and are never
// serialized.
type VaultDeps interface {
	AssetTransferor(asset string) (vault.AssetTransferor, error)
	YieldSource(asset string) (vault.YieldSource, error)
	PriceFeed(asset string) (oracle.PriceFeed, error)
}

type debtRecord struct {
	Account     string `json:"account"`
	Principal   string `json:"principal"`
	LastAccrual uint64 `json:"lastAccrual"`
}

type snapshot struct {
	Version int           `json:"version"`
	Vaults  []vault.State `json:"vaults"`
	Debts   []debtRecord  `json:"debts"`
	Token   token.State   `json:"token"`
}

// SaveSnapshot serializes the registry, vault ledgers, debt positions, and
// the stable token ledger into the key-value store. Debt is only meaningful
// against the supply backing it, so the two always travel together.
func (e *Engine) SaveSnapshot(db storage.Database) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := snapshot{Version: 1}
	if e.stable != nil {
		snap.Token = e.stable.State()
	}
	for _, symbol := range e.assets {
		snap.Vaults = append(snap.Vaults, e.vaults[symbol].State())
	}
	for _, position := range e.debts {
		if position.Principal == nil || position.Principal.Sign() == 0 {
			continue
		}
		snap.Debts = append(snap.Debts, debtRecord{
			Account:     position.Account.String(),
			Principal:   position.Principal.String(),
			LastAccrual: position.LastAccrual,
		})
	}
	sort.Slice(snap.Debts, func(i, j int) bool { return snap.Debts[i].Account < snap.Debts[j].Account })

	encoded, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("lending pool: encode snapshot: %w", err)
	}
	return db.Put(snapshotKey, encoded)
}

// LoadSnapshot restores a previously saved snapshot. A missing snapshot is
// not an error; the pool simply starts empty. Restored vaults are rebound to
// fresh capabilities via deps and fully reconciled before the state is
// adopted.
func (e *Engine) LoadSnapshot(db storage.Database, deps VaultDeps) error {
	encoded, err := db.Get(snapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var snap snapshot
	if err := json.Unmarshal(encoded, &snap); err != nil {
		return fmt.Errorf("lending pool: decode snapshot: %w", err)
	}

	vaults := make(map[string]*vault.Vault, len(snap.Vaults))
	assets := make([]string, 0, len(snap.Vaults))
	for _, state := range snap.Vaults {
		symbol := strings.ToUpper(strings.TrimSpace(state.Asset))
		if _, dup := vaults[symbol]; dup {
			return fmt.Errorf("lending pool: duplicate vault for %s in snapshot", symbol)
		}
		assetToken, err := deps.AssetTransferor(symbol)
		if err != nil {
			return err
		}
		yield, err := deps.YieldSource(symbol)
		if err != nil {
			return err
		}
		restored, err := vault.FromState(state, assetToken, yield)
		if err != nil {
			return err
		}
		vaults[symbol] = restored
		assets = append(assets, symbol)

		feed, err := deps.PriceFeed(symbol)
		if err != nil {
			return err
		}
		if feed != nil && e.feeds != nil {
			e.feeds.Register("feed/"+strings.ToLower(symbol), feed)
		}
	}
	sort.Strings(assets)

	debts := make(map[string]*DebtPosition, len(snap.Debts))
	for _, record := range snap.Debts {
		account, err := crypto.DecodeAddress(record.Account)
		if err != nil {
			return fmt.Errorf("lending pool: decode debtor: %w", err)
		}
		principal, ok := new(big.Int).SetString(record.Principal, 10)
		if !ok || principal.Sign() < 0 {
			return fmt.Errorf("lending pool: invalid principal %q", record.Principal)
		}
		debts[account.Key()] = &DebtPosition{
			Account:     account,
			Principal:   principal,
			LastAccrual: record.LastAccrual,
		}
	}

	if e.stable != nil {
		if err := e.stable.LoadState(snap.Token); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.vaults = vaults
	e.assets = assets
	e.debts = debts
	return nil
}
