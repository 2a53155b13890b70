package token

import (
	"math/big"
	"strings"
	"testing"

	"eurstable/crypto"
)

func TestStateRoundTrip(t *testing.T) {
	authority := makeAddress(crypto.ModulePrefix, 0xAA)
	userA := makeAddress(crypto.AccountPrefix, 0x01)
	userB := makeAddress(crypto.AccountPrefix, 0x02)

	ledger := New(authority)
	if err := ledger.Mint(authority, userA, big.NewInt(1000)); err != nil {
		t.Fatalf("mint A: %v", err)
	}
	if err := ledger.Mint(authority, userB, big.NewInt(250)); err != nil {
		t.Fatalf("mint B: %v", err)
	}
	if err := ledger.Burn(authority, userB, big.NewInt(250)); err != nil {
		t.Fatalf("burn B: %v", err)
	}

	restored := New(authority)
	if err := restored.LoadState(ledger.State()); err != nil {
		t.Fatalf("load state: %v", err)
	}
	if balance := restored.BalanceOf(userA); balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected restored balance 1000, got %s", balance)
	}
	if balance := restored.BalanceOf(userB); balance.Sign() != 0 {
		t.Fatalf("expected zero balance dropped from snapshot, got %s", balance)
	}
	if supply, sum := restored.TotalSupply(), restored.SumBalances(); supply.Cmp(sum) != 0 {
		t.Fatalf("supply %s != balance sum %s after restore", supply, sum)
	}
	if err := restored.Burn(authority, userA, big.NewInt(1000)); err != nil {
		t.Fatalf("burn after restore: %v", err)
	}
}

func TestLoadStateRejectsSupplyMismatch(t *testing.T) {
	authority := makeAddress(crypto.ModulePrefix, 0xAA)
	user := makeAddress(crypto.AccountPrefix, 0x01)

	state := State{
		TotalSupply: "500",
		Balances:    map[string]string{user.String(): "400"},
	}
	ledger := New(authority)
	err := ledger.LoadState(state)
	if err == nil {
		t.Fatal("expected supply mismatch rejection")
	}
	if !strings.Contains(err.Error(), "snapshot supply") {
		t.Fatalf("unexpected error: %v", err)
	}
	if supply := ledger.TotalSupply(); supply.Sign() != 0 {
		t.Fatalf("rejected snapshot must leave ledger untouched, got %s", supply)
	}
}

func TestLoadStateRejectsMalformedEntries(t *testing.T) {
	authority := makeAddress(crypto.ModulePrefix, 0xAA)
	user := makeAddress(crypto.AccountPrefix, 0x01)

	ledger := New(authority)
	if err := ledger.LoadState(State{
		TotalSupply: "100",
		Balances:    map[string]string{"not-bech32": "100"},
	}); err == nil {
		t.Fatal("expected holder decode failure")
	}
	if err := ledger.LoadState(State{
		TotalSupply: "100",
		Balances:    map[string]string{user.String(): "-100"},
	}); err == nil {
		t.Fatal("expected negative balance rejection")
	}
}
