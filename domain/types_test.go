package domain

import (
	"errors"
	"testing"
)

func TestRoleWithSetsAndClears(t *testing.T) {
	var r Role
	r = r.With(RoleBanker, true)
	if !r.Has(RoleBanker) || r.Has(RoleAdmin) {
		t.Fatalf("role = %b after setting banker", r)
	}
	// Setting an already-set flag is a no-op, not a toggle.
	r = r.With(RoleBanker, true)
	if !r.Has(RoleBanker) {
		t.Fatal("repeated set cleared the flag")
	}
	r = r.With(RoleAdmin, true).With(RoleBanker, false)
	if r.Has(RoleBanker) || !r.Has(RoleAdmin) {
		t.Fatalf("role = %b after clearing banker", r)
	}
}

func TestAccountPoolPredicates(t *testing.T) {
	bank := Account{ID: BankAccountID}
	parking := Account{ID: ParkingAccountID}
	player := Account{ID: "acct-1", PlayerID: "uid-a"}

	if !bank.IsPool() || !bank.IsBank() {
		t.Error("bank predicates wrong")
	}
	if !parking.IsPool() || parking.IsBank() {
		t.Error("parking predicates wrong")
	}
	if player.IsPool() || player.IsBank() {
		t.Error("player predicates wrong")
	}
}

func TestStoreErrorTransience(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewStoreError("get session", "08006", inner)

	if !IsTransient(err) {
		t.Error("store error not transient")
	}
	if !errors.Is(err, inner) {
		t.Error("store error does not unwrap")
	}
	if IsTransient(ErrInsufficientFunds) {
		t.Error("validation rejection reported transient")
	}

	wrapped := &SubscriptionError{SessionID: "game0001", Err: err}
	if !IsTransient(wrapped) {
		t.Error("transience lost through subscription wrapper")
	}
}
