package service

import (
	"context"
	"errors"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ManuACDev/monopoly-wallet/domain"
)

func TestCreateSession(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store, cmtlog.NewNopLogger())

	session, err := registry.CreateSession(context.Background(), SessionConfig{
		Capacity:        4,
		StartingBalance: 300_000,
		PassGoBonus:     40_000,
		AutoBank:        true,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(session.ID) != 8 {
		t.Errorf("session id %q: want 8 characters", session.ID)
	}
	if session.Capacity != 4 || session.StartingBalance != 300_000 {
		t.Errorf("session config not preserved: %+v", session)
	}

	// The pools must exist the moment the session does.
	if got := store.balance(session.ID, domain.BankAccountID); got != domain.BankSeedBalance {
		t.Errorf("bank balance = %d, want %d", got, domain.BankSeedBalance)
	}
	if got := store.balance(session.ID, domain.ParkingAccountID); got != 0 {
		t.Errorf("parking balance = %d, want 0", got)
	}
}

func TestCreateSessionRejectsBadConfig(t *testing.T) {
	registry := NewRegistry(newFakeStore(), cmtlog.NewNopLogger())

	cases := []SessionConfig{
		{Capacity: 1, StartingBalance: 1000},
		{Capacity: 4, StartingBalance: -1},
		{Capacity: 4, StartingBalance: 1000, PassGoBonus: -5},
	}
	for _, cfg := range cases {
		if _, err := registry.CreateSession(context.Background(), cfg); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("CreateSession(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

func TestGetSessionConfigUnknown(t *testing.T) {
	registry := NewRegistry(newFakeStore(), cmtlog.NewNopLogger())
	if _, err := registry.GetSessionConfig(context.Background(), "nope1234"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("GetSessionConfig = %v, want ErrSessionNotFound", err)
	}
}

func TestCreateSessionStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.createErr = domain.NewStoreError("create", "XX000", errors.New("down"))
	registry := NewRegistry(store, cmtlog.NewNopLogger())

	_, err := registry.CreateSession(context.Background(), SessionConfig{Capacity: 2, StartingBalance: 100})
	if !domain.IsTransient(err) {
		t.Fatalf("CreateSession = %v, want transient store error", err)
	}
}
