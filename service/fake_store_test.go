package service

import (
	"context"
	"sync"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
)

// fakeStore is an in-memory ports.Store for exercising the service
// layer without a real backend. Error fields, when set, are returned by
// the corresponding method before any state change.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]domain.Session
	accounts map[domain.SessionID][]domain.Account
	events   map[domain.SessionID][]domain.ActivityEvent
	nextSeq  uint64

	createErr   error
	getErr      error
	admitErr    error
	transferErr error
	appendErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[domain.SessionID]domain.Session),
		accounts: make(map[domain.SessionID][]domain.Account),
		events:   make(map[domain.SessionID][]domain.ActivityEvent),
	}
}

func (f *fakeStore) CreateSession(ctx context.Context, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.sessions[session.ID] = session
	f.accounts[session.ID] = []domain.Account{
		{ID: domain.BankAccountID, SessionID: session.ID, Name: "Bank", Balance: domain.BankSeedBalance},
		{ID: domain.ParkingAccountID, SessionID: session.ID, Name: "Parking", Balance: 0},
	}
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Session{}, f.getErr
	}
	session, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeStore) AdmitPlayer(ctx context.Context, sessionID domain.SessionID, acct domain.Account) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.admitErr != nil {
		return domain.Account{}, f.admitErr
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return domain.Account{}, domain.ErrSessionNotFound
	}
	players := 0
	for _, a := range f.accounts[sessionID] {
		if a.PlayerID == acct.PlayerID {
			return a, nil
		}
		if a.PlayerID != "" {
			players++
		}
	}
	if players >= session.Capacity {
		return domain.Account{}, domain.ErrSessionFull
	}
	f.accounts[sessionID] = append(f.accounts[sessionID], acct)
	return acct, nil
}

func (f *fakeStore) ListPlayers(ctx context.Context, sessionID domain.SessionID) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Account
	for _, a := range f.accounts[sessionID] {
		if a.PlayerID != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) GetPlayer(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts[sessionID] {
		if a.PlayerID == playerID && playerID != "" {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (f *fakeStore) SetRoleFlag(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID, flag domain.Role, value bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accts := f.accounts[sessionID]
	for i, a := range accts {
		if a.PlayerID == playerID && playerID != "" {
			accts[i].Role = a.Role.With(flag, value)
			return accts[i].Role.Has(flag), nil
		}
	}
	return false, domain.ErrAccountNotFound
}

func (f *fakeStore) ApplyTransfer(ctx context.Context, sessionID domain.SessionID, src, dst domain.AccountID, amount int64, checkSource bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return f.transferErr
	}
	accts := f.accounts[sessionID]
	srcIdx, dstIdx := -1, -1
	for i, a := range accts {
		if a.ID == src {
			srcIdx = i
		}
		if a.ID == dst {
			dstIdx = i
		}
	}
	if srcIdx < 0 || dstIdx < 0 {
		return domain.ErrAccountNotFound
	}
	if checkSource && accts[srcIdx].Balance < amount {
		return domain.ErrInsufficientFunds
	}
	accts[srcIdx].Balance -= amount
	accts[dstIdx].Balance += amount
	return nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, sessionID domain.SessionID, ev domain.ActivityEvent) (domain.ActivityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return domain.ActivityEvent{}, f.appendErr
	}
	if _, ok := f.sessions[sessionID]; !ok {
		return domain.ActivityEvent{}, domain.ErrSessionNotFound
	}
	f.nextSeq++
	ev.Seq = f.nextSeq
	f.events[sessionID] = append(f.events[sessionID], ev)
	return ev, nil
}

func (f *fakeStore) ListEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) ([]domain.ActivityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ActivityEvent
	for _, ev := range f.events[sessionID] {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) WatchRoster(ctx context.Context, sessionID domain.SessionID) (*ports.RosterSubscription, error) {
	sub := ports.NewRosterSubscription(1)
	roster, _ := f.ListPlayers(ctx, sessionID)
	sub.Publish(ctx, roster)
	return sub, nil
}

func (f *fakeStore) WatchBalances(ctx context.Context, sessionID domain.SessionID) (*ports.BalanceSubscription, error) {
	sub := ports.NewBalanceSubscription(1)
	f.mu.Lock()
	balances := make(map[domain.AccountID]int64)
	for _, a := range f.accounts[sessionID] {
		balances[a.ID] = a.Balance
	}
	f.mu.Unlock()
	sub.Publish(ctx, balances)
	return sub, nil
}

func (f *fakeStore) WatchEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) (*ports.EventSubscription, error) {
	sub := ports.NewEventSubscription(16)
	events, _ := f.ListEvents(ctx, sessionID, afterSeq)
	for _, ev := range events {
		sub.Publish(ctx, ev)
	}
	return sub, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) balance(sessionID domain.SessionID, id domain.AccountID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts[sessionID] {
		if a.ID == id {
			return a.Balance
		}
	}
	return 0
}
