package ports

import (
	"context"
	"sync"

	"github.com/ManuACDev/monopoly-wallet/domain"
)

// Subscriptions are explicit objects rather than raw callbacks so that
// cancellation and error propagation are first-class. The store feeds a
// subscription from a dedicated goroutine; the consumer ranges over the
// update channel, which is closed when the subscription ends, and then
// inspects Err.
//
// Publish, Fail and Finish are for store implementations only.

type subState struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSubState() subState {
	return subState{done: make(chan struct{})}
}

func (s *subState) close() { s.once.Do(func() { close(s.done) }) }

// Cancel detaches the subscriber. Idempotent.
func (s *subState) Cancel() { s.close() }

// Done is closed once the subscription is cancelled or failed.
func (s *subState) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended, nil after a plain Cancel.
func (s *subState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fail records err and ends the subscription.
func (s *subState) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.close()
}

// RosterSubscription delivers a full roster snapshot, ordered by join,
// on every membership or role change.
type RosterSubscription struct {
	subState
	ch chan []domain.Account
}

func NewRosterSubscription(buffer int) *RosterSubscription {
	return &RosterSubscription{subState: newSubState(), ch: make(chan []domain.Account, buffer)}
}

func (s *RosterSubscription) Updates() <-chan []domain.Account { return s.ch }

func (s *RosterSubscription) Publish(ctx context.Context, roster []domain.Account) bool {
	select {
	case s.ch <- roster:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *RosterSubscription) Finish() { close(s.ch) }

// BalanceSubscription delivers account-id to balance maps: a full
// snapshot first, then the affected entries after every committed
// transfer.
type BalanceSubscription struct {
	subState
	ch chan map[domain.AccountID]int64
}

func NewBalanceSubscription(buffer int) *BalanceSubscription {
	return &BalanceSubscription{subState: newSubState(), ch: make(chan map[domain.AccountID]int64, buffer)}
}

func (s *BalanceSubscription) Updates() <-chan map[domain.AccountID]int64 { return s.ch }

func (s *BalanceSubscription) Publish(ctx context.Context, balances map[domain.AccountID]int64) bool {
	select {
	case s.ch <- balances:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *BalanceSubscription) Finish() { close(s.ch) }

// EventSubscription delivers activity events in ascending commit order,
// never reordered, never dropped.
type EventSubscription struct {
	subState
	ch chan domain.ActivityEvent
}

func NewEventSubscription(buffer int) *EventSubscription {
	return &EventSubscription{subState: newSubState(), ch: make(chan domain.ActivityEvent, buffer)}
}

func (s *EventSubscription) Events() <-chan domain.ActivityEvent { return s.ch }

func (s *EventSubscription) Publish(ctx context.Context, ev domain.ActivityEvent) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *EventSubscription) Finish() { close(s.ch) }
