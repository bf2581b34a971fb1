// Package watch fans store change notifications out to subscriptions.
//
// Notifications carry no data, only "something changed for this session";
// each subscription re-reads the state it mirrors through the store. A
// missed wake-up is impossible: the wake channel holds one pending signal,
// so a notify that lands while a subscriber is mid-read is consumed on its
// next loop iteration.
package watch

import (
	"context"
	"sync"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
)

type Kind int

const (
	KindRoster Kind = iota
	KindBalances
	KindEvents
)

type waiter struct {
	kind Kind
	wake chan struct{}
}

// Broker routes per-session change signals to registered waiters. Both
// store implementations publish into one; only the signal transport
// behind Notify differs between them.
type Broker struct {
	mu      sync.Mutex
	waiters map[domain.SessionID]map[*waiter]struct{}
}

func NewBroker() *Broker {
	return &Broker{waiters: make(map[domain.SessionID]map[*waiter]struct{})}
}

// Notify wakes every waiter of the given kind for the session. Never
// blocks: a waiter that already has a pending signal is left as is.
func (b *Broker) Notify(sessionID domain.SessionID, kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.waiters[sessionID] {
		if w.kind != kind {
			continue
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (b *Broker) subscribe(sessionID domain.SessionID, kind Kind) (*waiter, func()) {
	w := &waiter{kind: kind, wake: make(chan struct{}, 1)}
	b.mu.Lock()
	set, ok := b.waiters[sessionID]
	if !ok {
		set = make(map[*waiter]struct{})
		b.waiters[sessionID] = set
	}
	set[w] = struct{}{}
	b.mu.Unlock()

	return w, func() {
		b.mu.Lock()
		delete(set, w)
		if len(set) == 0 {
			delete(b.waiters, sessionID)
		}
		b.mu.Unlock()
	}
}

const subscriptionBuffer = 16

// RunRoster starts a roster subscription: an initial snapshot, then a
// fresh snapshot on every roster change signal.
func RunRoster(ctx context.Context, b *Broker, sessionID domain.SessionID, fetch func(context.Context) ([]domain.Account, error)) *ports.RosterSubscription {
	sub := ports.NewRosterSubscription(subscriptionBuffer)
	w, stop := b.subscribe(sessionID, KindRoster)
	go func() {
		defer stop()
		defer sub.Finish()
		emit := func() bool {
			roster, err := fetch(ctx)
			if err != nil {
				sub.Fail(&domain.SubscriptionError{SessionID: sessionID, Err: err})
				return false
			}
			return sub.Publish(ctx, roster)
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				sub.Cancel()
				return
			case <-sub.Done():
				return
			case <-w.wake:
				if !emit() {
					return
				}
			}
		}
	}()
	return sub
}

// RunBalances starts a balance subscription with full-map snapshots.
func RunBalances(ctx context.Context, b *Broker, sessionID domain.SessionID, fetch func(context.Context) (map[domain.AccountID]int64, error)) *ports.BalanceSubscription {
	sub := ports.NewBalanceSubscription(subscriptionBuffer)
	w, stop := b.subscribe(sessionID, KindBalances)
	go func() {
		defer stop()
		defer sub.Finish()
		emit := func() bool {
			balances, err := fetch(ctx)
			if err != nil {
				sub.Fail(&domain.SubscriptionError{SessionID: sessionID, Err: err})
				return false
			}
			return sub.Publish(ctx, balances)
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				sub.Cancel()
				return
			case <-sub.Done():
				return
			case <-w.wake:
				if !emit() {
					return
				}
			}
		}
	}()
	return sub
}

// RunEvents starts an event subscription that replays everything after
// afterSeq and then follows the feed in commit order. The cursor is the
// last delivered sequence number, so events are neither dropped nor
// duplicated across wake-ups.
func RunEvents(ctx context.Context, b *Broker, sessionID domain.SessionID, afterSeq uint64, fetch func(context.Context, uint64) ([]domain.ActivityEvent, error)) *ports.EventSubscription {
	sub := ports.NewEventSubscription(subscriptionBuffer)
	w, stop := b.subscribe(sessionID, KindEvents)
	go func() {
		defer stop()
		defer sub.Finish()
		cursor := afterSeq
		emit := func() bool {
			events, err := fetch(ctx, cursor)
			if err != nil {
				sub.Fail(&domain.SubscriptionError{SessionID: sessionID, Err: err})
				return false
			}
			for _, ev := range events {
				if !sub.Publish(ctx, ev) {
					return false
				}
				cursor = ev.Seq
			}
			return true
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				sub.Cancel()
				return
			case <-sub.Done():
				return
			case <-w.wake:
				if !emit() {
					return
				}
			}
		}
	}()
	return sub
}
