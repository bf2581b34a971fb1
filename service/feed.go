package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
)

// Feed exposes the live views: balances, the activity log, and the
// narration helpers that feed it. The feed is a display convenience,
// not part of the consistency boundary.
type Feed struct {
	store  ports.Store
	logger cmtlog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFeed constructs a Feed with the provided rng or a time-seeded
// default.
func NewFeed(store ports.Store, logger cmtlog.Logger, rng *rand.Rand) *Feed {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Feed{store: store, logger: logger, rng: rng}
}

// ObserveBalances subscribes to balance changes for every account in
// the session. Fires on every committed transfer; cancelled only by the
// caller.
func (f *Feed) ObserveBalances(ctx context.Context, sessionID domain.SessionID) (*ports.BalanceSubscription, error) {
	if _, err := f.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return f.store.WatchBalances(ctx, sessionID)
}

// ObserveEvents subscribes to the activity feed in ascending order,
// replaying everything after afterSeq first. Delivery is eventual, but
// never reordered relative to commit order.
func (f *Feed) ObserveEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) (*ports.EventSubscription, error) {
	if _, err := f.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return f.store.WatchEvents(ctx, sessionID, afterSeq)
}

// PostEvent appends a chat or narration entry. Fire-and-forget: failures
// are logged, never surfaced.
func (f *Feed) PostEvent(ctx context.Context, sessionID domain.SessionID, author, text string, category domain.EventCategory) {
	ev := domain.ActivityEvent{
		SessionID: sessionID,
		Author:    author,
		Text:      text,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.store.AppendEvent(ctx, sessionID, ev); err != nil {
		f.logger.Error("Failed to post event", "session", sessionID, "category", category, "err", err)
	}
}

// RollDice rolls one die, narrates the result to the feed and returns
// it.
func (f *Feed) RollDice(ctx context.Context, sessionID domain.SessionID, author string) int {
	f.mu.Lock()
	value := f.rng.Intn(6) + 1
	f.mu.Unlock()
	f.PostEvent(ctx, sessionID, author, fmt.Sprintf("rolled a %d", value), domain.EventDiceRoll)
	return value
}
