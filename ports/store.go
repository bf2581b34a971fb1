package ports

import (
	"context"

	"github.com/ManuACDev/monopoly-wallet/domain"
)

// Store is the persistence capability the banker core runs against: a
// shared document store offering durable records per session, a
// transactional read-modify-write primitive scoped to a small fixed set
// of records, and live change subscriptions.
//
// Implementations must make every mutating method atomic: it either
// fully applies or leaves the store untouched. Balance checks happen
// against the balances stored at commit time, never against values the
// caller read earlier.
type Store interface {
	// CreateSession persists the immutable session record and provisions
	// the Bank and Parking pool accounts as one atomic batch.
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error)

	// AdmitPlayer inserts acct if and only if the session's player count
	// is still below its capacity, as a single transactional unit.
	// Returns domain.ErrSessionFull when the session is at capacity.
	AdmitPlayer(ctx context.Context, sessionID domain.SessionID, acct domain.Account) (domain.Account, error)
	ListPlayers(ctx context.Context, sessionID domain.SessionID) ([]domain.Account, error)
	GetPlayer(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID) (domain.Account, error)

	// SetRoleFlag sets (never toggles) a single role flag on a player
	// account and returns the stored value after the write.
	SetRoleFlag(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID, flag domain.Role, value bool) (bool, error)

	// ApplyTransfer debits src and credits dst atomically using the
	// stored balances at commit time. When checkSource is true the debit
	// is rejected with domain.ErrInsufficientFunds if it would leave src
	// negative; the Bank pool is applied with checkSource false.
	ApplyTransfer(ctx context.Context, sessionID domain.SessionID, src, dst domain.AccountID, amount int64, checkSource bool) error

	// AppendEvent assigns the next sequence number and stores ev. The
	// session must exist; appends to an unknown session return
	// domain.ErrSessionNotFound rather than storing orphaned events.
	AppendEvent(ctx context.Context, sessionID domain.SessionID, ev domain.ActivityEvent) (domain.ActivityEvent, error)
	ListEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) ([]domain.ActivityEvent, error)

	// Watch methods deliver an initial snapshot followed by change
	// notifications until the subscription is cancelled. They never
	// complete on their own.
	WatchRoster(ctx context.Context, sessionID domain.SessionID) (*RosterSubscription, error)
	WatchBalances(ctx context.Context, sessionID domain.SessionID) (*BalanceSubscription, error)
	WatchEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) (*EventSubscription, error)

	Close() error
}
