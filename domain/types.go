package domain

import "time"

type SessionID string
type PlayerID string
type AccountID string

// The two pool accounts provisioned with every session. Their IDs are
// fixed; player account IDs are generated at join time.
const (
	BankAccountID    AccountID = "bank"
	ParkingAccountID AccountID = "parking"
)

// BankSeedBalance is the balance the Bank pool is provisioned with. The
// ledger never checks it on debit, it only exists so feeds have a number
// to render.
const BankSeedBalance int64 = 100_000_000

// Session is the immutable configuration of one shared game.
type Session struct {
	ID              SessionID
	Capacity        int
	StartingBalance int64
	PassGoBonus     int64
	AutoBank        bool
	CreatedAt       time.Time
}

// Role is the set of role flags held by a player account.
type Role uint8

const (
	RoleAdmin Role = 1 << iota
	RoleBanker
)

func (r Role) Has(flag Role) bool { return r&flag != 0 }

// With returns r with flag set or cleared. Set-to-value rather than a
// blind toggle, so retried deliveries converge.
func (r Role) With(flag Role, on bool) Role {
	if on {
		return r | flag
	}
	return r &^ flag
}

// Account is any balance holder: a player, or one of the session's two
// pools. Pool accounts have an empty PlayerID.
type Account struct {
	ID        AccountID
	SessionID SessionID
	Name      string
	PlayerID  PlayerID
	Role      Role
	Balance   int64
	JoinedAt  time.Time
}

func (a Account) IsPool() bool { return a.PlayerID == "" }
func (a Account) IsBank() bool { return a.ID == BankAccountID }

// PartyKind discriminates the counterparty of a transfer.
type PartyKind int

const (
	PartyPlayer PartyKind = iota
	PartyBank
	PartyParking
)

// AccountRef names one side of a transfer without resolving it: a player
// by identity token, or one of the pools.
type AccountRef struct {
	Kind   PartyKind
	Player PlayerID
}

func PlayerRef(id PlayerID) AccountRef { return AccountRef{Kind: PartyPlayer, Player: id} }
func BankRef() AccountRef              { return AccountRef{Kind: PartyBank} }
func ParkingRef() AccountRef           { return AccountRef{Kind: PartyParking} }

func (r AccountRef) IsPool() bool { return r.Kind != PartyPlayer }

// EventCategory tags an activity event for the display feed.
type EventCategory string

const (
	EventChat       EventCategory = "chat"
	EventDiceRoll   EventCategory = "dice_roll"
	EventBankAccess EventCategory = "bank_access"
	EventSendMoney  EventCategory = "send_money"
	EventJoin       EventCategory = "join"
)

// ActivityEvent is one append-only entry of a session's activity feed.
// Seq is assigned by the store and is strictly ascending per session.
type ActivityEvent struct {
	Seq       uint64
	SessionID SessionID
	Author    string
	Text      string
	Category  EventCategory
	CreatedAt time.Time
}
