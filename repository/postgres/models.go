package postgres

import (
	"time"

	"github.com/ManuACDev/monopoly-wallet/domain"
)

// sessionRow carries the immutable config plus the player counter the
// admission transaction maintains; the counter is what makes the
// capacity check and the insert one transactional unit instead of a
// read-then-write pair.
type sessionRow struct {
	ID              string    `gorm:"column:session_id;primaryKey;type:varchar(16)"`
	Capacity        int       `gorm:"column:capacity;not null"`
	StartingBalance int64     `gorm:"column:starting_balance;not null"`
	PassGoBonus     int64     `gorm:"column:pass_go_bonus;not null"`
	AutoBank        bool      `gorm:"column:auto_bank;not null;default:false"`
	PlayerCount     int       `gorm:"column:player_count;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (sessionRow) TableName() string { return "sessions" }

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:              domain.SessionID(r.ID),
		Capacity:        r.Capacity,
		StartingBalance: r.StartingBalance,
		PassGoBonus:     r.PassGoBonus,
		AutoBank:        r.AutoBank,
		CreatedAt:       r.CreatedAt,
	}
}

type accountRow struct {
	SessionID string    `gorm:"column:session_id;primaryKey;type:varchar(16)"`
	ID        string    `gorm:"column:account_id;primaryKey;type:varchar(64)"`
	PlayerUID string    `gorm:"column:player_uid;type:varchar(64);index"`
	Name      string    `gorm:"column:name;type:varchar(64);not null"`
	Balance   int64     `gorm:"column:balance;not null"`
	Admin     bool      `gorm:"column:admin;not null;default:false"`
	Banker    bool      `gorm:"column:banker;not null;default:false"`
	IsPool    bool      `gorm:"column:is_pool;not null;default:false"`
	JoinedAt  time.Time `gorm:"column:joined_at"`
}

func (accountRow) TableName() string { return "accounts" }

func (r accountRow) toDomain() domain.Account {
	role := domain.Role(0).With(domain.RoleAdmin, r.Admin).With(domain.RoleBanker, r.Banker)
	return domain.Account{
		ID:        domain.AccountID(r.ID),
		SessionID: domain.SessionID(r.SessionID),
		Name:      r.Name,
		PlayerID:  domain.PlayerID(r.PlayerUID),
		Role:      role,
		Balance:   r.Balance,
		JoinedAt:  r.JoinedAt,
	}
}

func accountRowFromDomain(a domain.Account) accountRow {
	return accountRow{
		SessionID: string(a.SessionID),
		ID:        string(a.ID),
		PlayerUID: string(a.PlayerID),
		Name:      a.Name,
		Balance:   a.Balance,
		Admin:     a.Role.Has(domain.RoleAdmin),
		Banker:    a.Role.Has(domain.RoleBanker),
		IsPool:    a.IsPool(),
		JoinedAt:  a.JoinedAt,
	}
}

type eventRow struct {
	Seq       uint64    `gorm:"column:seq;primaryKey;autoIncrement"`
	SessionID string    `gorm:"column:session_id;type:varchar(16);index;not null"`
	Author    string    `gorm:"column:author;type:varchar(64)"`
	Message   string    `gorm:"column:message;type:text"`
	Category  string    `gorm:"column:category;type:varchar(24)"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (eventRow) TableName() string { return "activity_events" }

func (r eventRow) toDomain() domain.ActivityEvent {
	return domain.ActivityEvent{
		Seq:       r.Seq,
		SessionID: domain.SessionID(r.SessionID),
		Author:    r.Author,
		Text:      r.Message,
		Category:  domain.EventCategory(r.Category),
		CreatedAt: r.CreatedAt,
	}
}
