// Package postgres implements the store capability on a shared
// PostgreSQL database. Every device in a game talks to the same
// database; transfers and admissions run as serializable transactions
// retried on conflict, and cross-device change feeds ride on
// LISTEN/NOTIFY with notifications published inside the committing
// transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
	"github.com/ManuACDev/monopoly-wallet/repository/watch"
)

// PostgreSQL error codes this store reacts to.
const (
	pgErrUniqueViolation      = "23505" // unique_violation
	pgErrSerializationFailure = "40001" // serialization_failure
	pgErrDeadlockDetected     = "40P01" // deadlock_detected
)

const (
	connectAttempts = 10
	txRetries       = 5
	txRetryBackoff  = 20 * time.Millisecond
)

type Store struct {
	db       *gorm.DB
	logger   cmtlog.Logger
	broker   *watch.Broker
	listener *listener
}

var _ ports.Store = (*Store)(nil)

// New connects, migrates the schema and starts the notification
// listener.
func New(dsn string, logger cmtlog.Logger) (*Store, error) {
	var db *gorm.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(gormpg.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err == nil {
			break
		}
		logger.Info("Postgres connection attempt failed", "attempt", i+1, "err", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, domain.NewStoreError("connect", "", err)
	}
	logger.Info("Connected to Postgres")

	if err := db.AutoMigrate(&sessionRow{}, &accountRow{}, &eventRow{}); err != nil {
		return nil, domain.NewStoreError("migrate", "", err)
	}

	s := &Store{db: db, logger: logger, broker: watch.NewBroker()}
	s.listener = newListener(dsn, s.broker, logger)
	s.listener.start()
	return s, nil
}

func (s *Store) Close() error {
	s.listener.stop()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// runSerializable executes fn as a serializable transaction, retrying a
// bounded number of times when Postgres aborts it for a conflicting
// concurrent commit. Rejections raised by fn itself are never retried.
func (s *Store) runSerializable(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	backoff := txRetryBackoff
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return domain.NewStoreError(op, "", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.NewStoreError(op, pgErrSerializationFailure, err)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgErrSerializationFailure || pgErr.Code == pgErrDeadlockDetected
}

// wrapErr converts a database error into the transient store error the
// callers' taxonomy expects, keeping the Postgres error class visible.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return domain.NewStoreError(op, pgErr.Code, err)
	}
	return domain.NewStoreError(op, "", err)
}

// notifyInTx publishes a change signal inside tx; Postgres delivers it
// to listeners only after the transaction commits.
func notifyInTx(tx *gorm.DB, sessionID domain.SessionID, kind string) error {
	return tx.Exec("SELECT pg_notify(?, ?)", notifyChannel, fmt.Sprintf("%s:%s", sessionID, kind)).Error
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	row := sessionRow{
		ID:              string(session.ID),
		Capacity:        session.Capacity,
		StartingBalance: session.StartingBalance,
		PassGoBonus:     session.PassGoBonus,
		AutoBank:        session.AutoBank,
		CreatedAt:       session.CreatedAt,
	}
	err := s.runSerializable(ctx, "create session", func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		bank := accountRow{
			SessionID: string(session.ID),
			ID:        string(domain.BankAccountID),
			Name:      "Bank",
			Balance:   domain.BankSeedBalance,
			IsPool:    true,
			JoinedAt:  session.CreatedAt,
		}
		parking := accountRow{
			SessionID: string(session.ID),
			ID:        string(domain.ParkingAccountID),
			Name:      "Parking",
			Balance:   0,
			IsPool:    true,
			JoinedAt:  session.CreatedAt,
		}
		if err := tx.Create(&bank).Error; err != nil {
			return err
		}
		return tx.Create(&parking).Error
	})
	if err != nil {
		if domain.IsTransient(err) {
			return err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("session %s already exists", session.ID)
		}
		return wrapErr("create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("session_id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, wrapErr("get session", err)
	}
	return row.toDomain(), nil
}

func (s *Store) AdmitPlayer(ctx context.Context, sessionID domain.SessionID, acct domain.Account) (domain.Account, error) {
	admitted := acct
	err := s.runSerializable(ctx, "admit player", func(tx *gorm.DB) error {
		var session sessionRow
		if err := tx.Where("session_id = ?", string(sessionID)).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		// Retried joins for an already-seated identity are answered with
		// the existing account.
		var existing accountRow
		err := tx.Where("session_id = ? AND player_uid = ?", string(sessionID), string(acct.PlayerID)).First(&existing).Error
		if err == nil {
			admitted = existing.toDomain()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if session.PlayerCount >= session.Capacity {
			return domain.ErrSessionFull
		}
		row := accountRowFromDomain(acct)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&sessionRow{}).
			Where("session_id = ?", string(sessionID)).
			Update("player_count", session.PlayerCount+1).Error; err != nil {
			return err
		}
		if err := notifyInTx(tx, sessionID, notifyRoster); err != nil {
			return err
		}
		return notifyInTx(tx, sessionID, notifyBalances)
	})
	switch {
	case err == nil:
		return admitted, nil
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionFull), domain.IsTransient(err):
		return domain.Account{}, err
	default:
		return domain.Account{}, wrapErr("admit player", err)
	}
}

func (s *Store) ListPlayers(ctx context.Context, sessionID domain.SessionID) ([]domain.Account, error) {
	var rows []accountRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND is_pool = false", string(sessionID)).
		Order("joined_at, account_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("list players", err)
	}
	players := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		players = append(players, r.toDomain())
	}
	return players, nil
}

func (s *Store) GetPlayer(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID) (domain.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND player_uid = ?", string(sessionID), string(playerID)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, wrapErr("get player", err)
	}
	return row.toDomain(), nil
}

func (s *Store) SetRoleFlag(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID, flag domain.Role, value bool) (bool, error) {
	column := "admin"
	if flag == domain.RoleBanker {
		column = "banker"
	}
	err := s.runSerializable(ctx, "set role flag", func(tx *gorm.DB) error {
		res := tx.Model(&accountRow{}).
			Where("session_id = ? AND player_uid = ?", string(sessionID), string(playerID)).
			Update(column, value)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAccountNotFound
		}
		return notifyInTx(tx, sessionID, notifyRoster)
	})
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, domain.ErrAccountNotFound), domain.IsTransient(err):
		return false, err
	default:
		return false, wrapErr("set role flag", err)
	}
}

func (s *Store) ApplyTransfer(ctx context.Context, sessionID domain.SessionID, src, dst domain.AccountID, amount int64, checkSource bool) error {
	err := s.runSerializable(ctx, "apply transfer", func(tx *gorm.DB) error {
		var from, to accountRow
		if err := tx.Where("session_id = ? AND account_id = ?", string(sessionID), string(src)).First(&from).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		if err := tx.Where("session_id = ? AND account_id = ?", string(sessionID), string(dst)).First(&to).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		// Balance check against the stored value inside the transaction,
		// not whatever the caller read earlier.
		if checkSource && from.Balance < amount {
			return domain.ErrInsufficientFunds
		}
		if err := tx.Model(&accountRow{}).
			Where("session_id = ? AND account_id = ?", string(sessionID), string(src)).
			Update("balance", from.Balance-amount).Error; err != nil {
			return err
		}
		if err := tx.Model(&accountRow{}).
			Where("session_id = ? AND account_id = ?", string(sessionID), string(dst)).
			Update("balance", to.Balance+amount).Error; err != nil {
			return err
		}
		return notifyInTx(tx, sessionID, notifyBalances)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrInsufficientFunds), domain.IsTransient(err):
		return err
	default:
		return wrapErr("apply transfer", err)
	}
}

func (s *Store) AppendEvent(ctx context.Context, sessionID domain.SessionID, ev domain.ActivityEvent) (domain.ActivityEvent, error) {
	row := eventRow{
		SessionID: string(sessionID),
		Author:    ev.Author,
		Message:   ev.Text,
		Category:  string(ev.Category),
		CreatedAt: ev.CreatedAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session sessionRow
		if err := tx.Where("session_id = ?", string(sessionID)).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return notifyInTx(tx, sessionID, notifyEvents)
	})
	switch {
	case err == nil:
		return row.toDomain(), nil
	case errors.Is(err, domain.ErrSessionNotFound):
		return domain.ActivityEvent{}, err
	default:
		return domain.ActivityEvent{}, wrapErr("append event", err)
	}
}

func (s *Store) ListEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) ([]domain.ActivityEvent, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", string(sessionID), afterSeq).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	events := make([]domain.ActivityEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toDomain())
	}
	return events, nil
}

func (s *Store) WatchRoster(ctx context.Context, sessionID domain.SessionID) (*ports.RosterSubscription, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return watch.RunRoster(ctx, s.broker, sessionID, func(ctx context.Context) ([]domain.Account, error) {
		return s.ListPlayers(ctx, sessionID)
	}), nil
}

func (s *Store) WatchBalances(ctx context.Context, sessionID domain.SessionID) (*ports.BalanceSubscription, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return watch.RunBalances(ctx, s.broker, sessionID, func(ctx context.Context) (map[domain.AccountID]int64, error) {
		var rows []accountRow
		err := s.db.WithContext(ctx).Where("session_id = ?", string(sessionID)).Find(&rows).Error
		if err != nil {
			return nil, wrapErr("list balances", err)
		}
		balances := make(map[domain.AccountID]int64, len(rows))
		for _, r := range rows {
			balances[domain.AccountID(r.ID)] = r.Balance
		}
		return balances, nil
	}), nil
}

func (s *Store) WatchEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) (*ports.EventSubscription, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return watch.RunEvents(ctx, s.broker, sessionID, afterSeq, func(ctx context.Context, after uint64) ([]domain.ActivityEvent, error) {
		return s.ListEvents(ctx, sessionID, after)
	}), nil
}
