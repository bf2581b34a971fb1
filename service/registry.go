package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
)

// SessionConfig is the caller-supplied configuration of a new session.
type SessionConfig struct {
	Capacity        int
	StartingBalance int64
	PassGoBonus     int64
	AutoBank        bool
}

// Registry creates sessions and answers config lookups.
type Registry struct {
	store  ports.Store
	logger cmtlog.Logger
}

func NewRegistry(store ports.Store, logger cmtlog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// CreateSession persists an immutable session record under a fresh
// 8-character identifier and provisions its Bank and Parking pools in
// the same batch, so no observer can see a session without its pools.
func (r *Registry) CreateSession(ctx context.Context, cfg SessionConfig) (domain.Session, error) {
	if cfg.Capacity < 2 {
		return domain.Session{}, fmt.Errorf("%w: capacity must be at least 2, got %d", domain.ErrInvalidConfig, cfg.Capacity)
	}
	if cfg.StartingBalance < 0 {
		return domain.Session{}, fmt.Errorf("%w: starting balance must not be negative", domain.ErrInvalidConfig)
	}
	if cfg.PassGoBonus < 0 {
		return domain.Session{}, fmt.Errorf("%w: pass-go bonus must not be negative", domain.ErrInvalidConfig)
	}

	session := domain.Session{
		ID:              newSessionID(),
		Capacity:        cfg.Capacity,
		StartingBalance: cfg.StartingBalance,
		PassGoBonus:     cfg.PassGoBonus,
		AutoBank:        cfg.AutoBank,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		r.logger.Error("Failed to create session", "err", err)
		return domain.Session{}, err
	}
	r.logger.Info("Session created", "session", session.ID, "capacity", session.Capacity, "auto_bank", session.AutoBank)
	return session, nil
}

// GetSessionConfig is a read-only lookup, retried on transient store
// failures.
func (r *Registry) GetSessionConfig(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	var session domain.Session
	err := withReadRetry(ctx, func() error {
		var err error
		session, err = r.store.GetSession(ctx, id)
		return err
	})
	return session, err
}

// newSessionID returns a short opaque code. Eight random hex characters
// keep collision probability negligible at expected session volumes.
func newSessionID() domain.SessionID {
	return domain.SessionID(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
