package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
)

// Membership admits players into sessions under the capacity invariant
// and manages role flags.
type Membership struct {
	store  ports.Store
	logger cmtlog.Logger
}

func NewMembership(store ports.Store, logger cmtlog.Logger) *Membership {
	return &Membership{store: store, logger: logger}
}

// JoinRequest carries everything needed to admit one player.
type JoinRequest struct {
	SessionID domain.SessionID
	Name      string
	PlayerID  domain.PlayerID
	AsAdmin   bool
	AsBanker  bool
}

// Join admits a player with the session's starting balance. The
// capacity check and the insert are a single transactional unit inside
// the store, so two players racing for the last open slot cannot both
// get in.
func (m *Membership) Join(ctx context.Context, req JoinRequest) (domain.Account, error) {
	if req.Name == "" || req.PlayerID == "" {
		return domain.Account{}, fmt.Errorf("%w: player name and identity are required", domain.ErrInvalidConfig)
	}

	var session domain.Session
	err := withReadRetry(ctx, func() error {
		var err error
		session, err = m.store.GetSession(ctx, req.SessionID)
		return err
	})
	if err != nil {
		return domain.Account{}, err
	}

	role := domain.Role(0).With(domain.RoleAdmin, req.AsAdmin).With(domain.RoleBanker, req.AsBanker)
	acct := domain.Account{
		ID:        domain.AccountID(uuid.NewString()),
		SessionID: session.ID,
		Name:      req.Name,
		PlayerID:  req.PlayerID,
		Role:      role,
		Balance:   session.StartingBalance,
		JoinedAt:  time.Now().UTC(),
	}
	admitted, err := m.store.AdmitPlayer(ctx, session.ID, acct)
	if err != nil {
		if errors.Is(err, domain.ErrSessionFull) {
			m.logger.Info("Join rejected, session full", "session", session.ID, "player", req.Name)
		} else {
			m.logger.Error("Failed to admit player", "session", session.ID, "err", err)
		}
		return domain.Account{}, err
	}
	m.logger.Info("Player joined", "session", session.ID, "player", admitted.Name, "balance", admitted.Balance)

	// Narration is best-effort and outside the admission boundary.
	joinEvent := domain.ActivityEvent{
		SessionID: session.ID,
		Author:    admitted.Name,
		Text:      "joined the game",
		Category:  domain.EventJoin,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := m.store.AppendEvent(ctx, session.ID, joinEvent); err != nil {
		m.logger.Error("Failed to narrate join", "session", session.ID, "err", err)
	}
	return admitted, nil
}

// SetRoleFlag sets a role flag to an explicit target value and returns
// the stored value. Setting the same value twice leaves the flag there,
// so at-least-once delivery cannot flip it back.
func (m *Membership) SetRoleFlag(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID, flag domain.Role, value bool) (bool, error) {
	if flag != domain.RoleAdmin && flag != domain.RoleBanker {
		return false, fmt.Errorf("%w: unknown role flag %d", domain.ErrInvalidConfig, flag)
	}
	stored, err := m.store.SetRoleFlag(ctx, sessionID, playerID, flag, value)
	if err != nil {
		return false, err
	}
	m.logger.Info("Role flag set", "session", sessionID, "player", playerID, "flag", flag, "value", stored)
	return stored, nil
}

// ObserveRoster opens a standing subscription that delivers a full
// roster snapshot, ordered by join, on every membership change. It never
// completes on its own; the caller must cancel it.
func (m *Membership) ObserveRoster(ctx context.Context, sessionID domain.SessionID) (*ports.RosterSubscription, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.store.WatchRoster(ctx, sessionID)
}
