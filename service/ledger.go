package service

import (
	"context"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
)

// Ledger validates and commits money transfers between any two session
// accounts. A transfer either fully commits or leaves every balance
// untouched; no observer ever sees a half-applied transfer.
type Ledger struct {
	store  ports.Store
	logger cmtlog.Logger
}

func NewLedger(store ports.Store, logger cmtlog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// TransferRequest is the unit of work applied by the ledger. ActingAs
// identifies the participant issuing the request and is what
// authorization is checked against.
type TransferRequest struct {
	SessionID   domain.SessionID
	Amount      int64
	Source      domain.AccountRef
	Destination domain.AccountRef
	ActingAs    domain.PlayerID
}

// TransferReceipt describes a committed transfer.
type TransferReceipt struct {
	SessionID   domain.SessionID
	Amount      int64
	Source      domain.AccountID
	Destination domain.AccountID
	CommittedAt time.Time
}

// Transfer runs the full validate-then-commit sequence.
//
// Validation reads may be stale; they only establish that the parties
// exist and that the caller is allowed to move the money. The balance
// check that guards the non-negative invariant happens inside the
// store's commit transaction against the balances stored at that
// moment, so concurrent transfers touching the same account cannot lose
// updates or drive it negative. The Bank pool is never balance-checked.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (TransferReceipt, error) {
	if req.Amount <= 0 {
		return TransferReceipt{}, domain.ErrInvalidAmount
	}

	var session domain.Session
	err := withReadRetry(ctx, func() error {
		var err error
		session, err = l.store.GetSession(ctx, req.SessionID)
		return err
	})
	if err != nil {
		return TransferReceipt{}, err
	}

	actor, err := l.resolvePlayer(ctx, session.ID, req.ActingAs)
	if err != nil {
		return TransferReceipt{}, err
	}
	src, err := l.resolveRef(ctx, session.ID, req.Source)
	if err != nil {
		return TransferReceipt{}, err
	}
	dst, err := l.resolveRef(ctx, session.ID, req.Destination)
	if err != nil {
		return TransferReceipt{}, err
	}
	if src.ID == dst.ID {
		return TransferReceipt{}, domain.ErrSameAccount
	}
	if err := authorize(session, actor, src); err != nil {
		l.logger.Info("Transfer rejected", "session", session.ID, "actor", actor.Name, "reason", err)
		return TransferReceipt{}, err
	}

	checkSource := !src.IsBank()
	if err := l.store.ApplyTransfer(ctx, session.ID, src.ID, dst.ID, req.Amount, checkSource); err != nil {
		return TransferReceipt{}, err
	}
	receipt := TransferReceipt{
		SessionID:   session.ID,
		Amount:      req.Amount,
		Source:      src.ID,
		Destination: dst.ID,
		CommittedAt: time.Now().UTC(),
	}
	l.logger.Info("Transfer committed", "session", session.ID, "amount", req.Amount, "from", src.Name, "to", dst.Name)

	l.narrate(ctx, session.ID, actor, src, dst, req.Amount)
	return receipt, nil
}

// PassGo credits a player the session's pass-through bonus from the
// Bank, under the same authorization rules as any other bank debit.
func (l *Ledger) PassGo(ctx context.Context, sessionID domain.SessionID, playerID, actingAs domain.PlayerID) (TransferReceipt, error) {
	var session domain.Session
	err := withReadRetry(ctx, func() error {
		var err error
		session, err = l.store.GetSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return TransferReceipt{}, err
	}
	// A session may be configured without a bonus; crossing Go then
	// commits nothing but is still acknowledged.
	if session.PassGoBonus == 0 {
		player, err := l.resolvePlayer(ctx, sessionID, playerID)
		if err != nil {
			return TransferReceipt{}, err
		}
		return TransferReceipt{
			SessionID:   sessionID,
			Amount:      0,
			Source:      domain.BankAccountID,
			Destination: player.ID,
			CommittedAt: time.Now().UTC(),
		}, nil
	}
	return l.Transfer(ctx, TransferRequest{
		SessionID:   sessionID,
		Amount:      session.PassGoBonus,
		Source:      domain.BankRef(),
		Destination: domain.PlayerRef(playerID),
		ActingAs:    actingAs,
	})
}

func (l *Ledger) resolvePlayer(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID) (domain.Account, error) {
	var acct domain.Account
	err := withReadRetry(ctx, func() error {
		var err error
		acct, err = l.store.GetPlayer(ctx, sessionID, playerID)
		return err
	})
	return acct, err
}

// resolveRef maps a counterparty reference to an account. Pool accounts
// are provisioned atomically with the session, so they resolve without
// a store read.
func (l *Ledger) resolveRef(ctx context.Context, sessionID domain.SessionID, ref domain.AccountRef) (domain.Account, error) {
	switch ref.Kind {
	case domain.PartyBank:
		return domain.Account{ID: domain.BankAccountID, SessionID: sessionID, Name: "Bank"}, nil
	case domain.PartyParking:
		return domain.Account{ID: domain.ParkingAccountID, SessionID: sessionID, Name: "Parking"}, nil
	default:
		return l.resolvePlayer(ctx, sessionID, ref.Player)
	}
}

// authorize enforces who may move money out of an account. Moving money
// out of a pool needs the banker role unless the session banks
// automatically; moving money out of a player account is allowed only
// to that player.
func authorize(session domain.Session, actor, src domain.Account) error {
	if src.IsPool() {
		if session.AutoBank || actor.Role.Has(domain.RoleBanker) {
			return nil
		}
		return domain.ErrNotAuthorized
	}
	if src.PlayerID != actor.PlayerID {
		return domain.ErrNotAuthorized
	}
	return nil
}

// narrate appends the audit event for a committed transfer. Explicitly
// best-effort: the transfer stays committed even if this write fails.
func (l *Ledger) narrate(ctx context.Context, sessionID domain.SessionID, actor, src, dst domain.Account, amount int64) {
	category := domain.EventSendMoney
	if src.IsPool() || dst.IsPool() {
		category = domain.EventBankAccess
	}
	var text string
	switch {
	case src.IsPool():
		text = fmt.Sprintf("moved $%d from the %s to %s", amount, src.Name, dst.Name)
	default:
		text = fmt.Sprintf("sent $%d to %s", amount, dst.Name)
	}
	ev := domain.ActivityEvent{
		SessionID: sessionID,
		Author:    actor.Name,
		Text:      text,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := l.store.AppendEvent(ctx, sessionID, ev); err != nil {
		l.logger.Error("Failed to narrate transfer", "session", sessionID, "err", err)
	}
}
