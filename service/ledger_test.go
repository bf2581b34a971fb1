package service

import (
	"context"
	"errors"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ManuACDev/monopoly-wallet/domain"
)

func newLedgerFixture(t *testing.T, autoBank bool) (*fakeStore, *Ledger, domain.Session) {
	t.Helper()
	store := newFakeStore()
	session := seedSession(t, store, 4, 300_000, autoBank)
	m := NewMembership(store, cmtlog.NewNopLogger())
	mustJoin(t, m, session.ID, "alice", "uid-a")
	mustJoin(t, m, session.ID, "bob", "uid-b")
	return store, NewLedger(store, cmtlog.NewNopLogger()), session
}

func TestTransferPlayerToPlayer(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, false)

	receipt, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      50_000,
		Source:      domain.PlayerRef("uid-a"),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-a",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if receipt.Amount != 50_000 {
		t.Errorf("receipt amount = %d", receipt.Amount)
	}

	aliceAcct, _ := store.GetPlayer(context.Background(), session.ID, "uid-a")
	bobAcct, _ := store.GetPlayer(context.Background(), session.ID, "uid-b")
	if aliceAcct.Balance != 250_000 || bobAcct.Balance != 350_000 {
		t.Errorf("balances = %d / %d, want 250000 / 350000", aliceAcct.Balance, bobAcct.Balance)
	}

	events, _ := store.ListEvents(context.Background(), session.ID, 0)
	last := events[len(events)-1]
	if last.Category != domain.EventSendMoney {
		t.Errorf("narration category = %s, want send_money", last.Category)
	}
}

func TestTransferRejectsNonPositiveAmounts(t *testing.T) {
	_, ledger, session := newLedgerFixture(t, false)

	for _, amount := range []int64{0, -1, -50_000} {
		_, err := ledger.Transfer(context.Background(), TransferRequest{
			SessionID:   session.ID,
			Amount:      amount,
			Source:      domain.PlayerRef("uid-a"),
			Destination: domain.PlayerRef("uid-b"),
			ActingAs:    "uid-a",
		})
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, false)

	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      300_001,
		Source:      domain.PlayerRef("uid-a"),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-a",
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}

	// A rejected transfer leaves both balances untouched.
	aliceAcct, _ := store.GetPlayer(context.Background(), session.ID, "uid-a")
	bobAcct, _ := store.GetPlayer(context.Background(), session.ID, "uid-b")
	if aliceAcct.Balance != 300_000 || bobAcct.Balance != 300_000 {
		t.Errorf("balances changed after rejection: %d / %d", aliceAcct.Balance, bobAcct.Balance)
	}
}

func TestTransferSameAccount(t *testing.T) {
	_, ledger, session := newLedgerFixture(t, false)

	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      100,
		Source:      domain.PlayerRef("uid-a"),
		Destination: domain.PlayerRef("uid-a"),
		ActingAs:    "uid-a",
	})
	if !errors.Is(err, domain.ErrSameAccount) {
		t.Fatalf("got %v, want ErrSameAccount", err)
	}
}

func TestTransferAuthorization(t *testing.T) {
	_, ledger, session := newLedgerFixture(t, false)

	// Bob cannot move money out of alice's account.
	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      100,
		Source:      domain.PlayerRef("uid-a"),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-b",
	})
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("foreign debit: got %v, want ErrNotAuthorized", err)
	}

	// Without the banker role and without automatic banking, nobody may
	// draw from the Bank.
	_, err = ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      100,
		Source:      domain.BankRef(),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-b",
	})
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("bank debit without role: got %v, want ErrNotAuthorized", err)
	}
}

func TestTransferBankWithBankerRole(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, false)
	m := NewMembership(store, cmtlog.NewNopLogger())
	if _, err := m.SetRoleFlag(context.Background(), session.ID, "uid-a", domain.RoleBanker, true); err != nil {
		t.Fatalf("SetRoleFlag: %v", err)
	}

	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      200_000,
		Source:      domain.BankRef(),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-a",
	})
	if err != nil {
		t.Fatalf("banker bank debit: %v", err)
	}
	bobAcct, _ := store.GetPlayer(context.Background(), session.ID, "uid-b")
	if bobAcct.Balance != 500_000 {
		t.Errorf("bob balance = %d, want 500000", bobAcct.Balance)
	}
}

func TestTransferBankNeverBalanceChecked(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, true)

	// Far more than the Bank's seeded balance. The Bank is treated as
	// infinite, so the debit still goes through.
	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      domain.BankSeedBalance + 1,
		Source:      domain.BankRef(),
		Destination: domain.PlayerRef("uid-a"),
		ActingAs:    "uid-a",
	})
	if err != nil {
		t.Fatalf("oversized bank debit: %v", err)
	}
	if got := store.balance(session.ID, domain.BankAccountID); got != -1 {
		t.Errorf("bank balance = %d, want -1", got)
	}
}

func TestTransferParkingIsBalanceChecked(t *testing.T) {
	_, ledger, session := newLedgerFixture(t, true)

	// Parking starts empty, so even in automatic mode a payout must be
	// rejected.
	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      100,
		Source:      domain.ParkingRef(),
		Destination: domain.PlayerRef("uid-a"),
		ActingAs:    "uid-a",
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("empty parking payout: got %v, want ErrInsufficientFunds", err)
	}
}

func TestTransferAutoBankAllowsPoolDebits(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, true)

	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      40_000,
		Source:      domain.BankRef(),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-b",
	})
	if err != nil {
		t.Fatalf("auto-bank debit: %v", err)
	}
	events, _ := store.ListEvents(context.Background(), session.ID, 0)
	last := events[len(events)-1]
	if last.Category != domain.EventBankAccess {
		t.Errorf("narration category = %s, want bank_access", last.Category)
	}
}

func TestTransferStoreFailureIsNotSuccess(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, false)
	store.transferErr = domain.NewStoreError("transfer", "40001", errors.New("serialization failure"))

	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      100,
		Source:      domain.PlayerRef("uid-a"),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-a",
	})
	if !domain.IsTransient(err) {
		t.Fatalf("got %v, want transient store error", err)
	}
}

func TestTransferNarrationFailureDoesNotAbort(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, false)
	store.appendErr = domain.NewStoreError("append", "", errors.New("feed down"))

	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      100,
		Source:      domain.PlayerRef("uid-a"),
		Destination: domain.PlayerRef("uid-b"),
		ActingAs:    "uid-a",
	})
	if err != nil {
		t.Fatalf("transfer must survive a narration failure: %v", err)
	}
	aliceAcct, _ := store.GetPlayer(context.Background(), session.ID, "uid-a")
	if aliceAcct.Balance != 299_900 {
		t.Errorf("balance = %d, want 299900", aliceAcct.Balance)
	}
}

func TestPassGo(t *testing.T) {
	store, ledger, session := newLedgerFixture(t, true)

	receipt, err := ledger.PassGo(context.Background(), session.ID, "uid-a", "uid-a")
	if err != nil {
		t.Fatalf("PassGo: %v", err)
	}
	if receipt.Amount != session.PassGoBonus {
		t.Errorf("bonus = %d, want %d", receipt.Amount, session.PassGoBonus)
	}
	aliceAcct, _ := store.GetPlayer(context.Background(), session.ID, "uid-a")
	if aliceAcct.Balance != 300_000+session.PassGoBonus {
		t.Errorf("balance = %d after pass-go", aliceAcct.Balance)
	}
}

func TestPassGoZeroBonusIsNoOp(t *testing.T) {
	store := newFakeStore()
	session := domain.Session{ID: "game0002", Capacity: 4, StartingBalance: 1_000, PassGoBonus: 0, AutoBank: true}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	m := NewMembership(store, cmtlog.NewNopLogger())
	mustJoin(t, m, session.ID, "alice", "uid-a")
	ledger := NewLedger(store, cmtlog.NewNopLogger())

	receipt, err := ledger.PassGo(context.Background(), session.ID, "uid-a", "uid-a")
	if err != nil {
		t.Fatalf("PassGo with zero bonus: %v", err)
	}
	if receipt.Amount != 0 {
		t.Errorf("receipt amount = %d, want 0", receipt.Amount)
	}
	acct, _ := store.GetPlayer(context.Background(), session.ID, "uid-a")
	if acct.Balance != 1_000 {
		t.Errorf("balance = %d, want unchanged 1000", acct.Balance)
	}

	if _, err := ledger.PassGo(context.Background(), session.ID, "uid-ghost", "uid-ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("zero-bonus pass for unknown player = %v, want ErrAccountNotFound", err)
	}
}

func TestTransferUnknownParticipants(t *testing.T) {
	_, ledger, session := newLedgerFixture(t, false)

	_, err := ledger.Transfer(context.Background(), TransferRequest{
		SessionID:   session.ID,
		Amount:      100,
		Source:      domain.PlayerRef("uid-a"),
		Destination: domain.PlayerRef("uid-ghost"),
		ActingAs:    "uid-a",
	})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("unknown destination: got %v, want ErrAccountNotFound", err)
	}
}
