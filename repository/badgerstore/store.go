// Package badgerstore implements the store capability on an embedded
// Badger database. It backs single-device games and the heavier tests:
// all mutations funnel through one process, so a store-level mutex plus
// Badger's transactional Update closures give the same atomicity
// guarantees the shared Postgres store gets from serializable database
// transactions.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/ports"
	"github.com/ManuACDev/monopoly-wallet/repository/watch"
)

// Key layout:
//
//	s/<session>            session record
//	a/<session>/<account>  account record
//	p/<session>/<player>   player identity -> account id index
//	e/<session>/<seq>      activity event, seq zero-padded for ordering
//	c/<session>            event sequence counter
type Store struct {
	db     *badger.DB
	logger cmtlog.Logger
	broker *watch.Broker

	// Serializes mutating transactions. Badger would detect write
	// conflicts on its own, but with a single writer there is nothing to
	// retry.
	mu sync.Mutex
}

var _ ports.Store = (*Store)(nil)

func Open(path string, logger cmtlog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.NewStoreError("open", "", err)
	}
	return &Store{db: db, logger: logger, broker: watch.NewBroker()}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func sessionKey(id domain.SessionID) []byte { return []byte("s/" + id) }
func accountKey(sid domain.SessionID, aid domain.AccountID) []byte {
	return []byte(fmt.Sprintf("a/%s/%s", sid, aid))
}
func accountPrefix(sid domain.SessionID) []byte { return []byte(fmt.Sprintf("a/%s/", sid)) }
func playerKey(sid domain.SessionID, pid domain.PlayerID) []byte {
	return []byte(fmt.Sprintf("p/%s/%s", sid, pid))
}
func eventKey(sid domain.SessionID, seq uint64) []byte {
	return []byte(fmt.Sprintf("e/%s/%020d", sid, seq))
}
func eventPrefix(sid domain.SessionID) []byte { return []byte(fmt.Sprintf("e/%s/", sid)) }
func counterKey(sid domain.SessionID) []byte  { return []byte("c/" + sid) }

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(session.ID)); err == nil {
			return fmt.Errorf("session %s already exists", session.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, sessionKey(session.ID), session); err != nil {
			return err
		}
		// Pools are provisioned in the same transaction as the session
		// record; a session without its pools is never observable.
		bank := domain.Account{
			ID:        domain.BankAccountID,
			SessionID: session.ID,
			Name:      "Bank",
			Balance:   domain.BankSeedBalance,
			JoinedAt:  session.CreatedAt,
		}
		parking := domain.Account{
			ID:        domain.ParkingAccountID,
			SessionID: session.ID,
			Name:      "Parking",
			Balance:   0,
			JoinedAt:  session.CreatedAt,
		}
		if err := setJSON(txn, accountKey(session.ID, bank.ID), bank); err != nil {
			return err
		}
		return setJSON(txn, accountKey(session.ID, parking.ID), parking)
	})
	if err != nil {
		return domain.NewStoreError("create session", "", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	var session domain.Session
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, sessionKey(id), &session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, domain.NewStoreError("get session", "", err)
	}
	return session, nil
}

func (s *Store) AdmitPlayer(ctx context.Context, sessionID domain.SessionID, acct domain.Account) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	admitted := acct
	err := s.db.Update(func(txn *badger.Txn) error {
		var session domain.Session
		if err := getJSON(txn, sessionKey(sessionID), &session); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		// A retried join for an identity already admitted returns the
		// existing account instead of seating the player twice.
		if item, err := txn.Get(playerKey(sessionID, acct.PlayerID)); err == nil {
			aid, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			return getJSON(txn, accountKey(sessionID, domain.AccountID(aid)), &admitted)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		count, err := countPlayers(txn, sessionID)
		if err != nil {
			return err
		}
		if count >= session.Capacity {
			return domain.ErrSessionFull
		}
		if err := setJSON(txn, accountKey(sessionID, acct.ID), acct); err != nil {
			return err
		}
		return txn.Set(playerKey(sessionID, acct.PlayerID), []byte(acct.ID))
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionFull):
		return domain.Account{}, err
	default:
		return domain.Account{}, domain.NewStoreError("admit player", "", err)
	}
	s.broker.Notify(sessionID, watch.KindRoster)
	s.broker.Notify(sessionID, watch.KindBalances)
	return admitted, nil
}

func (s *Store) ListPlayers(ctx context.Context, sessionID domain.SessionID) ([]domain.Account, error) {
	var players []domain.Account
	err := s.db.View(func(txn *badger.Txn) error {
		accounts, err := listAccounts(txn, sessionID)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			if !a.IsPool() {
				players = append(players, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStoreError("list players", "", err)
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

func (s *Store) GetPlayer(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID) (domain.Account, error) {
	var acct domain.Account
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(playerKey(sessionID, playerID))
		if err != nil {
			return err
		}
		aid, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, accountKey(sessionID, domain.AccountID(aid)), &acct)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, domain.NewStoreError("get player", "", err)
	}
	return acct, nil
}

func (s *Store) SetRoleFlag(ctx context.Context, sessionID domain.SessionID, playerID domain.PlayerID, flag domain.Role, value bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(playerKey(sessionID, playerID))
		if err != nil {
			return err
		}
		aid, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var acct domain.Account
		if err := getJSON(txn, accountKey(sessionID, domain.AccountID(aid)), &acct); err != nil {
			return err
		}
		acct.Role = acct.Role.With(flag, value)
		return setJSON(txn, accountKey(sessionID, acct.ID), acct)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, domain.ErrAccountNotFound
	}
	if err != nil {
		return false, domain.NewStoreError("set role flag", "", err)
	}
	s.broker.Notify(sessionID, watch.KindRoster)
	return value, nil
}

func (s *Store) ApplyTransfer(ctx context.Context, sessionID domain.SessionID, src, dst domain.AccountID, amount int64, checkSource bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		var from, to domain.Account
		if err := getJSON(txn, accountKey(sessionID, src), &from); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		if err := getJSON(txn, accountKey(sessionID, dst), &to); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		if checkSource && from.Balance < amount {
			return domain.ErrInsufficientFunds
		}
		from.Balance -= amount
		to.Balance += amount
		if err := setJSON(txn, accountKey(sessionID, src), from); err != nil {
			return err
		}
		return setJSON(txn, accountKey(sessionID, dst), to)
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrInsufficientFunds):
		return err
	default:
		return domain.NewStoreError("apply transfer", "", err)
	}
	s.broker.Notify(sessionID, watch.KindBalances)
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, sessionID domain.SessionID, ev domain.ActivityEvent) (domain.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := ev
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrSessionNotFound
			}
			return err
		}
		seq, err := nextSeq(txn, sessionID)
		if err != nil {
			return err
		}
		stored.Seq = seq
		stored.SessionID = sessionID
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		return setJSON(txn, eventKey(sessionID, seq), stored)
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSessionNotFound):
		return domain.ActivityEvent{}, err
	default:
		return domain.ActivityEvent{}, domain.NewStoreError("append event", "", err)
	}
	s.broker.Notify(sessionID, watch.KindEvents)
	return stored, nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID domain.SessionID, afterSeq uint64) ([]domain.ActivityEvent, error) {
	var events []domain.ActivityEvent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := eventPrefix(sessionID)
		for it.Seek(eventKey(sessionID, afterSeq+1)); it.ValidForPrefix(prefix); it.Next() {
			var ev domain.ActivityEvent
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(val, &ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, domain.NewStoreError("list events", "", err)
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
		balances := make(map[domain.AccountID]int64)
		err := s.db.View(func(txn *badger.Txn) error {
			accounts, err := listAccounts(txn, sessionID)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				balances[a.ID] = a.Balance
			}
			return nil
		})
		if err != nil {
			return nil, domain.NewStoreError("list balances", "", err)
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

func listAccounts(txn *badger.Txn, sessionID domain.SessionID) ([]domain.Account, error) {
	var accounts []domain.Account
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := accountPrefix(sessionID)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var a domain.Account
		if err := json.Unmarshal(val, &a); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func countPlayers(txn *badger.Txn, sessionID domain.SessionID) (int, error) {
	accounts, err := listAccounts(txn, sessionID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range accounts {
		if !a.IsPool() {
			count++
		}
	}
	return count, nil
}

func nextSeq(txn *badger.Txn, sessionID domain.SessionID) (uint64, error) {
	var seq uint64
	item, err := txn.Get(counterKey(sessionID))
	switch {
	case err == nil:
		val, err := item.ValueCopy(nil)
		if err != nil {
			return 0, err
		}
		seq = binary.BigEndian.Uint64(val)
	case errors.Is(err, badger.ErrKeyNotFound):
	default:
		return 0, err
	}
	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return seq, txn.Set(counterKey(sessionID), buf)
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(val, v)
}
