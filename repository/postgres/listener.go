package postgres

import (
	"context"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/repository/watch"
)

const notifyChannel = "wallet_changes"

// Notification payloads are "<session_id>:<kind>"; subscribers re-read
// state through the store, so the payload never carries data.
const (
	notifyRoster   = "roster"
	notifyBalances = "balances"
	notifyEvents   = "events"
)

// listener holds one dedicated connection in LISTEN mode and fans
// notifications into the broker. Reconnects with backoff; a dropped
// connection costs subscribers latency, not ordering, because they
// resync from their cursors on the next signal.
type listener struct {
	dsn    string
	broker *watch.Broker
	logger cmtlog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newListener(dsn string, broker *watch.Broker, logger cmtlog.Logger) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &listener{
		dsn:    dsn,
		broker: broker,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

const (
	listenBackoffMin = time.Second
	listenBackoffMax = 30 * time.Second
)

// nextListenBackoff doubles the reconnect delay while attempts keep
// failing quickly and drops back to the minimum once a connection
// survived longer than the maximum delay.
func nextListenBackoff(current, connectedFor time.Duration) time.Duration {
	if connectedFor >= listenBackoffMax {
		return listenBackoffMin
	}
	next := current * 2
	if next > listenBackoffMax {
		next = listenBackoffMax
	}
	return next
}

func (l *listener) start() {
	go func() {
		defer close(l.done)
		backoff := listenBackoffMin
		for l.ctx.Err() == nil {
			started := time.Now()
			if err := l.listen(); err != nil && l.ctx.Err() == nil {
				l.logger.Error("Notification listener disconnected", "err", err)
			}
			backoff = nextListenBackoff(backoff, time.Since(started))
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

func (l *listener) stop() {
	l.cancel()
	<-l.done
}

func (l *listener) listen() error {
	conn, err := pgx.Connect(l.ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(l.ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	l.logger.Info("Listening for store notifications", "channel", notifyChannel)

	for {
		notification, err := conn.WaitForNotification(l.ctx)
		if err != nil {
			return err
		}
		l.dispatch(notification.Payload)
	}
}

func (l *listener) dispatch(payload string) {
	sessionID, kind, ok := strings.Cut(payload, ":")
	if !ok {
		l.logger.Error("Malformed notification payload", "payload", payload)
		return
	}
	switch kind {
	case notifyRoster:
		l.broker.Notify(domain.SessionID(sessionID), watch.KindRoster)
	case notifyBalances:
		l.broker.Notify(domain.SessionID(sessionID), watch.KindBalances)
	case notifyEvents:
		l.broker.Notify(domain.SessionID(sessionID), watch.KindEvents)
	default:
		l.logger.Error("Unknown notification kind", "kind", kind)
	}
}
