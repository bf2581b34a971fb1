package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManuACDev/monopoly-wallet/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser clients come through the CORS-wrapped REST surface
	// already, so origin checking is delegated to the same policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const socketWriteTimeout = 10 * time.Second

// feedFrame is the single envelope every socket message uses. Exactly
// one payload field is set, selected by Type.
type feedFrame struct {
	Type     string            `json:"type"` // roster | balances | event
	Roster   []accountResponse `json:"roster,omitempty"`
	Balances map[string]int64  `json:"balances,omitempty"`
	Event    *eventResponse    `json:"event,omitempty"`
}

type eventResponse struct {
	Seq       uint64    `json:"seq"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// handleFeedSocket streams the three live feeds of one session over a
// websocket: roster snapshots, balance snapshots, and activity events.
// An optional ?after=N resumes the event feed past sequence N.
func (ws *WebServer) handleFeedSocket(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "ws" || parts[1] != "sessions" {
		JSONError(w, "Not found", http.StatusNotFound)
		return
	}
	sessionID := domain.SessionID(parts[2])

	var afterSeq uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			JSONError(w, "after must be an unsigned integer", http.StatusBadRequest)
			return
		}
		afterSeq = v
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rosterSub, err := ws.membership.ObserveRoster(ctx, sessionID)
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	defer rosterSub.Cancel()
	balanceSub, err := ws.feed.ObserveBalances(ctx, sessionID)
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	defer balanceSub.Cancel()
	eventSub, err := ws.feed.ObserveEvents(ctx, sessionID, afterSeq)
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	defer eventSub.Cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// The read loop only exists to notice the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var frame feedFrame
		select {
		case <-ctx.Done():
			return
		case <-rosterSub.Done():
			ws.logSubscriptionEnd("roster", rosterSub.Err())
			return
		case <-balanceSub.Done():
			ws.logSubscriptionEnd("balances", balanceSub.Err())
			return
		case <-eventSub.Done():
			ws.logSubscriptionEnd("events", eventSub.Err())
			return
		case roster, ok := <-rosterSub.Updates():
			if !ok {
				return
			}
			frame.Type = "roster"
			frame.Roster = make([]accountResponse, 0, len(roster))
			for _, a := range roster {
				frame.Roster = append(frame.Roster, toAccountResponse(a))
			}
		case balances, ok := <-balanceSub.Updates():
			if !ok {
				return
			}
			frame.Type = "balances"
			frame.Balances = make(map[string]int64, len(balances))
			for id, bal := range balances {
				frame.Balances[string(id)] = bal
			}
		case ev, ok := <-eventSub.Events():
			if !ok {
				return
			}
			frame.Type = "event"
			frame.Event = &eventResponse{
				Seq:       ev.Seq,
				Author:    ev.Author,
				Text:      ev.Text,
				Category:  string(ev.Category),
				CreatedAt: ev.CreatedAt,
			}
		}
		conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

func (ws *WebServer) logSubscriptionEnd(kind string, err error) {
	if err != nil {
		ws.logger.Error("Feed subscription ended", "kind", kind, "err", err)
	}
}
