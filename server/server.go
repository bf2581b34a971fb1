// Package server exposes the banker core over HTTP for the device UIs:
// plain JSON endpoints for the commands, a websocket per session for
// the live feeds.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/rs/cors"

	"github.com/ManuACDev/monopoly-wallet/domain"
	"github.com/ManuACDev/monopoly-wallet/service"
)

// WebServer handles HTTP requests.
type WebServer struct {
	httpAddr  string
	server    *http.Server
	logger    cmtlog.Logger
	startTime time.Time

	registry   *service.Registry
	membership *service.Membership
	ledger     *service.Ledger
	feed       *service.Feed
}

// NewWebServer creates a new web server routing onto the four core
// services.
func NewWebServer(httpAddr string, logger cmtlog.Logger, registry *service.Registry, membership *service.Membership, ledger *service.Ledger, feed *service.Feed) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr:   httpAddr,
		logger:     logger,
		startTime:  time.Now(),
		registry:   registry,
		membership: membership,
		ledger:     ledger,
		feed:       feed,
	}
	ws.server = &http.Server{
		Addr:    httpAddr,
		Handler: cors.Default().Handler(mux),
	}

	mux.HandleFunc("/", ws.handleRoot)
	mux.HandleFunc("/sessions", ws.handleCreateSession)
	mux.HandleFunc("/sessions/", ws.handleSessionAPI)
	mux.HandleFunc("/ws/sessions/", ws.handleFeedSocket)

	return ws
}

// Start starts the web server.
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		JSONError(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "monopoly-wallet banker",
		"uptime":  time.Since(ws.startTime).String(),
	})
}

type createSessionRequest struct {
	Capacity        int    `json:"capacity"`
	StartingBalance int64  `json:"starting_balance"`
	PassGoBonus     int64  `json:"pass_go_bonus"`
	AutoBank        bool   `json:"auto_bank"`
	CreatorName     string `json:"creator_name"`
	CreatorUID      string `json:"creator_uid"`
}

type sessionResponse struct {
	SessionID       string           `json:"session_id"`
	Capacity        int              `json:"capacity"`
	StartingBalance int64            `json:"starting_balance"`
	PassGoBonus     int64            `json:"pass_go_bonus"`
	AutoBank        bool             `json:"auto_bank"`
	Creator         *accountResponse `json:"creator,omitempty"`
}

type accountResponse struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	PlayerUID string `json:"player_uid"`
	Balance   int64  `json:"balance"`
	Admin     bool   `json:"admin"`
	Banker    bool   `json:"banker"`
}

func toAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		AccountID: string(a.ID),
		Name:      a.Name,
		PlayerUID: string(a.PlayerID),
		Balance:   a.Balance,
		Admin:     a.Role.Has(domain.RoleAdmin),
		Banker:    a.Role.Has(domain.RoleBanker),
	}
}

// handleCreateSession creates a session and seats its founder as admin,
// mirroring the create-then-join flow the game screens expect.
func (ws *WebServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	session, err := ws.registry.CreateSession(r.Context(), service.SessionConfig{
		Capacity:        req.Capacity,
		StartingBalance: req.StartingBalance,
		PassGoBonus:     req.PassGoBonus,
		AutoBank:        req.AutoBank,
	})
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	resp := sessionResponse{
		SessionID:       string(session.ID),
		Capacity:        session.Capacity,
		StartingBalance: session.StartingBalance,
		PassGoBonus:     session.PassGoBonus,
		AutoBank:        session.AutoBank,
	}
	if req.CreatorName != "" {
		creator, err := ws.membership.Join(r.Context(), service.JoinRequest{
			SessionID: session.ID,
			Name:      req.CreatorName,
			PlayerID:  domain.PlayerID(req.CreatorUID),
			AsAdmin:   true,
			AsBanker:  !session.AutoBank,
		})
		if err != nil {
			ws.rejectError(w, err)
			return
		}
		acct := toAccountResponse(creator)
		resp.Creator = &acct
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleSessionAPI routes /sessions/{id} and its sub-resources.
func (ws *WebServer) handleSessionAPI(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "sessions" {
		JSONError(w, "Not found", http.StatusNotFound)
		return
	}
	sessionID := domain.SessionID(parts[1])

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.handleGetSession(w, r, sessionID)
		return
	}

	if r.Method != http.MethodPost {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch parts[2] {
	case "join":
		ws.handleJoin(w, r, sessionID)
	case "transfers":
		ws.handleTransfer(w, r, sessionID)
	case "roles":
		ws.handleSetRole(w, r, sessionID)
	case "passgo":
		ws.handlePassGo(w, r, sessionID)
	case "dice":
		ws.handleDice(w, r, sessionID)
	case "chat":
		ws.handleChat(w, r, sessionID)
	default:
		JSONError(w, "Not found", http.StatusNotFound)
	}
}

func (ws *WebServer) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	session, err := ws.registry.GetSessionConfig(r.Context(), sessionID)
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:       string(session.ID),
		Capacity:        session.Capacity,
		StartingBalance: session.StartingBalance,
		PassGoBonus:     session.PassGoBonus,
		AutoBank:        session.AutoBank,
	})
}

type joinRequest struct {
	Name   string `json:"name"`
	UID    string `json:"uid"`
	Admin  bool   `json:"admin"`
	Banker bool   `json:"banker"`
}

func (ws *WebServer) handleJoin(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	acct, err := ws.membership.Join(r.Context(), service.JoinRequest{
		SessionID: sessionID,
		Name:      req.Name,
		PlayerID:  domain.PlayerID(req.UID),
		AsAdmin:   req.Admin,
		AsBanker:  req.Banker,
	})
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(acct))
}

type partyRequest struct {
	Kind   string `json:"kind"` // player | bank | parking
	Player string `json:"player,omitempty"`
}

func (p partyRequest) toRef() (domain.AccountRef, error) {
	switch p.Kind {
	case "player":
		return domain.PlayerRef(domain.PlayerID(p.Player)), nil
	case "bank":
		return domain.BankRef(), nil
	case "parking":
		return domain.ParkingRef(), nil
	default:
		return domain.AccountRef{}, errors.New("party kind must be player, bank or parking")
	}
}

type transferRequest struct {
	Amount      int64        `json:"amount"`
	Source      partyRequest `json:"source"`
	Destination partyRequest `json:"destination"`
	ActingAs    string       `json:"acting_as"`
}

type transferResponse struct {
	SessionID   string    `json:"session_id"`
	Amount      int64     `json:"amount"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	CommittedAt time.Time `json:"committed_at"`
}

func (ws *WebServer) handleTransfer(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	src, err := req.Source.toRef()
	if err != nil {
		JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dst, err := req.Destination.toRef()
	if err != nil {
		JSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	receipt, err := ws.ledger.Transfer(r.Context(), service.TransferRequest{
		SessionID:   sessionID,
		Amount:      req.Amount,
		Source:      src,
		Destination: dst,
		ActingAs:    domain.PlayerID(req.ActingAs),
	})
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{
		SessionID:   string(receipt.SessionID),
		Amount:      receipt.Amount,
		Source:      string(receipt.Source),
		Destination: string(receipt.Destination),
		CommittedAt: receipt.CommittedAt,
	})
}

type setRoleRequest struct {
	Player string `json:"player"`
	Flag   string `json:"flag"` // admin | banker
	Value  bool   `json:"value"`
}

func (ws *WebServer) handleSetRole(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var flag domain.Role
	switch req.Flag {
	case "admin":
		flag = domain.RoleAdmin
	case "banker":
		flag = domain.RoleBanker
	default:
		JSONError(w, "Role flag must be admin or banker", http.StatusBadRequest)
		return
	}
	value, err := ws.membership.SetRoleFlag(r.Context(), sessionID, domain.PlayerID(req.Player), flag, req.Value)
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"player": req.Player,
		"flag":   req.Flag,
		"value":  value,
	})
}

type passGoRequest struct {
	Player   string `json:"player"`
	ActingAs string `json:"acting_as"`
}

func (ws *WebServer) handlePassGo(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	var req passGoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	receipt, err := ws.ledger.PassGo(r.Context(), sessionID, domain.PlayerID(req.Player), domain.PlayerID(req.ActingAs))
	if err != nil {
		ws.rejectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{
		SessionID:   string(receipt.SessionID),
		Amount:      receipt.Amount,
		Source:      string(receipt.Source),
		Destination: string(receipt.Destination),
		CommittedAt: receipt.CommittedAt,
	})
}

type diceRequest struct {
	Author string `json:"author"`
}

func (ws *WebServer) handleDice(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	var req diceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	value := ws.feed.RollDice(r.Context(), sessionID, req.Author)
	writeJSON(w, http.StatusOK, map[string]interface{}{"value": value})
}

type chatRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

func (ws *WebServer) handleChat(w http.ResponseWriter, r *http.Request, sessionID domain.SessionID) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	ws.feed.PostEvent(r.Context(), sessionID, req.Author, req.Text, domain.EventChat)
	w.WriteHeader(http.StatusAccepted)
}

// rejectError maps the core's typed rejections onto HTTP statuses so
// the UI can render a specific message.
func (ws *WebServer) rejectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrAccountNotFound):
		JSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrSessionFull):
		JSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInsufficientFunds):
		JSONError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrNotAuthorized):
		JSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrSameAccount), errors.Is(err, domain.ErrInvalidConfig):
		JSONError(w, err.Error(), http.StatusBadRequest)
	case domain.IsTransient(err):
		ws.logger.Error("Store failure", "err", err)
		JSONError(w, "Store temporarily unavailable", http.StatusServiceUnavailable)
	default:
		ws.logger.Error("Unexpected error", "err", err)
		JSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(v)
}

// JSONError sends a JSON formatted error response with the given status
// code and message.
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}
