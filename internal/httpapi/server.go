package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vieroc/salespilot/internal/config"
	"github.com/vieroc/salespilot/internal/conversation"
	"github.com/vieroc/salespilot/internal/memory"
	"github.com/vieroc/salespilot/internal/observability"
	"github.com/vieroc/salespilot/internal/protocol"
	"github.com/vieroc/salespilot/internal/session"
	"github.com/vieroc/salespilot/internal/workflow"
)

// Orchestrator runs one user message through the pipeline.
type Orchestrator interface {
	HandleMessage(ctx context.Context, id conversation.ID, message string) (workflow.Outcome, error)
}

// Memory is the read surface the API exposes from the memory tier.
type Memory interface {
	Assemble(ctx context.Context, id conversation.ID, queryText string) (memory.Window, error)
	History(ctx context.Context, id conversation.ID, n int) ([]conversation.Turn, error)
	State(ctx context.Context, id conversation.ID) (*conversation.State, error)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	mem          Memory
	sessions     *session.Manager
	window       *observability.StageWindow
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, mem Memory, sessions *session.Manager, window *observability.StageWindow) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		mem:          mem,
		sessions:     sessions,
		window:       window,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; other websites must not
				// be able to drive a customer's chat session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/debug/stages", s.handleStageSnapshot)
	r.Get("/v1/debug/sessions", s.handleSessions)

	r.Post("/v1/conversations/{userID}/{sessionID}/messages", s.handleMessage)
	r.Get("/v1/conversations/{userID}/{sessionID}/context", s.handleContext)
	r.Get("/v1/conversations/{userID}/{sessionID}/history", s.handleHistory)
	r.Get("/v1/conversations/{userID}/{sessionID}/state", s.handleState)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

func (s *Server) handleStageSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondError(w, http.StatusNotFound, "unavailable", "stage window not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusNotFound, "unavailable", "session tracking not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"active_count": s.sessions.ActiveCount(),
		"sessions":     s.sessions.Active(),
	})
}

func (s *Server) observeSession(id conversation.ID, channel string) {
	if s.sessions != nil {
		s.sessions.Observe(id, channel)
	}
}

func (s *Server) recordSessionResult(id conversation.ID, out workflow.Outcome) {
	if s.sessions != nil {
		s.sessions.RecordResult(id, string(out.Routing.Branch), string(out.State))
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := convIDFromRequest(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
		return
	}

	s.observeSession(id, "rest")
	out, err := s.orchestrator.HandleMessage(r.Context(), id, req.Message)
	s.recordSessionResult(id, out)
	if err != nil {
		// The outcome carries the terminal Failed state and reason; surface
		// both so callers do not have to parse error strings.
		respondJSON(w, http.StatusBadGateway, out)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	id, ok := convIDFromRequest(w, r)
	if !ok {
		return
	}
	window, err := s.mem.Assemble(r.Context(), id, strings.TrimSpace(r.URL.Query().Get("query")))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "assemble_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, window)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := convIDFromRequest(w, r)
	if !ok {
		return
	}
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	turns, err := s.mem.History(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, ok := convIDFromRequest(w, r)
	if !ok {
		return
	}
	st, err := s.mem.State(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "state_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleChatWS serves an interactive chat loop: the client sends
// client_message frames and receives one outcome frame per message.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	id := conversation.ID{UserID: userID, SessionID: sessionID}
	if !id.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_conversation", "user_id and session_id query parameters are required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(protocol.NewSystemEvent("connected", id.String()))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = conn.WriteJSON(protocol.NewErrorEvent("invalid_client_message", true, err.Error()))
			continue
		}

		s.observeSession(id, "websocket")
		out, _ := s.orchestrator.HandleMessage(r.Context(), id, msg.Message)
		s.recordSessionResult(id, out)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(protocol.NewOutcomeFrame(out)); err != nil {
			return
		}
	}
}

func convIDFromRequest(w http.ResponseWriter, r *http.Request) (conversation.ID, bool) {
	id := conversation.ID{
		UserID:    strings.TrimSpace(chi.URLParam(r, "userID")),
		SessionID: strings.TrimSpace(chi.URLParam(r, "sessionID")),
	}
	if !id.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_conversation", "userID and sessionID path segments are required")
		return conversation.ID{}, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
