package autotrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIServer exposes the registry over HTTP.
type APIServer struct {
	server    *http.Server
	registry  *Registry
	logger    *zap.Logger
	startTime time.Time
}

// NewAPIServer creates an APIServer on port. ws, when not nil, is mounted at /ws.
func NewAPIServer(registry *Registry, port int, ws http.Handler, logger *zap.Logger) *APIServer {
	s := &APIServer{
		registry:  registry,
		logger:    logger.Named("api-server"),
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(ws),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's routes, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) routes(ws http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("POST /api/sessions", s.createHandler)
	mux.HandleFunc("GET /api/sessions/{user}", s.sessionHandler)
	mux.HandleFunc("DELETE /api/sessions/{user}", s.stopHandler)
	mux.HandleFunc("GET /api/users/{user}/quota", s.quotaHandler)
	mux.HandleFunc("GET /api/users/{user}/best-trades", s.bestTradesHandler)
	mux.HandleFunc("GET /api/users/{user}/history", s.historyHandler)
	mux.HandleFunc("GET /api/users/{user}/balance", s.balanceHandler)
	mux.HandleFunc("POST /api/users/{user}/deposit", s.depositHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type sessionSummary struct {
	UserID   int64   `json:"user_id"`
	Mode     Mode    `json:"mode"`
	State    State   `json:"state"`
	Progress float64 `json:"progress"`
	TotalPNL float64 `json:"total_pnl"`
	Open     int     `json:"open_positions"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.Active()
	sessions := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		sess, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		v := sess.View()
		sessions = append(sessions, sessionSummary{
			UserID:   v.UserID,
			Mode:     v.Mode,
			State:    v.State,
			Progress: v.Progress,
			TotalPNL: v.TotalPNL,
			Open:     len(v.Positions),
		})
	}

	status := struct {
		StartTime string           `json:"start_time"`
		Uptime    string           `json:"uptime"`
		Active    int              `json:"active"`
		Sessions  []sessionSummary `json:"sessions"`
	}{
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Active:    len(sessions),
		Sessions:  sessions,
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) createHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64   `json:"user_id"`
		Mode   string  `json:"mode"`
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.registry.Create(r.Context(), req.UserID, mode, req.Amount)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, sess.View())
}

func (s *APIServer) sessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sess, found := s.registry.Get(userID)
	if !found {
		s.writeError(w, http.StatusNotFound, ErrNoActiveSession.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sess.View())
}

func (s *APIServer) stopHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	res, err := s.registry.Stop(r.Context(), userID)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *APIServer) quotaHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.QuotaInfo(userID))
}

func (s *APIServer) bestTradesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.BestTrades(userID))
}

func (s *APIServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := s.registry.History(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("Failed to load history", zap.Int64("user_id", userID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *APIServer) balanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": s.registry.Balance(userID),
	})
}

func (s *APIServer) depositHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	balance, err := s.registry.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

func (s *APIServer) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("user"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidMode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
