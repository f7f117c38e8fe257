package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"autotrade-sim/internal/autotrade"
	"autotrade-sim/internal/models"
	"autotrade-sim/internal/store"
)

const defaultLimit = 50

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
	now func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db, now: time.Now}
}

// Routes registers the history endpoints.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", h.SessionsHandler)
	mux.HandleFunc("GET /api/best-trades", h.BestTradesHandler)
	mux.HandleFunc("GET /api/statistics", h.StatisticsHandler)
	return mux
}

// SessionsHandler returns finished sessions, newest first, optionally for one user.
func (h *APIHandler) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	query := h.db.Order("ended_at desc").Limit(limitParam(r))
	if userID, ok := userParam(r); ok {
		query = query.Where("user_id = ?", userID)
	}

	var rows []models.SessionResult
	if err := query.Find(&rows).Error; err != nil {
		h.log.Error("Failed to get sessions from database", zap.Error(err))
		http.Error(w, "Failed to get sessions", http.StatusInternalServerError)
		return
	}

	results := make([]autotrade.Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, store.ResultFromRow(row))
	}
	h.writeJSON(w, results)
}

// BestTradesHandler returns the best-trades lists, optionally for one user.
func (h *APIHandler) BestTradesHandler(w http.ResponseWriter, r *http.Request) {
	query := h.db.Order("profit desc").Limit(limitParam(r))
	if userID, ok := userParam(r); ok {
		query = query.Where("user_id = ?", userID)
	}

	var rows []models.BestTradeEntry
	if err := query.Find(&rows).Error; err != nil {
		h.log.Error("Failed to get best trades from database", zap.Error(err))
		http.Error(w, "Failed to get best trades", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, rows)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalSessions      int64   `json:"total_sessions"`
	ProfitableSessions int64   `json:"profitable_sessions"`
	TopUpSessions      int64   `json:"top_up_sessions"`
	WinRate            float64 `json:"win_rate"`
	TotalProfit        float64 `json:"total_profit"`
	TotalTopUp         float64 `json:"total_top_up"`
}

func (s *StatsDetail) add(row models.SessionResult) {
	s.TotalSessions++
	if row.Profit > 0 {
		s.ProfitableSessions++
	}
	if row.TopUp > 0 {
		s.TopUpSessions++
	}
	s.TotalProfit += row.Profit
	s.TotalTopUp += row.TopUp
}

func (s *StatsDetail) finish() {
	if s.TotalSessions > 0 {
		s.WinRate = float64(s.ProfitableSessions) / float64(s.TotalSessions)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail                    `json:"since_24h"`
	AllTime  StatsDetail                    `json:"all_time"`
	ByMode   map[autotrade.Mode]StatsDetail `json:"by_mode"`
}

// StatisticsHandler calculates and returns session statistics.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var rows []models.SessionResult
	if err := h.db.Find(&rows).Error; err != nil {
		h.log.Error("Failed to get sessions for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := h.now().Add(-24 * time.Hour)
	response := StatisticsResponse{ByMode: make(map[autotrade.Mode]StatsDetail)}

	for _, row := range rows {
		response.AllTime.add(row)
		if row.EndedAt.After(since24h) {
			response.Since24h.add(row)
		}
		mode := response.ByMode[autotrade.Mode(row.Mode)]
		mode.add(row)
		response.ByMode[autotrade.Mode(row.Mode)] = mode
	}

	response.AllTime.finish()
	response.Since24h.finish()
	for mode, stats := range response.ByMode {
		stats.finish()
		response.ByMode[mode] = stats
	}
	h.writeJSON(w, response)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

func userParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	return id, err == nil
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	return limit
}
