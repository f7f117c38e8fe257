package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionResult is the history record written when a session stops.
type SessionResult struct {
	gorm.Model
	RunID           string    `json:"run_id" gorm:"uniqueIndex;size:36"`
	UserID          int64     `json:"user_id" gorm:"index;not null"`
	Mode            string    `json:"mode" gorm:"not null"`
	InitialAmount   float64   `json:"initial_amount"`
	FinalAmount     float64   `json:"final_amount"`
	Profit          float64   `json:"profit"`
	ReturnPct       float64   `json:"return_pct"`
	GuaranteedPct   float64   `json:"guaranteed_pct"`
	TradesCount     int       `json:"trades_count"`
	ClosedTrades    int       `json:"closed_trades"`
	WinningTrades   int       `json:"winning_trades"`
	LosingTrades    int       `json:"losing_trades"`
	WinRate         float64   `json:"win_rate"`
	PositionsOpened int       `json:"positions_opened"`
	DurationMs      int64     `json:"duration_ms"`
	TopUp           float64   `json:"top_up"`
	GuaranteeMet    bool      `json:"guarantee_met"`
	BestTrade       string    `json:"best_trade,omitempty" gorm:"type:text"` // JSON
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at" gorm:"index"`
}

// SessionState is the persisted state of a session that has not finished.
type SessionState struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	RunID     string `gorm:"size:36;not null"`
	Mode      string `gorm:"not null"`
	State     string `gorm:"not null"`
	Payload   string `gorm:"type:text;not null"` // JSON
	UpdatedAt time.Time
}
