package models

import "time"

// BestTradeEntry is one row of a user's best-trades list.
type BestTradeEntry struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	UserID     int64     `json:"user_id" gorm:"index;not null"`
	Rank       int       `json:"rank" gorm:"column:rank_no"`
	Token      string    `json:"token"`
	Mode       string    `json:"mode"`
	Profit     float64   `json:"profit"`
	PnLPercent float64   `json:"pnl_percent"`
	BuyPrice   float64   `json:"buy_price"`
	SellPrice  float64   `json:"sell_price"`
	DurationMs int64     `json:"duration_ms"`
	TradedAt   time.Time `json:"traded_at"`
}
