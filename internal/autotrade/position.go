package autotrade

import (
	"time"

	"autotrade-sim/internal/oracle"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	ReasonProfit     CloseReason = "profit"
	ReasonLoss       CloseReason = "loss"
	ReasonCutLoss    CloseReason = "cut_loss"
	ReasonSessionEnd CloseReason = "session_end"
)

// Position is a simulated holding of one token.
type Position struct {
	ID           string         `json:"id"`
	Token        oracle.Token   `json:"token"`
	RawPrice     float64        `json:"raw_price"`
	BuyPrice     float64        `json:"buy_price"`
	CurrentPrice float64        `json:"current_price"`
	Size         float64        `json:"size"`
	EntryTime    time.Time      `json:"entry_time"`
	TakeProfit   float64        `json:"take_profit"`
	StopLoss     float64        `json:"stop_loss"`
	Status       PositionStatus `json:"status"`
	Profit       float64        `json:"profit"`
	PnLPercent   float64        `json:"pnl_percent"`
	CloseReason  CloseReason    `json:"close_reason,omitempty"`
	FinalProfit  float64        `json:"final_profit,omitempty"`
	ClosePrice   float64        `json:"close_price,omitempty"`
	CloseTime    time.Time      `json:"close_time,omitempty"`
}

// mark moves the position to price and recomputes its unrealized profit.
// Profit is in quote currency: size × (price/buy − 1). A token-unit product
// (price − buy) × size would only match this when buy is near 1.
func (p *Position) mark(price float64) {
	p.CurrentPrice = price
	p.Profit = p.Size * (price/p.BuyPrice - 1)
	p.PnLPercent = (price - p.BuyPrice) / p.BuyPrice * 100
}

// shiftProfit adds delta to the unrealized profit; price and percent follow.
func (p *Position) shiftProfit(delta float64) {
	p.Profit += delta
	p.PnLPercent = p.Profit / p.Size * 100
	p.CurrentPrice = p.BuyPrice * (1 + p.Profit/p.Size)
}

// settleProfit applies the close policy of reason to the unrealized profit.
func settleProfit(reason CloseReason, profit, size float64, cfg ModeConfig) float64 {
	switch reason {
	case ReasonProfit:
		final := max(profit, size*cfg.MinProfitPct)
		if final > 0 {
			final *= 1.15
		}
		return final
	case ReasonLoss, ReasonCutLoss:
		return max(profit, -0.10*size)
	default:
		return profit
	}
}

// TradeSide is the direction of a trade log entry.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is one entry of a session's append-only trade log.
type Trade struct {
	Side       TradeSide   `json:"side"`
	PositionID string      `json:"position_id"`
	Token      string      `json:"token"`
	Size       float64     `json:"size"`
	Price      float64     `json:"price,omitempty"`
	RawPrice   float64     `json:"raw_price,omitempty"`
	BuyPrice   float64     `json:"buy_price,omitempty"`
	SellPrice  float64     `json:"sell_price,omitempty"`
	Profit     float64     `json:"profit,omitempty"`
	PnLPercent float64     `json:"pnl_percent,omitempty"`
	Reason     CloseReason `json:"reason,omitempty"`
	Time       time.Time   `json:"time"`
}

// BestTrade is the most profitable closed trade of a session.
type BestTrade struct {
	Token      string        `json:"token"`
	Profit     float64       `json:"profit"`
	PnLPercent float64       `json:"pnl_percent"`
	BuyPrice   float64       `json:"buy_price"`
	SellPrice  float64       `json:"sell_price"`
	Duration   time.Duration `json:"duration"`
	Mode       Mode          `json:"mode"`
	Time       time.Time     `json:"time"`
}
