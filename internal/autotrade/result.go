package autotrade

import (
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of a stopped session.
type Result struct {
	RunID           string        `json:"run_id"`
	UserID          int64         `json:"user_id"`
	Mode            Mode          `json:"mode"`
	InitialAmount   float64       `json:"initial_amount"`
	FinalAmount     float64       `json:"final_amount"`
	TotalProfit     float64       `json:"total_profit"`
	ReturnPct       float64       `json:"return_pct"`
	GuaranteedPct   float64       `json:"guaranteed_pct"`
	TotalTrades     int           `json:"total_trades"`
	ClosedTrades    int           `json:"closed_trades"`
	WinningTrades   int           `json:"winning_trades"`
	LosingTrades    int           `json:"losing_trades"`
	WinRate         float64       `json:"win_rate"`
	PositionsOpened int           `json:"positions_opened"`
	Duration        time.Duration `json:"duration"`
	BestTrade       *BestTrade    `json:"best_trade,omitempty"`
	GuaranteeTopUp  float64       `json:"guarantee_top_up"`
	GuaranteeMet    bool          `json:"guarantee_met"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`
}

// SessionView is a read-only copy of a session for UI updates.
type SessionView struct {
	UserID           int64      `json:"user_id"`
	RunID            string     `json:"run_id"`
	Mode             Mode       `json:"mode"`
	State            State      `json:"state"`
	Progress         float64    `json:"progress"`
	ProgressBar      string     `json:"progress_bar"`
	InitialAmount    float64    `json:"initial_amount"`
	CurrentAmount    float64    `json:"current_amount"`
	PositionSize     float64    `json:"position_size"`
	MaxPositions     int        `json:"max_positions"`
	TakeProfitPct    float64    `json:"take_profit_pct"`
	StopLossPct      float64    `json:"stop_loss_pct"`
	TotalPNL         float64    `json:"total_pnl"`
	PNLPercent       float64    `json:"pnl_percent"`
	GuaranteedPct    float64    `json:"guaranteed_pct"`
	GuaranteedAmount float64    `json:"guaranteed_amount"`
	Positions        []Position `json:"positions"`
	RecentTrades     []Trade    `json:"recent_trades"`
	TotalTrades      int        `json:"total_trades"`
	WinRate          float64    `json:"win_rate"`
	Elapsed          float64    `json:"elapsed_seconds"`
	Adjusting        bool       `json:"adjusting"`
	BestTrade        *BestTrade `json:"best_trade,omitempty"`
}

// View returns a consistent copy of the session's state.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}

	var sells []Trade
	for _, t := range s.trades {
		if t.Side == SideSell {
			sells = append(sells, t)
		}
	}
	closed := len(sells)
	wins := 0
	for _, t := range sells {
		if t.Profit > 0 {
			wins++
		}
	}
	if len(sells) > recentTradesShown {
		sells = sells[len(sells)-recentTradesShown:]
	}

	v := SessionView{
		UserID:           s.userID,
		RunID:            s.runID,
		Mode:             s.mode,
		State:            s.state,
		Progress:         s.progress,
		ProgressBar:      ProgressBar(s.progress),
		InitialAmount:    s.initialAmount,
		CurrentAmount:    s.currentAmount,
		PositionSize:     s.positionSize,
		MaxPositions:     s.cfg.MaxPositions,
		TakeProfitPct:    s.cfg.TakeProfitPct(),
		StopLossPct:      s.cfg.StopLossPct(),
		TotalPNL:         s.totalPNL,
		PNLPercent:       s.totalPNL / s.initialAmount * 100,
		GuaranteedPct:    s.cfg.GuaranteedPct(),
		GuaranteedAmount: s.floor,
		Positions:        positions,
		RecentTrades:     append([]Trade(nil), sells...),
		TotalTrades:      len(s.trades),
		WinRate:          winRate(wins, closed),
		Elapsed:          s.now().Sub(s.startTime).Seconds(),
		Adjusting:        s.progress > adjustingAfterProgress && s.totalPNL < s.floor*convergeFloorShare,
	}
	if s.bestTrade != nil {
		bt := *s.bestTrade
		v.BestTrade = &bt
	}
	return v
}

// SessionSnapshot is the persisted form of a session.
type SessionSnapshot struct {
	UserID        int64      `json:"user_id"`
	RunID         string     `json:"run_id"`
	Mode          Mode       `json:"mode"`
	State         State      `json:"state"`
	InitialAmount float64    `json:"initial_amount"`
	CurrentAmount float64    `json:"current_amount"`
	StartTime     time.Time  `json:"start_time"`
	Progress      float64    `json:"progress"`
	TotalPNL      float64    `json:"total_pnl"`
	Positions     []Position `json:"positions"`
	Trades        []Trade    `json:"trades"`
	BestTrade     *BestTrade `json:"best_trade,omitempty"`
	Highlighted   bool       `json:"highlighted"`
}

// Snapshot captures the session for persistence.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, *p)
	}
	snap := SessionSnapshot{
		UserID:        s.userID,
		RunID:         s.runID,
		Mode:          s.mode,
		State:         s.state,
		InitialAmount: s.initialAmount,
		CurrentAmount: s.currentAmount,
		StartTime:     s.startTime,
		Progress:      s.progress,
		TotalPNL:      s.totalPNL,
		Positions:     positions,
		Trades:        append([]Trade(nil), s.trades...),
		Highlighted:   s.highlighted,
	}
	if s.bestTrade != nil {
		bt := *s.bestTrade
		snap.BestTrade = &bt
	}
	return snap
}

// RestoreSession rebuilds a session from a snapshot. Sessions persisted
// before they were stopped come back as running.
func RestoreSession(snap SessionSnapshot, deps Deps) *Session {
	deps.fill()
	s := NewSession(snap.UserID, snap.Mode, snap.InitialAmount, deps)
	s.runID = snap.RunID
	s.logger = deps.Logger.Named("session").With(
		zap.Int64("user_id", snap.UserID),
		zap.String("run_id", snap.RunID),
		zap.String("mode", string(snap.Mode)),
	)
	s.currentAmount = snap.CurrentAmount
	s.startTime = snap.StartTime
	s.progress = snap.Progress
	s.totalPNL = snap.TotalPNL
	s.trades = append([]Trade(nil), snap.Trades...)
	s.highlighted = snap.Highlighted
	for i := range snap.Positions {
		p := snap.Positions[i]
		if p.Status == PositionOpen {
			s.positions = append(s.positions, &p)
		}
	}
	if snap.BestTrade != nil {
		bt := *snap.BestTrade
		s.bestTrade = &bt
	}
	s.state = StateRunning
	if snap.State == StateStopped {
		s.state = StateStopped
		res := s.resultLocked(0)
		s.result = &res
	}
	return s
}
