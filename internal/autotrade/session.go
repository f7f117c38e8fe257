package autotrade

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrade-sim/internal/ledger"
	"autotrade-sim/internal/notify"
	"autotrade-sim/internal/oracle"
)

// DefaultSessionDuration is the lifetime of a session.
const DefaultSessionDuration = 10 * time.Minute

const (
	// Share of a positive profit credited to the user's main balance.
	creditShare = 0.9
	// Progress after which a lagging session is pulled towards its floor.
	convergeAfterProgress = 70
	// Progress after which the view flags the session as adjusting.
	adjustingAfterProgress = 60
	convergeFloorShare     = 0.8

	earlyTakePnLPct   = 20
	cutLossGatePct    = -5
	cutLossPct        = -8
	cutLossChance     = 0.3
	earlyTakeChance   = 0.5
	minCashShare      = 0.5
	progressBarCells  = 20
	recentTradesShown = 2
)

// ErrSessionStopped is returned by Start when the session was stopped first.
var ErrSessionStopped = errors.New("autotrade session stopped")

// State is a step of the session lifecycle. Transitions are one-way.
type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
)

// Deps are the collaborators injected into a session.
type Deps struct {
	Oracle   oracle.Oracle
	Ledger   ledger.Ledger
	Sink     notify.Sink
	Tokens   []oracle.Token
	Logger   *zap.Logger
	Now      func() time.Time
	Rand     Rand
	Duration time.Duration
}

func (d *Deps) fill() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Sink == nil {
		d.Sink = notify.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.Duration <= 0 {
		d.Duration = DefaultSessionDuration
	}
	if len(d.Tokens) == 0 {
		d.Tokens = oracle.DefaultTokens()
	}
}

// TickReport summarizes what one tick did.
type TickReport struct {
	Skipped bool
	Mutated bool
	Opened  int
	Closed  int
	Stopped bool
	Result  *Result
}

// Session is one user's simulated trading run.
type Session struct {
	mu   sync.Mutex
	busy atomic.Bool

	userID        int64
	runID         string
	mode          Mode
	cfg           ModeConfig
	initialAmount float64
	currentAmount float64
	positionSize  float64
	floor         float64
	startTime     time.Time
	progress      float64
	state         State
	positions     []*Position
	trades        []Trade
	totalPNL      float64
	bestTrade     *BestTrade
	highlighted   bool
	pendingBest   []BestTrade
	result        *Result

	oracle   oracle.Oracle
	ledger   ledger.Ledger
	sink     notify.Sink
	tokens   []oracle.Token
	logger   *zap.Logger
	now      func() time.Time
	rnd      Rand
	duration time.Duration
}

// NewSession creates an initializing session. The caller has already
// debited amount from the user's balance.
func NewSession(userID int64, mode Mode, amount float64, deps Deps) *Session {
	deps.fill()
	cfg := mode.Config()
	runID := uuid.NewString()

	return &Session{
		userID:        userID,
		runID:         runID,
		mode:          mode,
		cfg:           cfg,
		initialAmount: amount,
		currentAmount: amount,
		positionSize:  amount / float64(cfg.MaxPositions),
		floor:         amount * (cfg.GuaranteedMultiplier - 1),
		startTime:     deps.Now(),
		state:         StateInitializing,
		oracle:        deps.Oracle,
		ledger:        deps.Ledger,
		sink:          deps.Sink,
		tokens:        deps.Tokens,
		logger: deps.Logger.Named("session").With(
			zap.Int64("user_id", userID),
			zap.String("run_id", runID),
			zap.String("mode", string(mode)),
		),
		now:      deps.Now,
		rnd:      deps.Rand,
		duration: deps.Duration,
	}
}

// UserID returns the owner of the session.
func (s *Session) UserID() int64 { return s.userID }

// RunID returns the unique id of this run.
func (s *Session) RunID() string { return s.runID }

// Mode returns the session's mode.
func (s *Session) Mode() Mode { return s.mode }

// Config returns the session's mode parameters.
func (s *Session) Config() ModeConfig { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the initial positions and moves the session to running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitializing {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start session in state %s", state)
	}
	s.mu.Unlock()

	opened := s.fillPositions(ctx, StateInitializing)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		return ErrSessionStopped
	}
	s.state = StateRunning
	s.recomputeLocked(false)
	s.logger.Info("Autotrade session started",
		zap.Float64("amount", s.initialAmount),
		zap.Int("positions", opened),
	)
	return nil
}

// Tick advances the session by one step. Overlapping calls return at once
// with Skipped set.
func (s *Session) Tick(ctx context.Context) TickReport {
	if !s.busy.CompareAndSwap(false, true) {
		return TickReport{Skipped: true}
	}
	defer s.busy.Store(false)

	// 1. Progress, and the end of the session.
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return TickReport{}
	}
	s.progress = s.progressLocked()
	if s.progress >= 100 {
		res, highlight := s.stopLocked()
		s.mu.Unlock()
		s.announce(ctx, highlight)
		return TickReport{Mutated: true, Stopped: true, Result: &res}
	}
	targets := make(map[string]oracle.Token, len(s.positions))
	for _, p := range s.positions {
		targets[p.ID] = p.Token
	}
	s.mu.Unlock()

	// 2. Fresh raw prices, fetched without holding the lock.
	raw := make(map[string]float64, len(targets))
	for id, token := range targets {
		q, err := s.oracle.Quote(ctx, token)
		if err != nil {
			oracleFailures.Inc()
			s.logger.Warn("Price refresh failed, keeping last raw price",
				zap.String("token", token.Symbol), zap.Error(err))
			continue
		}
		raw[id] = q.Price
	}

	// 3. Move prices and close what hit a target.
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return TickReport{}
	}
	report := TickReport{Mutated: true}
	for _, p := range s.positions {
		if price, ok := raw[p.ID]; ok {
			p.RawPrice = price
		}
		p.mark(TickBias(s.rnd, p.CurrentPrice, p.BuyPrice, p.Token.Volatility, s.mode))
	}
	report.Closed += s.closeTriggeredLocked()
	s.mu.Unlock()

	// 4. Replacements.
	report.Opened = s.fillPositions(ctx, StateRunning)

	// 5. Cut losses and recompute.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return report
	}
	report.Closed += s.cutLossesLocked()
	s.recomputeLocked(true)
	return report
}

// Stop force-closes every position, enforces the guaranteed floor and
// returns the result. Later calls return the same result.
func (s *Session) Stop(ctx context.Context) Result {
	s.mu.Lock()
	if s.state == StateStopped {
		res := *s.result
		s.mu.Unlock()
		return res
	}
	res, highlight := s.stopLocked()
	s.mu.Unlock()

	s.announce(ctx, highlight)
	return res
}

// TakeBestTrades returns and clears the best-trade updates recorded since the
// previous call.
func (s *Session) TakeBestTrades() []BestTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingBest
	s.pendingBest = nil
	return out
}

func (s *Session) stopLocked() (Result, *BestTrade) {
	s.state = StateStopping

	for _, p := range s.positions {
		s.closeLocked(p, ReasonSessionEnd)
	}
	s.positions = nil
	s.recomputeLocked(false)

	var topUp float64
	if s.totalPNL < s.floor {
		topUp = s.floor - s.totalPNL
		s.totalPNL = s.floor
		s.currentAmount += topUp
		s.credit(topUp)
		guaranteeTopUps.WithLabelValues(string(s.mode)).Add(topUp)
	}

	var highlight *BestTrade
	if s.bestTrade != nil && s.bestTrade.Profit > 0 && !s.highlighted {
		s.highlighted = true
		bt := *s.bestTrade
		highlight = &bt
	}

	s.state = StateStopped
	res := s.resultLocked(topUp)
	s.result = &res

	s.logger.Info("Autotrade session stopped",
		zap.Float64("total_profit", s.totalPNL),
		zap.Float64("top_up", topUp),
		zap.Int("trades", res.TotalTrades),
	)
	return res, highlight
}

func (s *Session) announce(ctx context.Context, best *BestTrade) {
	if best == nil {
		return
	}
	err := s.sink.Push(ctx, s.userID, notify.Update{
		Kind:    notify.KindBestTrade,
		UserID:  s.userID,
		Time:    s.now(),
		Payload: best,
	})
	if err != nil && !errors.Is(err, notify.ErrNoSubscribers) {
		notifyFailures.Inc()
		s.logger.Warn("Failed to deliver best trade", zap.Error(err))
	}
}

// fillPositions opens positions until capacity or cash runs out, trying at
// most MaxPositions times. It only acts while the session is in state want.
func (s *Session) fillPositions(ctx context.Context, want State) int {
	opened := 0
	for attempt := 0; attempt < s.cfg.MaxPositions; attempt++ {
		s.mu.Lock()
		full := s.state != want || !s.canOpenLocked()
		s.mu.Unlock()
		if full {
			break
		}
		if _, ok := s.openPosition(ctx, want); ok {
			opened++
		}
	}
	return opened
}

// openPosition opens one position on a random unheld token. It returns false
// when nothing could be opened, for example when the quote failed.
func (s *Session) openPosition(ctx context.Context, want State) (*Position, bool) {
	s.mu.Lock()
	if s.state != want || !s.canOpenLocked() {
		s.mu.Unlock()
		return nil, false
	}
	token, ok := s.pickTokenLocked()
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	q, err := s.oracle.Quote(ctx, token)
	if err != nil {
		oracleFailures.Inc()
		s.logger.Warn("Skipping position, no quote", zap.String("token", token.Symbol), zap.Error(err))
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want || !s.canOpenLocked() || s.holdsLocked(token.Symbol) {
		return nil, false
	}

	buy := OpenBias(s.rnd, q.Price, token.Volatility, s.mode)
	now := s.now()
	p := &Position{
		ID:           uuid.NewString(),
		Token:        token,
		RawPrice:     q.Price,
		BuyPrice:     buy,
		CurrentPrice: buy,
		Size:         s.positionSize,
		EntryTime:    now,
		TakeProfit:   buy * s.cfg.TakeProfitMultiplier,
		StopLoss:     buy * s.cfg.StopLossMultiplier,
		Status:       PositionOpen,
	}
	s.positions = append(s.positions, p)
	s.currentAmount -= p.Size
	s.trades = append(s.trades, Trade{
		Side:       SideBuy,
		PositionID: p.ID,
		Token:      token.Symbol,
		Size:       p.Size,
		Price:      buy,
		RawPrice:   q.Price,
		Time:       now,
	})
	positionsOpened.WithLabelValues(string(s.mode)).Inc()
	s.logger.Debug("Opened position",
		zap.String("token", token.Symbol),
		zap.Float64("buy_price", buy),
		zap.Float64("size", p.Size),
	)
	return p, true
}

func (s *Session) canOpenLocked() bool {
	return len(s.positions) < s.cfg.MaxPositions && s.currentAmount >= s.positionSize*minCashShare
}

func (s *Session) holdsLocked(symbol string) bool {
	for _, p := range s.positions {
		if p.Token.Symbol == symbol {
			return true
		}
	}
	return false
}

func (s *Session) pickTokenLocked() (oracle.Token, bool) {
	free := make([]oracle.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		if !s.holdsLocked(t.Symbol) {
			free = append(free, t)
		}
	}
	if len(free) == 0 {
		return oracle.Token{}, false
	}
	return free[s.rnd.Intn(len(free))], true
}

// closeTriggeredLocked closes positions that reached take-profit, the early
// take threshold or stop-loss.
func (s *Session) closeTriggeredLocked() int {
	closed := 0
	for _, p := range s.positions {
		var reason CloseReason
		switch {
		case p.CurrentPrice >= p.TakeProfit:
			reason = ReasonProfit
		case p.PnLPercent >= earlyTakePnLPct && s.rnd.Float64() < earlyTakeChance:
			reason = ReasonProfit
		case p.CurrentPrice <= p.StopLoss:
			reason = ReasonLoss
		default:
			continue
		}
		s.closeLocked(p, reason)
		closed++
	}
	s.dropClosedLocked()
	return closed
}

func (s *Session) cutLossesLocked() int {
	gate := false
	for _, p := range s.positions {
		if p.PnLPercent < cutLossGatePct {
			gate = true
			break
		}
	}
	if !gate || s.rnd.Float64() >= cutLossChance {
		return 0
	}

	closed := 0
	for _, p := range s.positions {
		if p.PnLPercent < cutLossPct {
			s.closeLocked(p, ReasonCutLoss)
			closed++
		}
	}
	s.dropClosedLocked()
	return closed
}

func (s *Session) closeLocked(p *Position, reason CloseReason) float64 {
	final := settleProfit(reason, p.Profit, p.Size, s.cfg)
	now := s.now()

	p.Status = PositionClosed
	p.ClosePrice = p.CurrentPrice
	p.CloseTime = now
	p.CloseReason = reason
	p.FinalProfit = final

	s.currentAmount += p.Size + final
	if final > 0 {
		s.credit(final)
	}

	s.trades = append(s.trades, Trade{
		Side:       SideSell,
		PositionID: p.ID,
		Token:      p.Token.Symbol,
		Size:       p.Size,
		RawPrice:   p.RawPrice,
		BuyPrice:   p.BuyPrice,
		SellPrice:  p.CurrentPrice,
		Profit:     final,
		PnLPercent: p.PnLPercent,
		Reason:     reason,
		Time:       now,
	})

	if s.bestTrade == nil || final > s.bestTrade.Profit {
		s.bestTrade = &BestTrade{
			Token:      p.Token.Symbol,
			Profit:     final,
			PnLPercent: p.PnLPercent,
			BuyPrice:   p.BuyPrice,
			SellPrice:  p.CurrentPrice,
			Duration:   now.Sub(p.EntryTime),
			Mode:       s.mode,
			Time:       now,
		}
		s.pendingBest = append(s.pendingBest, *s.bestTrade)
	}

	positionsClosed.WithLabelValues(string(s.mode), string(reason)).Inc()
	s.logger.Debug("Closed position",
		zap.String("token", p.Token.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("profit", final),
	)
	return final
}

func (s *Session) dropClosedLocked() {
	open := s.positions[:0]
	for _, p := range s.positions {
		if p.Status == PositionOpen {
			open = append(open, p)
		}
	}
	for i := len(open); i < len(s.positions); i++ {
		s.positions[i] = nil
	}
	s.positions = open
}

// credit adds the user's share of profit to the main balance.
func (s *Session) credit(amount float64) {
	if s.ledger == nil {
		return
	}
	share := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(creditShare))
	s.ledger.Add(s.userID, share)
}

// recomputeLocked refreshes the aggregate P&L. With converge set, a session
// past 70% progress that lags below 80% of its floor is lifted to exactly
// that level through its open positions.
func (s *Session) recomputeLocked(converge bool) {
	total := s.aggregateLocked()

	target := s.floor * convergeFloorShare
	if converge && s.progress > convergeAfterProgress && total < target && len(s.positions) > 0 {
		adj := (target - total) / float64(len(s.positions))
		for _, p := range s.positions {
			p.shiftProfit(adj)
		}
		total = target
		convergenceAdjustments.WithLabelValues(string(s.mode)).Inc()
	}
	s.totalPNL = total
}

func (s *Session) aggregateLocked() float64 {
	var invested, value, realized float64
	for _, p := range s.positions {
		invested += p.Size
		value += p.Size + p.Profit
	}
	for _, t := range s.trades {
		if t.Side == SideSell {
			realized += t.Profit
		}
	}
	return value - invested + realized
}

func (s *Session) progressLocked() float64 {
	elapsed := s.now().Sub(s.startTime)
	return min(100, float64(elapsed)/float64(s.duration)*100)
}

func (s *Session) resultLocked(topUp float64) Result {
	closed, wins, losses := s.closedStatsLocked()
	opened := 0
	for _, t := range s.trades {
		if t.Side == SideBuy {
			opened++
		}
	}

	end := s.now()
	res := Result{
		RunID:           s.runID,
		UserID:          s.userID,
		Mode:            s.mode,
		InitialAmount:   s.initialAmount,
		FinalAmount:     s.currentAmount,
		TotalProfit:     s.totalPNL,
		ReturnPct:       s.totalPNL / s.initialAmount * 100,
		GuaranteedPct:   s.cfg.GuaranteedPct(),
		TotalTrades:     len(s.trades),
		ClosedTrades:    closed,
		WinningTrades:   wins,
		LosingTrades:    losses,
		WinRate:         winRate(wins, closed),
		PositionsOpened: opened,
		Duration:        end.Sub(s.startTime),
		GuaranteeTopUp:  topUp,
		GuaranteeMet:    s.totalPNL >= s.floor,
		StartedAt:       s.startTime,
		EndedAt:         end,
	}
	if s.bestTrade != nil {
		bt := *s.bestTrade
		res.BestTrade = &bt
	}
	return res
}

func (s *Session) closedStatsLocked() (closed, wins, losses int) {
	for _, t := range s.trades {
		if t.Side != SideSell {
			continue
		}
		closed++
		if t.Profit > 0 {
			wins++
		} else {
			losses++
		}
	}
	return closed, wins, losses
}

func winRate(wins, closed int) float64 {
	if closed == 0 {
		return 100
	}
	return float64(wins) / float64(closed) * 100
}

// ProgressBar renders percent as a 20-cell bar.
func ProgressBar(percent float64) string {
	filled := int(percent/100*progressBarCells + 0.5)
	filled = max(0, min(progressBarCells, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", progressBarCells-filled)
}
