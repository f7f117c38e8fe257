package autotrade

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"autotrade-sim/internal/ledger"
	"autotrade-sim/internal/notify"
	"autotrade-sim/internal/oracle"
)

func TestSession_StartFillsPositions(t *testing.T) {
	for _, mode := range Modes() {
		t.Run(string(mode), func(t *testing.T) {
			f := newSessionFixture(t, mode, 10)
			require.NoError(t, f.session.Start(context.Background()))

			v := f.session.View()
			maxPos := mode.Config().MaxPositions
			assert.Equal(t, StateRunning, v.State)
			assert.Len(t, v.Positions, maxPos)
			assert.Equal(t, maxPos, v.TotalTrades)

			seen := make(map[string]bool)
			for _, p := range v.Positions {
				assert.InDelta(t, 10/float64(maxPos), p.Size, 1e-9)
				assert.InDelta(t, 0.001, p.BuyPrice, 1e-12)
				assert.Equal(t, PositionOpen, p.Status)
				assert.False(t, seen[p.Token.Symbol], "token %s held twice", p.Token.Symbol)
				seen[p.Token.Symbol] = true
			}
			assert.InDelta(t, 0, v.CurrentAmount, 1e-9)
			assert.InDelta(t, 10, v.CurrentAmount+f.openSum(), 1e-9)
		})
	}
}

func TestSession_StartTwice(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))
	assert.Error(t, f.session.Start(context.Background()))
}

// Scenario A: SAFE with 10 gives two positions of 5 and a floor of 5.
func TestSession_SafeSizing(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	assert.Equal(t, 2, f.session.Config().MaxPositions)
	assert.InDelta(t, 5, f.session.positionSize, 1e-9)
	assert.InDelta(t, 5, f.session.floor, 1e-9)
	assert.InDelta(t, 5, f.session.View().GuaranteedAmount, 1e-9)
}

// Scenario B: a failed quote opens nothing and debits nothing.
func TestSession_OpenSkipsOnQuoteFailure(t *testing.T) {
	f := newSessionFixture(t, ModeNormal, 9)
	f.oracle.setDown(true)

	require.NoError(t, f.session.Start(context.Background()))
	v := f.session.View()
	assert.Empty(t, v.Positions)
	assert.Zero(t, v.TotalTrades)
	assert.InDelta(t, 9, v.CurrentAmount, 1e-9)

	p, ok := f.session.openPosition(context.Background(), StateRunning)
	assert.False(t, ok)
	assert.Nil(t, p)
	assert.Equal(t, v.CurrentAmount, f.session.View().CurrentAmount)
}

func TestSession_OpenRefusedWhenFullOrWrongState(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	_, ok := f.session.openPosition(context.Background(), StateRunning)
	assert.False(t, ok, "cap reached")

	_, ok = f.session.openPosition(context.Background(), StateInitializing)
	assert.False(t, ok, "wrong state")
}

func TestSession_TickKeepsRawPriceOnQuoteFailure(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	f.oracle.setDown(true)
	f.clock.Advance(35 * time.Second)
	report := f.session.Tick(context.Background())
	assert.True(t, report.Mutated)
	for _, p := range f.session.View().Positions {
		assert.InDelta(t, 0.001, p.RawPrice, 1e-12)
	}

	f.oracle.setDown(false)
	f.oracle.mu.Lock()
	f.oracle.price = 0.002
	f.oracle.mu.Unlock()
	f.session.Tick(context.Background())
	for _, p := range f.session.View().Positions {
		assert.InDelta(t, 0.002, p.RawPrice, 1e-12)
		assert.InDelta(t, 0.001, p.CurrentPrice, 1e-12)
	}
}

func TestSession_TickClosesAtTakeProfit(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	f.session.mu.Lock()
	first := f.session.positions[0]
	first.mark(first.TakeProfit)
	f.session.mu.Unlock()

	report := f.session.Tick(context.Background())
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, 1, report.Opened)

	// 5 × 0.8 = 4, above the 20% minimum, plus the 15% bonus.
	assert.InDelta(t, 4.6*0.9, f.ledger.Balance(42).InexactFloat64(), 1e-9)

	v := f.session.View()
	assert.Len(t, v.Positions, 2)
	assert.InDelta(t, 4.6, v.CurrentAmount, 1e-9)
	require.Len(t, v.RecentTrades, 1)
	assert.Equal(t, ReasonProfit, v.RecentTrades[0].Reason)
	assert.InDelta(t, 4.6, v.RecentTrades[0].Profit, 1e-9)
	assert.InDelta(t, 4.6, v.TotalPNL, 1e-9)

	best := f.session.TakeBestTrades()
	require.Len(t, best, 1)
	assert.InDelta(t, 4.6, best[0].Profit, 1e-9)
	assert.Empty(t, f.session.TakeBestTrades())
}

func TestSession_TickEarlyTakeOnCoinFlip(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	f.session.mu.Lock()
	f.session.positions[0].mark(f.session.positions[0].BuyPrice * 1.25)
	f.session.mu.Unlock()

	// Two price moves, then the coin flip for the first position.
	f.rnd.mu.Lock()
	f.rnd.values = []float64{0.9, 0.9, 0.1}
	f.rnd.mu.Unlock()

	report := f.session.Tick(context.Background())
	assert.Equal(t, 1, report.Closed)

	v := f.session.View()
	require.NotEmpty(t, v.RecentTrades)
	assert.InDelta(t, 5*0.25*1.15, v.RecentTrades[0].Profit, 1e-9)
}

func TestSession_LossAndCutLoss(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	s := f.session
	s.mu.Lock()
	s.positions[0].mark(s.positions[0].BuyPrice * 0.8)
	s.positions[1].mark(s.positions[1].BuyPrice * 0.97)
	closed := s.closeTriggeredLocked()
	s.mu.Unlock()

	assert.Equal(t, 1, closed)
	v := s.View()
	require.Len(t, v.RecentTrades, 1)
	assert.Equal(t, ReasonLoss, v.RecentTrades[0].Reason)
	assert.InDelta(t, -0.5, v.RecentTrades[0].Profit, 1e-9)
	assert.InDelta(t, 4.5, v.CurrentAmount, 1e-9)
	assert.True(t, f.ledger.Balance(42).IsZero())

	// The gate needs a position below -5%; only those below -8% are cut.
	s.mu.Lock()
	s.positions[0].mark(s.positions[0].BuyPrice * 0.9)
	f.rnd.values = []float64{0.5}
	assert.Equal(t, 0, s.cutLossesLocked(), "coin flip missed")
	f.rnd.values = []float64{0.1}
	assert.Equal(t, 1, s.cutLossesLocked())
	s.mu.Unlock()

	v = s.View()
	assert.Empty(t, v.Positions)
	assert.Equal(t, ReasonCutLoss, v.RecentTrades[1].Reason)
	assert.InDelta(t, -0.5, v.RecentTrades[1].Profit, 1e-9)
	assert.Equal(t, 0.0, v.WinRate)
}

// Scenario C: at 80% progress a session at 30% of its floor is lifted to 80%.
func TestSession_ConvergesLateInTheSession(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	f.markAll(1.15)
	f.clock.Advance(8 * time.Minute)
	report := f.session.Tick(context.Background())
	assert.Zero(t, report.Closed)

	v := f.session.View()
	assert.InDelta(t, 80, v.Progress, 1e-9)
	assert.InDelta(t, 4, v.TotalPNL, 1e-9)
	for _, p := range v.Positions {
		assert.InDelta(t, 2.0, p.Profit, 1e-9)
		assert.InDelta(t, 40, p.PnLPercent, 1e-9)
		assert.InDelta(t, p.BuyPrice*1.4, p.CurrentPrice, 1e-12)
	}
}

func TestSession_NoConvergenceBeforeSeventyPercent(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	f.markAll(1.15)
	f.clock.Advance(5 * time.Minute)
	f.session.Tick(context.Background())

	v := f.session.View()
	assert.InDelta(t, 1.5, v.TotalPNL, 1e-9)
	assert.False(t, v.Adjusting)

	f.clock.Advance(90 * time.Second)
	f.session.mu.Lock()
	f.session.progress = f.session.progressLocked()
	f.session.mu.Unlock()
	assert.True(t, f.session.View().Adjusting)
}

// Scenario D: DEGEN with 20 ends with exactly its floor of 50.
func TestSession_StopTopsUpToFloor(t *testing.T) {
	f := newSessionFixture(t, ModeDegen, 20)
	require.NoError(t, f.session.Start(context.Background()))
	require.Len(t, f.session.View().Positions, 5)

	f.markAll(1.5)
	res := f.session.Stop(context.Background())

	assert.Equal(t, 50.0, res.TotalProfit)
	assert.InDelta(t, 40, res.GuaranteeTopUp, 1e-9)
	assert.InDelta(t, 70, res.FinalAmount, 1e-9)
	assert.True(t, res.GuaranteeMet)
	assert.Equal(t, 5, res.ClosedTrades)
	assert.Equal(t, 5, res.WinningTrades)
	assert.Equal(t, 10, res.TotalTrades)
	assert.Equal(t, 5, res.PositionsOpened)
	assert.Equal(t, 100.0, res.WinRate)
	assert.InDelta(t, 250, res.GuaranteedPct, 1e-9)
	require.NotNil(t, res.BestTrade)
	assert.InDelta(t, 2, res.BestTrade.Profit, 1e-9)

	// 90% of 5 × 2 realized plus 90% of the 40 top-up.
	assert.InDelta(t, 45, f.ledger.Balance(42).InexactFloat64(), 1e-9)
	assert.Equal(t, []notify.Kind{notify.KindBestTrade}, f.sink.kinds())
	assert.Equal(t, StateStopped, f.session.State())
}

func TestSession_FloorAfterStopForEveryMode(t *testing.T) {
	for _, mode := range Modes() {
		t.Run(string(mode), func(t *testing.T) {
			f := newSessionFixture(t, mode, 3)
			require.NoError(t, f.session.Start(context.Background()))
			res := f.session.Stop(context.Background())

			floor := 3 * (mode.Config().GuaranteedMultiplier - 1)
			assert.GreaterOrEqual(t, res.TotalProfit, floor)
			assert.True(t, res.GuaranteeMet)
			// Flat prices close at zero profit, which counts as a loss.
			assert.Equal(t, mode.Config().MaxPositions, res.LosingTrades)
			assert.Equal(t, 0.0, res.WinRate)
			assert.Empty(t, f.sink.kinds(), "no positive best trade to announce")
		})
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, ModeNormal, 6)
	require.NoError(t, f.session.Start(context.Background()))
	f.markAll(1.1)

	results := make([]Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.session.Stop(context.Background())
		}(i)
	}
	wg.Wait()

	balance := f.ledger.Balance(42)
	for _, res := range results[1:] {
		assert.Equal(t, results[0], res)
	}
	assert.Equal(t, results[0], f.session.Stop(context.Background()))
	assert.True(t, balance.Equal(f.ledger.Balance(42)))
	assert.Len(t, f.sink.kinds(), 1)
}

func TestSession_TickSkipsWhenBusy(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	f.session.busy.Store(true)
	assert.True(t, f.session.Tick(context.Background()).Skipped)
	f.session.busy.Store(false)
	assert.False(t, f.session.Tick(context.Background()).Skipped)
}

// gatedOracle holds every Quote until release is closed.
type gatedOracle struct {
	inner   oracle.Oracle
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedOracle) Quote(ctx context.Context, token oracle.Token) (oracle.Quote, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.inner.Quote(ctx, token)
}

func TestSession_StopDuringTick(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	gate := &gatedOracle{inner: f.oracle, entered: make(chan struct{}), release: make(chan struct{})}
	f.session.oracle = gate

	reports := make(chan TickReport, 1)
	go func() { reports <- f.session.Tick(context.Background()) }()

	select {
	case <-gate.entered:
	case <-time.After(time.Second):
		t.Fatal("tick never reached the oracle")
	}

	res := f.session.Stop(context.Background())
	close(gate.release)

	var report TickReport
	select {
	case report = <-reports:
	case <-time.After(time.Second):
		t.Fatal("tick did not return after the oracle was released")
	}

	assert.False(t, report.Mutated)
	assert.False(t, report.Stopped)
	assert.Zero(t, report.Opened)
	assert.Zero(t, report.Closed)

	assert.Equal(t, StateStopped, f.session.State())
	assert.Empty(t, f.session.View().Positions)
	assert.True(t, res.GuaranteeMet)
	assert.Equal(t, res, f.session.Stop(context.Background()))
}

func TestSession_TickEndsSessionAfterDuration(t *testing.T) {
	f := newSessionFixture(t, ModeSafe, 10)
	require.NoError(t, f.session.Start(context.Background()))

	f.clock.Advance(DefaultSessionDuration)
	report := f.session.Tick(context.Background())
	require.True(t, report.Stopped)
	require.NotNil(t, report.Result)
	assert.Equal(t, time.Duration(DefaultSessionDuration), report.Result.Duration)
	assert.Equal(t, StateStopped, f.session.State())

	assert.Equal(t, TickReport{}, f.session.Tick(context.Background()))
	assert.Equal(t, *report.Result, f.session.Stop(context.Background()))
}

func TestSession_Invariants(t *testing.T) {
	for _, mode := range Modes() {
		for seed := int64(1); seed <= 15; seed++ {
			clock := newFakeClock()
			led := ledger.NewMemoryLedger()
			s := NewSession(1, mode, 12, Deps{
				Oracle: &stubOracle{price: 0.0004},
				Ledger: led,
				Tokens: oracle.DefaultTokens(),
				Logger: zap.NewNop(),
				Now:    clock.Now,
				Rand:   rand.New(rand.NewSource(seed)),
			})
			require.NoError(t, s.Start(context.Background()))
			cfg := mode.Config()

			var res *Result
			for i := 0; i < 100 && res == nil; i++ {
				clock.Advance(cfg.TickInterval)
				report := s.Tick(context.Background())
				res = report.Result

				s.mu.Lock()
				assert.LessOrEqual(t, len(s.positions), cfg.MaxPositions)
				var open float64
				for _, p := range s.positions {
					open += p.Size
				}
				assert.GreaterOrEqual(t, s.currentAmount+open, -1e-9)
				s.mu.Unlock()
			}

			require.NotNil(t, res, "session must end within its duration")
			assert.GreaterOrEqual(t, res.TotalProfit, 12*(cfg.GuaranteedMultiplier-1)-1e-9)
			assert.True(t, led.Balance(1).IsPositive())
		}
	}
}

func TestSession_SnapshotRoundTrip(t *testing.T) {
	f := newSessionFixture(t, ModeNormal, 9)
	require.NoError(t, f.session.Start(context.Background()))
	f.markAll(1.3)
	f.clock.Advance(2 * time.Minute)
	f.session.Tick(context.Background())

	snap := f.session.Snapshot()
	restored := RestoreSession(snap, Deps{
		Oracle: f.oracle,
		Ledger: f.ledger,
		Tokens: flatTokens(),
		Now:    f.clock.Now,
		Rand:   &scriptedRand{fallback: 0.9},
	})

	assert.Equal(t, f.session.View(), restored.View())
	assert.Equal(t, f.session.RunID(), restored.RunID())

	stopped := f.session.Stop(context.Background())
	again := RestoreSession(f.session.Snapshot(), Deps{Now: f.clock.Now})
	assert.Equal(t, StateStopped, again.State())
	assert.Equal(t, stopped.TotalProfit, again.Stop(context.Background()).TotalProfit)
}

func TestProgressBar(t *testing.T) {
	testCases := []struct {
		percent float64
		filled  int
	}{
		{0, 0},
		{2.4, 0},
		{2.5, 1},
		{50, 10},
		{100, 20},
		{140, 20},
	}

	for _, tc := range testCases {
		bar := []rune(ProgressBar(tc.percent))
		assert.Len(t, bar, 20)
		filled := 0
		for _, r := range bar {
			if r == '█' {
				filled++
			}
		}
		assert.Equal(t, tc.filled, filled, "percent %v", tc.percent)
	}
}
