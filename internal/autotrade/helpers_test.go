package autotrade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"autotrade-sim/internal/ledger"
	"autotrade-sim/internal/notify"
	"autotrade-sim/internal/oracle"
)

// scriptedRand returns queued values first, then fallback. Intn always picks
// the first candidate so token order is predictable.
type scriptedRand struct {
	mu       sync.Mutex
	values   []float64
	fallback float64
}

func (r *scriptedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) > 0 {
		v := r.values[0]
		r.values = r.values[1:]
		return v
	}
	return r.fallback
}

func (r *scriptedRand) Intn(int) int { return 0 }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 14, 12, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubOracle quotes a fixed price, or fails for symbols listed in fail.
type stubOracle struct {
	mu    sync.Mutex
	price float64
	fail  map[string]bool
	down  bool
	calls int
}

func (o *stubOracle) Quote(ctx context.Context, token oracle.Token) (oracle.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if ctx.Err() != nil {
		return oracle.Quote{}, oracle.ErrOracleUnavailable
	}
	if o.down || o.fail[token.Symbol] {
		return oracle.Quote{}, oracle.ErrOracleUnavailable
	}
	return oracle.Quote{Name: token.Name, Symbol: token.Symbol, Price: o.price}, nil
}

func (o *stubOracle) Price(ctx context.Context, token oracle.Token) float64 {
	q, err := o.Quote(ctx, token)
	if err != nil {
		return oracle.FallbackPrice
	}
	return q.Price
}

func (o *stubOracle) setDown(down bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = down
}

// recordingSink keeps every pushed update.
type recordingSink struct {
	mu      sync.Mutex
	updates []notify.Update
}

func (s *recordingSink) Push(_ context.Context, _ int64, u notify.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *recordingSink) kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Kind, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, u.Kind)
	}
	return out
}

// memStore is an in-memory Store. failSaves makes the next saves fail.
// Like a database, it refuses writes on a done context.
type memStore struct {
	mu        sync.Mutex
	snap      Snapshot
	saves     int
	failSaves int
	results   []Result
}

func (m *memStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failSaves > 0 {
		m.failSaves--
		return errors.New("disk full")
	}
	m.snap = snap
	return nil
}

func (m *memStore) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memStore) RecordResult(ctx context.Context, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.results = append(m.results, res)
	return nil
}

func (m *memStore) ListResults(_ context.Context, userID int64, limit int) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Result
	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		if m.results[i].UserID == userID {
			out = append(out, m.results[i])
		}
	}
	return out, nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// flatTokens have zero volatility, so biased prices never move on their own.
func flatTokens() []oracle.Token {
	return []oracle.Token{
		{Name: "Alpha", Symbol: "AAA", Address: "addr-a"},
		{Name: "Bravo", Symbol: "BBB", Address: "addr-b"},
		{Name: "Charlie", Symbol: "CCC", Address: "addr-c"},
		{Name: "Delta", Symbol: "DDD", Address: "addr-d"},
		{Name: "Echo", Symbol: "EEE", Address: "addr-e"},
		{Name: "Foxtrot", Symbol: "FFF", Address: "addr-f"},
	}
}

type sessionFixture struct {
	session *Session
	clock   *fakeClock
	oracle  *stubOracle
	ledger  *ledger.MemoryLedger
	sink    *recordingSink
	rnd     *scriptedRand
}

func newSessionFixture(t *testing.T, mode Mode, amount float64) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		clock:  newFakeClock(),
		oracle: &stubOracle{price: 0.001},
		ledger: ledger.NewMemoryLedger(),
		sink:   &recordingSink{},
		rnd:    &scriptedRand{fallback: 0.9},
	}
	f.session = NewSession(42, mode, amount, Deps{
		Oracle: f.oracle,
		Ledger: f.ledger,
		Sink:   f.sink,
		Tokens: flatTokens(),
		Logger: zap.NewNop(),
		Now:    f.clock.Now,
		Rand:   f.rnd,
	})
	return f
}

func (f *sessionFixture) openSum() float64 {
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	var sum float64
	for _, p := range f.session.positions {
		sum += p.Size
	}
	return sum
}

// markAll moves every open position to buy × factor.
func (f *sessionFixture) markAll(factor float64) {
	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	for _, p := range f.session.positions {
		p.mark(p.BuyPrice * factor)
	}
}
