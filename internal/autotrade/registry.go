package autotrade

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrade-sim/internal/config"
	"autotrade-sim/internal/ledger"
	"autotrade-sim/internal/notify"
	"autotrade-sim/internal/oracle"
)

var (
	// ErrAlreadyActive is returned when the user already runs a session.
	ErrAlreadyActive = errors.New("autotrade session already active")
	// ErrNoActiveSession is returned when the user has no running session.
	ErrNoActiveSession = errors.New("no active autotrade session")
	// ErrInvalidAmount is returned for non-positive or non-finite amounts.
	ErrInvalidAmount = errors.New("invalid autotrade amount")
	// ErrInsufficientBalance is returned when the balance cannot cover the amount.
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
)

// RestorePolicy decides what happens to sessions found running at start-up.
type RestorePolicy string

const (
	RestoreRearm     RestorePolicy = "rearm"
	RestoreForceStop RestorePolicy = "force_stop"
)

// Balances is a ledger that can be persisted.
type Balances interface {
	ledger.Ledger
	Snapshot() map[int64]decimal.Decimal
	Restore(map[int64]decimal.Decimal)
}

// Snapshot is the full persisted state of the registry.
type Snapshot struct {
	Sessions   []SessionSnapshot
	Quotas     []QuotaRecord
	BestTrades map[int64][]BestTrade
	Balances   map[int64]decimal.Decimal
	SavedAt    time.Time
}

// Store persists registry snapshots and session results.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	RecordResult(ctx context.Context, res Result) error
	ListResults(ctx context.Context, userID int64, limit int) ([]Result, error)
}

// Options configure a Registry.
type Options struct {
	DailyLimit        int
	SessionDuration   time.Duration
	UIRefreshInterval time.Duration
	RestorePolicy     RestorePolicy
	HistoryLimit      int
	Tokens            []oracle.Token
	Now               func() time.Time
	NewRand           func() Rand
}

// OptionsFromConfig maps the autotrade config section to Options.
func OptionsFromConfig(cfg config.Autotrade, tokens []oracle.Token) Options {
	return Options{
		DailyLimit:        cfg.DailySessionLimit,
		SessionDuration:   cfg.SessionDuration,
		UIRefreshInterval: cfg.UIRefreshInterval,
		RestorePolicy:     RestorePolicy(cfg.RestorePolicy),
		HistoryLimit:      cfg.HistoryLimit,
		Tokens:            tokens,
	}
}

type entry struct {
	session *Session
	tick    *Task
	ui      *Task
}

// cancelTasks stops future runs of both tasks without waiting.
func (e *entry) cancelTasks() {
	e.tick.Cancel()
	e.ui.Cancel()
}

// Registry owns every running session and the state shared between them.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry

	persistMu sync.Mutex

	oracle  oracle.Oracle
	ledger  Balances
	quotas  *QuotaGate
	best    *BestTradeBook
	store   Store
	sink    notify.Sink
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
	newRand func() Rand

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates a registry. Call Restore before accepting requests.
func NewRegistry(o oracle.Oracle, balances Balances, store Store, sink notify.Sink, logger *zap.Logger, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRand == nil {
		opts.NewRand = func() Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) }
	}
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = DefaultSessionDuration
	}
	if opts.RestorePolicy == "" {
		opts.RestorePolicy = RestoreForceStop
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultBestTradesLimit
	}
	if len(opts.Tokens) == 0 {
		opts.Tokens = oracle.DefaultTokens()
	}
	if sink == nil {
		sink = notify.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		entries: make(map[int64]*entry),
		oracle:  o,
		ledger:  balances,
		quotas:  NewQuotaGate(opts.DailyLimit, opts.Now),
		best:    NewBestTradeBook(DefaultBestTradesLimit),
		store:   store,
		sink:    sink,
		logger:  logger.Named("registry"),
		opts:    opts,
		now:     opts.Now,
		newRand: opts.NewRand,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (r *Registry) deps() Deps {
	return Deps{
		Oracle:   r.oracle,
		Ledger:   r.ledger,
		Sink:     r.sink,
		Tokens:   r.opts.Tokens,
		Logger:   r.logger,
		Now:      r.now,
		Rand:     r.newRand(),
		Duration: r.opts.SessionDuration,
	}
}

// Create debits amount from the user's balance and starts a new session.
func (r *Registry) Create(ctx context.Context, userID int64, mode Mode, amount float64) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	// The stake is debited below, so the session must start and persist
	// even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	// 1. Reserve the slot, check the quota and take the money in one step.
	r.mu.Lock()
	if _, ok := r.entries[userID]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	if !r.quotas.CanStart(userID) {
		r.mu.Unlock()
		return nil, ErrQuotaExceeded
	}
	stake := decimal.NewFromFloat(amount)
	if err := r.ledger.Debit(userID, stake); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("debit stake: %w", err)
	}
	used, err := r.quotas.RecordStart(userID)
	if err != nil {
		r.ledger.Add(userID, stake)
		r.mu.Unlock()
		return nil, err
	}
	s := NewSession(userID, mode, amount, r.deps())
	e := &entry{session: s}
	r.entries[userID] = e
	r.mu.Unlock()

	// 2. Open the initial positions.
	if err := s.Start(ctx); err != nil {
		r.logger.Warn("Session stopped while starting", zap.Int64("user_id", userID), zap.Error(err))
		return s, err
	}

	// 3. Arm the timers unless a stop got in first.
	r.mu.Lock()
	armed := r.entries[userID] == e
	if armed {
		r.armLocked(e)
	}
	r.mu.Unlock()
	if !armed {
		return s, ErrSessionStopped
	}

	sessionsStarted.WithLabelValues(string(mode)).Inc()
	sessionsActive.Inc()
	r.logger.Info("Autotrade session created",
		zap.Int64("user_id", userID),
		zap.String("mode", string(mode)),
		zap.Float64("amount", amount),
		zap.Int("sessions_today", used),
	)

	r.persist(ctx)
	r.push(ctx, userID, notify.KindSessionStarted, s.View())
	return s, nil
}

// armLocked starts the tick task and the coarser UI task of an entry.
func (r *Registry) armLocked(e *entry) {
	interval := e.session.Config().TickInterval
	e.tick = Every(r.ctx, interval, func(ctx context.Context) { r.onTick(ctx, e) })

	ui := r.opts.UIRefreshInterval
	if ui < interval {
		ui = interval
	}
	e.ui = Every(r.ctx, ui, func(ctx context.Context) { r.pushView(ctx, e) })
}

func (r *Registry) onTick(ctx context.Context, e *entry) {
	report := e.session.Tick(ctx)
	if report.Skipped {
		ticksTotal.WithLabelValues("skipped").Inc()
		return
	}
	ticksTotal.WithLabelValues("ok").Inc()

	if report.Stopped {
		r.finish(context.WithoutCancel(ctx), e, *report.Result)
		return
	}
	r.best.Add(e.session.UserID(), e.session.TakeBestTrades()...)
	if report.Mutated {
		r.persist(context.WithoutCancel(ctx))
	}
}

func (r *Registry) pushView(ctx context.Context, e *entry) {
	v := e.session.View()
	if v.State != StateRunning {
		return
	}
	r.push(ctx, v.UserID, notify.KindSessionUpdate, v)
}

// Get returns the user's running session.
func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Active returns the ids of users with a running session, sorted.
func (r *Registry) Active() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stop ends the user's session and returns its result.
func (r *Registry) Stop(ctx context.Context, userID int64) (Result, error) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	var tick, ui *Task
	if ok {
		tick, ui = e.tick, e.ui
	}
	r.mu.Unlock()
	if !ok {
		return Result{}, ErrNoActiveSession
	}
	// Once stopped, the result and snapshot writes must not depend on the caller.
	ctx = context.WithoutCancel(ctx)

	// Wait for an in-flight tick so the stop sees a settled session.
	tick.Stop()
	ui.Stop()

	res := e.session.Stop(ctx)
	r.finish(ctx, e, res)
	return res, nil
}

// finish removes a stopped session and records its outcome. Only the first
// caller for an entry does the work.
func (r *Registry) finish(ctx context.Context, e *entry, res Result) {
	userID := e.session.UserID()

	r.mu.Lock()
	if r.entries[userID] != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	e.cancelTasks()
	r.mu.Unlock()

	r.best.Add(userID, e.session.TakeBestTrades()...)
	if err := r.store.RecordResult(ctx, res); err != nil {
		persistFailures.Inc()
		r.logger.Error("Failed to record session result", zap.Int64("user_id", userID), zap.Error(err))
	}

	sessionsActive.Dec()
	sessionsFinished.WithLabelValues(string(res.Mode)).Inc()
	r.persist(ctx)
	r.push(ctx, userID, notify.KindSessionResult, res)
}

// Restore loads the last snapshot and applies the restore policy to
// sessions that were still running.
func (r *Registry) Restore(ctx context.Context) error {
	snap, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	r.ledger.Restore(snap.Balances)
	r.quotas.Restore(snap.Quotas)
	r.best.Restore(snap.BestTrades)

	var rearmed, stopped int
	for _, ss := range snap.Sessions {
		if ss.State == StateStopped || !ss.Mode.Valid() {
			continue
		}
		s := RestoreSession(ss, r.deps())

		if r.opts.RestorePolicy == RestoreRearm {
			e := &entry{session: s}
			r.mu.Lock()
			r.entries[s.UserID()] = e
			r.armLocked(e)
			r.mu.Unlock()
			sessionsActive.Inc()
			rearmed++
			continue
		}

		res := s.Stop(ctx)
		r.best.Add(s.UserID(), s.TakeBestTrades()...)
		if err := r.store.RecordResult(ctx, res); err != nil {
			r.logger.Error("Failed to record restored session result", zap.Int64("user_id", s.UserID()), zap.Error(err))
		}
		sessionsFinished.WithLabelValues(string(res.Mode)).Inc()
		r.push(ctx, s.UserID(), notify.KindSessionResult, res)
		stopped++
	}

	r.logger.Info("Registry restored",
		zap.String("policy", string(r.opts.RestorePolicy)),
		zap.Int("rearmed", rearmed),
		zap.Int("force_stopped", stopped),
		zap.Time("saved_at", snap.SavedAt),
	)
	r.persist(ctx)
	return nil
}

// Shutdown stops every task and persists. Sessions stay running in the
// snapshot.
func (r *Registry) Shutdown(ctx context.Context) {
	r.cancel()

	r.mu.Lock()
	tasks := make([]*Task, 0, 2*len(r.entries))
	for _, e := range r.entries {
		tasks = append(tasks, e.tick, e.ui)
	}
	sessions := len(r.entries)
	r.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
	r.persist(ctx)
	r.logger.Info("Registry shut down", zap.Int("sessions", sessions))
}

// Deposit adds amount to the user's balance.
func (r *Registry) Deposit(ctx context.Context, userID int64, amount float64) (decimal.Decimal, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	balance := r.ledger.Add(userID, decimal.NewFromFloat(amount))
	r.persist(context.WithoutCancel(ctx))
	return balance, nil
}

// Balance returns the user's main balance.
func (r *Registry) Balance(userID int64) decimal.Decimal {
	return r.ledger.Balance(userID)
}

// History returns the user's latest session results.
func (r *Registry) History(ctx context.Context, userID int64, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = r.opts.HistoryLimit
	}
	return r.store.ListResults(ctx, userID, limit)
}

// BestTrades returns the user's best trades, highest profit first.
func (r *Registry) BestTrades(userID int64) []BestTrade {
	return r.best.Get(userID)
}

// QuotaInfo returns the user's quota for today.
func (r *Registry) QuotaInfo(userID int64) QuotaInfo {
	return r.quotas.Info(userID)
}

func (r *Registry) snapshot() Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.session)
	}
	r.mu.Unlock()

	snap := Snapshot{
		Sessions:   make([]SessionSnapshot, 0, len(sessions)),
		Quotas:     r.quotas.Snapshot(),
		BestTrades: r.best.Snapshot(),
		Balances:   r.ledger.Snapshot(),
		SavedAt:    r.now(),
	}
	for _, s := range sessions {
		snap.Sessions = append(snap.Sessions, s.Snapshot())
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].UserID < snap.Sessions[j].UserID })
	return snap
}

// persist writes a snapshot, retrying once. Failures only get logged.
func (r *Registry) persist(ctx context.Context) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	snap := r.snapshot()
	err := r.store.Save(ctx, snap)
	if err == nil {
		return
	}
	persistFailures.Inc()
	r.logger.Warn("Snapshot write failed, retrying", zap.Error(err))

	if err := r.store.Save(ctx, snap); err != nil {
		persistFailures.Inc()
		r.logger.Error("Snapshot write failed", zap.Error(err))
	}
}

func (r *Registry) push(ctx context.Context, userID int64, kind notify.Kind, payload any) {
	err := r.sink.Push(ctx, userID, notify.Update{
		Kind:    kind,
		UserID:  userID,
		Time:    r.now(),
		Payload: payload,
	})
	if err == nil {
		return
	}
	if errors.Is(err, notify.ErrNoSubscribers) {
		r.logger.Debug("No subscribers for update", zap.Int64("user_id", userID), zap.String("kind", string(kind)))
		return
	}
	notifyFailures.Inc()
	r.logger.Warn("Failed to deliver update", zap.Int64("user_id", userID), zap.String("kind", string(kind)), zap.Error(err))
}
