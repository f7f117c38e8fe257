package autotrade

import (
	"errors"
	"sync"
	"time"
)

// DefaultDailyLimit is the number of sessions a user may start per day.
const DefaultDailyLimit = 3

const dateLayout = "2006-01-02"

// ErrQuotaExceeded is returned when the user has used today's sessions.
var ErrQuotaExceeded = errors.New("daily autotrade session limit reached")

// QuotaRecord is the persisted per-user counter.
type QuotaRecord struct {
	UserID     int64  `json:"user_id"`
	DailyCount int    `json:"daily_count"`
	LastDate   string `json:"last_date"`
}

// QuotaInfo describes the user's quota for today.
type QuotaInfo struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	LastDate  string `json:"last_date,omitempty"`
	CanStart  bool   `json:"can_start"`
}

// QuotaGate limits how many sessions a user can start per calendar day.
type QuotaGate struct {
	mu      sync.Mutex
	limit   int
	records map[int64]QuotaRecord
	now     func() time.Time
}

// NewQuotaGate creates a gate. A non-positive limit falls back to DefaultDailyLimit.
func NewQuotaGate(limit int, now func() time.Time) *QuotaGate {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if now == nil {
		now = time.Now
	}
	return &QuotaGate{
		limit:   limit,
		records: make(map[int64]QuotaRecord),
		now:     now,
	}
}

// CanStart reports whether the user has sessions left today.
func (g *QuotaGate) CanStart(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentLocked(userID).DailyCount < g.limit
}

// RecordStart consumes one session and returns the number used today.
func (g *QuotaGate) RecordStart(userID int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.currentLocked(userID)
	if rec.DailyCount >= g.limit {
		return rec.DailyCount, ErrQuotaExceeded
	}
	rec.DailyCount++
	g.records[userID] = rec
	return rec.DailyCount, nil
}

// Remaining returns the sessions left today.
func (g *QuotaGate) Remaining(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return max(0, g.limit-g.currentLocked(userID).DailyCount)
}

// Info returns the user's quota view.
func (g *QuotaGate) Info(userID int64) QuotaInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.currentLocked(userID)
	remaining := max(0, g.limit-rec.DailyCount)
	return QuotaInfo{
		Used:      rec.DailyCount,
		Limit:     g.limit,
		Remaining: remaining,
		LastDate:  rec.LastDate,
		CanStart:  remaining > 0,
	}
}

// Snapshot returns every stored record.
func (g *QuotaGate) Snapshot() []QuotaRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]QuotaRecord, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, rec)
	}
	return out
}

// Restore replaces the stored records.
func (g *QuotaGate) Restore(records []QuotaRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records = make(map[int64]QuotaRecord, len(records))
	for _, rec := range records {
		g.records[rec.UserID] = rec
	}
}

// currentLocked returns today's view of the user's record, with the counter
// reset on a new day. It never stores anything; only RecordStart does.
func (g *QuotaGate) currentLocked(userID int64) QuotaRecord {
	today := g.now().Format(dateLayout)
	rec, ok := g.records[userID]
	if !ok || rec.LastDate != today {
		rec = QuotaRecord{UserID: userID, DailyCount: 0, LastDate: today}
	}
	return rec
}
