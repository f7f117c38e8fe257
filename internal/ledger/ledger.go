// Package ledger keeps the users' main balances.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientBalance is returned when a debit exceeds the balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger is the balance book shared by every session.
// Updates for the same user are serialized.
type Ledger interface {
	Balance(userID int64) decimal.Decimal
	Set(userID int64, amount decimal.Decimal)
	Add(userID int64, delta decimal.Decimal) decimal.Decimal
	Debit(userID int64, amount decimal.Decimal) error
}

// MemoryLedger is an in-memory Ledger persisted through snapshots.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[int64]decimal.Decimal)}
}

// Balance returns the user's balance, zero for unknown users.
func (l *MemoryLedger) Balance(userID int64) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// Set overwrites the user's balance.
func (l *MemoryLedger) Set(userID int64, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = amount
}

// Add applies delta and returns the new balance.
func (l *MemoryLedger) Add(userID int64, delta decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.balances[userID].Add(delta)
	l.balances[userID] = next
	return next
}

// Debit removes amount if the balance covers it.
func (l *MemoryLedger) Debit(userID int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("debit of negative amount %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.balances[userID]
	if current.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, current.StringFixed(4), amount.StringFixed(4))
	}
	l.balances[userID] = current.Sub(amount)
	return nil
}

// Snapshot returns a copy of every balance.
func (l *MemoryLedger) Snapshot() map[int64]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int64]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// Restore replaces every balance with the given ones.
func (l *MemoryLedger) Restore(balances map[int64]decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[int64]decimal.Decimal, len(balances))
	for k, v := range balances {
		l.balances[k] = v
	}
}
