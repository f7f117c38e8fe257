package autotrade

import (
	"sort"
	"sync"
)

// DefaultBestTradesLimit is how many best trades are kept per user.
const DefaultBestTradesLimit = 10

// BestTradeBook keeps each user's most profitable best trades, highest first.
type BestTradeBook struct {
	mu      sync.Mutex
	limit   int
	entries map[int64][]BestTrade
}

// NewBestTradeBook creates a book keeping limit entries per user.
func NewBestTradeBook(limit int) *BestTradeBook {
	if limit <= 0 {
		limit = DefaultBestTradesLimit
	}
	return &BestTradeBook{limit: limit, entries: make(map[int64][]BestTrade)}
}

// Add records trades for the user and trims the list.
func (b *BestTradeBook) Add(userID int64, trades ...BestTrade) {
	if len(trades) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := append(b.entries[userID], trades...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Profit > list[j].Profit })
	if len(list) > b.limit {
		list = list[:b.limit]
	}
	b.entries[userID] = list
}

// Get returns a copy of the user's best trades.
func (b *BestTradeBook) Get(userID int64) []BestTrade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BestTrade(nil), b.entries[userID]...)
}

// Snapshot returns a copy of every user's list.
func (b *BestTradeBook) Snapshot() map[int64][]BestTrade {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[int64][]BestTrade, len(b.entries))
	for user, list := range b.entries {
		out[user] = append([]BestTrade(nil), list...)
	}
	return out
}

// Restore replaces the book's content.
func (b *BestTradeBook) Restore(entries map[int64][]BestTrade) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[int64][]BestTrade, len(entries))
	for user, list := range entries {
		b.entries[user] = append([]BestTrade(nil), list...)
	}
}
