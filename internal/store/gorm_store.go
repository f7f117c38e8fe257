// Package store persists the autotrade registry in a SQL database via gorm.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"autotrade-sim/internal/autotrade"
	"autotrade-sim/internal/models"
)

const metaID = 1

// GormStore implements autotrade.Store. A snapshot replaces the previous one
// inside a single transaction, so readers never see a half-written state.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ autotrade.Store = (*GormStore)(nil)

// NewGormStore creates a store over a migrated database.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger.Named("store")}
}

// Save replaces the stored snapshot.
func (s *GormStore) Save(ctx context.Context, snap autotrade.Snapshot) error {
	sessions, err := sessionRows(snap.Sessions)
	if err != nil {
		return err
	}
	quotas := quotaRows(snap.Quotas)
	balances := balanceRows(snap.Balances)
	best := bestTradeRows(snap.BestTrades)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []any{&models.SessionState{}, &models.QuotaState{}, &models.Balance{}, &models.BestTradeEntry{}} {
			if err := tx.Where("1 = 1").Delete(table).Error; err != nil {
				return fmt.Errorf("failed to clear %T: %w", table, err)
			}
		}
		if len(sessions) > 0 {
			if err := tx.Create(&sessions).Error; err != nil {
				return fmt.Errorf("failed to save sessions: %w", err)
			}
		}
		if len(quotas) > 0 {
			if err := tx.Create(&quotas).Error; err != nil {
				return fmt.Errorf("failed to save quotas: %w", err)
			}
		}
		if len(balances) > 0 {
			if err := tx.Create(&balances).Error; err != nil {
				return fmt.Errorf("failed to save balances: %w", err)
			}
		}
		if len(best) > 0 {
			if err := tx.CreateInBatches(&best, 100).Error; err != nil {
				return fmt.Errorf("failed to save best trades: %w", err)
			}
		}
		meta := models.SnapshotMeta{ID: metaID, SavedAt: snap.SavedAt, Sessions: len(sessions)}
		if err := tx.Save(&meta).Error; err != nil {
			return fmt.Errorf("failed to save snapshot meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved", zap.Int("sessions", len(sessions)), zap.Int("balances", len(balances)))
	return nil
}

// Load reads the stored snapshot. An empty database gives an empty snapshot.
func (s *GormStore) Load(ctx context.Context) (autotrade.Snapshot, error) {
	db := s.db.WithContext(ctx)
	snap := autotrade.Snapshot{
		BestTrades: make(map[int64][]autotrade.BestTrade),
		Balances:   make(map[int64]decimal.Decimal),
	}

	var meta models.SnapshotMeta
	err := db.First(&meta, metaID).Error
	switch {
	case err == nil:
		snap.SavedAt = meta.SavedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return snap, fmt.Errorf("failed to load snapshot meta: %w", err)
	}

	var sessions []models.SessionState
	if err := db.Order("user_id").Find(&sessions).Error; err != nil {
		return snap, fmt.Errorf("failed to load sessions: %w", err)
	}
	for _, row := range sessions {
		var ss autotrade.SessionSnapshot
		if err := json.Unmarshal([]byte(row.Payload), &ss); err != nil {
			s.logger.Error("Skipping unreadable session", zap.Int64("user_id", row.UserID), zap.Error(err))
			continue
		}
		snap.Sessions = append(snap.Sessions, ss)
	}

	var quotas []models.QuotaState
	if err := db.Find(&quotas).Error; err != nil {
		return snap, fmt.Errorf("failed to load quotas: %w", err)
	}
	for _, q := range quotas {
		snap.Quotas = append(snap.Quotas, autotrade.QuotaRecord{UserID: q.UserID, DailyCount: q.DailyCount, LastDate: q.LastDate})
	}

	var balances []models.Balance
	if err := db.Find(&balances).Error; err != nil {
		return snap, fmt.Errorf("failed to load balances: %w", err)
	}
	for _, b := range balances {
		snap.Balances[b.UserID] = b.Amount
	}

	var best []models.BestTradeEntry
	if err := db.Order("user_id, rank_no").Find(&best).Error; err != nil {
		return snap, fmt.Errorf("failed to load best trades: %w", err)
	}
	for _, row := range best {
		snap.BestTrades[row.UserID] = append(snap.BestTrades[row.UserID], autotrade.BestTrade{
			Token:      row.Token,
			Profit:     row.Profit,
			PnLPercent: row.PnLPercent,
			BuyPrice:   row.BuyPrice,
			SellPrice:  row.SellPrice,
			Duration:   time.Duration(row.DurationMs) * time.Millisecond,
			Mode:       autotrade.Mode(row.Mode),
			Time:       row.TradedAt,
		})
	}
	return snap, nil
}

// RecordResult appends a session result to the history.
func (s *GormStore) RecordResult(ctx context.Context, res autotrade.Result) error {
	row, err := resultRow(res)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record result %s: %w", res.RunID, err)
	}
	return nil
}

// ListResults returns the user's latest results, newest first.
func (s *GormStore) ListResults(ctx context.Context, userID int64, limit int) ([]autotrade.Result, error) {
	var rows []models.SessionResult
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("ended_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	out := make([]autotrade.Result, 0, len(rows))
	for _, row := range rows {
		out = append(out, ResultFromRow(row))
	}
	return out, nil
}
