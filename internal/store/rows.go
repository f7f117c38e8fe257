package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"autotrade-sim/internal/autotrade"
	"autotrade-sim/internal/models"
)

func sessionRows(sessions []autotrade.SessionSnapshot) ([]models.SessionState, error) {
	rows := make([]models.SessionState, 0, len(sessions))
	for _, ss := range sessions {
		payload, err := json.Marshal(ss)
		if err != nil {
			return nil, fmt.Errorf("failed to encode session of user %d: %w", ss.UserID, err)
		}
		rows = append(rows, models.SessionState{
			UserID:  ss.UserID,
			RunID:   ss.RunID,
			Mode:    string(ss.Mode),
			State:   string(ss.State),
			Payload: string(payload),
		})
	}
	return rows, nil
}

func quotaRows(records []autotrade.QuotaRecord) []models.QuotaState {
	rows := make([]models.QuotaState, 0, len(records))
	for _, r := range records {
		rows = append(rows, models.QuotaState{UserID: r.UserID, DailyCount: r.DailyCount, LastDate: r.LastDate})
	}
	return rows
}

func balanceRows(balances map[int64]decimal.Decimal) []models.Balance {
	rows := make([]models.Balance, 0, len(balances))
	for user, amount := range balances {
		rows = append(rows, models.Balance{UserID: user, Amount: amount})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows
}

func bestTradeRows(entries map[int64][]autotrade.BestTrade) []models.BestTradeEntry {
	var rows []models.BestTradeEntry
	for user, list := range entries {
		for rank, bt := range list {
			rows = append(rows, models.BestTradeEntry{
				UserID:     user,
				Rank:       rank,
				Token:      bt.Token,
				Mode:       string(bt.Mode),
				Profit:     bt.Profit,
				PnLPercent: bt.PnLPercent,
				BuyPrice:   bt.BuyPrice,
				SellPrice:  bt.SellPrice,
				DurationMs: bt.Duration.Milliseconds(),
				TradedAt:   bt.Time,
			})
		}
	}
	return rows
}

func resultRow(res autotrade.Result) (models.SessionResult, error) {
	row := models.SessionResult{
		RunID:           res.RunID,
		UserID:          res.UserID,
		Mode:            string(res.Mode),
		InitialAmount:   res.InitialAmount,
		FinalAmount:     res.FinalAmount,
		Profit:          res.TotalProfit,
		ReturnPct:       res.ReturnPct,
		GuaranteedPct:   res.GuaranteedPct,
		TradesCount:     res.TotalTrades,
		ClosedTrades:    res.ClosedTrades,
		WinningTrades:   res.WinningTrades,
		LosingTrades:    res.LosingTrades,
		WinRate:         res.WinRate,
		PositionsOpened: res.PositionsOpened,
		DurationMs:      res.Duration.Milliseconds(),
		TopUp:           res.GuaranteeTopUp,
		GuaranteeMet:    res.GuaranteeMet,
		StartedAt:       res.StartedAt,
		EndedAt:         res.EndedAt,
	}
	if res.BestTrade != nil {
		b, err := json.Marshal(res.BestTrade)
		if err != nil {
			return row, fmt.Errorf("failed to encode best trade: %w", err)
		}
		row.BestTrade = string(b)
	}
	return row, nil
}

// ResultFromRow converts a history record back into a Result.
func ResultFromRow(row models.SessionResult) autotrade.Result {
	res := autotrade.Result{
		RunID:           row.RunID,
		UserID:          row.UserID,
		Mode:            autotrade.Mode(row.Mode),
		InitialAmount:   row.InitialAmount,
		FinalAmount:     row.FinalAmount,
		TotalProfit:     row.Profit,
		ReturnPct:       row.ReturnPct,
		GuaranteedPct:   row.GuaranteedPct,
		TotalTrades:     row.TradesCount,
		ClosedTrades:    row.ClosedTrades,
		WinningTrades:   row.WinningTrades,
		LosingTrades:    row.LosingTrades,
		WinRate:         row.WinRate,
		PositionsOpened: row.PositionsOpened,
		Duration:        time.Duration(row.DurationMs) * time.Millisecond,
		GuaranteeTopUp:  row.TopUp,
		GuaranteeMet:    row.GuaranteeMet,
		StartedAt:       row.StartedAt,
		EndedAt:         row.EndedAt,
	}
	if row.BestTrade != "" {
		var bt autotrade.BestTrade
		if err := json.Unmarshal([]byte(row.BestTrade), &bt); err == nil {
			res.BestTrade = &bt
		}
	}
	return res
}
