package store

import (
	"context"

	"github.com/shopspring/decimal"

	"autotrade-sim/internal/ledger"
	"autotrade-sim/internal/oracle"
)

type flatOracle struct{}

func (flatOracle) Quote(_ context.Context, token oracle.Token) (oracle.Quote, error) {
	return oracle.Quote{Name: token.Name, Symbol: token.Symbol, Price: 0.001}, nil
}

func (flatOracle) Price(context.Context, oracle.Token) float64 { return 0.001 }

func ledgerWith(userID int64, amount int64) *ledger.MemoryLedger {
	l := ledger.NewMemoryLedger()
	l.Set(userID, decimal.NewFromInt(amount))
	return l
}
