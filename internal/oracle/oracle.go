// Package oracle wraps the external market-data lookup used to price
// simulated positions. Lookups are timeout-bounded and never block a caller
// for longer than the configured timeout.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autotrade-sim/internal/config"
	"autotrade-sim/internal/dexscreener"
	"go.uber.org/zap"
)

// FallbackPrice is returned by Price whenever the lookup fails.
const FallbackPrice = 0.000001

// ErrOracleUnavailable is returned when a quote could not be obtained in time
// or the upstream response was unusable.
var ErrOracleUnavailable = errors.New("price oracle unavailable")

// Quote is a market snapshot for one token.
type Quote struct {
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	Liquidity      float64 `json:"liquidity"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChange24h float64 `json:"price_change_24h"`
}

// Oracle prices tokens.
type Oracle interface {
	Quote(ctx context.Context, token Token) (Quote, error)
}

// Adapter implements Oracle on top of the DexScreener client and a QuoteCache.
type Adapter struct {
	client   dexscreener.RestClientInterface
	cache    QuoteCache
	logger   *zap.Logger
	timeout  time.Duration
	ttl      time.Duration
	fallback float64
}

var _ Oracle = (*Adapter)(nil)

// NewAdapter creates an oracle adapter. A nil cache disables caching.
func NewAdapter(client dexscreener.RestClientInterface, cache QuoteCache, cfg *config.Oracle, logger *zap.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	fallback := cfg.FallbackPrice
	if fallback <= 0 {
		fallback = FallbackPrice
	}
	return &Adapter{
		client:   client,
		cache:    cache,
		logger:   logger.Named("oracle"),
		timeout:  timeout,
		ttl:      cfg.CacheTTL,
		fallback: fallback,
	}
}

// Quote returns the quote of the pair with the deepest USD liquidity.
func (a *Adapter) Quote(ctx context.Context, token Token) (Quote, error) {
	l := a.logger.With(zap.String("symbol", token.Symbol))

	if a.cache != nil && a.ttl > 0 {
		q, ok, err := a.cache.Get(ctx, token.Address)
		if err != nil {
			l.Warn("Quote cache read failed, querying upstream", zap.Error(err))
		} else if ok {
			return q, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	pairs, err := a.client.GetTokenPairs(ctx, token.Address)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, token.Symbol, err)
	}

	q, err := bestQuote(pairs)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrOracleUnavailable, token.Symbol, err)
	}
	if q.Symbol == "" {
		q.Symbol = token.Symbol
	}
	if q.Name == "" {
		q.Name = token.Name
	}

	if a.cache != nil && a.ttl > 0 {
		if err := a.cache.Set(ctx, token.Address, q, a.ttl); err != nil {
			l.Warn("Quote cache write failed", zap.Error(err))
		}
	}
	return q, nil
}

// Price returns the token price or the fallback constant. It never fails.
func (a *Adapter) Price(ctx context.Context, token Token) float64 {
	q, err := a.Quote(ctx, token)
	if err != nil {
		a.logger.Warn("Using fallback price", zap.String("symbol", token.Symbol), zap.Error(err))
		return a.fallback
	}
	return q.Price
}

func bestQuote(pairs []dexscreener.Pair) (Quote, error) {
	if len(pairs) == 0 {
		return Quote{}, errors.New("no pairs returned")
	}

	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.Liquidity.Usd > best.Liquidity.Usd {
			best = p
		}
	}

	price, err := best.Price()
	if err != nil {
		return Quote{}, err
	}
	if price <= 0 {
		return Quote{}, fmt.Errorf("non-positive price %v", price)
	}

	return Quote{
		Name:           best.BaseToken.Name,
		Symbol:         best.BaseToken.Symbol,
		Price:          price,
		Liquidity:      best.Liquidity.Usd,
		Volume24h:      best.Volume.H24,
		PriceChange24h: best.PriceChange.H24,
	}, nil
}
