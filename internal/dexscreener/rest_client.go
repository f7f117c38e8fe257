package dexscreener

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"autotrade-sim/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.dexscreener.com"

// RestClientInterface defines the interface for the DexScreener REST API client.
type RestClientInterface interface {
	GetTokenPairs(ctx context.Context, tokenAddress string) ([]Pair, error)
}

// RestClient is a client for the DexScreener public REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client     *resty.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new DexScreener REST API client.
func NewRestClient(cfg *config.Oracle, logger *zap.Logger) *RestClient {
	url := cfg.BaseURL
	if url == "" {
		url = defaultBaseURL
	}

	client := resty.New().
		SetBaseURL(url).
		SetHeader("Accept", "application/json")

	// rate.Limit is requests per second.
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &RestClient{
		client:     client,
		logger:     logger.Named("dexscreener"),
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: 2,
	}
}

// Pair is one liquidity pool entry of a token lookup.
type Pair struct {
	ChainID     string      `json:"chainId"`
	DexID       string      `json:"dexId"`
	PairAddress string      `json:"pairAddress"`
	BaseToken   BaseToken   `json:"baseToken"`
	PriceUsd    string      `json:"priceUsd"`
	Liquidity   Liquidity   `json:"liquidity"`
	Volume      Volume      `json:"volume"`
	PriceChange PriceChange `json:"priceChange"`
}

// BaseToken describes the token being priced.
type BaseToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Liquidity holds pool liquidity figures.
type Liquidity struct {
	Usd float64 `json:"usd"`
}

// Volume holds traded volume per window.
type Volume struct {
	H24 float64 `json:"h24"`
}

// PriceChange holds percentage price change per window.
type PriceChange struct {
	H24 float64 `json:"h24"`
}

// Price parses the USD price of the pair. A missing or malformed price is an error.
func (p Pair) Price() (float64, error) {
	price, err := strconv.ParseFloat(p.PriceUsd, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed priceUsd %q: %w", p.PriceUsd, err)
	}
	return price, nil
}

type tokenPairsResponse struct {
	Pairs []Pair `json:"pairs"`
}

// GetTokenPairs fetches every pair DexScreener knows for a token address.
func (c *RestClient) GetTokenPairs(ctx context.Context, tokenAddress string) ([]Pair, error) {
	req := c.client.R().
		SetContext(ctx).
		SetPathParam("address", tokenAddress).
		SetResult(&tokenPairsResponse{})

	resp, err := c.doRequest(ctx, http.MethodGet, "/latest/dex/tokens/{address}", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get token pairs for %s: %w", tokenAddress, err)
	}

	result, ok := resp.Result().(*tokenPairsResponse)
	if !ok || result == nil {
		return nil, fmt.Errorf("unexpected response body for %s", tokenAddress)
	}
	return result.Pairs, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		// Context expiry is final, the caller's deadline is the oracle timeout.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			if !shouldRetry {
				return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
			}
			err = fmt.Errorf("status %s", resp.Status())
		} else {
			// Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry || i == c.maxRetries {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 250ms, 500ms, 1s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * 250 * time.Millisecond
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, err)
}
