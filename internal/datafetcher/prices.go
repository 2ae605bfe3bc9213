/*
This file fetches spot USD prices from the CryptoCompare API.

The planner reads one price table per action. Every price is checked to be finite and
positive before it reaches the fee and sizing math.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elys-network/vaultengine/internal/logger"
	"github.com/elys-network/vaultengine/internal/types"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPriceData   = errors.New("invalid price data received")
	ErrAPIConfiguration   = errors.New("API configuration error")
	ErrPriceSourceTripped = errors.New("price source is failing, requests suspended")
)

const (
	DefaultBaseURL    = "https://min-api.cryptocompare.com/data/pricemulti"
	MAX_RETRIES       = 3
	TIMEOUT_SECONDS   = 30
	DefaultCacheTTL   = 30 * time.Second
	defaultRatePerSec = 5
)

var retryBaseWait = 500 * time.Millisecond

// Config configures a PriceFetcher.
type Config struct {
	BaseURL           string
	APIKey            string
	Symbols           []string
	RequestsPerSecond float64
	CacheTTL          time.Duration
	HTTPClient        *http.Client
}

// PriceFetcher is a types.PriceOracle backed by CryptoCompare. Results are cached for
// CacheTTL so that a burst of actions shares one request.
type PriceFetcher struct {
	baseURL string
	apiKey  string
	symbols []string
	ttl     time.Duration
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu        sync.Mutex
	cached    types.PriceTable
	fetchedAt time.Time
	now       func() time.Time
}

var _ types.PriceOracle = (*PriceFetcher)(nil)

// NewPriceFetcher validates cfg and builds a fetcher.
func NewPriceFetcher(cfg Config) (*PriceFetcher, error) {
	symbols := make([]string, 0, len(cfg.Symbols))
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		s = strings.TrimSpace(strings.ToUpper(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to price", ErrAPIConfiguration)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: base url: %v", ErrAPIConfiguration, err)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: TIMEOUT_SECONDS * time.Second}
	}

	settings := gobreaker.Settings{Name: "cryptocompare"}
	settings.Timeout = time.Minute
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= MAX_RETRIES
	}

	return &PriceFetcher{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		symbols: symbols,
		ttl:     ttl,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: gobreaker.NewCircuitBreaker(settings),
		now:     time.Now,
	}, nil
}

// Symbols returns the upper-cased symbols the fetcher prices.
func (f *PriceFetcher) Symbols() []string {
	return append([]string(nil), f.symbols...)
}

// TokenPrices returns the USD price of every configured symbol, keyed by lowercase symbol.
func (f *PriceFetcher) TokenPrices(ctx context.Context) (types.PriceTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil && f.now().Sub(f.fetchedAt) < f.ttl {
		return copyTable(f.cached), nil
	}

	prices, err := f.fetchWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	f.cached = prices
	f.fetchedAt = f.now()
	return copyTable(prices), nil
}

func (f *PriceFetcher) fetchWithRetry(ctx context.Context) (types.PriceTable, error) {
	priceLogger := logger.GetForComponent("price_fetcher")

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.fetch(ctx)
		})
		if err == nil {
			prices := result.(types.PriceTable)
			priceLogger.Debug().
				Int("attempt", attempt).
				Int("symbols", len(prices)).
				Msg("Prices fetched")
			return prices, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrPriceSourceTripped, err)
		}
		// Bad data does not get better by asking again.
		if errors.Is(err, ErrInvalidPriceData) || errors.Is(err, ErrAPIConfiguration) {
			return nil, err
		}

		lastErr = err
		priceLogger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("Price request failed, will retry if attempts remain")

		if attempt < MAX_RETRIES {
			select {
			case <-time.After(time.Duration(attempt) * retryBaseWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	priceLogger.Error().
		Err(lastErr).
		Strs("symbols", f.symbols).
		Msg("All price retry attempts failed")
	return nil, fmt.Errorf("failed to fetch prices after %d attempts: %w", MAX_RETRIES, lastErr)
}

func (f *PriceFetcher) fetch(ctx context.Context) (types.PriceTable, error) {
	q := url.Values{}
	q.Set("fsyms", strings.Join(f.symbols, ","))
	q.Set("tsyms", "USD")
	if f.apiKey != "" {
		q.Set("api_key", f.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) == 0 {
		return nil, errors.New("empty response body")
	}
	return parsePriceMulti(body, f.symbols)
}

// parsePriceMulti decodes a pricemulti body ({"ETH":{"USD":3000}}) and checks that every
// requested symbol came back with a finite positive price.
func parsePriceMulti(body []byte, symbols []string) (types.PriceTable, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPriceData, err)
	}

	// Errors come back with status 200 and a Response field.
	if _, ok := raw["Response"]; ok {
		var apiErr struct {
			Response string `json:"Response"`
			Message  string `json:"Message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, fmt.Errorf("%w: %s - %s", ErrAPIConfiguration, apiErr.Response, apiErr.Message)
	}

	prices := make(types.PriceTable, len(symbols))
	for _, symbol := range symbols {
		entry, ok := raw[symbol]
		if !ok {
			return nil, fmt.Errorf("%w: no price for %s", ErrInvalidPriceData, symbol)
		}
		var quote map[string]float64
		if err := json.Unmarshal(entry, &quote); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPriceData, symbol, err)
		}
		price, ok := quote["USD"]
		if !ok {
			return nil, fmt.Errorf("%w: no USD quote for %s", ErrInvalidPriceData, symbol)
		}
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return nil, fmt.Errorf("%w: price for %s is not finite", ErrInvalidPriceData, symbol)
		}
		if price <= 0 {
			return nil, fmt.Errorf("%w: price for %s must be positive: %f", ErrInvalidPriceData, symbol, price)
		}
		prices[strings.ToLower(symbol)] = price
	}
	return prices, nil
}

func copyTable(p types.PriceTable) types.PriceTable {
	out := make(types.PriceTable, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
