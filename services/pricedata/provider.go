// Package pricedata retrieves current prices and historical daily bars from
// the upstream market-data API. Responses cross a typed parsing boundary
// before anything reaches the volatility engine.
package pricedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"watchlist_backend/models"
	"watchlist_backend/services/volatility"
)

var (
	// ErrDataUnavailable signals an upstream error, timeout or unknown symbol
	ErrDataUnavailable = errors.New("price data unavailable")
	// ErrRateLimited signals an upstream backoff response
	ErrRateLimited = errors.New("rate limited by upstream")
	// ErrInsufficientHistory signals fewer bars than the caller needs
	ErrInsufficientHistory = errors.New("insufficient price history")
)

// HistoryCache is an optional store consulted before hitting the upstream
type HistoryCache interface {
	GetHistory(ctx context.Context, symbol string, region models.Region, minBars int) ([]volatility.Bar, bool)
	PutHistory(ctx context.Context, symbol string, region models.Region, bars []volatility.Bar)
}

// chartResponse mirrors the upstream chart API payload
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		Currency           string  `json:"currency"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			High  []*float64 `json:"high"`
			Low   []*float64 `json:"low"`
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// Provider fetches prices over HTTP with a bounded number of concurrent
// outbound requests shared across all callers.
type Provider struct {
	httpClient *http.Client
	baseURL    string
	cache      HistoryCache
	sem        chan struct{}
}

// NewProvider creates a provider. maxConcurrent bounds simultaneous upstream
// requests to respect the API's rate limits.
func NewProvider(baseURL string, timeout time.Duration, maxConcurrent int) *Provider {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Provider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

// SetCache attaches an optional history cache
func (p *Provider) SetCache(cache HistoryCache) {
	p.cache = cache
}

// upstreamSymbol maps a normalized symbol to the upstream's ticker format
func upstreamSymbol(symbol string, region models.Region) string {
	if region == models.RegionIndia {
		return symbol + ".NS"
	}
	return symbol
}

// FetchCurrentPrice returns the latest traded price for a symbol
func (p *Provider) FetchCurrentPrice(ctx context.Context, symbol string, region models.Region) (float64, error) {
	result, err := p.fetchChart(ctx, symbol, region, "1d")
	if err != nil {
		return 0, err
	}
	if result.Meta.RegularMarketPrice <= 0 {
		return 0, fmt.Errorf("%w: no market price for %s", ErrDataUnavailable, symbol)
	}
	return result.Meta.RegularMarketPrice, nil
}

// FetchHistory returns at least lookback daily bars ordered ascending by
// date, or ErrInsufficientHistory when the upstream has fewer.
func (p *Provider) FetchHistory(ctx context.Context, symbol string, region models.Region, lookback int) ([]volatility.Bar, error) {
	if p.cache != nil {
		if bars, ok := p.cache.GetHistory(ctx, symbol, region, lookback); ok {
			return bars, nil
		}
	}

	chartRange := "3mo"
	if lookback > 60 {
		chartRange = "1y"
	}

	result, err := p.fetchChart(ctx, symbol, region, chartRange)
	if err != nil {
		return nil, err
	}

	bars, err := parseBars(result)
	if err != nil {
		return nil, err
	}
	if len(bars) < lookback {
		return nil, fmt.Errorf("%w: got %d bars for %s, need %d", ErrInsufficientHistory, len(bars), symbol, lookback)
	}

	if p.cache != nil {
		p.cache.PutHistory(ctx, symbol, region, bars)
	}
	return bars, nil
}

// Item identifies one symbol to quote in a batch
type Item struct {
	Symbol string
	Region models.Region
}

// BatchResult maps symbols to prices, with per-symbol errors for the rest
type BatchResult struct {
	Prices map[string]float64
	Errors map[string]error
}

// BatchFetch quotes every item concurrently through the provider's request
// semaphore. One symbol's failure never aborts its siblings.
func (p *Provider) BatchFetch(ctx context.Context, items []Item) BatchResult {
	result := BatchResult{
		Prices: make(map[string]float64, len(items)),
		Errors: make(map[string]error),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			price, err := p.FetchCurrentPrice(ctx, item.Symbol, item.Region)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[item.Symbol] = err
				return
			}
			result.Prices[item.Symbol] = price
		}(item)
	}
	wg.Wait()

	return result
}

// fetchChart performs one upstream chart request under the semaphore
func (p *Provider) fetchChart(ctx context.Context, symbol string, region models.Region, chartRange string) (*chartResult, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, ctx.Err())
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d",
		p.baseURL, upstreamSymbol(symbol, region), chartRange)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	req.Header.Set("User-Agent", "watchlist-backend/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, symbol)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d for %s", ErrDataUnavailable, resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response for %s: %v", ErrDataUnavailable, symbol, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrDataUnavailable, symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result for %s", ErrDataUnavailable, symbol)
	}

	return &chart.Chart.Result[0], nil
}

// parseBars converts the raw chart arrays into validated bars, dropping
// sessions with missing quote fields
func parseBars(result *chartResult) ([]volatility.Bar, error) {
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: no quote data for %s", ErrDataUnavailable, result.Meta.Symbol)
	}
	quote := result.Indicators.Quote[0]

	bars := make([]volatility.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		if quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			log.Printf("Skipping incomplete bar for %s at index %d", result.Meta.Symbol, i)
			continue
		}
		bars = append(bars, volatility.Bar{
			Date:  time.Unix(ts, 0).UTC(),
			High:  *quote.High[i],
			Low:   *quote.Low[i],
			Close: *quote.Close[i],
		})
	}
	return bars, nil
}
