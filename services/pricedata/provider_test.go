package pricedata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchlist_backend/models"
	"watchlist_backend/services/volatility"
)

// chartJSON renders a minimal upstream chart payload with n daily bars
func chartJSON(symbol string, price float64, n int) string {
	var ts, highs, lows, closes []string
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ts = append(ts, fmt.Sprintf("%d", start.AddDate(0, 0, i).Unix()))
		highs = append(highs, fmt.Sprintf("%.2f", price+1))
		lows = append(lows, fmt.Sprintf("%.2f", price-1))
		closes = append(closes, fmt.Sprintf("%.2f", price))
	}
	return fmt.Sprintf(`{"chart":{"result":[{
		"meta":{"symbol":%q,"currency":"USD","regularMarketPrice":%v},
		"timestamp":[%s],
		"indicators":{"quote":[{"high":[%s],"low":[%s],"close":[%s]}]}
	}],"error":null}}`,
		symbol, price,
		strings.Join(ts, ","), strings.Join(highs, ","),
		strings.Join(lows, ","), strings.Join(closes, ","))
}

func TestFetchCurrentPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON("AAPL", 150.25, 1))
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	price, err := p.FetchCurrentPrice(context.Background(), "AAPL", models.RegionUS)
	require.NoError(t, err)
	assert.Equal(t, 150.25, price)
}

func TestFetchCurrentPrice_IndiaSymbolSuffix(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		fmt.Fprint(w, chartJSON("RELIANCE.NS", 2900.0, 1))
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	_, err := p.FetchCurrentPrice(context.Background(), "RELIANCE", models.RegionIndia)
	require.NoError(t, err)
	assert.Contains(t, requestedPath, "RELIANCE.NS")
}

func TestFetchCurrentPrice_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	_, err := p.FetchCurrentPrice(context.Background(), "AAPL", models.RegionUS)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestFetchCurrentPrice_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	_, err := p.FetchCurrentPrice(context.Background(), "NOPE", models.RegionUS)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestFetchHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON("AAPL", 150.0, 30))
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	bars, err := p.FetchHistory(context.Background(), "AAPL", models.RegionUS, 15)
	require.NoError(t, err)
	require.Len(t, bars, 30)

	// Ascending by date
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Date.After(bars[i-1].Date))
	}
	assert.Equal(t, 151.0, bars[0].High)
	assert.Equal(t, 149.0, bars[0].Low)
}

func TestFetchHistory_Insufficient(t *testing.T) {
	// Upstream returns only 10 bars for a 15-bar lookback
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON("AAPL", 150.0, 10))
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	_, err := p.FetchHistory(context.Background(), "AAPL", models.RegionUS, 15)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestFetchHistory_SkipsNullBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart":{"result":[{
			"meta":{"symbol":"AAPL","regularMarketPrice":150},
			"timestamp":[1704153600,1704240000,1704326400],
			"indicators":{"quote":[{"high":[151,null,152],"low":[149,null,150],"close":[150,null,151]}]}
		}],"error":null}}`)
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	bars, err := p.FetchHistory(context.Background(), "AAPL", models.RegionUS, 2)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestBatchFetch_PartialFailureIsolation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "BAD") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, chartJSON("X", 100.0, 1))
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	items := []Item{
		{Symbol: "AAPL", Region: models.RegionUS},
		{Symbol: "BAD", Region: models.RegionUS},
		{Symbol: "MSFT", Region: models.RegionUS},
	}

	result := p.BatchFetch(context.Background(), items)
	assert.Len(t, result.Prices, 2)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors["BAD"], ErrDataUnavailable)
}

func TestBatchFetch_BoundedConcurrency(t *testing.T) {
	const maxConcurrent = 2

	var current, peak int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		fmt.Fprint(w, chartJSON("X", 100.0, 1))
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, maxConcurrent)
	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{Symbol: fmt.Sprintf("SYM%d", i), Region: models.RegionUS}
	}

	result := p.BatchFetch(context.Background(), items)
	assert.Len(t, result.Prices, 10)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(maxConcurrent))
}

// memoryCache is a minimal in-process HistoryCache for tests
type memoryCache struct {
	bars map[string][]volatility.Bar
}

func newMemoryCache() *memoryCache {
	return &memoryCache{bars: make(map[string][]volatility.Bar)}
}

func (c *memoryCache) GetHistory(_ context.Context, symbol string, region models.Region, minBars int) ([]volatility.Bar, bool) {
	bars, ok := c.bars[string(region)+":"+symbol]
	if !ok || len(bars) < minBars {
		return nil, false
	}
	return bars, true
}

func (c *memoryCache) PutHistory(_ context.Context, symbol string, region models.Region, bars []volatility.Bar) {
	c.bars[string(region)+":"+symbol] = bars
}

func TestFetchHistory_UsesCache(t *testing.T) {
	var upstreamCalls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&upstreamCalls, 1)
		fmt.Fprint(w, chartJSON("AAPL", 150.0, 30))
	}))
	defer server.Close()

	p := NewProvider(server.URL, 5*time.Second, 3)
	cache := newMemoryCache()
	p.SetCache(cache)

	_, err := p.FetchHistory(context.Background(), "AAPL", models.RegionUS, 15)
	require.NoError(t, err)
	_, err = p.FetchHistory(context.Background(), "AAPL", models.RegionUS, 15)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&upstreamCalls))
}
