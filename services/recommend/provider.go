// Package recommend retrieves analyst consensus aggregates for a symbol.
// It is an independent data source: a failure here never blocks the
// volatility alert path.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable signals the consensus source could not be reached or parsed
var ErrUnavailable = errors.New("recommendations unavailable")

// Aggregate holds analyst buy/hold/sell counts for a symbol
type Aggregate struct {
	Symbol string `json:"symbol"`
	Buy    int    `json:"buy"`
	Hold   int    `json:"hold"`
	Sell   int    `json:"sell"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			RecommendationTrend struct {
				Trend []trendEntry `json:"trend"`
			} `json:"recommendationTrend"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

type trendEntry struct {
	Period     string `json:"period"`
	StrongBuy  int    `json:"strongBuy"`
	Buy        int    `json:"buy"`
	Hold       int    `json:"hold"`
	Sell       int    `json:"sell"`
	StrongSell int    `json:"strongSell"`
}

// Provider fetches analyst consensus over HTTP
type Provider struct {
	httpClient *http.Client
	baseURL    string
}

// NewProvider creates a recommendation provider
func NewProvider(baseURL string, timeout time.Duration) *Provider {
	return &Provider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// FetchRecommendations returns the current-period analyst aggregate for a
// symbol, folding strong ratings into their base bucket.
func (p *Provider) FetchRecommendations(ctx context.Context, symbol string) (*Aggregate, error) {
	url := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=recommendationTrend", p.baseURL, symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", "watchlist-backend/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", ErrUnavailable, resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var summary quoteSummaryResponse
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response for %s: %v", ErrUnavailable, symbol, err)
	}
	if summary.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, symbol, summary.QuoteSummary.Error.Description)
	}
	if len(summary.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: empty result for %s", ErrUnavailable, symbol)
	}

	trend := summary.QuoteSummary.Result[0].RecommendationTrend.Trend
	if len(trend) == 0 {
		return nil, fmt.Errorf("%w: no trend data for %s", ErrUnavailable, symbol)
	}

	// The "0m" entry is the current period; fall back to the first entry
	current := trend[0]
	for _, entry := range trend {
		if entry.Period == "0m" {
			current = entry
			break
		}
	}

	return &Aggregate{
		Symbol: symbol,
		Buy:    current.StrongBuy + current.Buy,
		Hold:   current.Hold,
		Sell:   current.Sell + current.StrongSell,
	}, nil
}
