// Package volatility derives ATR-based stop-loss levels and buy/hold/sell
// recommendations from daily price bars. It performs no I/O and holds no
// state, so every function is safe for concurrent use.
package volatility

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Recommendation classifies the stop-loss evaluation outcome
type Recommendation string

const (
	RecommendationBuy  Recommendation = "BUY"
	RecommendationHold Recommendation = "HOLD"
	RecommendationSell Recommendation = "SELL"
)

var (
	// ErrInvalidInput signals a malformed item or non-positive price
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientBars signals fewer than atrPeriod+1 bars
	ErrInsufficientBars = errors.New("insufficient bars")
)

// Bar is one trading-session OHLC record, ordered ascending by date
type Bar struct {
	Date  time.Time `json:"date"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Params holds the per-item evaluation parameters
type Params struct {
	ATRPeriod     int
	ATRMultiplier float64
	Owned         bool
	AlertPrice    *float64
}

// Thresholds holds the classification cut points. The exact values are a
// product decision, so they come from configuration rather than constants.
type Thresholds struct {
	LowVolatilityPct  float64 // stop distance below this counts as a tight stop
	HighVolatilityPct float64 // stop distance at or above this is an exit signal for owned positions
}

// DefaultThresholds returns the illustrative 5%/10% bands
func DefaultThresholds() Thresholds {
	return Thresholds{LowVolatilityPct: 5.0, HighVolatilityPct: 10.0}
}

// Result is the derived stop-loss evaluation for one symbol
type Result struct {
	CurrentPrice       float64        `json:"current_price"`
	ATR                float64        `json:"atr"`
	StopLoss           float64        `json:"stop_loss"`
	StopLossPercentage float64        `json:"stop_loss_percentage"`
	Recommendation     Recommendation `json:"recommendation"`
}

// ATR calculates Wilder's Average True Range over the given bars.
// The first period true-range values seed a simple average; every later bar
// is folded in with Wilder smoothing, not a simple moving average.
func ATR(bars []Bar, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("%w: atr period must be at least 1", ErrInvalidInput)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("%w: need %d bars, got %d", ErrInsufficientBars, period+1, len(bars))
	}

	trueRanges := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trueRanges = append(trueRanges, trueRange(bars[i], bars[i-1]))
	}

	// Seed with the simple average of the first period true ranges
	var sum float64
	for _, tr := range trueRanges[:period] {
		sum += tr
	}
	atr := sum / float64(period)

	for _, tr := range trueRanges[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}

	return atr, nil
}

// trueRange combines the current high/low range with the gap from the prior close
func trueRange(cur, prev Bar) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// Evaluate derives the stop-loss result for a symbol from its history and
// current price. Bars must be ordered ascending by date.
func Evaluate(bars []Bar, currentPrice float64, params Params, th Thresholds) (*Result, error) {
	if currentPrice <= 0 {
		return nil, fmt.Errorf("%w: current price must be positive, got %v", ErrInvalidInput, currentPrice)
	}
	if params.ATRMultiplier < 0 {
		return nil, fmt.Errorf("%w: atr multiplier must not be negative", ErrInvalidInput)
	}

	atr, err := ATR(bars, params.ATRPeriod)
	if err != nil {
		return nil, err
	}

	stopLoss := currentPrice - atr*params.ATRMultiplier

	// Flat bars produce atr == 0; the stop sits on the price and the
	// distance is defined as zero to avoid dividing by zero.
	var stopLossPct float64
	if atr > 0 {
		stopLossPct = (currentPrice - stopLoss) / currentPrice * 100
	}

	rising := false
	if len(bars) > 0 {
		rising = currentPrice > bars[len(bars)-1].Close
	}

	return &Result{
		CurrentPrice:       currentPrice,
		ATR:                atr,
		StopLoss:           stopLoss,
		StopLossPercentage: stopLossPct,
		Recommendation:     Classify(currentPrice, stopLossPct, rising, params, th),
	}, nil
}

// Classify maps the stop distance, ownership state and alert threshold into a
// recommendation. Tightness alone never implies SELL: an exit signal requires
// either the alert price being breached or a wide stop on an owned position.
func Classify(currentPrice, stopLossPct float64, rising bool, params Params, th Thresholds) Recommendation {
	if params.Owned {
		if params.AlertPrice != nil && currentPrice <= *params.AlertPrice {
			return RecommendationSell
		}
		if stopLossPct >= th.HighVolatilityPct {
			return RecommendationSell
		}
		return RecommendationHold
	}

	if stopLossPct < th.LowVolatilityPct && rising {
		return RecommendationBuy
	}
	return RecommendationHold
}
