// Package batch runs the volatility monitoring pipeline over every watched
// item: gate admission per region, concurrent price and recommendation
// fetches, stop-loss evaluation, and alert dispatch. One run produces one
// RunStatus; item failures stay inside it.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"watchlist_backend/models"
	"watchlist_backend/services/notify"
	"watchlist_backend/services/recommend"
	"watchlist_backend/services/volatility"
)

var (
	// ErrNotConfigured signals a required capability is entirely unavailable.
	// This is the only run-fatal condition.
	ErrNotConfigured = errors.New("batch pipeline not configured")
	// ErrRunInProgress signals an overlapping trigger under single-flight policy
	ErrRunInProgress = errors.New("batch run already in progress")
)

// State is the orchestrator's run state
type State string

const (
	StateGated       State = "GATED"
	StateFetching    State = "FETCHING"
	StateEvaluating  State = "EVALUATING"
	StateDispatching State = "DISPATCHING"
	StateDone        State = "DONE"
	StateError       State = "ERROR"
)

// RegionDecision records the gate outcome for one region in one run
type RegionDecision struct {
	Region   models.Region `json:"region"`
	Open     bool          `json:"open"`
	Bypassed bool          `json:"bypassed"`
	NextOpen *time.Time    `json:"next_open,omitempty"`
}

// ItemError records one item-scoped failure
type ItemError struct {
	Symbol string `json:"symbol"`
	UserID uint   `json:"user_id"`
	Stage  string `json:"stage"` // validate, fetch, evaluate, dispatch
	Reason string `json:"reason"`
}

// RunStatus summarizes one orchestrator invocation
type RunStatus struct {
	State         State            `json:"state"`
	Manual        bool             `json:"manual"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	ItemsTotal    int              `json:"items_total"`
	Evaluated     int              `json:"evaluated"`
	AlertsSent    int              `json:"alerts_sent"`
	Errors        int              `json:"errors"`
	SkippedClosed int              `json:"skipped_closed"`
	NotReached    int              `json:"not_reached"`
	Regions       []RegionDecision `json:"regions"`
	ItemErrors    []ItemError      `json:"item_errors,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// WatchlistStore lists every user's watched items
type WatchlistStore interface {
	ListWatchedItems(ctx context.Context) ([]models.WatchedItem, error)
}

// TargetResolver returns the delivery addresses for a user
type TargetResolver interface {
	ResolveTarget(ctx context.Context, userID uint) (notify.Target, error)
}

// PriceSource provides current prices and daily history
type PriceSource interface {
	FetchCurrentPrice(ctx context.Context, symbol string, region models.Region) (float64, error)
	FetchHistory(ctx context.Context, symbol string, region models.Region, lookback int) ([]volatility.Bar, error)
}

// RecommendationSource provides analyst consensus aggregates
type RecommendationSource interface {
	FetchRecommendations(ctx context.Context, symbol string) (*recommend.Aggregate, error)
}

// AlertDispatcher fans one alert out across notification channels
type AlertDispatcher interface {
	Dispatch(ctx context.Context, target notify.Target, alert notify.Alert) notify.Result
}

// MarketGate answers per-region admission questions
type MarketGate interface {
	IsOpen(region models.Region, now time.Time) bool
	NextOpen(region models.Region, now time.Time) time.Time
}

// AlertRecorder persists dispatched alerts outside the pipeline. Optional.
type AlertRecorder interface {
	RecordAlert(ctx context.Context, userID uint, alert notify.Alert, result notify.Result)
}

// Publisher pushes run and alert events to observers. Optional.
type Publisher interface {
	Publish(event string, data interface{})
}

// Options configures one orchestrator
type Options struct {
	Workers      int
	Timeout      time.Duration
	AllowOverlap bool
	Thresholds   volatility.Thresholds
}

// Orchestrator drives the monitoring pipeline
type Orchestrator struct {
	store      WatchlistStore
	resolver   TargetResolver
	prices     PriceSource
	recs       RecommendationSource
	dispatcher AlertDispatcher
	gate       MarketGate
	recorder   AlertRecorder
	publisher  Publisher
	opts       Options

	runMu    sync.Mutex // single-flight guard
	statusMu sync.RWMutex
	lastRun  *RunStatus
}

// NewOrchestrator wires the pipeline. recorder and publisher may be nil.
func NewOrchestrator(
	store WatchlistStore,
	resolver TargetResolver,
	prices PriceSource,
	recs RecommendationSource,
	dispatcher AlertDispatcher,
	gate MarketGate,
	opts Options,
) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Orchestrator{
		store:      store,
		resolver:   resolver,
		prices:     prices,
		recs:       recs,
		dispatcher: dispatcher,
		gate:       gate,
		opts:       opts,
	}
}

// SetRecorder attaches an optional alert recorder
func (o *Orchestrator) SetRecorder(recorder AlertRecorder) {
	o.recorder = recorder
}

// SetPublisher attaches an optional event publisher
func (o *Orchestrator) SetPublisher(publisher Publisher) {
	o.publisher = publisher
}

// LastRun returns the most recent run status, nil before the first run
func (o *Orchestrator) LastRun() *RunStatus {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.lastRun
}

// itemOutcome is the tagged result of processing one watched item
type itemOutcome struct {
	evaluated  bool
	alerted    bool
	notReached bool
	err        *ItemError
}

// Run executes one batch over every watched item. manual bypasses the market
// hours gate. It returns a non-nil error only for run-fatal conditions
// (missing capability, overlapping run under single-flight); every item
// failure is enumerated inside the returned status.
func (o *Orchestrator) Run(ctx context.Context, manual bool) (*RunStatus, error) {
	status := &RunStatus{
		State:     StateGated,
		Manual:    manual,
		StartedAt: time.Now().UTC(),
	}

	if o.store == nil || o.prices == nil || o.dispatcher == nil || o.gate == nil {
		status.State = StateError
		status.Error = ErrNotConfigured.Error()
		status.FinishedAt = time.Now().UTC()
		o.setLastRun(status)
		return status, ErrNotConfigured
	}

	if !o.opts.AllowOverlap {
		if !o.runMu.TryLock() {
			return nil, ErrRunInProgress
		}
		defer o.runMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	items, err := o.store.ListWatchedItems(ctx)
	if err != nil {
		status.State = StateError
		status.Error = fmt.Sprintf("list watched items: %v", err)
		status.FinishedAt = time.Now().UTC()
		o.setLastRun(status)
		return status, fmt.Errorf("%w: list watched items: %v", ErrNotConfigured, err)
	}
	status.ItemsTotal = len(items)

	admitted := o.admit(items, manual, status)
	log.Printf("Batch run starting: %d items, %d admitted, manual=%v",
		len(items), len(admitted), manual)

	status.State = StateFetching
	outcomes := make(chan itemOutcome, len(admitted))
	sem := make(chan struct{}, o.opts.Workers)

	var wg sync.WaitGroup
	for _, item := range admitted {
		wg.Add(1)
		go func(item models.WatchedItem) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes <- itemOutcome{notReached: true}
				return
			}
			if ctx.Err() != nil {
				outcomes <- itemOutcome{notReached: true}
				return
			}

			outcomes <- o.processItem(ctx, item)
		}(item)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	// Single reducer owns every counter, so concurrent completions
	// never race on the status.
	for outcome := range outcomes {
		switch {
		case outcome.notReached:
			status.NotReached++
		case outcome.err != nil:
			status.Errors++
			status.ItemErrors = append(status.ItemErrors, *outcome.err)
		default:
			status.Evaluated++
			if outcome.alerted {
				status.AlertsSent++
			}
		}
	}

	status.State = StateDone
	status.FinishedAt = time.Now().UTC()
	o.setLastRun(status)

	if o.publisher != nil {
		o.publisher.Publish("run_completed", status)
	}
	log.Printf("Batch run done: evaluated=%d alerts=%d errors=%d skipped=%d not_reached=%d",
		status.Evaluated, status.AlertsSent, status.Errors, status.SkippedClosed, status.NotReached)

	return status, nil
}

// admit applies the market hours gate per region and returns the items that
// proceed. Closed regions are recorded, not errors. Manual runs bypass the
// gate but still record its decision.
func (o *Orchestrator) admit(items []models.WatchedItem, manual bool, status *RunStatus) []models.WatchedItem {
	now := time.Now()
	byRegion := make(map[models.Region][]models.WatchedItem)
	for _, item := range items {
		byRegion[item.Region] = append(byRegion[item.Region], item)
	}

	var admitted []models.WatchedItem
	for region, regionItems := range byRegion {
		open := o.gate.IsOpen(region, now)
		decision := RegionDecision{
			Region:   region,
			Open:     open,
			Bypassed: manual && !open,
		}
		if !open {
			next := o.gate.NextOpen(region, now)
			decision.NextOpen = &next
		}
		status.Regions = append(status.Regions, decision)

		if open || manual {
			admitted = append(admitted, regionItems...)
		} else {
			status.SkippedClosed += len(regionItems)
			log.Printf("Region %s closed, skipping %d items (next open %v)",
				region, len(regionItems), decision.NextOpen)
		}
	}
	return admitted
}

// processItem runs one watched item through fetch, evaluate and dispatch.
// Every failure is item-scoped.
func (o *Orchestrator) processItem(ctx context.Context, item models.WatchedItem) itemOutcome {
	if err := item.Validate(); err != nil {
		return itemOutcome{err: &ItemError{
			Symbol: item.Symbol, UserID: item.UserID,
			Stage: "validate", Reason: err.Error(),
		}}
	}

	// The recommendation fetch is an independent source; run it alongside
	// the price fetches and tolerate its failure.
	var analysts *recommend.Aggregate
	var recWG sync.WaitGroup
	if o.recs != nil {
		recWG.Add(1)
		go func() {
			defer recWG.Done()
			agg, err := o.recs.FetchRecommendations(ctx, item.Symbol)
			if err != nil {
				log.Printf("Recommendations unavailable for %s: %v", item.Symbol, err)
				return
			}
			analysts = agg
		}()
	}

	price, err := o.prices.FetchCurrentPrice(ctx, item.Symbol, item.Region)
	if err != nil {
		recWG.Wait()
		return itemOutcome{err: &ItemError{
			Symbol: item.Symbol, UserID: item.UserID,
			Stage: "fetch", Reason: err.Error(),
		}}
	}

	bars, err := o.prices.FetchHistory(ctx, item.Symbol, item.Region, item.ATRPeriod+1)
	if err != nil {
		recWG.Wait()
		return itemOutcome{err: &ItemError{
			Symbol: item.Symbol, UserID: item.UserID,
			Stage: "fetch", Reason: err.Error(),
		}}
	}
	recWG.Wait()

	result, err := volatility.Evaluate(bars, price, volatility.Params{
		ATRPeriod:     item.ATRPeriod,
		ATRMultiplier: item.ATRMultiplier,
		Owned:         item.Owned,
		AlertPrice:    item.AlertPriceValue(),
	}, o.opts.Thresholds)
	if err != nil {
		return itemOutcome{err: &ItemError{
			Symbol: item.Symbol, UserID: item.UserID,
			Stage: "evaluate", Reason: err.Error(),
		}}
	}

	if !o.alertWorthy(item, result) {
		return itemOutcome{evaluated: true}
	}

	alert := notify.Alert{
		Symbol:         item.Symbol,
		Region:         item.Region,
		CurrentPrice:   result.CurrentPrice,
		ATR:            result.ATR,
		StopLoss:       result.StopLoss,
		StopLossPct:    result.StopLossPercentage,
		Recommendation: string(result.Recommendation),
	}
	if analysts != nil {
		alert.AnalystSummary = fmt.Sprintf("Analysts: %d buy / %d hold / %d sell",
			analysts.Buy, analysts.Hold, analysts.Sell)
	}

	target, err := o.resolveTarget(ctx, item.UserID)
	if err != nil {
		return itemOutcome{err: &ItemError{
			Symbol: item.Symbol, UserID: item.UserID,
			Stage: "dispatch", Reason: err.Error(),
		}}
	}

	dispatchResult := o.dispatcher.Dispatch(ctx, target, alert)
	if o.recorder != nil {
		o.recorder.RecordAlert(ctx, item.UserID, alert, dispatchResult)
	}
	if o.publisher != nil {
		o.publisher.Publish("alert_dispatched", alert)
	}

	return itemOutcome{evaluated: true, alerted: true}
}

func (o *Orchestrator) resolveTarget(ctx context.Context, userID uint) (notify.Target, error) {
	if o.resolver == nil {
		return notify.Target{}, fmt.Errorf("no target resolver configured")
	}
	return o.resolver.ResolveTarget(ctx, userID)
}

// alertWorthy decides whether the evaluation triggers a notification:
// a SELL classification, or the price crossing the item's alert threshold.
func (o *Orchestrator) alertWorthy(item models.WatchedItem, result *volatility.Result) bool {
	if result.Recommendation == volatility.RecommendationSell {
		return true
	}
	if ap := item.AlertPriceValue(); ap != nil && result.CurrentPrice <= *ap {
		return true
	}
	return false
}

func (o *Orchestrator) setLastRun(status *RunStatus) {
	o.statusMu.Lock()
	o.lastRun = status
	o.statusMu.Unlock()
}
