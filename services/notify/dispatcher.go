// Package notify fans a single alert out to push, WhatsApp and email
// channels. Channels are attempted independently and failures are recorded,
// never raised past the dispatcher.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"watchlist_backend/models"
)

// Target is the set of delivery addresses for one user
type Target struct {
	UserID     uint
	PushTokens []string
	Phone      string
	Email      string
}

// Alert is one stop-loss notification to deliver
type Alert struct {
	Symbol         string        `json:"symbol"`
	Region         models.Region `json:"region"`
	CurrentPrice   float64       `json:"current_price"`
	ATR            float64       `json:"atr"`
	StopLoss       float64       `json:"stop_loss"`
	StopLossPct    float64       `json:"stop_loss_pct"`
	Recommendation string        `json:"recommendation"`
	AnalystSummary string        `json:"analyst_summary,omitempty"`
}

// Title renders the notification title
func (a Alert) Title() string {
	return fmt.Sprintf("%s alert: %s", a.Symbol, a.Recommendation)
}

// Body renders the notification body with the region's currency symbol
func (a Alert) Body() string {
	cur := a.Region.CurrencySymbol()
	body := fmt.Sprintf("%s at %s%.2f, stop-loss %s%.2f (%.2f%% away). Recommendation: %s",
		a.Symbol, cur, a.CurrentPrice, cur, a.StopLoss, a.StopLossPct, a.Recommendation)
	if a.AnalystSummary != "" {
		body += ". " + a.AnalystSummary
	}
	return body
}

// Channel status values
const (
	StatusOK      = "ok"      // every recipient reached
	StatusPartial = "partial" // some but not all push tokens reached
	StatusFailed  = "failed"  // the channel errored outright
	StatusSkipped = "skipped" // no address configured for the channel
)

// ChannelResult is the tagged outcome of one channel attempt
type ChannelResult struct {
	Channel      string `json:"channel"`
	Status       string `json:"status"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	Error        string `json:"error,omitempty"`
}

// Result is the union of all channel outcomes for one alert
type Result struct {
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	Channels     []ChannelResult `json:"channels"`
}

// PushSender delivers one multicast message to a set of device tokens
type PushSender interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string) (success, failure int, err error)
}

// WhatsAppSender delivers one message to a phone number
type WhatsAppSender interface {
	SendMessage(ctx context.Context, phone, body string) error
}

// EmailSender delivers one message to an email address
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Dispatcher fans alerts out across the configured channels
type Dispatcher struct {
	push     PushSender
	whatsapp WhatsAppSender
	email    EmailSender
}

// NewDispatcher creates a dispatcher. Any sender may be nil; its channel is
// then reported as skipped.
func NewDispatcher(push PushSender, whatsapp WhatsAppSender, email EmailSender) *Dispatcher {
	return &Dispatcher{push: push, whatsapp: whatsapp, email: email}
}

// Dispatch attempts every channel concurrently, joins at a barrier and
// reduces the tagged outcomes into one aggregate. It never returns an error:
// failures live inside the result.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, alert Alert) Result {
	outcomes := make(chan ChannelResult, 3)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		outcomes <- d.dispatchPush(ctx, target, alert)
	}()
	go func() {
		defer wg.Done()
		outcomes <- d.dispatchWhatsApp(ctx, target, alert)
	}()
	go func() {
		defer wg.Done()
		outcomes <- d.dispatchEmail(ctx, target, alert)
	}()
	wg.Wait()
	close(outcomes)

	return reduce(outcomes)
}

// reduce combines tagged channel outcomes into the aggregate result
func reduce(outcomes <-chan ChannelResult) Result {
	var result Result
	for outcome := range outcomes {
		result.SuccessCount += outcome.SuccessCount
		result.FailureCount += outcome.FailureCount
		result.Channels = append(result.Channels, outcome)
	}
	return result
}

func (d *Dispatcher) dispatchPush(ctx context.Context, target Target, alert Alert) ChannelResult {
	res := ChannelResult{Channel: "push"}
	if d.push == nil || len(target.PushTokens) == 0 {
		res.Status = StatusSkipped
		return res
	}

	success, failure, err := d.push.SendMulticast(ctx, target.PushTokens, alert.Title(), alert.Body())
	res.SuccessCount = success
	res.FailureCount = failure
	if err != nil {
		log.Printf("Push channel failed for user %d: %v", target.UserID, err)
		res.Status = StatusFailed
		res.Error = err.Error()
		res.FailureCount = len(target.PushTokens)
		res.SuccessCount = 0
		return res
	}

	// Partial token failure is not a channel failure
	if failure > 0 && success > 0 {
		res.Status = StatusPartial
	} else if failure > 0 {
		res.Status = StatusFailed
	} else {
		res.Status = StatusOK
	}
	return res
}

func (d *Dispatcher) dispatchWhatsApp(ctx context.Context, target Target, alert Alert) ChannelResult {
	res := ChannelResult{Channel: "whatsapp"}
	if d.whatsapp == nil || target.Phone == "" {
		res.Status = StatusSkipped
		return res
	}

	if err := d.whatsapp.SendMessage(ctx, target.Phone, alert.Body()); err != nil {
		log.Printf("WhatsApp channel failed for user %d: %v", target.UserID, err)
		res.Status = StatusFailed
		res.Error = err.Error()
		res.FailureCount = 1
		return res
	}
	res.Status = StatusOK
	res.SuccessCount = 1
	return res
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, target Target, alert Alert) ChannelResult {
	res := ChannelResult{Channel: "email"}
	if d.email == nil || target.Email == "" {
		res.Status = StatusSkipped
		return res
	}

	if err := d.email.SendEmail(ctx, target.Email, alert.Title(), alert.Body()); err != nil {
		log.Printf("Email channel failed for user %d: %v", target.UserID, err)
		res.Status = StatusFailed
		res.Error = err.Error()
		res.FailureCount = 1
		return res
	}
	res.Status = StatusOK
	res.SuccessCount = 1
	return res
}
