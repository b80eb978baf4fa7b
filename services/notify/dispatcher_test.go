package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchlist_backend/models"
)

type mockPush struct {
	success, failure int
	err              error
	calls            int
}

func (m *mockPush) SendMulticast(_ context.Context, tokens []string, title, body string) (int, int, error) {
	m.calls++
	return m.success, m.failure, m.err
}

type mockWhatsApp struct {
	err   error
	calls int
}

func (m *mockWhatsApp) SendMessage(_ context.Context, phone, body string) error {
	m.calls++
	return m.err
}

type mockEmail struct {
	err   error
	calls int
}

func (m *mockEmail) SendEmail(_ context.Context, to, subject, body string) error {
	m.calls++
	return m.err
}

func fullTarget() Target {
	return Target{
		UserID:     1,
		PushTokens: []string{"tok-a", "tok-b", "tok-c"},
		Phone:      "+14155550100",
		Email:      "user@example.com",
	}
}

func testAlert() Alert {
	return Alert{
		Symbol:         "AAPL",
		Region:         models.RegionUS,
		CurrentPrice:   150,
		ATR:            2,
		StopLoss:       146,
		StopLossPct:    2.67,
		Recommendation: "SELL",
	}
}

func channelByName(t *testing.T, result Result, name string) ChannelResult {
	t.Helper()
	for _, ch := range result.Channels {
		if ch.Channel == name {
			return ch
		}
	}
	t.Fatalf("channel %s not found in result", name)
	return ChannelResult{}
}

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	push := &mockPush{success: 3}
	wa := &mockWhatsApp{}
	email := &mockEmail{}
	d := NewDispatcher(push, wa, email)

	result := d.Dispatch(context.Background(), fullTarget(), testAlert())

	assert.Equal(t, 5, result.SuccessCount) // 3 tokens + whatsapp + email
	assert.Zero(t, result.FailureCount)
	require.Len(t, result.Channels, 3)
	assert.Equal(t, StatusOK, channelByName(t, result, "push").Status)
	assert.Equal(t, StatusOK, channelByName(t, result, "whatsapp").Status)
	assert.Equal(t, StatusOK, channelByName(t, result, "email").Status)
}

func TestDispatch_ChannelIsolation(t *testing.T) {
	// WhatsApp always fails; push and email still succeed and the dispatch
	// never escalates to a total failure
	push := &mockPush{success: 3}
	wa := &mockWhatsApp{err: errors.New("api down")}
	email := &mockEmail{}
	d := NewDispatcher(push, wa, email)

	result := d.Dispatch(context.Background(), fullTarget(), testAlert())

	assert.Equal(t, 4, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	assert.Equal(t, StatusFailed, channelByName(t, result, "whatsapp").Status)
	assert.Equal(t, StatusOK, channelByName(t, result, "push").Status)
	assert.Equal(t, StatusOK, channelByName(t, result, "email").Status)
	assert.Equal(t, 1, push.calls)
	assert.Equal(t, 1, email.calls)
}

func TestDispatch_PartialTokenFailureIsNotChannelFailure(t *testing.T) {
	push := &mockPush{success: 2, failure: 1}
	d := NewDispatcher(push, &mockWhatsApp{}, &mockEmail{})

	result := d.Dispatch(context.Background(), fullTarget(), testAlert())

	pushResult := channelByName(t, result, "push")
	assert.Equal(t, StatusPartial, pushResult.Status)
	assert.Equal(t, 2, pushResult.SuccessCount)
	assert.Equal(t, 1, pushResult.FailureCount)
	assert.Empty(t, pushResult.Error)
}

func TestDispatch_SkipsUnconfiguredChannels(t *testing.T) {
	d := NewDispatcher(&mockPush{success: 1}, &mockWhatsApp{}, &mockEmail{})

	target := Target{UserID: 2, PushTokens: []string{"tok"}}
	result := d.Dispatch(context.Background(), target, testAlert())

	assert.Equal(t, StatusSkipped, channelByName(t, result, "whatsapp").Status)
	assert.Equal(t, StatusSkipped, channelByName(t, result, "email").Status)
	assert.Equal(t, StatusOK, channelByName(t, result, "push").Status)
	assert.Equal(t, 1, result.SuccessCount)
}

func TestDispatch_NilSendersAreSkipped(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)

	result := d.Dispatch(context.Background(), fullTarget(), testAlert())

	assert.Zero(t, result.SuccessCount)
	assert.Zero(t, result.FailureCount)
	for _, ch := range result.Channels {
		assert.Equal(t, StatusSkipped, ch.Status)
	}
}

func TestDispatch_PushTransportErrorCountsAllTokens(t *testing.T) {
	push := &mockPush{err: errors.New("fcm unreachable")}
	d := NewDispatcher(push, &mockWhatsApp{}, &mockEmail{})

	result := d.Dispatch(context.Background(), fullTarget(), testAlert())

	pushResult := channelByName(t, result, "push")
	assert.Equal(t, StatusFailed, pushResult.Status)
	assert.Equal(t, 3, pushResult.FailureCount)
	assert.NotEmpty(t, pushResult.Error)
}

func TestAlertBody_UsesRegionCurrency(t *testing.T) {
	alert := testAlert()
	assert.Contains(t, alert.Body(), "$150.00")

	alert.Region = models.RegionIndia
	assert.Contains(t, alert.Body(), "₹150.00")
}
