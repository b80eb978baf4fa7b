package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FCMPushSender sends multicast push notifications through the FCM HTTP API
type FCMPushSender struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
}

// NewFCMPushSender creates an FCM push sender
func NewFCMPushSender(endpoint, serverKey string) *FCMPushSender {
	return &FCMPushSender{
		endpoint:  endpoint,
		serverKey: serverKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type fcmRequest struct {
	RegistrationIDs []string        `json:"registration_ids"`
	Notification    fcmNotification `json:"notification"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// SendMulticast delivers one notification to all tokens in a single batched
// request and reports per-token success/failure counts.
func (s *FCMPushSender) SendMulticast(ctx context.Context, tokens []string, title, body string) (int, int, error) {
	payload, err := json.Marshal(fcmRequest{
		RegistrationIDs: tokens,
		Notification:    fcmNotification{Title: title, Body: body},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, 0, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, 0, fmt.Errorf("push API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var fcm fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&fcm); err != nil {
		return 0, 0, fmt.Errorf("parse push response: %w", err)
	}

	return fcm.Success, fcm.Failure, nil
}
