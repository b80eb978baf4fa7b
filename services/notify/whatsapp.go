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

// WhatsAppCloudSender sends messages through the WhatsApp Cloud API
type WhatsAppCloudSender struct {
	baseURL    string
	phoneID    string
	token      string
	httpClient *http.Client
}

// NewWhatsAppCloudSender creates a WhatsApp sender for the given business
// phone number ID
func NewWhatsAppCloudSender(baseURL, phoneID, token string) *WhatsAppCloudSender {
	return &WhatsAppCloudSender{
		baseURL: baseURL,
		phoneID: phoneID,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendMessage delivers one text message to a phone number
func (s *WhatsAppCloudSender) SendMessage(ctx context.Context, phone, body string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
