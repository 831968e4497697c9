package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"levtrade/internal/engine"
)

// WebhookSender posts lifecycle events as JSON to an HTTP endpoint.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSender) Name() string { return "webhook" }

type webhookPayload struct {
	PositionUUID string         `json:"position_uuid"`
	Owner        string         `json:"owner,omitempty"`
	Symbol       string         `json:"symbol"`
	Event        string         `json:"event"`
	Detail       map[string]any `json:"detail,omitempty"`
	SentAt       time.Time      `json:"sent_at"`
}

func (w *WebhookSender) Send(ctx context.Context, evt engine.Event) error {
	body, err := json.Marshal(webhookPayload{
		PositionUUID: evt.PositionUUID,
		Owner:        evt.Owner,
		Symbol:       evt.Symbol,
		Event:        evt.Type,
		Detail:       evt.Payload,
		SentAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
