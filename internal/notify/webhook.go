package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oszuidwest/rdio-vox/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string `json:"event"`
	Station   string `json:"station,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`

	// Upload events
	SessionID string `json:"session_id,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Talkgroup string `json:"talkgroup,omitempty"`

	// Upload and device events
	Error string `json:"error,omitempty"`
}

// sendWebhook posts payload as JSON. Any 2xx status counts as delivered.
func sendWebhook(ctx context.Context, client *http.Client, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
