package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/njh/silentjack/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10 * time.Second

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	EventID     string  `json:"event_id,omitempty"`
	Event       string  `json:"event"`
	Name        string  `json:"name,omitempty"`
	Device      string  `json:"device,omitempty"`
	LevelDB     float64 `json:"level_db"`
	ThresholdDB float64 `json:"threshold_db"`
	PeriodSecs  int     `json:"period_secs,omitempty"`
	Message     string  `json:"message,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

// SendFireWebhook posts a fire alert to the configured webhook.
func SendFireWebhook(webhookURL string, a *Alert) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		EventID:     a.ID,
		Event:       string(a.Kind),
		Name:        a.Name,
		Device:      a.Device,
		LevelDB:     a.LevelDB,
		ThresholdDB: a.ThresholdDB,
		PeriodSecs:  a.PeriodSecs,
		Message:     a.Summary(),
		Timestamp:   timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL, name string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Name:      name,
		Message:   "This is a test notification from " + AppName + " " + name,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: webhookTimeout}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
