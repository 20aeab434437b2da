package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/errors"
)

// WebhookNotifier POSTs each event as a JSON document to a configured
// URL, for chat-service integrations and the like. The payload is the
// Event itself plus a preformatted text line for sinks that only render
// plain text.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Event
	Text string `json:"text"`
}

func (n *WebhookNotifier) Send(ctx context.Context, ev Event) error {
	payload := webhookPayload{
		Event: ev,
		Text:  fmt.Sprintf("[%s] %s %s", ev.Kind, ev.Subject, ev.Detail),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "cannot encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "cannot build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook delivery failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(errors.ErrExec,
			fmt.Sprintf("webhook returned %s", resp.Status),
			"check the notify.webhook_url setting")
	}
	return nil
}
