package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const webhookRetryDelay = 2 * time.Second

// WebhookNotifier POSTs the alert as JSON to an HTTP endpoint. A 5xx
// response is retried once.
type WebhookNotifier struct {
	url        string
	client     *http.Client
	now        func() time.Time
	retryDelay time.Duration
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		retryDelay: webhookRetryDelay,
	}
}

type webhookPayload struct {
	Alert
	TS string `json:"ts"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Alert: alert,
		TS:    w.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	err = w.post(ctx, body)
	if se, ok := err.(*statusError); ok && se.code >= 500 {
		log.Printf("[webhook] %v, retrying in %s", se, w.retryDelay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook: %w", ctx.Err())
		case <-time.After(w.retryDelay):
		}
		err = w.post(ctx, body)
	}
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}

	log.Printf("[webhook] delivered %q (run %s)", alert.Title, alert.RunID)
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
