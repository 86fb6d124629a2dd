package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger zerolog.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// WebhookPayload is the JSON document posted for each report.
type WebhookPayload struct {
	Dir       string    `json:"dir,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Kind      string    `json:"kind"`
	Verbosity int       `json:"verbosity"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// WebhookSink posts reports as JSON to a URL.
type WebhookSink struct {
	url    string
	client *retryablehttp.Client
	now    func() time.Time
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string, logger zerolog.Logger) *WebhookSink {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = 15 * time.Second
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = &retryLogger{logger: logger}
	return &WebhookSink{url: url, client: client, now: time.Now}
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink.
func (w *WebhookSink) Deliver(ctx context.Context, m Message) error {
	body, err := json.Marshal(WebhookPayload{
		Dir:       m.Dir,
		Subject:   m.Subject,
		Kind:      m.Kind.String(),
		Verbosity: m.Verbosity,
		Text:      m.Text,
		Time:      w.now().UTC(),
	})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
