// Package automation forwards pipeline events to an external workflow
// endpoint.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/jurist/internal/fault"
)

// EventNewResponse is sent after a query has been answered.
const EventNewResponse = "new_response"

// SecretHeader carries the shared secret when one is configured.
const SecretHeader = "X-Jurist-Secret"

const defaultTimeout = 10 * time.Second

type envelope struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Data      any    `json:"data"`
}

// Dispatcher posts events to {baseURL}/{event}. Delivery is at-most-once.
type Dispatcher struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewDispatcher creates a Dispatcher. An empty baseURL makes Publish a no-op.
func NewDispatcher(baseURL, secret string) *Dispatcher {
	return &Dispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// Enabled reports whether an endpoint is configured.
func (d *Dispatcher) Enabled() bool { return d.baseURL != "" }

// Publish sends one event. Failures are logged and swallowed; the event is
// never retried.
func (d *Dispatcher) Publish(ctx context.Context, event string, payload any) {
	if !d.Enabled() {
		return
	}
	if err := d.send(ctx, event, payload); err != nil {
		d.logger.Warn("automation delivery failed", "event", event, "error", fault.DeliveryErr("automation "+event, err))
	}
}

func (d *Dispatcher) send(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(envelope{
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Event:     event,
		Data:      payload,
	})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/"+event, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set(SecretHeader, d.secret)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
