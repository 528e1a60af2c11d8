// Package webhook delivers best-effort call-state notifications to a
// per-session webhook URL: a short-timeout http.Client, no retry, errors
// logged rather than surfaced.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const deliveryTimeout = 5 * time.Second

// Event is the payload POSTed on every call-state transition.
type Event struct {
	CallID    string  `json:"callId"`
	Timestamp string  `json:"timestamp"`
	State     string  `json:"event"`
	To        string  `json:"to"`
	Duration  float64 `json:"duration"`
	Reason    string  `json:"reason,omitempty"`
}

// Dispatcher posts Events to webhook URLs, fire-and-forget.
type Dispatcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: deliveryTimeout},
		logger:     logger.With("subsystem", "webhook"),
	}
}

// Deliver POSTs ev to url in its own goroutine. Failures are logged, never
// retried.
func (d *Dispatcher) Deliver(url string, ev Event) {
	if url == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		body, err := json.Marshal(ev)
		if err != nil {
			d.logger.Error("webhook: marshalling event failed", "call_id", ev.CallID, "error", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			d.logger.Warn("webhook: building request failed", "call_id", ev.CallID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			d.logger.Warn("webhook delivery failed", "call_id", ev.CallID, "event", ev.State, "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			d.logger.Warn("webhook delivery rejected", "call_id", ev.CallID, "event", ev.State, "status", resp.StatusCode)
		}
	}()
}

// EventName lowercases a call-session state for the wire event name, e.g.
// "completed", "failed".
func EventName(state string) string {
	return strings.ToLower(state)
}
