// Package aibridge is the request/response client to the remote
// conversation gateway, carrying a per-call session key and retrying once
// on upstream faults.
package aibridge

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
)

const defaultTimeout = 30 * time.Second

// voiceContextPreamble is prepended ahead of the device personality so the
// model knows it is speaking, not typing.
const voiceContextPreamble = "You are speaking on a live phone call. Keep responses short, natural, and conversational — this is audio, not text."

// askRequest is the body sent to the remote gateway.
type askRequest struct {
	Text    string `json:"text"`
	Session string `json:"session,omitempty"`
}

// askResponse mirrors the gateway's nested success shape.
type askResponse struct {
	Response struct {
		Speech struct {
			Plain struct {
				Speech string `json:"speech"`
			} `json:"plain"`
		} `json:"speech"`
	} `json:"response"`
}

// Client is the HTTP client to the conversation gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Client targeting baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		logger:     logger.With("subsystem", "aibridge"),
	}
}

// sessionLockedSignal is the text fragment indicating the gateway's
// session file was locked by a concurrent request for the same key.
const sessionLockedSignal = "session file locked"

// Ask sends a conversation turn to the gateway, prepending the device
// personality and a fixed voice-context block. callID, when non-empty,
// derives a stable session key; devicePrompt, when non-empty, is
// prepended to the user's text.
func (c *Client) Ask(ctx context.Context, text, callID, devicePrompt string) (string, error) {
	session := ""
	if callID != "" {
		session = "claude-phone-" + callID
	}

	prompt := buildPrompt(devicePrompt, text)

	reply, err := c.ask(ctx, prompt, session)
	if err == nil {
		return reply, nil
	}

	if !shouldRetry(err) {
		return "", err
	}

	retrySession := session
	if retrySession != "" {
		retrySession = fmt.Sprintf("%s-retry-%d", session, time.Now().UnixMilli())
	}

	c.logger.Warn("ai bridge retrying with fresh session", "call_id", callID, "error", err)
	return c.ask(ctx, prompt, retrySession)
}

func buildPrompt(devicePrompt, text string) string {
	var b strings.Builder
	b.WriteString(voiceContextPreamble)
	if devicePrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(devicePrompt)
	}
	b.WriteString("\n\n")
	b.WriteString(text)
	return b.String()
}

// upstreamError carries the HTTP status so shouldRetry can classify it.
type upstreamError struct {
	status int
	body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("ai bridge: gateway returned status %d: %s", e.status, e.body)
}

func shouldRetry(err error) bool {
	var upErr *upstreamError
	if ue, ok := err.(*upstreamError); ok {
		upErr = ue
	}
	if upErr == nil {
		return false
	}
	if upErr.status >= 500 {
		return true
	}
	return strings.Contains(strings.ToLower(upErr.body), sessionLockedSignal)
}

func (c *Client) ask(ctx context.Context, prompt, session string) (string, error) {
	body, err := json.Marshal(askRequest{Text: prompt, Session: session})
	if err != nil {
		return "", fmt.Errorf("ai bridge: marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/conversation/process", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai bridge: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai bridge: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai bridge: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &upstreamError{status: resp.StatusCode, body: string(respBody)}
	}

	var ar askResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return "", fmt.Errorf("ai bridge: decoding response: %w", err)
	}

	return ar.Response.Speech.Plain.Speech, nil
}

// Query sends a standalone prompt to the gateway with no call id and no
// voice-context framing, for the synchronous device query endpoint rather
// than a live phone call. It retries once on the same upstream-fault/
// session-locked conditions as Ask.
func (c *Client) Query(ctx context.Context, prompt string) (string, error) {
	reply, err := c.ask(ctx, prompt, "")
	if err == nil {
		return reply, nil
	}
	if !shouldRetry(err) {
		return "", err
	}

	c.logger.Warn("ai bridge query retrying with fresh session", "error", err)
	retrySession := fmt.Sprintf("claude-phone-query-retry-%d", time.Now().UnixMilli())
	return c.ask(ctx, prompt, retrySession)
}

// EndSession issues a best-effort end-of-session notification to the
// gateway when a call terminates. Errors are logged, never returned.
func (c *Client) EndSession(callID string) {
	if callID == "" {
		return
	}
	session := "claude-phone-" + callID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"session": session})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/conversation/end", bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("ai bridge: building end-session request failed", "call_id", callID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ai bridge: end-session request failed", "call_id", callID, "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
}
