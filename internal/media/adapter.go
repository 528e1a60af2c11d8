// Package media is a thin HTTP client to the external media engine's admin
// API: it allocates and tears down media endpoints but never touches RTP
// itself (RTP termination, playback, and the audio fork live entirely in
// the engine).
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// envelope mirrors the admin API's {data, error} wire shape.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Adapter is the HTTP client to the media engine's admin API.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	secret     string
}

// New creates an Adapter targeting addr (host:port) authenticated with
// secret.
func New(addr, secret string) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    "http://" + addr,
		secret:     secret,
	}
}

// createEndpointResponse is the admin API's response to endpoint creation.
type createEndpointResponse struct {
	EndpointID string `json:"endpointId"`
	LocalSDP   string `json:"localSdp"`
}

// CreateEndpoint allocates media resources on the engine and returns an
// Endpoint carrying the engine's local SDP answer/offer.
func (a *Adapter) CreateEndpoint(ctx context.Context) (*Endpoint, error) {
	var resp createEndpointResponse
	if err := a.do(ctx, http.MethodPost, "/endpoints", nil, &resp); err != nil {
		return nil, fmt.Errorf("creating media endpoint: %w", err)
	}
	return &Endpoint{adapter: a, id: resp.EndpointID, localSDP: resp.LocalSDP}, nil
}

// Endpoint wraps an opaque engine-side media session.
type Endpoint struct {
	adapter  *Adapter
	id       string
	localSDP string

	destroyOnce sync.Once
}

// LocalSDP returns the SDP produced at creation time.
func (e *Endpoint) LocalSDP() string { return e.localSDP }

// Modify completes media negotiation once the peer's SDP is known.
func (e *Endpoint) Modify(ctx context.Context, remoteSDP string) error {
	body := map[string]string{"remoteSdp": remoteSDP}
	if err := e.adapter.do(ctx, http.MethodPost, "/endpoints/"+e.id+"/modify", body, nil); err != nil {
		return fmt.Errorf("modifying media endpoint %s: %w", e.id, err)
	}
	return nil
}

// Play fetches and plays url, resolving when playback ends or ctx is
// cancelled. Cancellation is propagated to the engine's in-flight
// playback via a best-effort stop call.
func (e *Endpoint) Play(ctx context.Context, url string) error {
	body := map[string]string{"url": url}
	err := e.adapter.do(ctx, http.MethodPost, "/endpoints/"+e.id+"/play", body, nil)
	if ctx.Err() != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.adapter.do(stopCtx, http.MethodPost, "/endpoints/"+e.id+"/stop", nil, nil)
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("playing %s on endpoint %s: %w", url, e.id, err)
	}
	return nil
}

// ForkAudio instructs the engine to stream raw 16-bit PCM mono to wsURL,
// stamped with callID.
func (e *Endpoint) ForkAudio(ctx context.Context, wsURL, callID string) error {
	body := map[string]string{"wsUrl": wsURL, "callId": callID}
	if err := e.adapter.do(ctx, http.MethodPost, "/endpoints/"+e.id+"/fork", body, nil); err != nil {
		return fmt.Errorf("forking audio for endpoint %s: %w", e.id, err)
	}
	return nil
}

// Destroy tears down the endpoint. Safe to call more than once.
func (e *Endpoint) Destroy(ctx context.Context) error {
	var destroyErr error
	e.destroyOnce.Do(func() {
		destroyErr = e.adapter.do(ctx, http.MethodDelete, "/endpoints/"+e.id, nil, nil)
	})
	return destroyErr
}

// do sends an admin API request and decodes the {data, error} envelope.
func (a *Adapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.secret != "" {
		req.Header.Set("X-Admin-Secret", a.secret)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return fmt.Errorf("media engine error (status %d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("media engine returned status %d", resp.StatusCode)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}
