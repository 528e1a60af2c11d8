package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"
)

// CloudProvider calls a cloud text-to-speech HTTP endpoint, preferred
// whenever a cloud key is configured.
type CloudProvider struct {
	APIKey     string
	BaseURL    string
	httpClient *http.Client
}

// NewCloudProvider creates a CloudProvider.
func NewCloudProvider(apiKey, baseURL string) *CloudProvider {
	return &CloudProvider{APIKey: apiKey, BaseURL: baseURL, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (p *CloudProvider) Name() string { return "cloud" }
func (p *CloudProvider) Ready() bool  { return p.APIKey != "" }

func (p *CloudProvider) Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error) {
	body, _ := json.Marshal(map[string]string{"text": text, "language": language, "voice": voiceHint})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("cloud tts: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("cloud tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("cloud tts: status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", fmt.Errorf("cloud tts: reading response: %w", err)
	}
	return audio, "mp3", nil
}

// GPUCloneProvider calls a local or remote GPU voice-cloning inference
// endpoint. Skipped on low-power targets via explicit configuration.
type GPUCloneProvider struct {
	Enabled    bool
	BaseURL    string
	httpClient *http.Client
}

// NewGPUCloneProvider creates a GPUCloneProvider.
func NewGPUCloneProvider(enabled bool, baseURL string) *GPUCloneProvider {
	return &GPUCloneProvider{Enabled: enabled, BaseURL: baseURL, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (p *GPUCloneProvider) Name() string { return "gpu-clone" }
func (p *GPUCloneProvider) Ready() bool  { return p.Enabled && p.BaseURL != "" }

func (p *GPUCloneProvider) Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error) {
	body, _ := json.Marshal(map[string]string{"text": text, "language": language, "voice_id": voiceHint})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("gpu clone tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("gpu clone tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("gpu clone tts: status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", fmt.Errorf("gpu clone tts: reading response: %w", err)
	}
	return audio, "wav", nil
}

// FreeWebProvider shells out to an external command-line TTS tool, the
// last-resort stage that is always available given network access.
type FreeWebProvider struct {
	Command string
	Args    []string
}

// NewFreeWebProvider creates a FreeWebProvider. An empty command disables
// the stage.
func NewFreeWebProvider(command string, args []string) *FreeWebProvider {
	return &FreeWebProvider{Command: command, Args: args}
}

func (p *FreeWebProvider) Name() string { return "free-web" }
func (p *FreeWebProvider) Ready() bool  { return p.Command != "" }

func (p *FreeWebProvider) Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error) {
	args := append([]string{}, p.Args...)
	args = append(args, "--text", text, "--lang", language)

	cmd := exec.CommandContext(ctx, p.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, "", fmt.Errorf("free-web tts: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, "", fmt.Errorf("free-web tts: empty output")
	}
	return stdout.Bytes(), "mp3", nil
}

// APIAProvider is a key-gated API TTS stage (ElevenLabs-style).
type APIAProvider struct {
	APIKey     string
	httpClient *http.Client
}

// NewAPIAProvider creates an APIAProvider.
func NewAPIAProvider(apiKey string) *APIAProvider {
	return &APIAProvider{APIKey: apiKey, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (p *APIAProvider) Name() string { return "api-a" }
func (p *APIAProvider) Ready() bool  { return p.APIKey != "" }

func (p *APIAProvider) Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error) {
	voice := voiceHint
	if voice == "" {
		voice = "21m00Tcm4TlvDq8ikWAM" // ElevenLabs default voice id
	}

	body, _ := json.Marshal(map[string]interface{}{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
	})
	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("api-a tts: creating request: %w", err)
	}
	req.Header.Set("xi-api-key", p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("api-a tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("api-a tts: status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", fmt.Errorf("api-a tts: reading response: %w", err)
	}
	return audio, "mp3", nil
}

// APIBProvider is a key-gated API TTS stage that supports voice cloning by
// opaque voice id (OpenAI-style).
type APIBProvider struct {
	APIKey     string
	httpClient *http.Client
}

// NewAPIBProvider creates an APIBProvider.
func NewAPIBProvider(apiKey string) *APIBProvider {
	return &APIBProvider{APIKey: apiKey, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (p *APIBProvider) Name() string { return "api-b" }
func (p *APIBProvider) Ready() bool  { return p.APIKey != "" }

func (p *APIBProvider) Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error) {
	voice := voiceHint
	if voice == "" {
		voice = "alloy"
	}

	body, _ := json.Marshal(map[string]string{
		"model": "tts-1",
		"input": text,
		"voice": voice,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("api-b tts: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("api-b tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("api-b tts: status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", fmt.Errorf("api-b tts: reading response: %w", err)
	}
	return audio, "mp3", nil
}
