package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os/exec"
	"time"
)

// legacyLanguageCodes translates a BCP-47 code to a provider-specific
// variant where vocabularies differ (e.g., legacy Hebrew codes).
var legacyLanguageCodes = map[string]map[string]string{
	"free-web": {"he": "iw"},
}

func translateLanguage(provider, language string) string {
	if table, ok := legacyLanguageCodes[provider]; ok {
		if translated, ok := table[language]; ok {
			return translated
		}
	}
	return language
}

// CloudProvider calls a cloud streaming/batch STT HTTP endpoint.
type CloudProvider struct {
	APIKey     string
	BaseURL    string
	httpClient *http.Client
}

// NewCloudProvider creates a CloudProvider.
func NewCloudProvider(apiKey, baseURL string) *CloudProvider {
	return &CloudProvider{APIKey: apiKey, BaseURL: baseURL, httpClient: &http.Client{Timeout: 20 * time.Second}}
}

func (p *CloudProvider) Name() string { return "cloud" }
func (p *CloudProvider) Ready() bool  { return p.APIKey != "" }

func (p *CloudProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	wav := Wrap(pcm, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("cloud stt: creating form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("cloud stt: writing audio: %w", err)
	}
	writer.WriteField("language", translateLanguage("cloud", language))
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("cloud stt: closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/transcribe", &body)
	if err != nil {
		return "", fmt.Errorf("cloud stt: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloud stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cloud stt: status %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("cloud stt: decoding response: %w", err)
	}
	return result.Text, nil
}

// FreeWebProvider shells out to an external command-line STT tool. Needs a
// lossless-compressed container available on the host. It writes the
// WAV-wrapped PCM to the subprocess's stdin and returns its stdout as the
// transcript.
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

func (p *FreeWebProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	wav := Wrap(pcm, sampleRate)

	args := append([]string{}, p.Args...)
	args = append(args, "--lang", translateLanguage("free-web", language))

	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Stdin = bytes.NewReader(wav)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("free-web stt: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// APIProvider is a key-gated Whisper-style API STT stage.
type APIProvider struct {
	APIKey     string
	httpClient *http.Client
}

// NewAPIProvider creates an APIProvider.
func NewAPIProvider(apiKey string) *APIProvider {
	return &APIProvider{APIKey: apiKey, httpClient: &http.Client{Timeout: 20 * time.Second}}
}

func (p *APIProvider) Name() string { return "api" }
func (p *APIProvider) Ready() bool  { return p.APIKey != "" }

func (p *APIProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	wav := Wrap(pcm, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("api stt: creating form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("api stt: writing audio: %w", err)
	}
	writer.WriteField("model", "whisper-1")
	writer.WriteField("language", language)
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("api stt: closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("api stt: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("api stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api stt: status %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("api stt: decoding response: %w", err)
	}
	return result.Text, nil
}
