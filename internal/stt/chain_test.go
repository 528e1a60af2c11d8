package stt

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
)

type stubProvider struct {
	name  string
	ready bool
	text  string
	err   error
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Ready() bool  { return s.ready }
func (s *stubProvider) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestChainFirstReadySucceeds(t *testing.T) {
	chain := NewChain(testLogger(),
		&stubProvider{name: "a", ready: false},
		&stubProvider{name: "b", ready: true, text: "hello there"},
	)
	text, err := chain.Transcribe(context.Background(), []byte{0, 0}, 16000, "en")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
}

func TestChainEmptyTranscriptIsValid(t *testing.T) {
	chain := NewChain(testLogger(), &stubProvider{name: "a", ready: true, text: ""})
	text, err := chain.Transcribe(context.Background(), []byte{0, 0}, 16000, "en")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestChainFallsThroughOnError(t *testing.T) {
	chain := NewChain(testLogger(),
		&stubProvider{name: "a", ready: true, err: errors.New("boom")},
		&stubProvider{name: "b", ready: true, text: "ok"},
	)
	text, err := chain.Transcribe(context.Background(), []byte{0, 0}, 16000, "en")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q, want ok", text)
	}
}

func TestChainAllFail(t *testing.T) {
	chain := NewChain(testLogger(), &stubProvider{name: "a", ready: true, err: errors.New("boom")})
	_, err := chain.Transcribe(context.Background(), []byte{0, 0}, 16000, "en")
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
}
