package tts

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
	audio []byte
	ext   string
	err   error
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Ready() bool  { return s.ready }
func (s *stubProvider) Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.audio, s.ext, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestChainFirstReadySucceeds(t *testing.T) {
	chain := NewChain(testLogger(),
		&stubProvider{name: "a", ready: false},
		&stubProvider{name: "b", ready: true, audio: []byte("hi"), ext: "mp3"},
	)
	audio, ext, err := chain.Synthesize(context.Background(), "hello", "en", "")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if string(audio) != "hi" || ext != "mp3" {
		t.Errorf("got (%q, %q)", audio, ext)
	}
}

func TestChainFallsThroughOnError(t *testing.T) {
	chain := NewChain(testLogger(),
		&stubProvider{name: "a", ready: true, err: errors.New("boom")},
		&stubProvider{name: "b", ready: true, audio: []byte("ok"), ext: "wav"},
	)
	audio, _, err := chain.Synthesize(context.Background(), "hello", "en", "")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if string(audio) != "ok" {
		t.Errorf("got %q, want ok", audio)
	}
}

func TestChainAllFail(t *testing.T) {
	chain := NewChain(testLogger(),
		&stubProvider{name: "a", ready: true, err: errors.New("boom")},
	)
	_, _, err := chain.Synthesize(context.Background(), "hello", "en", "")
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestChainNoneConfigured(t *testing.T) {
	chain := NewChain(testLogger())
	_, _, err := chain.Synthesize(context.Background(), "hello", "en", "")
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Errorf("err = %v, want ErrAllProvidersFailed", err)
	}
}
