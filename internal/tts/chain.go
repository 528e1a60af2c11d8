// Package tts implements the ordered TTS provider fallback chain and
// the audio artifact store it writes synthesized speech to.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllProvidersFailed is returned when every configured provider in the
// chain has failed or was unavailable.
var ErrAllProvidersFailed = errors.New("tts: all providers failed")

// Provider synthesizes speech for one stage of the fallback chain.
type Provider interface {
	Name() string
	// Ready reports whether this provider's preconditions (credentials,
	// configuration) are satisfied.
	Ready() bool
	// Synthesize returns audio bytes and a file extension (without dot).
	Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error)
}

// Chain walks Providers in declared order: try, log, fall through to the
// next stage.
type Chain struct {
	Providers []Provider
	logger    *slog.Logger
}

// NewChain builds a Chain over providers in fixed fallback order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	return &Chain{Providers: providers, logger: logger.With("subsystem", "tts")}
}

// Synthesize tries each ready provider in order, returning the first
// success. Only when every available stage fails is an error surfaced.
func (c *Chain) Synthesize(ctx context.Context, text, language, voiceHint string) ([]byte, string, error) {
	var attempted bool
	for _, p := range c.Providers {
		if !p.Ready() {
			continue
		}
		attempted = true

		audio, ext, err := p.Synthesize(ctx, text, language, voiceHint)
		if err != nil {
			c.logger.Warn("tts provider failed, falling back", "provider", p.Name(), "error", err)
			continue
		}
		return audio, ext, nil
	}

	if !attempted {
		return nil, "", fmt.Errorf("%w: no provider configured", ErrAllProvidersFailed)
	}
	return nil, "", ErrAllProvidersFailed
}
