// Package stt implements the ordered STT provider fallback chain.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllProvidersFailed is returned when every configured provider in the
// chain has failed or was unavailable.
var ErrAllProvidersFailed = errors.New("stt: all providers failed")

// Provider transcribes one stage of the fallback chain. An empty
// transcript is a valid result, treated as "no speech".
type Provider interface {
	Name() string
	Ready() bool
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error)
}

// Chain walks Providers in declared order until one succeeds.
type Chain struct {
	Providers []Provider
	logger    *slog.Logger
}

// NewChain builds a Chain over providers in fixed fallback order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	return &Chain{Providers: providers, logger: logger.With("subsystem", "stt")}
}

// Transcribe tries each ready provider in order, returning the first
// success (which may be an empty string, meaning "no speech").
func (c *Chain) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	var attempted bool
	for _, p := range c.Providers {
		if !p.Ready() {
			continue
		}
		attempted = true

		text, err := p.Transcribe(ctx, pcm, sampleRate, language)
		if err != nil {
			c.logger.Warn("stt provider failed, falling back", "provider", p.Name(), "error", err)
			continue
		}
		return text, nil
	}

	if !attempted {
		return "", fmt.Errorf("%w: no provider configured", ErrAllProvidersFailed)
	}
	return "", ErrAllProvidersFailed
}
