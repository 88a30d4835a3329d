/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package extractor wraps the external stream URL resolver (an opaque
// subprocess or network client the core treats as a bounded-deadline
// function) and the Redis-backed cache in front of it.
package extractor

import (
	"context"
	"errors"
	"time"

	"github.com/radiocommons/queue-radio/internal/telemetry"
)

// ErrTimeout is returned when resolution does not complete within the
// caller's deadline.
var ErrTimeout = errors.New("extractor: timed out")

// Resolver resolves a canonical external URL (playlist parameters
// stripped) to a best audio-only direct stream URL. Implementations run as
// a subprocess or network client; the core never inspects how.
type Resolver interface {
	Resolve(ctx context.Context, externalURL string) (string, error)
}

// Metadata fetches supplementary song metadata (title, duration) from the
// same external platform, bounded by a shorter deadline than Resolve.
type Metadata interface {
	Fetch(ctx context.Context, externalURL string) (Info, error)
}

// Info is metadata about an external video.
type Info struct {
	Title        string
	DurationSec  int
	ThumbnailURL string
}

// Service resolves stream URLs with a cache in front of the Resolver and
// enforces the caller's bounded deadlines.
type Service struct {
	resolver Resolver
	cache    *StreamURLCache

	extractorTimeout time.Duration
	metadataTimeout  time.Duration
}

// New constructs a Service.
func New(resolver Resolver, cache *StreamURLCache, extractorTimeout, metadataTimeout time.Duration) *Service {
	return &Service{
		resolver:         resolver,
		cache:            cache,
		extractorTimeout: extractorTimeout,
		metadataTimeout:  metadataTimeout,
	}
}

// ResolveStreamURL returns the cached stream URL for externalURL if
// present and unexpired; otherwise it resolves through the Resolver,
// bounded by the configured extractor timeout, and populates the cache.
func (s *Service) ResolveStreamURL(ctx context.Context, externalURL string) (string, error) {
	if cached, ok := s.cache.Get(externalURL); ok {
		return cached, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "extractor", "ResolveStreamURL")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"external_url": externalURL})

	ctx, cancel := context.WithTimeout(ctx, s.extractorTimeout)
	defer cancel()

	streamURL, err := s.resolver.Resolve(ctx, externalURL)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			telemetry.RecordError(span, ErrTimeout)
			return "", ErrTimeout
		}
		telemetry.RecordError(span, err)
		return "", err
	}

	s.cache.Set(externalURL, streamURL)
	return streamURL, nil
}
