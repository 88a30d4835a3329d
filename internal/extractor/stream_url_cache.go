/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package extractor

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "qradio:streamurl:"

// StreamURLCache maps an external URL to its resolved stream URL with
// absolute expiry. Redis-backed, but degrades to an in-process map the
// moment Redis becomes unreachable rather than failing every cache
// operation — a lost-update race on this cache is harmless, since both
// writers resolve to the same URL for a given key.
type StreamURLCache struct {
	client *redis.Client
	logger zerolog.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	disabled bool
	fallback map[string]cacheEntry
}

type cacheEntry struct {
	url       string
	expiresAt time.Time
}

// NewStreamURLCache dials Redis and falls back to an in-process map if it
// is unreachable at startup; the circuit breaker re-engages on any later
// operational error too.
func NewStreamURLCache(addr, password string, db int, ttl time.Duration, logger zerolog.Logger) *StreamURLCache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	c := &StreamURLCache{
		client:   client,
		logger:   logger.With().Str("component", "stream_url_cache").Logger(),
		ttl:      ttl,
		fallback: make(map[string]cacheEntry),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis unavailable, stream URL cache running in-process only")
		c.disabled = true
	}

	return c
}

// Get returns the cached stream URL for externalURL, if present and
// unexpired.
func (c *StreamURLCache) Get(externalURL string) (string, bool) {
	if c.available() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		val, err := c.client.Get(ctx, keyPrefix+externalURL).Result()
		if err == nil {
			return val, true
		}
		if err != redis.Nil {
			c.markDisabled(err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.fallback[externalURL]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.url, true
}

// Set stores streamURL for externalURL with the configured TTL.
func (c *StreamURLCache) Set(externalURL, streamURL string) {
	if c.available() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.client.Set(ctx, keyPrefix+externalURL, streamURL, c.ttl).Err(); err != nil {
			c.markDisabled(err)
		}
	}

	c.mu.Lock()
	c.fallback[externalURL] = cacheEntry{url: streamURL, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Sweep drops expired in-process fallback entries. Called periodically;
// Set writes every entry to the in-process map as well as to Redis, so
// there is something to prune whether or not Redis is healthy.
func (c *StreamURLCache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range c.fallback {
		if now.After(v.expiresAt) {
			delete(c.fallback, k)
		}
	}
}

func (c *StreamURLCache) available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *StreamURLCache) markDisabled(err error) {
	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
	c.logger.Warn().Err(err).Msg("disabling redis stream URL cache after error, falling back to in-process map")
}

// Close releases the Redis client.
func (c *StreamURLCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
