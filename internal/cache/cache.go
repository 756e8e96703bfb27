/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based cache for resolved media.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultTrackTTL    = 30 * time.Minute
	DefaultPlaylistTTL = 10 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyTrack    = "guildplay:cache:track:"    // + sha1(query)
	KeyPlaylist = "guildplay:cache:playlist:" // + sha1(url)
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TrackTTL    time.Duration
	PlaylistTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		TrackTTL:       DefaultTrackTTL,
		PlaylistTTL:    DefaultPlaylistTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Disabled returns a cache that misses on every lookup.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")
	telemetry.CacheResultsTotal.WithLabelValues("error").Inc()

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		telemetry.CacheResultsTotal.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	telemetry.CacheResultsTotal.WithLabelValues("hit").Inc()
	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// Key hashes a free-form query or URL into a stable key suffix. Queries are
// case- and whitespace-normalized so "Song " and "song" share an entry.
func Key(query string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])
}

// CachedTrack is a resolved track as stored in Redis. Stream URLs expire
// upstream, so they are never cached.
type CachedTrack struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// GetTrack retrieves the cached resolution of query.
func (c *Cache) GetTrack(ctx context.Context, query string) (*CachedTrack, bool) {
	var track CachedTrack
	found, err := c.get(ctx, KeyTrack+Key(query), &track)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("query", query).Str("title", track.Title).Msg("track cache hit")
	return &track, true
}

// SetTrack caches the resolution of query.
func (c *Cache) SetTrack(ctx context.Context, query string, track *CachedTrack) error {
	return c.set(ctx, KeyTrack+Key(query), track, c.config.TrackTTL)
}

// CachedEntry is one flat playlist entry.
type CachedEntry struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// GetPlaylist retrieves cached playlist entries for url.
func (c *Cache) GetPlaylist(ctx context.Context, url string) ([]CachedEntry, bool) {
	var entries []CachedEntry
	found, err := c.get(ctx, KeyPlaylist+Key(url), &entries)
	if err != nil || !found || len(entries) == 0 {
		return nil, false
	}
	c.logger.Debug().Str("url", url).Int("count", len(entries)).Msg("playlist cache hit")
	return entries, true
}

// SetPlaylist caches playlist entries for url.
func (c *Cache) SetPlaylist(ctx context.Context, url string, entries []CachedEntry) error {
	return c.set(ctx, KeyPlaylist+Key(url), entries, c.config.PlaylistTTL)
}

// Invalidate drops any cached resolution for query.
func (c *Cache) Invalidate(ctx context.Context, query string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, KeyTrack+Key(query), KeyPlaylist+Key(query)).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}
