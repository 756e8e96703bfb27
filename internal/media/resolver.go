/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/guildplay/internal/cache"
	"github.com/friendsincode/guildplay/internal/playback"
	"github.com/friendsincode/guildplay/internal/telemetry"
)

// ResolverConfig tunes retries and throttling.
type ResolverConfig struct {
	Attempts        int
	Timeout         time.Duration // first attempt; doubled on each retry
	RetryDelay      time.Duration
	PlaylistTimeout time.Duration
	Rate            float64 // resolutions per second; 0 disables throttling
	Burst           int
}

// DefaultResolverConfig returns the production defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Attempts:        3,
		Timeout:         5 * time.Second,
		RetryDelay:      time.Second,
		PlaylistTimeout: 60 * time.Second,
		Rate:            4,
		Burst:           10,
	}
}

// Resolver implements playback.Resolver over a Backend with caching,
// throttling and bounded retry.
type Resolver struct {
	backend Backend
	cache   *cache.Cache
	limiter *rate.Limiter
	cfg     ResolverConfig
	logger  zerolog.Logger
}

var _ playback.Resolver = (*Resolver)(nil)

// NewResolver creates a resolver. A nil cache disables caching.
func NewResolver(backend Backend, c *cache.Cache, cfg ResolverConfig, logger zerolog.Logger) *Resolver {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = DefaultResolverConfig().PlaylistTimeout
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Resolver{
		backend: backend,
		cache:   c,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cfg:     cfg,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve turns a URL or free-text query into a Track.
func (r *Resolver) Resolve(ctx context.Context, query string) (playback.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return playback.Track{}, fmt.Errorf("%w: empty query", ErrNoResults)
	}
	if cached, ok := r.cache.GetTrack(ctx, query); ok {
		return playback.Track{
			Title:     cached.Title,
			SourceURL: cached.SourceURL,
			Duration:  cached.Duration,
			Thumbnail: cached.Thumbnail,
		}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "media", "media.resolve")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"query": query, "url": IsURL(query)})

	t, err := r.extract(ctx, "resolve", query)
	if err != nil {
		telemetry.RecordError(span, err)
		return playback.Track{}, err
	}
	if err := r.cache.SetTrack(ctx, query, &cache.CachedTrack{
		Title:     t.Title,
		SourceURL: t.SourceURL,
		Duration:  t.Duration,
		Thumbnail: t.Thumbnail,
	}); err != nil {
		r.logger.Debug().Err(err).Msg("cache write failed")
	}
	return t, nil
}

// ResolveEntry resolves one playlist entry.
func (r *Resolver) ResolveEntry(ctx context.Context, entry playback.PlaylistEntry) (playback.Track, error) {
	ctx, span := telemetry.StartSpan(ctx, "media", "media.resolve_entry")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"url": entry.URL})

	t, err := r.extract(ctx, "entry", entry.URL)
	if err != nil {
		telemetry.RecordError(span, err)
		return playback.Track{}, err
	}
	if t.Title == "" {
		t.Title = entry.Title
	}
	if t.Duration == 0 {
		t.Duration = entry.Duration
	}
	if t.SourceURL == "" {
		t.SourceURL = entry.URL
	}
	return t, nil
}

// StreamURL fetches a fresh stream URL for a track's source. Stream URLs
// expire, so this bypasses the cache.
func (r *Resolver) StreamURL(ctx context.Context, track playback.Track) (string, error) {
	target := track.SourceURL
	if target == "" {
		target = track.Title
	}
	t, err := r.extract(ctx, "stream", target)
	if err != nil {
		return "", err
	}
	if t.StreamURL == "" {
		return "", fmt.Errorf("%w: no stream for %s", ErrUnavailable, target)
	}
	return t.StreamURL, nil
}

// ResolvePlaylist lists the entries of a playlist URL. The total is the
// number of entries found.
func (r *Resolver) ResolvePlaylist(ctx context.Context, playlistURL string) ([]playback.PlaylistEntry, int, error) {
	if cached, ok := r.cache.GetPlaylist(ctx, playlistURL); ok {
		entries := make([]playback.PlaylistEntry, len(cached))
		for i, e := range cached {
			entries[i] = playback.PlaylistEntry{URL: e.URL, Title: e.Title, Duration: e.Duration}
		}
		return entries, len(entries), nil
	}

	ctx, span := telemetry.StartSpan(ctx, "media", "media.resolve_playlist")
	defer span.End()

	start := time.Now()
	lctx, cancel := context.WithTimeout(ctx, r.cfg.PlaylistTimeout)
	defer cancel()
	entries, err := r.backend.ListPlaylist(lctx, playlistURL)
	telemetry.ResolutionDuration.WithLabelValues("playlist").Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ResolutionsTotal.WithLabelValues("playlist", "error").Inc()
		telemetry.RecordError(span, err)
		r.logger.Warn().Err(err).Str("url", playlistURL).Msg("playlist listing failed")
		return nil, 0, wrapResolution(err)
	}
	telemetry.ResolutionsTotal.WithLabelValues("playlist", "ok").Inc()
	telemetry.AddSpanAttributes(span, map[string]any{"entries": len(entries)})

	if len(entries) > 0 {
		cached := make([]cache.CachedEntry, len(entries))
		for i, e := range entries {
			cached[i] = cache.CachedEntry{URL: e.URL, Title: e.Title, Duration: e.Duration}
		}
		if err := r.cache.SetPlaylist(ctx, playlistURL, cached); err != nil {
			r.logger.Debug().Err(err).Msg("cache write failed")
		}
	}
	return entries, len(entries), nil
}

// extract runs the backend with per-attempt timeouts that double on each
// retry. Age restriction and empty results are not retried.
func (r *Resolver) extract(ctx context.Context, operation, target string) (playback.Track, error) {
	start := time.Now()
	attempt := 0
	op := func() (playback.Track, error) {
		attempt++
		timeout := r.cfg.Timeout << (attempt - 1)
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := r.limiter.Wait(actx); err != nil {
			if ctx.Err() != nil {
				return playback.Track{}, backoff.Permanent(ctx.Err())
			}
			return playback.Track{}, err
		}
		t, err := r.backend.Extract(actx, target)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, ErrAgeRestricted) || errors.Is(err, ErrNoResults) || errors.Is(err, ErrUnavailable) {
			return playback.Track{}, backoff.Permanent(err)
		}
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("attempt %d timed out after %s: %w", attempt, timeout, err)
		}
		return playback.Track{}, err
	}
	notify := func(err error, wait time.Duration) {
		telemetry.ResolutionRetriesTotal.Inc()
		r.logger.Debug().Err(err).Str("target", target).Int("attempt", attempt).Dur("retry_in", wait).Msg("resolution attempt failed")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryDelay), uint64(r.cfg.Attempts-1)),
		ctx,
	)
	t, err := backoff.RetryNotifyWithData(op, policy, notify)
	telemetry.ResolutionDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.ResolutionsTotal.WithLabelValues(operation, "error").Inc()
		r.logger.Warn().Err(err).Str("target", target).Int("attempts", attempt).Msg("resolution failed")
		return playback.Track{}, wrapResolution(err)
	}
	telemetry.ResolutionsTotal.WithLabelValues(operation, "ok").Inc()
	return t, nil
}

func wrapResolution(err error) error {
	if errors.Is(err, playback.ErrResolution) {
		return err
	}
	return fmt.Errorf("%w: %w", playback.ErrResolution, err)
}

// IsURL reports whether s is an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsPlaylistURL reports whether s looks like a playlist link.
func IsPlaylistURL(s string) bool {
	return strings.Contains(s, "playlist") || strings.Contains(s, "list=")
}
