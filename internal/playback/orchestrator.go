/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/events"
)

// Config tunes playlist batching and playback recovery.
type Config struct {
	BatchSize              int
	LookaheadIndex         int
	BatchConcurrency       int
	ReconnectAttempts      int
	ReconnectDelay         time.Duration
	ConstructionRetryDelay time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:              10,
		LookaheadIndex:         8,
		BatchConcurrency:       3,
		ReconnectAttempts:      5,
		ReconnectDelay:         time.Second,
		ConstructionRetryDelay: time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LookaheadIndex < 0 || c.LookaheadIndex >= c.BatchSize {
		c.LookaheadIndex = c.BatchSize - 1
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = d.BatchConcurrency
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 1
	}
	if c.ReconnectDelay < 0 {
		c.ReconnectDelay = 0
	}
	if c.ConstructionRetryDelay < 0 {
		c.ConstructionRetryDelay = 0
	}
	return c
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Resolver   Resolver
	Transports TransportFactory
	Players    PlayerFactory
	Notifier   Notifier
	Bus        *events.Bus
	Logger     zerolog.Logger
}

// Enqueued describes the result of adding a track.
type Enqueued struct {
	Position int   `json:"position"`
	Track    Track `json:"track"`
	Started  bool  `json:"started"`
}

// Orchestrator is the entry point for command handlers: it resolves input,
// routes it to the tenant's session and reports back through the notifier.
type Orchestrator struct {
	deps     *Deps
	registry *Registry
	logger   zerolog.Logger
}

// New creates an orchestrator. Resolver, Transports and Players are required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Resolver == nil || deps.Transports == nil || deps.Players == nil {
		return nil, errors.New("playback: resolver, transport factory and player factory are required")
	}
	d := &deps
	return &Orchestrator{
		deps:     d,
		registry: NewRegistry(cfg.normalized(), d),
		logger:   deps.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Registry exposes the per-tenant sessions.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Join connects tenantID to a voice channel.
func (o *Orchestrator) Join(ctx context.Context, tenantID, channelID string) error {
	return o.registry.Get(tenantID).Join(ctx, channelID)
}

// Play joins channelID when given, resolves query and appends the result to
// the tenant's queue.
func (o *Orchestrator) Play(ctx context.Context, tenantID, channelID, query string) (Enqueued, error) {
	return o.enqueue(ctx, tenantID, channelID, query, -1)
}

// PlayNow is Play but puts the track next in line.
func (o *Orchestrator) PlayNow(ctx context.Context, tenantID, channelID, query string) (Enqueued, error) {
	return o.enqueue(ctx, tenantID, channelID, query, 0)
}

// Enqueue adds an already resolved track at position (negative appends).
func (o *Orchestrator) Enqueue(tenantID string, track Track, position int) (Enqueued, error) {
	res, err := o.registry.Get(tenantID).Enqueue(track, position)
	if err != nil {
		return res, err
	}
	if !res.Started {
		o.notify(tenantID, fmt.Sprintf("Added to queue: %s", track.Title))
	}
	return res, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, tenantID, channelID, query string, position int) (Enqueued, error) {
	if err := o.ensureJoined(ctx, tenantID, channelID); err != nil {
		return Enqueued{}, err
	}
	track, err := o.deps.Resolver.Resolve(ctx, query)
	if err != nil {
		o.logger.Warn().Err(err).Str("guild_id", tenantID).Str("query", query).Msg("resolution failed")
		o.notify(tenantID, fmt.Sprintf("❌ Error: %v", err))
		if errors.Is(err, ErrResolution) {
			return Enqueued{}, err
		}
		return Enqueued{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	return o.Enqueue(tenantID, track, position)
}

// LoadPlaylist joins channelID when given and starts progressive ingestion of
// the playlist at url.
func (o *Orchestrator) LoadPlaylist(ctx context.Context, tenantID, channelID, url string) (int, error) {
	if err := o.ensureJoined(ctx, tenantID, channelID); err != nil {
		return 0, err
	}
	return o.registry.Get(tenantID).LoadPlaylist(ctx, url)
}

func (o *Orchestrator) ensureJoined(ctx context.Context, tenantID, channelID string) error {
	if channelID == "" {
		return nil
	}
	if err := o.Join(ctx, tenantID, channelID); err != nil {
		o.logger.Error().Err(err).Str("guild_id", tenantID).Str("channel_id", channelID).Msg("voice join failed")
		o.notify(tenantID, "❌ Could not join your voice channel.")
		return err
	}
	return nil
}

// Skip drops n queued items and ends the current track.
func (o *Orchestrator) Skip(tenantID string, n int) (int, error) {
	s, ok := o.registry.Lookup(tenantID)
	if !ok {
		return 0, ErrNothingPlaying
	}
	return s.Skip(n)
}

// Stop clears the tenant's queue and disconnects.
func (o *Orchestrator) Stop(ctx context.Context, tenantID string) error {
	s, ok := o.registry.Lookup(tenantID)
	if !ok {
		return ErrNothingPlaying
	}
	return s.Stop(ctx)
}

// Leave stops playback and leaves the voice channel.
func (o *Orchestrator) Leave(ctx context.Context, tenantID string) error {
	s, ok := o.registry.Lookup(tenantID)
	if !ok {
		return ErrNotConnected
	}
	return s.Leave(ctx)
}

// Queue returns a snapshot of the tenant's queue with at most limit items.
func (o *Orchestrator) Queue(tenantID string, limit int) Snapshot {
	s, ok := o.registry.Lookup(tenantID)
	if !ok {
		return Snapshot{TenantID: tenantID, State: StateIdle.String(), Items: []Track{}, TakenAt: time.Now()}
	}
	return s.Snapshot(limit)
}

// NowPlaying returns the tenant's current track.
func (o *Orchestrator) NowPlaying(tenantID string) (Track, bool) {
	s, ok := o.registry.Lookup(tenantID)
	if !ok {
		return Track{}, false
	}
	return s.NowPlaying()
}

// Status returns a snapshot per active tenant.
func (o *Orchestrator) Status(limit int) []Snapshot {
	sessions := o.registry.List()
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot(limit))
	}
	return out
}

// Close tears down every session.
func (o *Orchestrator) Close(ctx context.Context) {
	o.registry.CloseAll(ctx)
}

func (o *Orchestrator) notify(tenantID, message string) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.Notify(tenantID, message)
	}
}
