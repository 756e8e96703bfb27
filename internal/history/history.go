/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history records played tracks per guild.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/models"
	"github.com/friendsincode/guildplay/internal/playback"
)

// MaxRecent caps Recent queries.
const MaxRecent = 100

// Recorder writes play records from bus events and answers history queries.
type Recorder struct {
	db     *gorm.DB
	bus    *events.Bus
	nodeID string
	logger zerolog.Logger
}

// New creates a recorder.
func New(db *gorm.DB, bus *events.Bus, nodeID string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		bus:    bus,
		nodeID: nodeID,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Run records track.started and track.finished events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.bus.Subscribe(events.EventAll)
	defer r.bus.Unsubscribe(events.EventAll, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := r.handle(ctx, payload); err != nil {
				r.logger.Warn().Err(err).Interface("event", payload["type"]).Msg("failed to record play history")
			}
		}
	}
}

func (r *Recorder) handle(ctx context.Context, p events.Payload) error {
	switch events.EventType(str(p, "type")) {
	case events.EventTrackStarted:
		return r.recordStarted(ctx, p)
	case events.EventTrackFinished:
		return r.recordFinished(ctx, p)
	}
	return nil
}

func (r *Recorder) recordStarted(ctx context.Context, p events.Payload) error {
	guildID := str(p, "guild_id")
	if guildID == "" {
		return errors.New("started event without guild_id")
	}
	rec := models.PlayRecord{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		PlayID:    str(p, "play_id"),
		NodeID:    r.nodeID,
		Title:     str(p, "title"),
		SourceURL: str(p, "source_url"),
		Duration:  num(p, "duration"),
		StartedAt: eventTime(p),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert play record: %w", err)
	}
	return nil
}

func (r *Recorder) recordFinished(ctx context.Context, p events.Payload) error {
	guildID, playID := str(p, "guild_id"), str(p, "play_id")
	if guildID == "" || playID == "" {
		return nil
	}

	var rec models.PlayRecord
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND play_id = ? AND node_id = ? AND ended_at IS NULL", guildID, playID, r.nodeID).
		Order("started_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find open play record: %w", err)
	}

	ended := eventTime(p)
	return r.db.WithContext(ctx).Model(&rec).Updates(map[string]any{
		"ended_at":      ended,
		"error_message": str(p, "error"),
	}).Error
}

// Recent returns a guild's most recent plays, newest first.
func (r *Recorder) Recent(ctx context.Context, guildID string, limit int) ([]models.PlayRecord, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	var out []models.PlayRecord
	err := r.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query play history: %w", err)
	}
	return out, nil
}

// Last returns the track a guild played most recently.
func (r *Recorder) Last(ctx context.Context, guildID string) (playback.Track, bool) {
	recs, err := r.Recent(ctx, guildID, 1)
	if err != nil {
		r.logger.Warn().Err(err).Str("guild_id", guildID).Msg("history lookup failed")
		return playback.Track{}, false
	}
	if len(recs) == 0 {
		return playback.Track{}, false
	}
	return playback.Track{Title: recs[0].Title, SourceURL: recs[0].SourceURL, Duration: recs[0].Duration}, true
}

func str(p events.Payload, key string) string {
	s, _ := p[key].(string)
	return s
}

func num(p events.Payload, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func eventTime(p events.Payload) time.Time {
	if t, err := time.Parse(time.RFC3339, str(p, "at")); err == nil {
		return t
	}
	return time.Now().UTC()
}
