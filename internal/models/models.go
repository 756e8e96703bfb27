package models

import (
	"time"
)

// PlayRecord stores one track played in a guild.
type PlayRecord struct {
	ID        string     `gorm:"type:varchar(36);primaryKey"`
	GuildID   string     `gorm:"type:varchar(32);index:idx_play_guild_started,priority:1"`
	PlayID    string     `gorm:"type:varchar(32);index"`
	NodeID    string     `gorm:"type:varchar(64)"`
	Title     string     `gorm:"type:varchar(512)"`
	SourceURL string     `gorm:"type:varchar(1024)"`
	Duration  int
	StartedAt time.Time  `gorm:"index:idx_play_guild_started,priority:2"`
	EndedAt   *time.Time
	Error     string     `gorm:"column:error_message;type:text"`
}

// Finished reports whether the track has ended.
func (p PlayRecord) Finished() bool {
	return p.EndedAt != nil
}

// Listened returns how long the track played, or zero while still playing.
func (p PlayRecord) Listened() time.Duration {
	if p.EndedAt == nil {
		return 0
	}
	return p.EndedAt.Sub(p.StartedAt)
}
