/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"fmt"

	"github.com/google/uuid"
)

// Track describes one playable unit. It is a value: copies never alias.
type Track struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	Duration  int    `json:"duration"` // seconds
	Thumbnail string `json:"thumbnail,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`
}

// DurationString formats the duration as m:ss, or "live" when unknown.
func (t Track) DurationString() string {
	if t.Duration <= 0 {
		return "live"
	}
	return fmt.Sprintf("%d:%02d", t.Duration/60, t.Duration%60)
}

// PlaylistEntry is an unresolved playlist member as listed by the backend.
type PlaylistEntry struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// Continuation is a deferred action carried by a queue item and interpreted
// by the session when that item is dequeued to play.
type Continuation uint8

const (
	ContinuationNone Continuation = iota
	ContinuationLoadNextBatch
)

func (c Continuation) String() string {
	switch c {
	case ContinuationNone:
		return "none"
	case ContinuationLoadNextBatch:
		return "load_next_batch"
	default:
		return fmt.Sprintf("continuation(%d)", uint8(c))
	}
}

// QueueItem is a Track waiting in a tenant queue.
type QueueItem struct {
	ID           string
	Track        Track
	Continuation Continuation
}

func newItem(t Track) QueueItem {
	return QueueItem{ID: uuid.NewString(), Track: t}
}
