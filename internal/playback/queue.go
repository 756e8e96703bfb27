/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"time"
)

// Queue is one tenant's ordered items plus playback status.
//
// Queue is not safe for concurrent use; the owning Session guards it with its
// state lock.
type Queue struct {
	items      []QueueItem
	nowPlaying *Track
	playing    bool
	loader     *PlaylistLoader
	processing bool
}

// NewQueue returns an empty, idle queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue inserts item at position, or appends when position is negative or
// past the end. Position 0 places the item next in line. It returns the
// item's 1-based position in the queue.
func (q *Queue) Enqueue(item QueueItem, position int) int {
	if position < 0 || position >= len(q.items) {
		q.items = append(q.items, item)
		return len(q.items)
	}
	q.items = append(q.items, QueueItem{})
	copy(q.items[position+1:], q.items[position:])
	q.items[position] = item
	return position + 1
}

// DequeueNext pops the head item. The returned continuation has been
// removed from the queue and is the caller's to run exactly once.
func (q *Queue) DequeueNext() (QueueItem, bool) {
	if len(q.items) == 0 {
		return QueueItem{}, false
	}
	item := q.items[0]
	q.items[0] = QueueItem{}
	q.items = q.items[1:]
	return item, true
}

// Drop discards up to n items from the head without running their
// continuations and returns how many were removed. A load-next-batch tag on a
// dropped item moves to the new head so the playlist stays a batch ahead.
func (q *Queue) Drop(n int) int {
	if n <= 0 {
		return 0
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	carry := false
	for _, item := range q.items[:n] {
		if item.Continuation == ContinuationLoadNextBatch {
			carry = true
		}
	}
	clear(q.items[:n])
	q.items = q.items[n:]
	if carry && len(q.items) > 0 && q.items[0].Continuation == ContinuationNone {
		q.items[0].Continuation = ContinuationLoadNextBatch
	}
	return n
}

// armed reports whether a queued item will trigger the next playlist batch.
func (q *Queue) armed() bool {
	for i := range q.items {
		if q.items[i].Continuation == ContinuationLoadNextBatch {
			return true
		}
	}
	return false
}

// Attach tags a queued item with a continuation. It reports false when the
// item is no longer queued.
func (q *Queue) Attach(id string, c Continuation) bool {
	for i := range q.items {
		if q.items[i].ID == id {
			q.items[i].Continuation = c
			return true
		}
	}
	return false
}

// Clear resets the queue to idle. Pending continuations and any playlist
// loader are dropped without running.
func (q *Queue) Clear() {
	q.items = nil
	q.nowPlaying = nil
	q.playing = false
	q.loader = nil
	q.processing = false
}

// Len is the number of queued items, excluding the track now playing.
func (q *Queue) Len() int { return len(q.items) }

// Playing reports the is-playing flag.
func (q *Queue) Playing() bool { return q.playing }

// NowPlaying returns a copy of the current track, if any.
func (q *Queue) NowPlaying() (Track, bool) {
	if q.nowPlaying == nil {
		return Track{}, false
	}
	return *q.nowPlaying, true
}

// Processing reports whether a playlist is being ingested.
func (q *Queue) Processing() bool { return q.processing }

func (q *Queue) setNowPlaying(t Track) {
	q.playing = true
	q.nowPlaying = &t
}

// setIdle clears the playing flag together with the current track.
func (q *Queue) setIdle() {
	q.playing = false
	q.nowPlaying = nil
}

// Snapshot is a read-only view of a tenant queue.
type Snapshot struct {
	TenantID   string          `json:"guild_id"`
	State      string          `json:"state"`
	Connected  bool            `json:"connected"`
	NowPlaying *Track          `json:"now_playing,omitempty"`
	Items      []Track         `json:"items"`
	Total      int             `json:"total"`
	Processing bool            `json:"playlist_processing"`
	Playlist   *LoaderProgress `json:"playlist,omitempty"`
	TakenAt    time.Time       `json:"taken_at"`
}

func (q *Queue) snapshot(limit int) Snapshot {
	s := Snapshot{
		Total:      len(q.items),
		Processing: q.processing,
		Items:      []Track{},
		TakenAt:    time.Now(),
	}
	if q.nowPlaying != nil {
		t := *q.nowPlaying
		s.NowPlaying = &t
	}
	n := len(q.items)
	if limit > 0 && n > limit {
		n = limit
	}
	for _, item := range q.items[:n] {
		s.Items = append(s.Items, item.Track)
	}
	if q.loader != nil {
		p := q.loader.progress()
		s.Playlist = &p
	}
	return s
}
