/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log entries in memory so operators
// can inspect a guild's playback history without shell access.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	GuildID   string         `json:"guild_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer of log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 5000
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// All returns entries in chronological order.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(start+i)%b.capacity]
	}
	return result
}

// Query filters buffered entries.
type Query struct {
	Level     string
	Component string
	GuildID   string
	Search    string
	Since     time.Time
	Limit     int
	Newest    bool
}

// Find returns entries matching q.
func (b *Buffer) Find(q Query) []Entry {
	var out []Entry
	for _, e := range b.All() {
		if q.Level != "" && e.Level != q.Level {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if q.GuildID != "" && e.GuildID != q.GuildID {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if q.Search != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(q.Search)) {
			continue
		}
		out = append(out, e)
	}

	if q.Newest {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Writer adapts a Buffer to io.Writer for zerolog's JSON output.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter creates a writer that captures logs to the buffer and optionally
// forwards the raw bytes to fallback.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		w.buffer.Add(parseEntry(raw))
	}
	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

func parseEntry(raw map[string]any) Entry {
	entry := Entry{Timestamp: time.Now(), Fields: make(map[string]any)}
	if v, ok := raw["level"].(string); ok {
		entry.Level = v
		delete(raw, "level")
	}
	if v, ok := raw["message"].(string); ok {
		entry.Message = v
		delete(raw, "message")
	}
	if v, ok := raw["component"].(string); ok {
		entry.Component = v
		delete(raw, "component")
	}
	if v, ok := raw["guild_id"].(string); ok {
		entry.GuildID = v
		delete(raw, "guild_id")
	}
	switch ts := raw["time"].(type) {
	case float64:
		entry.Timestamp = time.Unix(int64(ts), 0)
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = t
		}
	}
	delete(raw, "time")
	for k, v := range raw {
		entry.Fields[k] = v
	}
	return entry
}
