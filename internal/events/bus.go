/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventTrackEnqueued    EventType = "track.enqueued"
	EventTrackStarted     EventType = "track.started"
	EventTrackFinished    EventType = "track.finished"
	EventTrackSkipped     EventType = "track.skipped"
	EventPlaybackStopped  EventType = "playback.stopped"
	EventPlaybackIdle     EventType = "playback.idle"
	EventPlaybackError    EventType = "playback.error"
	EventStateChanged     EventType = "playback.state"
	EventPlaylistProgress EventType = "playlist.progress"
	EventPlaylistDone     EventType = "playlist.done"

	// EventAll subscribes to every event type.
	EventAll EventType = "*"
)

// Payload generic event payload. Publish stamps the "type" key.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Slow subscribers drop events.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type, or EventAll.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers of eventType and of EventAll.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	if payload == nil {
		payload = Payload{}
	}
	payload["type"] = string(eventType)

	b.mu.RLock()
	defer b.mu.RUnlock()
	deliver := func(subs []Subscriber) {
		for _, sub := range subs {
			select {
			case sub <- payload:
			default:
			}
		}
	}
	deliver(b.subs[eventType])
	if eventType != EventAll {
		deliver(b.subs[EventAll])
	}
}

// Unsubscribe removes the subscriber and closes it.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
