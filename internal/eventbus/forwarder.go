/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/telemetry"
)

// SubjectPrefix namespaces broker subjects and channels.
const SubjectPrefix = "guildplay.events."

// WildcardSubject matches every forwarded event on the named backend.
func WildcardSubject(backend string) string {
	if backend == "nats" {
		return SubjectPrefix + ">"
	}
	return SubjectPrefix + "*"
}

// Publisher delivers encoded events to a broker.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Backend() string
	Close() error
}

// BreakerConfig controls when forwarding is suspended.
type BreakerConfig struct {
	MaxFailures    int
	RetryInterval  time.Duration
	PublishTimeout time.Duration
}

// DefaultBreakerConfig opens after five consecutive failures and retries
// every 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:    5,
		RetryInterval:  30 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Forwarder copies every local bus event to a broker so other nodes and
// external consumers can observe playback. Local delivery never depends on it.
type Forwarder struct {
	bus    *events.Bus
	pub    Publisher
	cfg    BreakerConfig
	nodeID string
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	failCount int
	open      bool
	openedAt  time.Time
}

// NewForwarder creates a forwarder for bus. nodeID identifies this process in
// forwarded messages; empty generates one.
func NewForwarder(bus *events.Bus, pub Publisher, cfg BreakerConfig, nodeID string, logger zerolog.Logger) *Forwarder {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if nodeID == "" {
		nodeID = NewNodeID()
	}
	return &Forwarder{
		bus:    bus,
		pub:    pub,
		cfg:    cfg,
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Str("backend", pub.Backend()).Logger(),
		now:    time.Now,
	}
}

// NodeID returns the identifier stamped on forwarded messages.
func (f *Forwarder) NodeID() string { return f.nodeID }

// Run forwards events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	sub := f.bus.Subscribe(events.EventAll)
	defer f.bus.Unsubscribe(events.EventAll, sub)

	f.logger.Info().Str("node_id", f.nodeID).Msg("event forwarding started")
	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("event forwarding stopped")
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			f.forward(ctx, payload)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, payload events.Payload) {
	eventType, _ := payload["type"].(string)
	if eventType == "" || !f.allow() {
		return
	}

	data, err := marshalMessage(events.EventType(eventType), payload, f.nodeID)
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.PublishTimeout)
	defer cancel()
	if err := f.pub.Publish(ctx, SubjectPrefix+eventType, data); err != nil {
		telemetry.EventBusPublishFailuresTotal.WithLabelValues(f.pub.Backend()).Inc()
		f.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to forward event")
		f.recordFailure()
		return
	}
	f.recordSuccess()
}

// allow reports whether a publish may be attempted. An open breaker lets one
// attempt through per retry interval.
func (f *Forwarder) allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return true
	}
	if f.now().Sub(f.openedAt) < f.cfg.RetryInterval {
		return false
	}
	f.openedAt = f.now()
	return true
}

func (f *Forwarder) recordFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCount++
	if f.failCount >= f.cfg.MaxFailures && !f.open {
		f.open = true
		f.openedAt = f.now()
		f.logger.Warn().Int("fail_count", f.failCount).Msg("broker failure threshold reached, forwarding suspended")
	}
}

func (f *Forwarder) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.logger.Info().Msg("broker reachable again, forwarding resumed")
	}
	f.failCount = 0
	f.open = false
}

// Suspended reports whether the breaker is open.
func (f *Forwarder) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Close closes the publisher.
func (f *Forwarder) Close() error {
	return f.pub.Close()
}

// Message is the wire format of a forwarded event.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// UnmarshalMessage parses a forwarded event.
func UnmarshalMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// NewNodeID returns hostname plus a short random suffix.
func NewNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "guildplay"
	}
	return host + "-" + uuid.NewString()[:8]
}
