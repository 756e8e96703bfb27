/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/playback"
)

// ConnFactory creates the disgo voice connection for a guild.
type ConnFactory func(guildID snowflake.ID) voice.Conn

// JoinPolicy bounds voice join retries.
type JoinPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultJoinPolicy retries five times starting at one second.
func DefaultJoinPolicy() JoinPolicy {
	return JoinPolicy{Attempts: 5, InitialDelay: time.Second, MaxDelay: 8 * time.Second}
}

// Manager hands out one Transport per guild.
type Manager struct {
	conns  ConnFactory
	policy JoinPolicy
	logger zerolog.Logger

	mu         sync.Mutex
	transports map[string]*Transport
}

// NewManager creates a transport manager.
func NewManager(conns ConnFactory, policy JoinPolicy, logger zerolog.Logger) *Manager {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Manager{
		conns:      conns,
		policy:     policy,
		logger:     logger.With().Str("component", "voice").Logger(),
		transports: make(map[string]*Transport),
	}
}

// For returns the guild's transport. Its signature matches playback.TransportFactory.
func (m *Manager) For(tenantID string) playback.Transport {
	return m.get(tenantID)
}

func (m *Manager) get(tenantID string) *Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transports[tenantID]; ok {
		return t
	}
	t := &Transport{
		tenantID: tenantID,
		manager:  m,
		logger:   m.logger.With().Str("guild_id", tenantID).Logger(),
	}
	m.transports[tenantID] = t
	return t
}

// MarkDisconnected records that the bot was removed from voice in a guild,
// so the next play attempt reconnects.
func (m *Manager) MarkDisconnected(tenantID string) {
	m.mu.Lock()
	t, ok := m.transports[tenantID]
	m.mu.Unlock()
	if ok {
		t.markDisconnected()
	}
}

// Transport streams players into one guild's voice connection.
type Transport struct {
	tenantID string
	manager  *Manager
	logger   zerolog.Logger

	mu        sync.Mutex
	conn      voice.Conn
	channelID snowflake.ID
	connected bool
	current   *frameProvider
}

var _ playback.Transport = (*Transport)(nil)

// Connect opens the voice connection to channelID, retrying with
// exponential backoff.
func (t *Transport) Connect(ctx context.Context, channelID string) error {
	guildID, err := snowflake.Parse(t.tenantID)
	if err != nil {
		return fmt.Errorf("invalid guild id %q: %w", t.tenantID, err)
	}
	chID, err := snowflake.Parse(channelID)
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", channelID, err)
	}

	if t.manager.conns == nil {
		return fmt.Errorf("%w: voice is disabled", playback.ErrConnection)
	}

	t.mu.Lock()
	if t.connected && t.channelID == chID {
		t.mu.Unlock()
		return nil
	}
	if t.conn == nil {
		t.conn = t.manager.conns(guildID)
	}
	conn := t.conn
	t.mu.Unlock()

	p := t.manager.policy
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)

	attempt := 0
	err = backoff.RetryNotify(func() error {
		attempt++
		return conn.Open(ctx, chID, false, false)
	}, policy, func(err error, wait time.Duration) {
		t.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("voice connect failed")
	})
	if err != nil {
		conn.Close(ctx)
		t.mu.Lock()
		t.conn = nil
		t.connected = false
		t.mu.Unlock()
		return fmt.Errorf("voice connect after %d attempts: %w", attempt, err)
	}

	t.mu.Lock()
	t.connected = true
	t.channelID = chID
	t.mu.Unlock()
	t.logger.Info().Str("channel_id", channelID).Int("attempts", attempt).Msg("voice connected")
	return nil
}

// IsConnected reports whether the voice connection is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Play streams player into the connection. onComplete fires exactly once,
// when the stream ends, fails, or is stopped.
func (t *Transport) Play(player playback.Player, onComplete func(error)) error {
	src, ok := player.(*Player)
	if !ok {
		return fmt.Errorf("unsupported player type %T", player)
	}

	t.mu.Lock()
	if !t.connected || t.conn == nil {
		t.mu.Unlock()
		return playback.ErrConnection
	}
	conn := t.conn
	prev := t.current
	fp := &frameProvider{player: src, onComplete: onComplete}
	fp.onEnd = func() { t.clear(fp) }
	t.current = fp
	t.mu.Unlock()

	if prev != nil {
		prev.finish(nil)
	}
	conn.SetOpusFrameProvider(fp)
	conn.SetSpeaking(context.Background(), voice.SpeakingFlagMicrophone)
	return nil
}

// Stop ends the current stream; its onComplete fires with nil.
func (t *Transport) Stop() {
	t.mu.Lock()
	fp := t.current
	t.mu.Unlock()
	if fp != nil {
		fp.finish(nil)
	}
}

// Disconnect stops playback and closes the voice connection.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.Stop()
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.connected = false
	t.mu.Unlock()
	if conn != nil {
		conn.Close(ctx)
		t.logger.Info().Msg("voice disconnected")
	}
	return nil
}

func (t *Transport) markDisconnected() {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	t.mu.Unlock()
	if was {
		t.logger.Warn().Msg("voice connection lost")
	}
}

// clear detaches fp from the connection if it is still current.
func (t *Transport) clear(fp *frameProvider) {
	t.mu.Lock()
	if t.current != fp {
		t.mu.Unlock()
		return
	}
	t.current = nil
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		conn.SetOpusFrameProvider(nil)
		conn.SetSpeaking(context.Background(), 0)
	}
}

// frameProvider adapts a Player to disgo's voice.OpusFrameProvider.
type frameProvider struct {
	player     *Player
	onComplete func(error)
	onEnd      func()

	once sync.Once
	mu   sync.Mutex
	done bool
}

func (f *frameProvider) ProvideOpusFrame() ([]byte, error) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done {
		return nil, io.EOF
	}
	frame, err := f.player.NextPacket()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		f.finish(err)
		return nil, io.EOF
	}
	return frame, nil
}

func (f *frameProvider) Close() {}

// finish marks the stream done and reports completion once, off the
// audio sender goroutine.
func (f *frameProvider) finish(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.done = true
		f.mu.Unlock()
		go func() {
			f.onEnd()
			f.onComplete(err)
		}()
	})
}
