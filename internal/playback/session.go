/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/telemetry"
)

type eventKind int

const (
	evPlayNext eventKind = iota
	evCompleted
)

// sessionEvent is handed to the session loop, the only goroutine that runs
// playNext and completion handling.
type sessionEvent struct {
	kind   eventKind
	epoch  uint64
	playID uint64
	err    error
}

// Session owns one tenant's queue, playback state and live player.
//
// Two locks guard it. mu (the state lock) covers the queue and every field
// below it and is never held across network I/O. playbackMu covers creation
// and teardown of the live player and is held across player construction, so
// at most one player is built per tenant at a time. When both are needed,
// playbackMu is taken first.
type Session struct {
	tenantID  string
	cfg       Config
	deps      *Deps
	transport Transport
	logger    zerolog.Logger

	mu          sync.Mutex
	queue       *Queue
	state       State
	epoch       uint64 // bumped by Stop; stale work compares and bails out
	playID      uint64
	channelID   string
	cancelBuild context.CancelFunc
	cancelJoin  context.CancelFunc // in-flight reconnect
	closed      bool

	playbackMu sync.Mutex
	player     Player

	events chan sessionEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(tenantID string, cfg Config, deps *Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		tenantID:  tenantID,
		cfg:       cfg,
		deps:      deps,
		transport: deps.Transports(tenantID),
		logger:    deps.Logger.With().Str("component", "playback").Str("guild_id", tenantID).Logger(),
		queue:     NewQueue(),
		state:     StateIdle,
		events:    make(chan sessionEvent, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// TenantID returns the tenant this session serves.
func (s *Session) TenantID() string { return s.tenantID }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			switch ev.kind {
			case evPlayNext:
				s.playNext(ev.epoch)
			case evCompleted:
				s.handleCompletion(ev)
			}
		}
	}
}

// post hands an event to the session loop. It is safe to call from any
// goroutine except the loop itself.
func (s *Session) post(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// State returns the current playback state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the queue view with at most limit upcoming items.
func (s *Session) Snapshot(limit int) Snapshot {
	s.mu.Lock()
	snap := s.queue.snapshot(limit)
	snap.State = s.state.String()
	s.mu.Unlock()
	snap.TenantID = s.tenantID
	snap.Connected = s.transport.IsConnected()
	return snap
}

// NowPlaying returns the current track, if any.
func (s *Session) NowPlaying() (Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.NowPlaying()
}

// Join connects the transport to channelID, moving if already connected
// elsewhere.
func (s *Session) Join(ctx context.Context, channelID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	same := s.channelID == channelID
	s.channelID = channelID
	s.mu.Unlock()

	if same && s.transport.IsConnected() {
		return nil
	}
	if err := s.transport.Connect(ctx, channelID); err != nil {
		telemetry.PlaybackFailuresTotal.WithLabelValues("connection").Inc()
		return fmt.Errorf("%w: join %s: %w", ErrConnection, channelID, err)
	}
	s.logger.Info().Str("channel_id", channelID).Msg("joined voice channel")
	return nil
}

// Enqueue adds track at position (negative appends) and starts playback
// when the session is idle.
func (s *Session) Enqueue(track Track, position int) (Enqueued, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Enqueued{}, ErrSessionClosed
	}
	pos := s.queue.Enqueue(newItem(track), position)
	start := s.claimStartLocked()
	epoch := s.epoch
	s.observeQueueLocked()
	s.mu.Unlock()

	s.logger.Info().Str("title", track.Title).Int("position", pos).Bool("starting", start).Msg("track enqueued")
	s.publish(events.EventTrackEnqueued, events.Payload{"title": track.Title, "position": pos})
	if start {
		s.post(sessionEvent{kind: evPlayNext, epoch: epoch})
	}
	return Enqueued{Position: pos, Track: track, Started: start}, nil
}

// claimStartLocked marks the queue as playing and moves to Starting when the
// session is not already playing. The caller must post evPlayNext when it
// returns true.
func (s *Session) claimStartLocked() bool {
	if s.queue.Playing() {
		return false
	}
	s.queue.playing = true
	s.setStateLocked(StateStarting)
	return true
}

// goIdleLocked clears the playing flag and the current track together.
func (s *Session) goIdleLocked() {
	s.queue.setIdle()
	s.setStateLocked(StateIdle)
	s.observeQueueLocked()
}

func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	if !isValidTransition(from, to) {
		s.logger.Warn().Err(ErrInvalidTransition).Str("from", from.String()).Str("to", to.String()).Msg("rejected state transition")
		return
	}
	s.state = to
	telemetry.SessionState.WithLabelValues(s.tenantID).Set(float64(to))
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state transition")
}

func (s *Session) observeQueueLocked() {
	telemetry.QueueDepth.WithLabelValues(s.tenantID).Set(float64(s.queue.Len()))
}

// playNext advances to the next queued item. It runs on the session loop.
func (s *Session) playNext(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch || s.closed {
		s.mu.Unlock()
		return
	}
	connected := s.transport.IsConnected()
	s.mu.Unlock()

	if !connected {
		if err := s.reconnect(epoch); err != nil {
			s.mu.Lock()
			stale := epoch != s.epoch
			if !stale {
				s.goIdleLocked()
			}
			s.mu.Unlock()
			if stale {
				s.logger.Debug().Err(err).Msg("reconnect abandoned after stop")
				return
			}
			telemetry.PlaybackFailuresTotal.WithLabelValues("connection").Inc()
			s.logger.Error().Err(err).Msg("abandoning playback")
			s.notify(fmt.Sprintf("❌ Lost the voice connection and could not reconnect: %v", err))
			s.publish(events.EventPlaybackError, events.Payload{"error": err.Error(), "kind": "connection"})
			return
		}
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	item, ok := s.queue.DequeueNext()
	if !ok {
		resume := s.loaderNeedsResumeLocked()
		s.goIdleLocked()
		s.mu.Unlock()
		s.logger.Info().Msg("queue is empty")
		s.publish(events.EventPlaybackIdle, nil)
		if resume {
			s.runContinuation(epoch, ContinuationLoadNextBatch)
		}
		return
	}
	s.queue.setNowPlaying(item.Track)
	s.setStateLocked(StateStarting)
	s.playID++
	playID := s.playID
	s.observeQueueLocked()
	s.mu.Unlock()

	if item.Continuation != ContinuationNone {
		s.runContinuation(epoch, item.Continuation)
	}
	s.startPlayer(epoch, playID, item.Track)
}

// reconnect retries the last joined channel a bounded number of times. A
// Stop or Leave while it runs cancels it; a connection that lands after the
// epoch moved is torn down again.
func (s *Session) reconnect(epoch uint64) error {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return errStale
	}
	channelID := s.channelID
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelJoin = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if epoch == s.epoch {
			s.cancelJoin = nil
		}
		s.mu.Unlock()
	}()
	if channelID == "" {
		return fmt.Errorf("%w: no channel to reconnect to", ErrConnection)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		if !s.current(epoch) {
			return errStale
		}
		attemptCtx, attemptCancel := context.WithTimeout(ctx, 10*time.Second)
		lastErr = s.transport.Connect(attemptCtx, channelID)
		attemptCancel()
		if lastErr == nil && s.transport.IsConnected() {
			if !s.current(epoch) {
				if err := s.transport.Disconnect(s.ctx); err != nil {
					s.logger.Warn().Err(err).Msg("disconnect after stale reconnect failed")
				}
				return errStale
			}
			s.logger.Info().Int("attempt", attempt).Msg("voice connection restored")
			return nil
		}
		s.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("reconnect attempt failed")
		if attempt < s.cfg.ReconnectAttempts {
			select {
			case <-time.After(s.cfg.ReconnectDelay):
			case <-ctx.Done():
				if !s.current(epoch) {
					return errStale
				}
				return fmt.Errorf("%w: %w", ErrConnection, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%w: %d reconnect attempts failed: %v", ErrConnection, s.cfg.ReconnectAttempts, lastErr)
}

// current reports whether epoch is still the session's epoch.
func (s *Session) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch == s.epoch
}

// startPlayer builds and starts a player for track under the playback lock.
func (s *Session) startPlayer(epoch, playID uint64, track Track) {
	s.playbackMu.Lock()
	defer s.playbackMu.Unlock()

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelBuild = cancel
	s.mu.Unlock()
	defer cancel()

	s.releasePlayerLocked()

	telemetry.PlayerConstructionsInFlight.Inc()
	started := time.Now()
	player, err := s.deps.Players.CreatePlayer(ctx, track)
	telemetry.PlayerConstructionsInFlight.Dec()
	telemetry.PlayerConstructionDuration.Observe(time.Since(started).Seconds())

	s.mu.Lock()
	s.cancelBuild = nil
	stale := epoch != s.epoch
	s.mu.Unlock()
	if stale {
		if err == nil && player != nil {
			_ = player.Release()
		}
		s.logger.Debug().Str("title", track.Title).Msg("discarding player built before stop")
		return
	}

	if err == nil {
		s.player = player
		err = s.transport.Play(player, func(playErr error) {
			s.post(sessionEvent{kind: evCompleted, epoch: epoch, playID: playID, err: playErr})
		})
		if err != nil {
			s.releasePlayerLocked()
			err = fmt.Errorf("start transport: %w", err)
		}
	}
	if err != nil {
		if !errors.Is(err, ErrConstruction) {
			err = fmt.Errorf("%w: %w", ErrConstruction, err)
		}
		telemetry.PlaybackFailuresTotal.WithLabelValues("construction").Inc()
		s.logger.Error().Err(err).Str("title", track.Title).Msg("failed to start track")
		s.notify(fmt.Sprintf("❌ Error playing track: %v", err))
		s.publish(events.EventPlaybackError, events.Payload{"error": err.Error(), "kind": "construction", "title": track.Title})
		time.AfterFunc(s.cfg.ConstructionRetryDelay, func() {
			s.post(sessionEvent{kind: evPlayNext, epoch: epoch})
		})
		return
	}

	s.mu.Lock()
	if epoch == s.epoch {
		s.setStateLocked(StatePlaying)
	}
	s.mu.Unlock()

	telemetry.TracksStartedTotal.WithLabelValues(s.tenantID).Inc()
	s.logger.Info().Str("title", track.Title).Str("source_url", track.SourceURL).Msg("now playing")
	s.notify(fmt.Sprintf("🎵 Now playing: %s", track.Title))
	s.publish(events.EventTrackStarted, events.Payload{
		"title":      track.Title,
		"source_url": track.SourceURL,
		"duration":   track.Duration,
		"play_id":    strconv.FormatUint(playID, 10),
	})
}

// releasePlayerLocked frees the live player. Caller holds playbackMu.
func (s *Session) releasePlayerLocked() {
	if s.player == nil {
		return
	}
	if err := s.player.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("player release failed")
	}
	s.player = nil
}

// handleCompletion runs on the session loop after the transport reports the
// end of a track.
func (s *Session) handleCompletion(ev sessionEvent) {
	s.mu.Lock()
	if ev.epoch != s.epoch || ev.playID != s.playID {
		s.mu.Unlock()
		return
	}
	finished, _ := s.queue.NowPlaying()
	s.setStateLocked(StateCompleting)
	next := s.queue.Len() > 0
	resume := false
	if next {
		s.setStateLocked(StateStarting)
	} else {
		resume = s.loaderNeedsResumeLocked()
		s.goIdleLocked()
	}
	s.mu.Unlock()

	s.playbackMu.Lock()
	s.releasePlayerLocked()
	s.playbackMu.Unlock()

	payload := events.Payload{
		"title":      finished.Title,
		"source_url": finished.SourceURL,
		"play_id":    strconv.FormatUint(ev.playID, 10),
	}
	if ev.err != nil {
		telemetry.PlaybackFailuresTotal.WithLabelValues("transport").Inc()
		s.logger.Error().Err(ev.err).Str("title", finished.Title).Msg("playback ended with error")
		s.notify(fmt.Sprintf("❌ An error occurred while playing: %v", ev.err))
		payload["error"] = ev.err.Error()
	}
	s.publish(events.EventTrackFinished, payload)

	if next {
		s.playNext(ev.epoch)
		return
	}
	s.publish(events.EventPlaybackIdle, nil)
	if resume {
		s.runContinuation(ev.epoch, ContinuationLoadNextBatch)
	}
}

// Skip drops up to n queued items and stops the current track; the normal
// completion path then plays whatever is next. It returns how many tracks
// were skipped including the one stopped.
func (s *Session) Skip(n int) (int, error) {
	s.mu.Lock()
	if !s.queue.Playing() {
		s.mu.Unlock()
		return 0, ErrNothingPlaying
	}
	dropped := s.queue.Drop(n)
	s.observeQueueLocked()
	s.mu.Unlock()

	s.playbackMu.Lock()
	s.transport.Stop()
	s.playbackMu.Unlock()

	skipped := dropped + 1
	telemetry.SkipsTotal.Add(float64(skipped))
	s.logger.Info().Int("skipped", skipped).Msg("skip requested")
	s.publish(events.EventTrackSkipped, events.Payload{"count": skipped})
	return skipped, nil
}

// Stop clears the queue, releases the player and disconnects. On an idle
// session it changes nothing and returns ErrNothingPlaying.
func (s *Session) Stop(ctx context.Context) error {
	if !s.halt() {
		return ErrNothingPlaying
	}
	if err := s.transport.Disconnect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("disconnect after stop failed")
	}
	s.logger.Info().Msg("playback stopped and queue cleared")
	s.publish(events.EventPlaybackStopped, nil)
	return nil
}

// Leave clears the session like Stop and disconnects from voice.
func (s *Session) Leave(ctx context.Context) error {
	connected := s.transport.IsConnected()
	if s.halt() {
		s.publish(events.EventPlaybackStopped, nil)
	}
	s.mu.Lock()
	s.channelID = ""
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if err := s.transport.Disconnect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	s.logger.Info().Msg("left voice channel")
	return nil
}

// halt invalidates in-flight work and clears all playback state. It reports
// whether anything was playing, queued or loading.
func (s *Session) halt() bool {
	s.mu.Lock()
	active := s.queue.Playing() || s.queue.Len() > 0 || s.queue.loader != nil
	if !active {
		s.mu.Unlock()
		return false
	}
	s.epoch++
	s.queue.Clear()
	s.setStateLocked(StateStopped)
	s.observeQueueLocked()
	cancelBuild, cancelJoin := s.cancelBuild, s.cancelJoin
	s.cancelJoin = nil
	s.mu.Unlock()

	for _, cancel := range []context.CancelFunc{cancelBuild, cancelJoin} {
		if cancel != nil {
			cancel()
		}
	}

	s.playbackMu.Lock()
	s.transport.Stop()
	s.releasePlayerLocked()
	s.playbackMu.Unlock()
	return true
}

// close stops the session for good and waits for its loop to exit.
func (s *Session) close(ctx context.Context) {
	s.halt()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.transport.IsConnected() {
		if err := s.transport.Disconnect(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("disconnect on close failed")
		}
	}
	s.cancel()
	<-s.done
	telemetry.QueueDepth.DeleteLabelValues(s.tenantID)
	telemetry.SessionState.DeleteLabelValues(s.tenantID)
}

func (s *Session) notify(message string) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.Notify(s.tenantID, message)
}

func (s *Session) publish(t events.EventType, payload events.Payload) {
	if s.deps.Bus == nil {
		return
	}
	if payload == nil {
		payload = events.Payload{}
	}
	payload["guild_id"] = s.tenantID
	payload["at"] = time.Now().UTC().Format(time.RFC3339)
	s.deps.Bus.Publish(t, payload)
}
