/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bot

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/guildplay/internal/telemetry"
)

// MessageSender is the subset of the disgo REST client used to post messages.
type MessageSender interface {
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
}

const (
	outboxSize  = 256
	sendTimeout = 10 * time.Second
)

type outgoing struct {
	guildID   string
	channelID snowflake.ID
	content   string
}

// Notifier posts tenant messages to the text channel a guild last used.
// Messages are delivered in order by a single worker, rate limited.
type Notifier struct {
	sender  MessageSender
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu       sync.RWMutex
	channels map[string]snowflake.ID

	outbox chan outgoing
	done   chan struct{}
}

// NewNotifier creates a notifier. Call Run to start delivery.
func NewNotifier(sender MessageSender, perSecond float64, burst int, logger zerolog.Logger) *Notifier {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 5
	}
	return &Notifier{
		sender:   sender,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:   logger.With().Str("component", "notifier").Logger(),
		channels: make(map[string]snowflake.ID),
		outbox:   make(chan outgoing, outboxSize),
		done:     make(chan struct{}),
	}
}

// Remember records the text channel a guild's commands come from.
func (n *Notifier) Remember(guildID string, channelID snowflake.ID) {
	n.mu.Lock()
	n.channels[guildID] = channelID
	n.mu.Unlock()
}

// Channel returns the remembered text channel for a guild.
func (n *Notifier) Channel(guildID string) (snowflake.ID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	id, ok := n.channels[guildID]
	return id, ok
}

// Notify queues message for the guild. It never blocks; messages are dropped
// when no channel is known or the outbox is full.
func (n *Notifier) Notify(guildID, message string) {
	channelID, ok := n.Channel(guildID)
	if !ok {
		telemetry.NotificationsTotal.WithLabelValues("dropped").Inc()
		n.logger.Debug().Str("guild_id", guildID).Msg("no text channel for notification")
		return
	}
	select {
	case n.outbox <- outgoing{guildID: guildID, channelID: channelID, content: message}:
	default:
		telemetry.NotificationsTotal.WithLabelValues("dropped").Inc()
		n.logger.Warn().Str("guild_id", guildID).Msg("notification outbox full, dropping message")
	}
}

// Run delivers queued messages until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.outbox:
			n.send(ctx, msg)
		}
	}
}

// Done is closed when Run returns.
func (n *Notifier) Done() <-chan struct{} { return n.done }

func (n *Notifier) send(ctx context.Context, msg outgoing) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := n.limiter.Wait(ctx); err != nil {
		telemetry.NotificationsTotal.WithLabelValues("dropped").Inc()
		return
	}
	_, err := n.sender.CreateMessage(msg.channelID, discord.MessageCreate{Content: msg.content}, rest.WithCtx(ctx))
	if err != nil {
		telemetry.NotificationsTotal.WithLabelValues("failed").Inc()
		n.logger.Warn().Err(err).Str("guild_id", msg.guildID).Str("channel_id", msg.channelID.String()).Msg("failed to send notification")
		return
	}
	telemetry.NotificationsTotal.WithLabelValues("sent").Inc()
}
