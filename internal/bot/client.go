/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bot

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"
)

// DisconnectListener is told when the bot is removed from a guild's voice
// channel by something other than a command.
type DisconnectListener interface {
	MarkDisconnected(guildID string)
}

// Client owns the Discord gateway connection.
type Client struct {
	client *bot.Client
	logger zerolog.Logger

	handler      *Handler
	disconnected DisconnectListener
	ready        atomic.Bool
}

// NewClient creates the disgo client with the intents and caches the command
// surface needs. Call SetHandler before Open.
func NewClient(token string, logger zerolog.Logger) (*Client, error) {
	c := &Client{logger: logger.With().Str("component", "discord").Logger()}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
		bot.WithEventListenerFunc(c.onReady),
		bot.WithEventListenerFunc(c.onMessageCreate),
		bot.WithEventListenerFunc(c.onVoiceStateUpdate),
	)
	if err != nil {
		return nil, fmt.Errorf("create discord client: %w", err)
	}
	c.client = client
	return c, nil
}

// SetHandler installs the command handler and the voice disconnect listener.
func (c *Client) SetHandler(h *Handler, disconnected DisconnectListener) {
	c.handler = h
	c.disconnected = disconnected
}

// Rest returns the REST client used for notifications.
func (c *Client) Rest() rest.Rest { return c.client.Rest }

// CreateVoiceConn creates a voice connection for a guild.
func (c *Client) CreateVoiceConn(guildID snowflake.ID) voice.Conn {
	return c.client.VoiceManager.CreateConn(guildID)
}

// VoiceChannel reports the voice channel a member is in, from the cache.
func (c *Client) VoiceChannel(guildID, userID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := c.client.Caches.VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

// Open connects to the gateway.
func (c *Client) Open(ctx context.Context) error {
	if err := c.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close(ctx context.Context) {
	c.ready.Store(false)
	c.client.Close(ctx)
}

// Ready reports whether the gateway has completed its handshake.
func (c *Client) Ready() bool { return c.ready.Load() }

func (c *Client) onReady(event *events.Ready) {
	c.ready.Store(true)
	c.logger.Info().
		Str("user", event.User.Username).
		Int("guilds", len(event.Guilds)).
		Msg("discord gateway ready")
}

func (c *Client) onMessageCreate(event *events.MessageCreate) {
	if c.handler == nil || event.GuildID == nil || event.Message.Author.Bot {
		return
	}
	msg := Message{
		GuildID:   *event.GuildID,
		ChannelID: event.ChannelID,
		AuthorID:  event.Message.Author.ID,
		Content:   event.Message.Content,
	}
	// Commands may block on resolution; keep the gateway goroutine free.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("guild_id", msg.GuildID.String()).Msg("command handler panicked")
			}
		}()
		c.handler.Handle(context.Background(), msg)
	}()
}

func (c *Client) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if c.disconnected == nil || event.VoiceState.UserID != event.Client().ID() {
		return
	}
	if event.VoiceState.ChannelID == nil {
		c.logger.Warn().Str("guild_id", event.VoiceState.GuildID.String()).Msg("bot disconnected from voice externally")
		c.disconnected.MarkDisconnected(event.VoiceState.GuildID.String())
	}
}
