/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/media"
	"github.com/friendsincode/guildplay/internal/playback"
)

// Orchestrator is the playback surface the commands drive.
type Orchestrator interface {
	Join(ctx context.Context, tenantID, channelID string) error
	Play(ctx context.Context, tenantID, channelID, query string) (playback.Enqueued, error)
	PlayNow(ctx context.Context, tenantID, channelID, query string) (playback.Enqueued, error)
	Enqueue(tenantID string, track playback.Track, position int) (playback.Enqueued, error)
	LoadPlaylist(ctx context.Context, tenantID, channelID, url string) (int, error)
	Skip(tenantID string, n int) (int, error)
	Stop(ctx context.Context, tenantID string) error
	Leave(ctx context.Context, tenantID string) error
	Queue(tenantID string, limit int) playback.Snapshot
	NowPlaying(tenantID string) (playback.Track, bool)
}

// Searcher finds candidate videos for !search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]media.SearchResult, error)
}

// Recommender suggests tracks similar to a seed.
type Recommender interface {
	Similar(ctx context.Context, seed playback.Track, limit int) ([]playback.Track, error)
}

// History supplies the last track a guild played.
type History interface {
	Last(ctx context.Context, guildID string) (playback.Track, bool)
}

// Replier sends command output to a guild's text channel.
type Replier interface {
	Remember(guildID string, channelID snowflake.ID)
	Notify(guildID, message string)
}

// VoiceLocator reports the voice channel a member is connected to.
type VoiceLocator func(guildID, userID snowflake.ID) (snowflake.ID, bool)

// Message is an incoming guild text message.
type Message struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	AuthorID  snowflake.ID
	Content   string
}

const (
	queueDisplayLimit = 10
	defaultSimilar    = 5
	maxSimilar        = 10
)

// Handler routes prefix commands to the orchestrator.
type Handler struct {
	prefix      string
	orch        Orchestrator
	search      Searcher
	recommender Recommender
	history     History
	reply       Replier
	voice       VoiceLocator
	sanitizer   Sanitizer
	logger      zerolog.Logger

	mu       sync.Mutex
	searches map[snowflake.ID][]media.SearchResult
}

// HandlerDeps holds the handler's collaborators. Searcher, Recommender and
// History are optional; their commands report that they are unavailable.
type HandlerDeps struct {
	Orchestrator Orchestrator
	Searcher     Searcher
	Recommender  Recommender
	History      History
	Replier      Replier
	Voice        VoiceLocator
	Logger       zerolog.Logger
}

// NewHandler creates a command handler.
func NewHandler(prefix string, maxQueryLength int, deps HandlerDeps) *Handler {
	if prefix == "" {
		prefix = "!"
	}
	return &Handler{
		prefix:      prefix,
		orch:        deps.Orchestrator,
		search:      deps.Searcher,
		recommender: deps.Recommender,
		history:     deps.History,
		reply:       deps.Replier,
		voice:       deps.Voice,
		sanitizer:   Sanitizer{MaxLength: maxQueryLength},
		logger:      deps.Logger.With().Str("component", "commands").Logger(),
		searches:    make(map[snowflake.ID][]media.SearchResult),
	}
}

// Handle runs the command in msg, if any. It reports whether msg was a
// recognised command.
func (h *Handler) Handle(ctx context.Context, msg Message) bool {
	if !strings.HasPrefix(msg.Content, h.prefix) {
		return false
	}
	body := strings.TrimSpace(strings.TrimPrefix(msg.Content, h.prefix))
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return false
	}
	name := strings.ToLower(fields[0])
	args := strings.TrimSpace(body[len(fields[0]):])

	var run func(context.Context, Message, string)
	switch name {
	case "play", "p":
		run = h.play
	case "playnow":
		run = h.playNow
	case "search":
		run = h.searchCmd
	case "similar":
		run = h.similar
	case "queue", "q":
		run = h.queue
	case "skip", "next":
		run = h.skip
	case "stop":
		run = h.stop
	case "join":
		run = h.join
	case "leave":
		run = h.leave
	case "help":
		run = h.help
	default:
		return false
	}

	h.reply.Remember(msg.GuildID.String(), msg.ChannelID)
	h.logger.Info().
		Str("guild_id", msg.GuildID.String()).
		Str("user_id", msg.AuthorID.String()).
		Str("command", name).
		Str("args", args).
		Msg("command received")
	run(ctx, msg, args)
	return true
}

func (h *Handler) send(msg Message, text string) {
	h.reply.Notify(msg.GuildID.String(), text)
}

func (h *Handler) voiceChannel(msg Message) (string, bool) {
	if h.voice == nil {
		return "", false
	}
	id, ok := h.voice(msg.GuildID, msg.AuthorID)
	if !ok || id == 0 {
		return "", false
	}
	return id.String(), true
}

func (h *Handler) play(ctx context.Context, msg Message, args string) {
	channel, ok := h.voiceChannel(msg)
	if !ok {
		h.send(msg, "❌ You must be in a voice channel to play music!")
		return
	}
	if args == "" {
		h.send(msg, fmt.Sprintf("❌ Usage: %splay <query|url|number>", h.prefix))
		return
	}
	query, err := h.sanitizer.Sanitize(args)
	if err != nil {
		h.send(msg, fmt.Sprintf("❌ %v", err))
		return
	}

	if n, err := strconv.Atoi(query); err == nil {
		url, ok := h.searchResult(msg.GuildID, n)
		if !ok {
			h.send(msg, "❌ Invalid search result number or no recent search results!")
			return
		}
		query = url
	}

	guild := msg.GuildID.String()
	if media.IsPlaylistURL(query) {
		if _, err := h.orch.LoadPlaylist(ctx, guild, channel, query); err != nil {
			h.logger.Warn().Err(err).Str("guild_id", guild).Msg("playlist load failed")
		}
		return
	}
	if _, err := h.orch.Play(ctx, guild, channel, query); err != nil {
		h.logger.Warn().Err(err).Str("guild_id", guild).Msg("play failed")
	}
}

func (h *Handler) playNow(ctx context.Context, msg Message, args string) {
	channel, ok := h.voiceChannel(msg)
	if !ok {
		h.send(msg, "❌ You must be in a voice channel to play music!")
		return
	}
	query, err := h.sanitizer.Sanitize(args)
	if err != nil {
		h.send(msg, fmt.Sprintf("❌ %v", err))
		return
	}
	if media.IsPlaylistURL(query) {
		h.send(msg, fmt.Sprintf("❌ %splaynow takes a single track. Use %splay for playlists.", h.prefix, h.prefix))
		return
	}
	if _, err := h.orch.PlayNow(ctx, msg.GuildID.String(), channel, query); err != nil {
		h.logger.Warn().Err(err).Str("guild_id", msg.GuildID.String()).Msg("playnow failed")
	}
}

func (h *Handler) searchCmd(ctx context.Context, msg Message, args string) {
	if h.search == nil {
		h.send(msg, "❌ Search is not available.")
		return
	}
	query, err := h.sanitizer.Sanitize(args)
	if err != nil {
		h.send(msg, fmt.Sprintf("❌ %v", err))
		return
	}
	results, err := h.search.Search(ctx, query)
	if err != nil {
		if errors.Is(err, media.ErrNoResults) {
			h.send(msg, "❌ No results found.")
			return
		}
		h.send(msg, fmt.Sprintf("❌ Error: %v", err))
		return
	}

	h.mu.Lock()
	h.searches[msg.GuildID] = results
	h.mu.Unlock()

	h.send(msg, formatSearchResults(results, h.prefix))
}

func (h *Handler) searchResult(guildID snowflake.ID, n int) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	results := h.searches[guildID]
	if n < 1 || n > len(results) {
		return "", false
	}
	return results[n-1].URL, true
}

func (h *Handler) similar(ctx context.Context, msg Message, args string) {
	if h.recommender == nil {
		h.send(msg, "❌ Recommendations are not available.")
		return
	}
	channel, ok := h.voiceChannel(msg)
	if !ok {
		h.send(msg, "❌ You must be in a voice channel to play music!")
		return
	}
	limit := defaultSimilar
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			h.send(msg, fmt.Sprintf("❌ Usage: %ssimilar [count]", h.prefix))
			return
		}
		limit = min(n, maxSimilar)
	}

	guild := msg.GuildID.String()
	seed, ok := h.orch.NowPlaying(guild)
	if !ok && h.history != nil {
		seed, ok = h.history.Last(ctx, guild)
	}
	if !ok {
		h.send(msg, "❌ Nothing is playing and there is no history to base recommendations on.")
		return
	}

	tracks, err := h.recommender.Similar(ctx, seed, limit)
	if err != nil {
		h.send(msg, fmt.Sprintf("❌ Error: %v", err))
		return
	}
	if len(tracks) == 0 {
		h.send(msg, "❌ No similar tracks found.")
		return
	}
	if err := h.orch.Join(ctx, guild, channel); err != nil {
		h.send(msg, "❌ Could not connect to voice channel!")
		return
	}

	h.send(msg, fmt.Sprintf("Start adding %d similar tracks", len(tracks)))
	var b strings.Builder
	b.WriteString("🎵 Similar Tracks")
	for i, t := range tracks {
		if _, err := h.orch.Enqueue(guild, t, -1); err != nil {
			h.send(msg, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, t.Title)
	}
	h.send(msg, b.String())
}

func (h *Handler) queue(_ context.Context, msg Message, _ string) {
	h.send(msg, formatQueue(h.orch.Queue(msg.GuildID.String(), queueDisplayLimit)))
}

func (h *Handler) skip(_ context.Context, msg Message, args string) {
	count := 1
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			h.send(msg, fmt.Sprintf("❌ Usage: %sskip [count]", h.prefix))
			return
		}
		count = n
	}
	skipped, err := h.orch.Skip(msg.GuildID.String(), count-1)
	if err != nil {
		h.send(msg, "❌ Nothing is playing!")
		return
	}
	h.send(msg, fmt.Sprintf("⏭️ Skipped %d track(s).", skipped))
}

func (h *Handler) stop(ctx context.Context, msg Message, _ string) {
	if err := h.orch.Stop(ctx, msg.GuildID.String()); err != nil {
		h.send(msg, "❌ Nothing is playing!")
		return
	}
	h.send(msg, "⏹️ Playback stopped and queue cleared.")
}

func (h *Handler) join(ctx context.Context, msg Message, _ string) {
	channel, ok := h.voiceChannel(msg)
	if !ok {
		h.send(msg, "❌ You must be in a voice channel to use this command.")
		return
	}
	if err := h.orch.Join(ctx, msg.GuildID.String(), channel); err != nil {
		h.logger.Warn().Err(err).Str("guild_id", msg.GuildID.String()).Msg("join failed")
		h.send(msg, "❌ Could not connect to voice channel!")
		return
	}
	h.send(msg, fmt.Sprintf("👋 Joined <#%s>", channel))
}

func (h *Handler) leave(ctx context.Context, msg Message, _ string) {
	if err := h.orch.Leave(ctx, msg.GuildID.String()); err != nil {
		if errors.Is(err, playback.ErrNotConnected) {
			h.send(msg, "❌ I'm not in a voice channel!")
			return
		}
		h.send(msg, fmt.Sprintf("❌ Error: %v", err))
		return
	}
	h.send(msg, "👋 Left the voice channel.")
}

func (h *Handler) help(_ context.Context, msg Message, _ string) {
	p := h.prefix
	h.send(msg, strings.Join([]string{
		"🎵 Commands",
		p + "play <query|url|number> - queue a track, playlist or search result",
		p + "playnow <query|url> - play a track next",
		p + "search <query> - list search results",
		p + "similar [count] - queue tracks similar to the current one",
		p + "queue - show the queue",
		p + "skip [count] - skip tracks (alias: " + p + "next)",
		p + "stop - stop and clear the queue",
		p + "join - join your voice channel",
		p + "leave - leave the voice channel",
	}, "\n"))
}

func formatSearchResults(results []media.SearchResult, prefix string) string {
	var b strings.Builder
	b.WriteString("🔎 Search Results")
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s", i+1, r.Title)
		if r.Duration != "" {
			fmt.Fprintf(&b, " (%s)", r.Duration)
		}
	}
	fmt.Fprintf(&b, "\nUse %splay <number> to play a song from the search results", prefix)
	return b.String()
}

func formatQueue(snap playback.Snapshot) string {
	if snap.NowPlaying == nil && snap.Total == 0 {
		return "📪 The queue is empty!"
	}
	var b strings.Builder
	b.WriteString("🎵 Music Queue")
	if snap.NowPlaying != nil {
		fmt.Fprintf(&b, "\n▶️ Currently Playing: %s", snap.NowPlaying.Title)
	}
	for i, t := range snap.Items {
		if i == queueDisplayLimit {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s (Duration: %s)", i+1, t.Title, t.DurationString())
	}
	if snap.Total > queueDisplayLimit {
		fmt.Fprintf(&b, "\nAnd more... %d additional tracks in queue", snap.Total-queueDisplayLimit)
	}
	if snap.Processing {
		b.WriteString("\nℹ️ A playlist is currently being processed in the background.")
	}
	return b.String()
}
