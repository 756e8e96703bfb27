/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/playback"
)

// Backend abstracts the extractor the resolver drives.
type Backend interface {
	// Extract resolves a URL or search target into a playable track,
	// including a short-lived stream URL.
	Extract(ctx context.Context, target string) (playback.Track, error)
	// ListPlaylist lists a playlist without resolving its entries.
	ListPlaylist(ctx context.Context, url string) ([]playback.PlaylistEntry, error)
}

const (
	trackFormat = "%(title)s\t%(webpage_url)s\t%(duration)s\t%(thumbnail)s\t%(url)s"
	entryFormat = "%(url)s\t%(title)s\t%(duration)s"
)

// YtdlpBackend implements Backend with the yt-dlp binary.
type YtdlpBackend struct {
	executable string
	proxy      string
	logger     zerolog.Logger
}

// NewYtdlpBackend creates a backend. An empty executable uses yt-dlp from PATH.
func NewYtdlpBackend(executable, proxy string, logger zerolog.Logger) *YtdlpBackend {
	return &YtdlpBackend{
		executable: executable,
		proxy:      proxy,
		logger:     logger.With().Str("component", "ytdlp").Logger(),
	}
}

func (b *YtdlpBackend) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if b.executable != "" {
		cmd.SetExecutable(b.executable)
	}
	if b.proxy != "" {
		cmd.Proxy(b.proxy)
	}
	return cmd
}

// Extract implements Backend. Non-URL targets are searched.
func (b *YtdlpBackend) Extract(ctx context.Context, target string) (playback.Track, error) {
	if !IsURL(target) && !strings.HasPrefix(target, "ytsearch") {
		target = "ytsearch1:" + target
	}
	res, err := b.command().
		NoPlaylist().
		Format("bestaudio/best").
		Print(trackFormat).
		Run(ctx, target)
	if err != nil {
		return playback.Track{}, classify(res, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if t, ok := parseTrackLine(line); ok {
			return t, nil
		}
	}
	return playback.Track{}, fmt.Errorf("%w: %s", ErrNoResults, target)
}

// ListPlaylist implements Backend.
func (b *YtdlpBackend) ListPlaylist(ctx context.Context, url string) ([]playback.PlaylistEntry, error) {
	res, err := b.command().
		FlatPlaylist().
		Print(entryFormat).
		Run(ctx, url)
	if err != nil {
		return nil, classify(res, err)
	}
	entries := parseEntries(res.Stdout)
	b.logger.Debug().Str("url", url).Int("entries", len(entries)).Msg("playlist listed")
	return entries, nil
}

func parseTrackLine(line string) (playback.Track, bool) {
	parts := strings.Split(strings.TrimSpace(line), "\t")
	if len(parts) < 5 || parts[0] == "" || parts[0] == "NA" {
		return playback.Track{}, false
	}
	return playback.Track{
		Title:     parts[0],
		SourceURL: na(parts[1]),
		Duration:  parseSeconds(parts[2]),
		Thumbnail: na(parts[3]),
		StreamURL: na(parts[4]),
	}, true
}

func parseEntries(out string) []playback.PlaylistEntry {
	var entries []playback.PlaylistEntry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "\t")
		if len(parts) == 0 || !IsURL(parts[0]) {
			continue
		}
		e := playback.PlaylistEntry{URL: parts[0]}
		if len(parts) > 1 {
			e.Title = na(parts[1])
		}
		if len(parts) > 2 {
			e.Duration = parseSeconds(parts[2])
		}
		entries = append(entries, e)
	}
	return entries
}

// na maps yt-dlp's placeholder for missing fields to empty.
func na(s string) string {
	if s == "NA" {
		return ""
	}
	return s
}

// parseSeconds accepts yt-dlp's integer or fractional seconds; live or
// unknown durations yield 0.
func parseSeconds(s string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f)
}

func classify(res *ytdlp.Result, err error) error {
	if res == nil {
		return fmt.Errorf("%w: %w", playback.ErrResolution, err)
	}
	stderr := strings.ToLower(res.Stderr)
	switch {
	case strings.Contains(stderr, "confirm your age"), strings.Contains(stderr, "age-restricted"), strings.Contains(stderr, "age restricted"):
		return ErrAgeRestricted
	case strings.Contains(stderr, "private video"), strings.Contains(stderr, "video unavailable"), strings.Contains(stderr, "has been removed"):
		return fmt.Errorf("%w: %s", ErrUnavailable, firstLine(res.Stderr))
	}
	if msg := firstLine(res.Stderr); msg != "" {
		return fmt.Errorf("%w: %s", playback.ErrResolution, msg)
	}
	return fmt.Errorf("%w: %w", playback.ErrResolution, err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
