// Package recommend suggests tracks related to a seed track using YouTube Music.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/raitonoberu/ytmusic"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/playback"
	"github.com/friendsincode/guildplay/internal/telemetry"
)

const musicWatchURL = "https://music.youtube.com/watch?v="

// ErrNoSeed is returned when the seed track has no usable title.
var ErrNoSeed = errors.New("seed track has no title")

// SearchFunc runs a YouTube Music track search.
type SearchFunc func(query string) ([]Candidate, error)

// Candidate is one search hit.
type Candidate struct {
	VideoID string
	Title   string
	Artist  string
}

// Recommender finds tracks similar to a seed.
type Recommender struct {
	search SearchFunc
	logger zerolog.Logger
}

// New creates a recommender backed by YouTube Music search.
func New(logger zerolog.Logger) *Recommender {
	return NewWithSearch(searchYTMusic, logger)
}

// NewWithSearch creates a recommender with a custom search function.
func NewWithSearch(search SearchFunc, logger zerolog.Logger) *Recommender {
	return &Recommender{
		search: search,
		logger: logger.With().Str("component", "recommend").Logger(),
	}
}

func searchYTMusic(query string) ([]Candidate, error) {
	res, err := ytmusic.TrackSearch(query).Next()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		c := Candidate{VideoID: t.VideoID, Title: t.Title}
		if len(t.Artists) > 0 {
			c.Artist = t.Artists[0].Name
		}
		out = append(out, c)
	}
	return out, nil
}

// Similar returns up to limit tracks related to seed. The seed itself and
// other uploads of the same song are excluded.
func (r *Recommender) Similar(ctx context.Context, seed playback.Track, limit int) ([]playback.Track, error) {
	artist, title := SplitTitle(seed.Title)
	if title == "" {
		return nil, ErrNoSeed
	}
	query := title
	if artist != "" {
		query = artist
	}

	ctx, span := telemetry.StartSpan(ctx, "recommend", "recommend.similar")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"seed": seed.Title, "query": query})

	type result struct {
		candidates []Candidate
		err        error
	}
	done := make(chan result, 1)
	go func() {
		c, err := r.search(query)
		done <- result{c, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		telemetry.RecordError(span, res.err)
		return nil, fmt.Errorf("recommendation search %q: %w", query, res.err)
	}

	seedID := videoID(seed.SourceURL)
	seen := map[string]bool{normalize(title): true}
	out := make([]playback.Track, 0, limit)
	for _, c := range res.candidates {
		if c.VideoID == "" || c.VideoID == seedID {
			continue
		}
		_, ct := SplitTitle(c.Title)
		key := normalize(ct)
		if seen[key] {
			continue
		}
		seen[key] = true
		name := c.Title
		if c.Artist != "" {
			name = c.Artist + " - " + c.Title
		}
		out = append(out, playback.Track{Title: name, SourceURL: musicWatchURL + c.VideoID})
		if len(out) == limit {
			break
		}
	}
	r.logger.Debug().Str("seed", seed.Title).Str("query", query).Int("found", len(out)).Msg("recommendations ready")
	return out, nil
}

var (
	bracketed = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	featuring = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?|featuring)\s+.*$`)
	noise     = regexp.MustCompile(`(?i)\s*\|.*$`)
)

// SplitTitle cleans a video title and splits "Artist - Title". Bracketed
// annotations such as "(Official Video)" and featured artists are dropped.
func SplitTitle(raw string) (artist, title string) {
	s := bracketed.ReplaceAllString(raw, "")
	s = noise.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if a, t, ok := strings.Cut(s, " - "); ok {
		artist = strings.TrimSpace(featuring.ReplaceAllString(a, ""))
		title = strings.TrimSpace(featuring.ReplaceAllString(t, ""))
	} else {
		title = strings.TrimSpace(featuring.ReplaceAllString(s, ""))
	}
	return artist, title
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func videoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	if u.Host == "youtu.be" {
		return strings.TrimPrefix(u.Path, "/")
	}
	return ""
}
