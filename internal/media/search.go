package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppalone/ytsearch"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/telemetry"
)

const watchURL = "https://www.youtube.com/watch?v="

// SearchResult is one candidate offered to the user.
type SearchResult struct {
	Title    string `json:"title"`
	Channel  string `json:"channel"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}

// Searcher runs YouTube searches.
type Searcher struct {
	client *ytsearch.Client
	max    int
	logger zerolog.Logger
}

// NewSearcher creates a searcher returning at most max results.
func NewSearcher(max int, logger zerolog.Logger) *Searcher {
	if max <= 0 {
		max = 5
	}
	return &Searcher{
		client: ytsearch.NewClient(nil),
		max:    max,
		logger: logger.With().Str("component", "search").Logger(),
	}
}

// Search returns up to the configured number of video results for query.
func (s *Searcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "media", "media.search")
	defer span.End()

	res, err := s.client.Search(ctx, query)
	if err != nil {
		telemetry.ResolutionsTotal.WithLabelValues("search", "error").Inc()
		telemetry.RecordError(span, err)
		return nil, wrapResolution(fmt.Errorf("search %q: %w", query, err))
	}

	seen := make(map[string]bool)
	out := make([]SearchResult, 0, s.max)
	for _, v := range res.Results {
		if v.VideoID == "" || seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		out = append(out, SearchResult{
			Title:    strings.TrimSpace(v.Title),
			Channel:  v.Channel,
			URL:      watchURL + v.VideoID,
			Duration: v.Duration,
		})
		if len(out) == s.max {
			break
		}
	}
	if len(out) == 0 {
		telemetry.ResolutionsTotal.WithLabelValues("search", "empty").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNoResults, query)
	}
	telemetry.ResolutionsTotal.WithLabelValues("search", "ok").Inc()
	s.logger.Debug().Str("query", query).Int("results", len(out)).Msg("search complete")
	return out, nil
}
