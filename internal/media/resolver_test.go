package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/playback"
)

type scriptedBackend struct {
	mu       sync.Mutex
	calls    int
	budgets  []time.Duration
	behavior func(call int, ctx context.Context) (playback.Track, error)
}

func (b *scriptedBackend) Extract(ctx context.Context, target string) (playback.Track, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	if dl, ok := ctx.Deadline(); ok {
		b.budgets = append(b.budgets, time.Until(dl))
	}
	b.mu.Unlock()
	return b.behavior(call, ctx)
}

func (b *scriptedBackend) ListPlaylist(context.Context, string) ([]playback.PlaylistEntry, error) {
	return []playback.PlaylistEntry{{URL: "https://example.test/1"}, {URL: "https://example.test/2"}}, nil
}

func testResolverConfig() ResolverConfig {
	return ResolverConfig{
		Attempts:   3,
		Timeout:    20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	}
}

func TestResolveRetriesTimeoutsWithGrowingBudget(t *testing.T) {
	backend := &scriptedBackend{behavior: func(call int, ctx context.Context) (playback.Track, error) {
		if call < 3 {
			<-ctx.Done()
			return playback.Track{}, ctx.Err()
		}
		return playback.Track{Title: "Resolved", SourceURL: "https://example.test/v"}, nil
	}}
	r := NewResolver(backend, nil, testResolverConfig(), zerolog.Nop())

	track, err := r.Resolve(context.Background(), "some song")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if track.Title != "Resolved" {
		t.Fatalf("track = %+v", track)
	}
	if backend.calls != 3 {
		t.Fatalf("calls = %d, want 3", backend.calls)
	}
	if !(backend.budgets[1] > backend.budgets[0] && backend.budgets[2] > backend.budgets[1]) {
		t.Fatalf("per-attempt timeouts did not grow: %v", backend.budgets)
	}
}

func TestResolveGivesUpAfterAttempts(t *testing.T) {
	backend := &scriptedBackend{behavior: func(int, context.Context) (playback.Track, error) {
		return playback.Track{}, errors.New("HTTP Error 503")
	}}
	r := NewResolver(backend, nil, testResolverConfig(), zerolog.Nop())

	_, err := r.Resolve(context.Background(), "flaky")
	if !errors.Is(err, playback.ErrResolution) {
		t.Fatalf("err = %v, want ErrResolution", err)
	}
	if backend.calls != 3 {
		t.Fatalf("calls = %d, want 3", backend.calls)
	}
}

func TestResolveDoesNotRetryAgeRestricted(t *testing.T) {
	backend := &scriptedBackend{behavior: func(int, context.Context) (playback.Track, error) {
		return playback.Track{}, ErrAgeRestricted
	}}
	r := NewResolver(backend, nil, testResolverConfig(), zerolog.Nop())

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=restricted")
	if !errors.Is(err, ErrAgeRestricted) || !errors.Is(err, playback.ErrResolution) {
		t.Fatalf("err = %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("calls = %d, want 1", backend.calls)
	}
}

func TestResolveEntryFillsFromListing(t *testing.T) {
	backend := &scriptedBackend{behavior: func(int, context.Context) (playback.Track, error) {
		return playback.Track{StreamURL: "https://cdn.example.test/a"}, nil
	}}
	r := NewResolver(backend, nil, testResolverConfig(), zerolog.Nop())

	entry := playback.PlaylistEntry{URL: "https://example.test/1", Title: "Listed", Duration: 61}
	track, err := r.ResolveEntry(context.Background(), entry)
	if err != nil {
		t.Fatal(err)
	}
	if track.Title != "Listed" || track.Duration != 61 || track.SourceURL != entry.URL {
		t.Fatalf("track = %+v", track)
	}
}

func TestResolvePlaylistReportsTotal(t *testing.T) {
	r := NewResolver(&scriptedBackend{}, nil, testResolverConfig(), zerolog.Nop())
	entries, total, err := r.ResolvePlaylist(context.Background(), "https://example.test/playlist?list=PL")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || total != 2 {
		t.Fatalf("entries=%d total=%d", len(entries), total)
	}
}

func TestResolveRejectsEmptyQuery(t *testing.T) {
	r := NewResolver(&scriptedBackend{}, nil, testResolverConfig(), zerolog.Nop())
	if _, err := r.Resolve(context.Background(), "   "); !errors.Is(err, ErrNoResults) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseTrackLine(t *testing.T) {
	track, ok := parseTrackLine("Song\thttps://www.youtube.com/watch?v=abc\t212.0\tNA\thttps://cdn.example.test/stream")
	if !ok {
		t.Fatal("line rejected")
	}
	if track.Title != "Song" || track.Duration != 212 || track.Thumbnail != "" || track.StreamURL == "" {
		t.Fatalf("track = %+v", track)
	}
	if _, ok := parseTrackLine("NA\tNA\tNA\tNA\tNA"); ok {
		t.Fatal("placeholder line accepted")
	}
	if _, ok := parseTrackLine("only\ttwo"); ok {
		t.Fatal("short line accepted")
	}
}

func TestParseEntries(t *testing.T) {
	out := "https://www.youtube.com/watch?v=1\tFirst\t61\n" +
		"garbage line\n" +
		"https://www.youtube.com/watch?v=2\tNA\tNA\n"
	entries := parseEntries(out)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Title != "First" || entries[0].Duration != 61 {
		t.Fatalf("first = %+v", entries[0])
	}
	if entries[1].Title != "" || entries[1].Duration != 0 {
		t.Fatalf("second = %+v", entries[1])
	}
}

func TestClassify(t *testing.T) {
	base := errors.New("exit status 1")
	tests := []struct {
		stderr string
		want   error
	}{
		{"ERROR: [youtube] x: Sign in to confirm your age", ErrAgeRestricted},
		{"ERROR: [youtube] x: Private video", ErrUnavailable},
		{"ERROR: something else", playback.ErrResolution},
	}
	for _, tt := range tests {
		err := classify(&ytdlp.Result{Stderr: tt.stderr}, base)
		if !errors.Is(err, tt.want) {
			t.Errorf("classify(%q) = %v, want %v", tt.stderr, err, tt.want)
		}
	}
	if err := classify(nil, base); !errors.Is(err, base) || !errors.Is(err, playback.ErrResolution) {
		t.Errorf("classify(nil) = %v", err)
	}
}

func TestURLHelpers(t *testing.T) {
	if !IsURL("https://youtu.be/abc") || IsURL("never gonna give you up") || IsURL("ftp://host/file") {
		t.Fatal("IsURL misclassified input")
	}
	if !IsPlaylistURL("https://www.youtube.com/playlist?list=PL1") || !IsPlaylistURL("https://www.youtube.com/watch?v=a&list=RDa") {
		t.Fatal("playlist URL not detected")
	}
	if IsPlaylistURL("https://www.youtube.com/watch?v=a") {
		t.Fatal("single video detected as playlist")
	}
}
