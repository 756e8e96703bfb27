package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/guildplay/internal/events"
)

type fakePlayer struct {
	track    Track
	released atomic.Int32
}

func (p *fakePlayer) Release() error {
	p.released.Add(1)
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	channel     string
	connectErr  error
	connects    int
	played      []string
	current     func(error)
	stops       int
	disconnects int
}

func (t *fakeTransport) Connect(_ context.Context, channelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	t.channel = channelID
	return nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Play(p Player, onComplete func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.played = append(t.played, p.(*fakePlayer).track.Title)
	t.current = onComplete
	return nil
}

func (t *fakeTransport) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	t.finish(nil)
}

func (t *fakeTransport) Disconnect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	t.connected = false
	return nil
}

// finish ends the current track the way a real transport does, from its own
// goroutine.
func (t *fakeTransport) finish(err error) {
	t.mu.Lock()
	cb := t.current
	t.current = nil
	t.mu.Unlock()
	if cb != nil {
		go cb(err)
	}
}

func (t *fakeTransport) drop() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *fakeTransport) counts() (connects, disconnects int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, t.disconnects
}

func (t *fakeTransport) playedTitles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.played...)
}

type fakeFactory struct {
	mu       sync.Mutex
	fail     map[string]error
	gate     chan struct{}
	players  []*fakePlayer
	inflight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (f *fakeFactory) CreatePlayer(ctx context.Context, track Track) (Player, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	gate := f.gate
	err := f.fail[track.Title]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	p := &fakePlayer{track: track}
	f.mu.Lock()
	f.players = append(f.players, p)
	f.mu.Unlock()
	return p, nil
}

type fakeResolver struct {
	entries []PlaylistEntry
	fail    map[string]bool
	delay   func(i int) time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, query string) (Track, error) {
	if r.fail[query] {
		return Track{}, fmt.Errorf("%w: no results for %q", ErrResolution, query)
	}
	return Track{Title: query, SourceURL: "https://example.test/" + query, Duration: 125}, nil
}

func (r *fakeResolver) ResolvePlaylist(context.Context, string) ([]PlaylistEntry, int, error) {
	return r.entries, len(r.entries), nil
}

func (r *fakeResolver) ResolveEntry(ctx context.Context, e PlaylistEntry) (Track, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxSeen.Load()
		if n <= m || r.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if r.delay != nil {
		var idx int
		fmt.Sscanf(e.Title, "track-%d", &idx)
		select {
		case <-time.After(r.delay(idx)):
		case <-ctx.Done():
			return Track{}, ctx.Err()
		}
	}
	if r.fail[e.Title] {
		return Track{}, errors.New("video unavailable")
	}
	return Track{Title: e.Title, SourceURL: e.URL}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_, message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *fakeNotifier) has(prefix string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if len(m) >= len(prefix) && m[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

type harness struct {
	orch      *Orchestrator
	transport *fakeTransport
	factory   *fakeFactory
	resolver  *fakeResolver
	notifier  *fakeNotifier
	bus       *events.Bus
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		factory:   &fakeFactory{fail: map[string]error{}},
		resolver:  &fakeResolver{fail: map[string]bool{}},
		notifier:  &fakeNotifier{},
		bus:       events.NewBus(),
	}
	orch, err := New(cfg, Deps{
		Resolver:   h.resolver,
		Transports: func(string) Transport { return h.transport },
		Players:    h.factory,
		Notifier:   h.notifier,
		Bus:        h.bus,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	t.Cleanup(func() { orch.Close(context.Background()) })
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = time.Millisecond
	cfg.ConstructionRetryDelay = time.Millisecond
	return cfg
}

func playlistEntries(n int) []PlaylistEntry {
	entries := make([]PlaylistEntry, n)
	for i := range entries {
		entries[i] = PlaylistEntry{
			URL:   fmt.Sprintf("https://example.test/watch?v=%d", i),
			Title: fmt.Sprintf("track-%d", i),
		}
	}
	return entries
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
