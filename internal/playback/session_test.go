package playback

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/friendsincode/guildplay/internal/events"
)

const guild = "111"

func TestEnqueueStartsPlaybackAndAdvances(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	if err := h.orch.Join(ctx, guild, "vc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	first, err := h.orch.Play(ctx, guild, "vc-1", "Song A")
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !first.Started || first.Position != 1 {
		t.Fatalf("first enqueue = %+v, want started at position 1", first)
	}
	waitFor(t, "Song A to play", func() bool { return len(h.transport.playedTitles()) == 1 })

	second, err := h.orch.Play(ctx, guild, "vc-1", "Song B")
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if second.Started {
		t.Fatal("second enqueue should not start playback")
	}
	if !h.notifier.has("Added to queue: Song B") {
		t.Fatal("missing queue confirmation")
	}
	if np, ok := h.orch.NowPlaying(guild); !ok || np.Title != "Song A" {
		t.Fatalf("NowPlaying = %+v, %v", np, ok)
	}

	h.transport.finish(nil)
	waitFor(t, "Song B to play", func() bool { return len(h.transport.playedTitles()) == 2 })

	h.transport.finish(nil)
	waitFor(t, "idle", func() bool { return h.orch.Queue(guild, 10).State == StateIdle.String() })

	if _, ok := h.orch.NowPlaying(guild); ok {
		t.Fatal("idle session should have no current track")
	}
	if got := h.transport.playedTitles(); !slices.Equal(got, []string{"Song A", "Song B"}) {
		t.Fatalf("played %v", got)
	}
	if !h.notifier.has("🎵 Now playing: Song B") {
		t.Fatal("missing now playing notice")
	}
}

func TestPlayNowGoesToFront(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")

	for _, q := range []string{"one", "two", "three"} {
		if _, err := h.orch.Play(ctx, guild, "vc-1", q); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "one to play", func() bool { return len(h.transport.playedTitles()) == 1 })
	res, err := h.orch.PlayNow(ctx, guild, "vc-1", "urgent")
	if err != nil {
		t.Fatal(err)
	}
	if res.Position != 1 {
		t.Fatalf("position = %d, want 1", res.Position)
	}
	snap := h.orch.Queue(guild, 10)
	if snap.Total != 3 || snap.Items[0].Title != "urgent" {
		t.Fatalf("queue = %+v", snap.Items)
	}
}

func TestResolutionFailureLeavesQueueUntouched(t *testing.T) {
	h := newHarness(t, testConfig())
	h.resolver.fail["missing"] = true

	_, err := h.orch.Play(context.Background(), guild, "", "missing")
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("err = %v, want ErrResolution", err)
	}
	if snap := h.orch.Queue(guild, 10); snap.Total != 0 || snap.NowPlaying != nil {
		t.Fatalf("queue changed: %+v", snap)
	}
}

func TestConstructionFailureAdvancesToNextTrack(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")
	h.factory.fail["broken"] = errors.New("ffmpeg exited")
	errs := h.bus.Subscribe(events.EventPlaybackError)

	h.factory.mu.Lock()
	h.factory.gate = make(chan struct{})
	gate := h.factory.gate
	h.factory.mu.Unlock()

	if _, err := h.orch.Play(ctx, guild, "vc-1", "broken"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Play(ctx, guild, "vc-1", "fine"); err != nil {
		t.Fatal(err)
	}
	close(gate)

	waitFor(t, "fine to play", func() bool {
		return slices.Equal(h.transport.playedTitles(), []string{"fine"})
	})
	if !h.notifier.has("❌ Error playing track:") {
		t.Fatal("missing construction failure notice")
	}
	ev := <-errs
	if ev["kind"] != "construction" || ev["title"] != "broken" {
		t.Fatalf("error event = %v", ev)
	}
}

func TestSkipDropsQueuedItemsAndStopsCurrent(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")
	for _, q := range []string{"a", "b", "c", "d"} {
		if _, err := h.orch.Play(ctx, guild, "vc-1", q); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "a to play", func() bool { return len(h.transport.playedTitles()) == 1 })

	n, err := h.orch.Skip(guild, 2)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if n != 3 {
		t.Fatalf("skipped %d, want 3", n)
	}
	waitFor(t, "d to play", func() bool { return len(h.transport.playedTitles()) == 2 })
	if got := h.transport.playedTitles(); got[1] != "d" {
		t.Fatalf("played %v", got)
	}
}

func TestSkipAndStopWhenIdle(t *testing.T) {
	h := newHarness(t, testConfig())
	if _, err := h.orch.Skip(guild, 0); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("Skip err = %v", err)
	}
	if err := h.orch.Stop(context.Background(), guild); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("Stop err = %v", err)
	}
	if err := h.orch.Leave(context.Background(), guild); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Leave err = %v", err)
	}
}

func TestStopDuringConstructionDiscardsPlayer(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")

	h.factory.mu.Lock()
	h.factory.gate = make(chan struct{})
	h.factory.mu.Unlock()

	if _, err := h.orch.Play(ctx, guild, "vc-1", "slow"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Play(ctx, guild, "vc-1", "queued"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "construction to begin", func() bool { return h.factory.inflight.Load() == 1 })

	if err := h.orch.Stop(ctx, guild); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "construction to abort", func() bool { return h.factory.inflight.Load() == 0 })

	snap := h.orch.Queue(guild, 10)
	if snap.State != StateStopped.String() || snap.Total != 0 || snap.NowPlaying != nil {
		t.Fatalf("after stop: %+v", snap)
	}
	if len(h.transport.playedTitles()) != 0 {
		t.Fatalf("player reached transport: %v", h.transport.playedTitles())
	}
	if h.transport.IsConnected() {
		t.Fatal("stop should disconnect")
	}
	if err := h.orch.Stop(ctx, guild); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("second Stop err = %v", err)
	}
}

func TestStopReleasesLivePlayer(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")
	if _, err := h.orch.Play(ctx, guild, "vc-1", "x"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "x to play", func() bool { return len(h.transport.playedTitles()) == 1 })

	if err := h.orch.Stop(ctx, guild); err != nil {
		t.Fatal(err)
	}
	h.factory.mu.Lock()
	p := h.factory.players[0]
	h.factory.mu.Unlock()
	if p.released.Load() != 1 {
		t.Fatalf("released %d times, want 1", p.released.Load())
	}

	// A new request after stop starts fresh.
	_ = h.orch.Join(ctx, guild, "vc-1")
	if res, err := h.orch.Play(ctx, guild, "vc-1", "y"); err != nil || !res.Started {
		t.Fatalf("Play after stop = %+v, %v", res, err)
	}
	waitFor(t, "y to play", func() bool { return len(h.transport.playedTitles()) == 2 })
}

func TestStopTwiceMatchesStopOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")
	stopped := h.bus.Subscribe(events.EventPlaybackStopped)
	if _, err := h.orch.Play(ctx, guild, "vc-1", "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Play(ctx, guild, "vc-1", "queued"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "x to play", func() bool { return len(h.transport.playedTitles()) == 1 })

	if err := h.orch.Stop(ctx, guild); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := h.orch.Stop(ctx, guild); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("second Stop err = %v, want ErrNothingPlaying", err)
	}

	h.factory.mu.Lock()
	p := h.factory.players[0]
	h.factory.mu.Unlock()
	if n := p.released.Load(); n != 1 {
		t.Fatalf("player released %d times, want 1", n)
	}
	if _, disconnects := h.transport.counts(); disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", disconnects)
	}
	if n := len(stopped); n != 1 {
		t.Fatalf("stopped events = %d, want 1", n)
	}
	snap := h.orch.Queue(guild, 10)
	if snap.State != StateStopped.String() || snap.Total != 0 || snap.NowPlaying != nil {
		t.Fatalf("after stop: %+v", snap)
	}
	if got := h.transport.playedTitles(); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("played %v", got)
	}
}

func TestReconnectsBeforePlaying(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")
	h.transport.drop()

	if _, err := h.orch.Play(ctx, guild, "", "after-drop"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playback after reconnect", func() bool { return len(h.transport.playedTitles()) == 1 })
	if !h.transport.IsConnected() {
		t.Fatal("transport not reconnected")
	}
}

func TestReconnectGivesUpAndGoesIdle(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectAttempts = 2
	h := newHarness(t, cfg)
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")
	h.transport.drop()
	h.transport.mu.Lock()
	h.transport.connectErr = errors.New("gateway unavailable")
	h.transport.mu.Unlock()

	if _, err := h.orch.Play(ctx, guild, "", "lost"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "idle", func() bool { return h.orch.Queue(guild, 10).State == StateIdle.String() })
	h.transport.mu.Lock()
	connects := h.transport.connects
	h.transport.mu.Unlock()
	if connects != 3 {
		t.Fatalf("connect calls = %d, want join + 2 retries", connects)
	}
}

func TestStopAndLeaveCancelReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectAttempts = 100
	cfg.ReconnectDelay = 5 * time.Millisecond
	h := newHarness(t, cfg)
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")
	h.transport.drop()
	h.transport.mu.Lock()
	h.transport.connectErr = errors.New("gateway unavailable")
	h.transport.mu.Unlock()

	if _, err := h.orch.Play(ctx, guild, "", "x"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "a failed retry", func() bool {
		connects, _ := h.transport.counts()
		return connects >= 3
	})

	if err := h.orch.Stop(ctx, guild); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.orch.Leave(ctx, guild); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Leave err = %v, want ErrNotConnected", err)
	}

	h.transport.mu.Lock()
	h.transport.connectErr = nil
	h.transport.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	settled, _ := h.transport.counts()
	time.Sleep(30 * time.Millisecond)
	if connects, _ := h.transport.counts(); connects != settled {
		t.Fatalf("connect attempts continued after stop: %d -> %d", settled, connects)
	}
	if h.transport.IsConnected() {
		t.Fatal("voice connection restored after stop and leave")
	}
	if got := h.orch.Queue(guild, 10).State; got != StateStopped.String() {
		t.Fatalf("state = %s, want stopped", got)
	}
	if len(h.transport.playedTitles()) != 0 {
		t.Fatalf("played %v after stop", h.transport.playedTitles())
	}
	if h.notifier.has("❌ Lost the voice connection") {
		t.Fatal("stop reported as a connection failure")
	}
}

func TestAtMostOneConstructionPerTenant(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_ = h.orch.Join(ctx, guild, "vc-1")

	for i := 0; i < 6; i++ {
		if _, err := h.orch.Play(ctx, guild, "vc-1", string(rune('a'+i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		waitFor(t, "next track", func() bool { return len(h.transport.playedTitles()) == i+1 })
		if _, err := h.orch.Skip(guild, 0); err != nil {
			t.Fatalf("Skip %d: %v", i, err)
		}
	}
	waitFor(t, "last track", func() bool { return len(h.transport.playedTitles()) == 6 })
	if m := h.factory.maxSeen.Load(); m != 1 {
		t.Fatalf("max concurrent constructions = %d", m)
	}
}
