package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/guildplay/internal/config"
	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/logbuffer"
	"github.com/friendsincode/guildplay/internal/models"
	"github.com/friendsincode/guildplay/internal/playback"
)

type fakePlayback struct {
	lastLimit int
}

func (f *fakePlayback) Status(limit int) []playback.Snapshot {
	f.lastLimit = limit
	return []playback.Snapshot{{TenantID: "100", State: "playing", Items: []playback.Track{}}}
}

func (f *fakePlayback) Queue(tenantID string, limit int) playback.Snapshot {
	f.lastLimit = limit
	return playback.Snapshot{
		TenantID: tenantID,
		State:    "idle",
		Items:    []playback.Track{{Title: "One"}, {Title: "Two"}},
		Total:    2,
	}
}

type fakeHistory struct {
	err error
}

func (f fakeHistory) Recent(_ context.Context, guildID string, limit int) ([]models.PlayRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.PlayRecord{{GuildID: guildID, Title: "Played"}}, nil
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	srv := New(config.Defaults(), deps, zerolog.Nop())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthAndReady(t *testing.T) {
	ready := false
	srv := newTestServer(t, Deps{Ready: func() bool { return ready }})

	if rr := get(t, srv.Handler(), "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	if rr := get(t, srv.Handler(), "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before gateway = %d", rr.Code)
	}
	ready = true
	if rr := get(t, srv.Handler(), "/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("readyz after gateway = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rr := get(t, srv.Handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "guildplay_") {
		t.Fatal("metrics output has no guildplay series")
	}
}

func TestGuildRoutes(t *testing.T) {
	pb := &fakePlayback{}
	srv := newTestServer(t, Deps{Playback: pb, History: fakeHistory{}})

	rr := get(t, srv.Handler(), "/api/v1/guilds?limit=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("guilds = %d", rr.Code)
	}
	var guilds struct {
		Guilds []playback.Snapshot `json:"guilds"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &guilds); err != nil {
		t.Fatal(err)
	}
	if len(guilds.Guilds) != 1 || guilds.Guilds[0].TenantID != "100" || pb.lastLimit != 5 {
		t.Fatalf("guilds = %+v limit %d", guilds, pb.lastLimit)
	}

	rr = get(t, srv.Handler(), "/api/v1/guilds/123/queue?limit=100000")
	if rr.Code != http.StatusOK {
		t.Fatalf("queue = %d", rr.Code)
	}
	var snap playback.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TenantID != "123" || snap.Total != 2 || pb.lastLimit != maxQueueLimit {
		t.Fatalf("snapshot = %+v limit %d", snap, pb.lastLimit)
	}

	if rr := get(t, srv.Handler(), "/api/v1/guilds/abc/queue"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad guild id = %d", rr.Code)
	}

	rr = get(t, srv.Handler(), "/api/v1/guilds/123/history")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Played") {
		t.Fatalf("history = %d %s", rr.Code, rr.Body.String())
	}
}

func TestHistoryUnavailable(t *testing.T) {
	srv := newTestServer(t, Deps{})
	if rr := get(t, srv.Handler(), "/api/v1/guilds/123/history"); rr.Code != http.StatusNotFound {
		t.Fatalf("disabled history = %d", rr.Code)
	}

	srv = newTestServer(t, Deps{History: fakeHistory{err: errors.New("db down")}})
	if rr := get(t, srv.Handler(), "/api/v1/guilds/123/history"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("failing history = %d", rr.Code)
	}
}

func TestLogsRouteFilters(t *testing.T) {
	buf := logbuffer.New(10)
	now := time.Now().UTC()
	buf.Add(logbuffer.Entry{Timestamp: now, Level: "info", Message: "joined", GuildID: "1"})
	buf.Add(logbuffer.Entry{Timestamp: now, Level: "error", Message: "stream failed", GuildID: "1"})
	buf.Add(logbuffer.Entry{Timestamp: now, Level: "error", Message: "other guild", GuildID: "2"})
	srv := newTestServer(t, Deps{LogBuffer: buf})

	rr := get(t, srv.Handler(), "/api/v1/logs?level=error&guild=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("logs = %d", rr.Code)
	}
	var out struct {
		Entries []logbuffer.Entry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Message != "stream failed" {
		t.Fatalf("entries = %+v", out.Entries)
	}

	if rr := get(t, srv.Handler(), "/api/v1/logs?since=yesterday"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad since = %d", rr.Code)
	}
}

func TestEventFeedStreamsFilteredEvents(t *testing.T) {
	bus := events.NewBus()
	srv := newTestServer(t, Deps{Bus: bus})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?types=track.started&guild=7"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The handler subscribes after the upgrade, so keep publishing until a frame arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(events.EventTrackSkipped, events.Payload{"guild_id": "7"})
				bus.Publish(events.EventTrackStarted, events.Payload{"guild_id": "8", "title": "wrong guild"})
				bus.Publish(events.EventTrackStarted, events.Payload{"guild_id": "7", "title": "Song"})
			}
		}
	}()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["type"] != string(events.EventTrackStarted) || payload["title"] != "Song" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes(" track.started , ,playback.idle")
	if len(got) != 2 || !got[events.EventTrackStarted] || !got[events.EventPlaybackIdle] {
		t.Fatalf("types = %v", got)
	}
	if parseEventTypes("") != nil {
		t.Fatal("empty filter should be nil")
	}
}

func TestVersionRoute(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rr := get(t, srv.Handler(), "/api/v1/version")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"version"`) {
		t.Fatalf("version = %d %s", rr.Code, rr.Body.String())
	}
}
