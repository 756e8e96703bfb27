package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/guildplay/internal/db"
	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/logbuffer"
	"github.com/friendsincode/guildplay/internal/telemetry"
)

const (
	defaultQueueLimit = 25
	maxQueueLimit     = 500
	defaultLogLimit   = 200
	maxLogLimit       = 1000
)

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if s.deps.Ready != nil {
		if s.deps.Ready() {
			checks["gateway"] = "ok"
		} else {
			checks["gateway"] = "waiting"
			ready = false
		}
	}
	if s.deps.DB != nil {
		db.UpdateConnectionMetrics(s.deps.DB)
		sqlDB, err := s.deps.DB.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			checks["database"] = err.Error()
			ready = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

func (s *Server) handleGuilds(w http.ResponseWriter, r *http.Request) {
	if s.deps.Playback == nil {
		writeError(w, http.StatusServiceUnavailable, "playback_unavailable")
		return
	}
	limit := intQuery(r, "limit", defaultQueueLimit, maxQueueLimit)
	writeJSON(w, http.StatusOK, map[string]any{"guilds": s.deps.Playback.Status(limit)})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.deps.Playback == nil {
		writeError(w, http.StatusServiceUnavailable, "playback_unavailable")
		return
	}
	guildID := chi.URLParam(r, "guildID")
	if !validGuildID(guildID) {
		writeError(w, http.StatusBadRequest, "invalid_guild_id")
		return
	}
	limit := intQuery(r, "limit", defaultQueueLimit, maxQueueLimit)
	writeJSON(w, http.StatusOK, s.deps.Playback.Queue(guildID, limit))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}
	guildID := chi.URLParam(r, "guildID")
	if !validGuildID(guildID) {
		writeError(w, http.StatusBadRequest, "invalid_guild_id")
		return
	}
	recs, err := s.deps.History.Recent(r.Context(), guildID, intQuery(r, "limit", 20, 100))
	if err != nil {
		s.logger.Error().Err(err).Str("guild_id", guildID).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history_query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"guild_id": guildID, "plays": recs})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.LogBuffer == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []logbuffer.Entry{}})
		return
	}
	q := r.URL.Query()
	query := logbuffer.Query{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		GuildID:   q.Get("guild"),
		Search:    q.Get("q"),
		Limit:     intQuery(r, "limit", defaultLogLimit, maxLogLimit),
		Newest:    q.Get("order") != "asc",
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		query.Since = t
	}
	entries := s.deps.LogBuffer.Find(query)
	if entries == nil {
		entries = []logbuffer.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleEvents streams bus events as JSON text frames. Optional query
// parameters: types (comma separated) and guild.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	types := parseEventTypes(r.URL.Query().Get("types"))
	guildID := r.URL.Query().Get("guild")

	sub := s.deps.Bus.Subscribe(events.EventAll)
	defer s.deps.Bus.Unsubscribe(events.EventAll, sub)

	// Clients only listen; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-s.bgCtx.Done():
			conn.Close(ws.StatusGoingAway, "server shutting down")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				s.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if !wantEvent(payload, types, guildID) {
				continue
			}
			data, err := json.Marshal(payload)
			if err != nil {
				s.logger.Warn().Err(err).Msg("event not serializable")
				continue
			}
			if err := conn.Write(ctx, ws.MessageText, data); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func parseEventTypes(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	out := make(map[events.EventType]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[events.EventType(part)] = true
		}
	}
	return out
}

func wantEvent(p events.Payload, types map[events.EventType]bool, guildID string) bool {
	if len(types) > 0 {
		t, _ := p["type"].(string)
		if !types[events.EventType(t)] {
			return false
		}
	}
	if guildID != "" {
		g, _ := p["guild_id"].(string)
		if g != guildID {
			return false
		}
	}
	return true
}

func validGuildID(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

func intQuery(r *http.Request, key string, def, ceiling int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
