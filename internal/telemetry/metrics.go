/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP surface.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guildplay_api_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_api_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildplay_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildplay_api_websocket_connections",
		Help: "Open event feed websockets.",
	})

	// Playback core.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildplay_active_sessions",
		Help: "Guild sessions held by the registry.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guildplay_queue_depth",
		Help: "Queued items per guild, excluding the track now playing.",
	}, []string{"guild_id"})

	SessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guildplay_session_state",
		Help: "Current playback state per guild (0 idle, 1 starting, 2 playing, 3 completing, 4 stopped).",
	}, []string{"guild_id"})

	TracksStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_tracks_started_total",
		Help: "Tracks whose player started.",
	}, []string{"guild_id"})

	SkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildplay_skips_total",
		Help: "Tracks skipped by command, including dropped queue items.",
	})

	PlaybackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_playback_failures_total",
		Help: "Playback failures by kind (connection, construction, transport, continuation).",
	}, []string{"kind"})

	PlayerConstructionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildplay_player_constructions_in_flight",
		Help: "Player constructions currently running across all guilds.",
	})

	PlayerConstructionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guildplay_player_construction_duration_seconds",
		Help:    "Time to build a player for a dequeued track.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// Resolution and ingestion.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_resolutions_total",
		Help: "Media resolutions by operation and result.",
	}, []string{"operation", "result"})

	ResolutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guildplay_resolution_duration_seconds",
		Help:    "Media resolution latency including retries.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"operation"})

	ResolutionRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildplay_resolution_retries_total",
		Help: "Resolution attempts beyond the first.",
	})

	PlaylistEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_playlist_entries_total",
		Help: "Playlist entries processed by result (added, skipped).",
	}, []string{"result"})

	PlaylistBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildplay_playlist_batches_total",
		Help: "Playlist batches loaded.",
	})

	CacheResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_cache_results_total",
		Help: "Resolved track cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	EventBusPublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_eventbus_publish_failures_total",
		Help: "Distributed event publish failures by backend.",
	}, []string{"backend"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_notifications_total",
		Help: "Tenant notifications by result (sent, failed, dropped).",
	}, []string{"result"})

	// Play history database.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guildplay_database_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildplay_database_errors_total",
		Help: "Database operation errors by operation.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildplay_database_connections_active",
		Help: "Open database connections.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
