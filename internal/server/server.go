/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/guildplay/internal/config"
	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/logbuffer"
	"github.com/friendsincode/guildplay/internal/models"
	"github.com/friendsincode/guildplay/internal/playback"
	"github.com/friendsincode/guildplay/internal/telemetry"
	"github.com/friendsincode/guildplay/internal/version"
)

// PlaybackStatus is the read side of the orchestrator.
type PlaybackStatus interface {
	Status(limit int) []playback.Snapshot
	Queue(tenantID string, limit int) playback.Snapshot
}

// HistorySource answers play history queries.
type HistorySource interface {
	Recent(ctx context.Context, guildID string, limit int) ([]models.PlayRecord, error)
}

// Deps are the services the HTTP surface reads from. History and DB are nil
// when persistence is disabled.
type Deps struct {
	Playback  PlaybackStatus
	History   HistorySource
	Bus       *events.Bus
	LogBuffer *logbuffer.Buffer
	DB        *gorm.DB
	Ready     func() bool
}

// Server bundles the HTTP surface and the background workers feeding it.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error
	deps       Deps

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and its routes.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("guildplay-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The event feed is long-lived.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	bgCtx, bgCancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		router:   router,
		deps:     deps,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
	srv.configureRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the websocket feed; the middleware bounds the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Go runs fn in the background until Close. A non-nil error other than
// cancellation is logged.
func (s *Server) Go(name string, fn func(ctx context.Context) error) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := fn(s.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("worker", name).Msg("background worker exited")
		}
	}()
}

// Close stops background workers, then releases owned resources in reverse order.
func (s *Server) Close() error {
	s.bgCancel()
	s.bgWG.Wait()

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router.Get("/readyz", s.handleReady)

	if s.cfg.MetricsEnabled {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/guilds", s.handleGuilds)
		r.Get("/guilds/{guildID}/queue", s.handleQueue)
		r.Get("/guilds/{guildID}/history", s.handleHistory)
		r.Get("/logs", s.handleLogs)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, version.Current())
		})
	})

	if s.deps.Bus != nil {
		s.router.Get("/ws/events", s.handleEvents)
	}
}
