/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/guildplay/internal/bot"
	"github.com/friendsincode/guildplay/internal/cache"
	"github.com/friendsincode/guildplay/internal/config"
	"github.com/friendsincode/guildplay/internal/db"
	"github.com/friendsincode/guildplay/internal/eventbus"
	"github.com/friendsincode/guildplay/internal/events"
	"github.com/friendsincode/guildplay/internal/history"
	"github.com/friendsincode/guildplay/internal/media"
	"github.com/friendsincode/guildplay/internal/playback"
	"github.com/friendsincode/guildplay/internal/recommend"
	"github.com/friendsincode/guildplay/internal/server"
	"github.com/friendsincode/guildplay/internal/telemetry"
	"github.com/friendsincode/guildplay/internal/version"
	"github.com/friendsincode/guildplay/internal/voice"
)

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(false); err != nil {
		return err
	}

	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NewNodeID()
	}
	logger.Info().Str("version", version.Version).Str("node_id", nodeID).Bool("dry_run", cfg.DryRun).Msg("guildplay starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "guildplay",
		ServiceVersion: version.Version,
		InstanceID:     nodeID,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	resolver, resolveCache := newResolver()
	bus := events.NewBus()

	var client *bot.Client
	var conns voice.ConnFactory
	if !cfg.DryRun {
		client, err = bot.NewClient(cfg.DiscordToken, logger)
		if err != nil {
			return err
		}
		conns = client.CreateVoiceConn
	}

	voiceManager := voice.NewManager(conns, voice.DefaultJoinPolicy(), logger)
	var notifier *bot.Notifier
	var notify playback.Notifier = playback.NotifierFunc(func(guildID, message string) {
		logger.Info().Str("guild_id", guildID).Str("notice", message).Msg("notification (dry run)")
	})
	if client != nil {
		notifier = bot.NewNotifier(client.Rest(), 5, 5, logger)
		notify = notifier
	}

	orch, err := playback.New(playback.Config{
		BatchSize:              cfg.BatchSize,
		LookaheadIndex:         cfg.LookaheadIndex,
		BatchConcurrency:       cfg.BatchConcurrency,
		ReconnectAttempts:      cfg.ReconnectAttempts,
		ReconnectDelay:         cfg.ReconnectDelay,
		ConstructionRetryDelay: cfg.ConstructionRetryDelay,
	}, playback.Deps{
		Resolver:   resolver,
		Transports: voiceManager.For,
		Players:    voice.NewFFmpegFactory(cfg.FFmpegPath, resolver, logger),
		Notifier:   notify,
		Bus:        bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	database, recorder, err := openHistory(bus, nodeID)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Playback:  orch,
		Bus:       bus,
		LogBuffer: logBuf,
		DB:        database,
	}
	if recorder != nil {
		deps.History = recorder
	}
	if client != nil {
		deps.Ready = client.Ready
	}
	srv := server.New(cfg, deps, logger)
	srv.DeferClose(resolveCache.Close)
	if database != nil {
		srv.DeferClose(func() error { return db.Close(database) })
	}
	if recorder != nil {
		srv.Go("history", func(ctx context.Context) error {
			recorder.Run(ctx)
			return nil
		})
	}
	if err := startForwarder(ctx, srv, bus, nodeID); err != nil {
		_ = srv.Close()
		return err
	}

	if client != nil {
		handlerDeps := bot.HandlerDeps{
			Orchestrator: orch,
			Searcher:     media.NewSearcher(cfg.MaxSearchResults, logger),
			Recommender:  recommend.New(logger),
			Replier:      notifier,
			Voice:        client.VoiceChannel,
			Logger:       logger,
		}
		if recorder != nil {
			handlerDeps.History = recorder
		}
		client.SetHandler(bot.NewHandler(cfg.CommandPrefix, cfg.MaxQueryLength, handlerDeps), voiceManager)
		srv.Go("notifier", func(ctx context.Context) error {
			notifier.Run(ctx)
			return nil
		})
		if err := client.Open(ctx); err != nil {
			_ = srv.Close()
			return err
		}
	}

	httpServer := srv.HTTPServer()
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	orch.Close(timeoutCtx)
	if client != nil {
		client.Close(timeoutCtx)
	}
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("guildplay stopped")
	return nil
}

// newResolver builds the yt-dlp backed resolver with the Redis cache in front
// when enabled.
func newResolver() (*media.Resolver, *cache.Cache) {
	c := cache.Disabled(logger)
	if cfg.CacheEnabled {
		var err error
		c, err = cache.New(cache.Config{
			RedisAddr:      cfg.RedisAddr,
			RedisPassword:  cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			TrackTTL:       cfg.CacheTTL,
			PlaylistTTL:    cache.DefaultPlaylistTTL,
			DisableOnError: true,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("resolution cache unavailable, continuing without it")
			c = cache.Disabled(logger)
		}
	}
	return newResolverWithCache(c), c
}

func newResolverWithCache(c *cache.Cache) *media.Resolver {
	rcfg := media.DefaultResolverConfig()
	rcfg.Attempts = cfg.ResolveAttempts
	rcfg.Timeout = cfg.ResolveTimeout
	rcfg.RetryDelay = cfg.ResolveRetryDelay
	rcfg.Rate = cfg.ResolveRate
	rcfg.Burst = cfg.ResolveBurst

	backend := media.NewYtdlpBackend(cfg.YtdlpPath, cfg.YoutubeProxy, logger)
	return media.NewResolver(backend, c, rcfg, logger)
}

// openHistory connects the play history store. Both results are nil when
// persistence is disabled.
func openHistory(bus *events.Bus, nodeID string) (*gorm.DB, *history.Recorder, error) {
	database, err := db.Connect(cfg)
	if errors.Is(err, db.ErrDisabled) {
		logger.Info().Msg("play history disabled")
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return database, history.New(database, bus, nodeID, logger), nil
}

// startForwarder fans bus events out to Redis or NATS when configured.
func startForwarder(ctx context.Context, srv *server.Server, bus *events.Bus, nodeID string) error {
	pub, err := newPublisher(ctx, nodeID)
	if err != nil || pub == nil {
		return err
	}
	fwd := eventbus.NewForwarder(bus, pub, eventbus.DefaultBreakerConfig(), nodeID, logger)
	srv.Go("event-forwarder", func(ctx context.Context) error {
		fwd.Run(ctx)
		return nil
	})
	srv.DeferClose(fwd.Close)
	logger.Info().Str("backend", pub.Backend()).Msg("event forwarding enabled")
	return nil
}

// subscriber is a publisher that can also tail subjects.
type subscriber interface {
	eventbus.Publisher
	Subscribe(ctx context.Context, subject string, fn func([]byte)) error
}

func newPublisher(ctx context.Context, nodeID string) (subscriber, error) {
	switch cfg.EventBackend {
	case config.EventsRedis:
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		pub, err := eventbus.NewRedisPublisher(ctx, rc, logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis event backend: %w", err)
		}
		return pub, nil
	case config.EventsNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.Name = "guildplay-" + nodeID
		pub, err := eventbus.NewNATSPublisher(nc, logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats event backend: %w", err)
		}
		return pub, nil
	}
	return nil, nil
}
