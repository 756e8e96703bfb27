/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisPublisher publishes events on Redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisPublisher connects to Redis. It fails when the server does not
// answer a ping.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis event publisher initialized")
	return &RedisPublisher{client: client, logger: logger}, nil
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.client.Publish(ctx, subject, data).Err()
}

// Subscribe streams raw messages published on channels matching the glob
// pattern subject until ctx ends.
func (p *RedisPublisher) Subscribe(ctx context.Context, subject string, fn func([]byte)) error {
	pubsub := p.client.PSubscribe(ctx, subject)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", subject, err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn([]byte(msg.Payload))
		}
	}
}

// Backend implements Publisher.
func (p *RedisPublisher) Backend() string { return "redis" }

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	if err := p.client.Close(); err != nil {
		p.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	return nil
}
