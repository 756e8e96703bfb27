/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
	DatabaseNone     DatabaseBackend = "none"
)

// Event fan-out backend selection.
type EventBackend string

const (
	EventsMemory EventBackend = "memory"
	EventsRedis  EventBackend = "redis"
	EventsNATS   EventBackend = "nats"
)

// Config covers process level configuration. Values come from an optional
// YAML file, then .env, then the process environment (highest precedence).
type Config struct {
	Environment string `yaml:"environment"`
	HTTPBind    string `yaml:"http_bind"`
	HTTPPort    int    `yaml:"http_port"`

	// Discord
	DiscordToken  string `yaml:"discord_token"`
	CommandPrefix string `yaml:"command_prefix"`
	DryRun        bool   `yaml:"dry_run"` // run without a gateway connection (HTTP + tooling only)

	// Media tooling
	FFmpegPath   string `yaml:"ffmpeg_path"`
	YtdlpPath    string `yaml:"ytdlp_path"`
	YoutubeProxy string `yaml:"youtube_proxy"`

	// Playlist ingestion
	BatchSize        int `yaml:"batch_size"`
	LookaheadIndex   int `yaml:"lookahead_index"`
	BatchConcurrency int `yaml:"batch_concurrency"`

	// Resolution
	ResolveAttempts   int           `yaml:"resolve_attempts"`
	ResolveTimeout    time.Duration `yaml:"resolve_timeout"`
	ResolveRetryDelay time.Duration `yaml:"resolve_retry_delay"`
	ResolveRate       float64       `yaml:"resolve_rate"`
	ResolveBurst      int           `yaml:"resolve_burst"`
	MaxSearchResults  int           `yaml:"max_search_results"`
	MaxQueryLength    int           `yaml:"max_query_length"`

	// Playback recovery
	ReconnectAttempts      int           `yaml:"reconnect_attempts"`
	ReconnectDelay         time.Duration `yaml:"reconnect_delay"`
	ConstructionRetryDelay time.Duration `yaml:"construction_retry_delay"`

	// Persistence
	DBBackend DatabaseBackend `yaml:"db_backend"`
	DBDSN     string          `yaml:"db_dsn"`

	// Redis (cache and optional event fan-out)
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	CacheEnabled  bool          `yaml:"cache_enabled"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	// Event fan-out
	EventBackend EventBackend `yaml:"event_backend"`
	NATSURL      string       `yaml:"nats_url"`
	InstanceID   string       `yaml:"instance_id"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
	LogBufferSize  int  `yaml:"log_buffer_size"`

	LegacyEnvWarnings []string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Environment:            "development",
		HTTPBind:               "0.0.0.0",
		HTTPPort:               8080,
		CommandPrefix:          "!",
		FFmpegPath:             "ffmpeg",
		YtdlpPath:              "yt-dlp",
		BatchSize:              10,
		LookaheadIndex:         8,
		BatchConcurrency:       3,
		ResolveAttempts:        3,
		ResolveTimeout:         5 * time.Second,
		ResolveRetryDelay:      time.Second,
		ResolveRate:            4,
		ResolveBurst:           10,
		MaxSearchResults:       5,
		MaxQueryLength:         200,
		ReconnectAttempts:      5,
		ReconnectDelay:         time.Second,
		ConstructionRetryDelay: time.Second,
		DBBackend:              DatabaseSQLite,
		DBDSN:                  "file:guildplay.db?_busy_timeout=5000",
		RedisAddr:              "localhost:6379",
		CacheTTL:               30 * time.Minute,
		EventBackend:           EventsMemory,
		NATSURL:                "nats://localhost:4222",
		OTLPEndpoint:           "localhost:4317",
		TracingSampleRate:      1.0,
		MetricsEnabled:         true,
		LogBufferSize:          5000,
	}
}

// Load reads .env, an optional YAML file and environment variables, applies
// defaults, and validates the result.
func Load() (*Config, error) {
	return load(false)
}

// LoadTooling is Load for commands that never open the gateway; it forces
// DryRun so a token is not required.
func LoadTooling() (*Config, error) {
	return load(true)
}

func load(tooling bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := getEnvAny([]string{"GUILDPLAY_CONFIG", "CONFIG_FILE"}, ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if tooling {
		cfg.DryRun = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnvAny([]string{"GUILDPLAY_ENV", "ENVIRONMENT"}, c.Environment)
	c.HTTPBind = getEnvAny([]string{"GUILDPLAY_HTTP_BIND"}, c.HTTPBind)
	c.HTTPPort = getEnvIntAny([]string{"GUILDPLAY_HTTP_PORT"}, c.HTTPPort)

	c.DiscordToken = getEnvAny([]string{"GUILDPLAY_DISCORD_TOKEN", "DISCORD_TOKEN", "TOKEN"}, c.DiscordToken)
	c.CommandPrefix = getEnvAny([]string{"GUILDPLAY_COMMAND_PREFIX", "COMMAND_PREFIX"}, c.CommandPrefix)
	c.DryRun = getEnvBoolAny([]string{"GUILDPLAY_DRY_RUN"}, c.DryRun)

	c.FFmpegPath = getEnvAny([]string{"GUILDPLAY_FFMPEG_PATH", "FFMPEG_PATH"}, c.FFmpegPath)
	c.YtdlpPath = getEnvAny([]string{"GUILDPLAY_YTDLP_PATH"}, c.YtdlpPath)
	c.YoutubeProxy = getEnvAny([]string{"GUILDPLAY_YOUTUBE_PROXY", "YOUTUBE_PROXY"}, c.YoutubeProxy)

	c.BatchSize = getEnvIntAny([]string{"GUILDPLAY_BATCH_SIZE", "CHUNK_SIZE"}, c.BatchSize)
	c.LookaheadIndex = getEnvIntAny([]string{"GUILDPLAY_LOOKAHEAD_INDEX"}, c.LookaheadIndex)
	c.BatchConcurrency = getEnvIntAny([]string{"GUILDPLAY_BATCH_CONCURRENCY"}, c.BatchConcurrency)

	c.ResolveAttempts = getEnvIntAny([]string{"GUILDPLAY_RESOLVE_ATTEMPTS"}, c.ResolveAttempts)
	c.ResolveTimeout = getEnvDurationAny([]string{"GUILDPLAY_RESOLVE_TIMEOUT"}, c.ResolveTimeout)
	c.ResolveRetryDelay = getEnvDurationAny([]string{"GUILDPLAY_RESOLVE_RETRY_DELAY"}, c.ResolveRetryDelay)
	c.ResolveRate = getEnvFloatAny([]string{"GUILDPLAY_RESOLVE_RATE"}, c.ResolveRate)
	c.ResolveBurst = getEnvIntAny([]string{"GUILDPLAY_RESOLVE_BURST"}, c.ResolveBurst)
	c.MaxSearchResults = getEnvIntAny([]string{"GUILDPLAY_MAX_SEARCH_RESULTS", "MAX_SEARCH_RESULTS"}, c.MaxSearchResults)
	c.MaxQueryLength = getEnvIntAny([]string{"GUILDPLAY_MAX_QUERY_LENGTH"}, c.MaxQueryLength)

	c.ReconnectAttempts = getEnvIntAny([]string{"GUILDPLAY_RECONNECT_ATTEMPTS"}, c.ReconnectAttempts)
	c.ReconnectDelay = getEnvDurationAny([]string{"GUILDPLAY_RECONNECT_DELAY"}, c.ReconnectDelay)
	c.ConstructionRetryDelay = getEnvDurationAny([]string{"GUILDPLAY_CONSTRUCTION_RETRY_DELAY"}, c.ConstructionRetryDelay)

	c.DBBackend = DatabaseBackend(getEnvAny([]string{"GUILDPLAY_DB_BACKEND"}, string(c.DBBackend)))
	c.DBDSN = getEnvAny([]string{"GUILDPLAY_DB_DSN"}, c.DBDSN)

	c.RedisAddr = getEnvAny([]string{"GUILDPLAY_REDIS_ADDR"}, c.RedisAddr)
	c.RedisPassword = getEnvAny([]string{"GUILDPLAY_REDIS_PASSWORD"}, c.RedisPassword)
	c.RedisDB = getEnvIntAny([]string{"GUILDPLAY_REDIS_DB"}, c.RedisDB)
	c.CacheEnabled = getEnvBoolAny([]string{"GUILDPLAY_CACHE_ENABLED"}, c.CacheEnabled)
	c.CacheTTL = getEnvDurationAny([]string{"GUILDPLAY_CACHE_TTL"}, c.CacheTTL)

	c.EventBackend = EventBackend(getEnvAny([]string{"GUILDPLAY_EVENT_BACKEND"}, string(c.EventBackend)))
	c.NATSURL = getEnvAny([]string{"GUILDPLAY_NATS_URL", "NATS_URL"}, c.NATSURL)
	c.InstanceID = getEnvAny([]string{"GUILDPLAY_INSTANCE_ID"}, c.InstanceID)

	c.TracingEnabled = getEnvBoolAny([]string{"GUILDPLAY_TRACING_ENABLED"}, c.TracingEnabled)
	c.OTLPEndpoint = getEnvAny([]string{"GUILDPLAY_OTLP_ENDPOINT"}, c.OTLPEndpoint)
	c.TracingSampleRate = getEnvFloatAny([]string{"GUILDPLAY_TRACING_SAMPLE_RATE"}, c.TracingSampleRate)

	c.MetricsEnabled = getEnvBoolAny([]string{"GUILDPLAY_METRICS_ENABLED"}, c.MetricsEnabled)
	c.LogBufferSize = getEnvIntAny([]string{"GUILDPLAY_LOG_BUFFER_SIZE"}, c.LogBufferSize)
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
		if c.DBDSN == "" {
			return fmt.Errorf("GUILDPLAY_DB_DSN must be provided for database backend %q", c.DBBackend)
		}
	case DatabaseNone:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	switch c.EventBackend {
	case EventsMemory, EventsRedis, EventsNATS:
	default:
		return fmt.Errorf("unsupported event backend %q", c.EventBackend)
	}

	if c.DiscordToken == "" && !c.DryRun {
		return fmt.Errorf("GUILDPLAY_DISCORD_TOKEN or DISCORD_TOKEN must be provided")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.LookaheadIndex < 0 || c.LookaheadIndex >= c.BatchSize {
		return fmt.Errorf("lookahead index %d must be within [0, %d)", c.LookaheadIndex, c.BatchSize)
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", c.BatchConcurrency)
	}
	if c.ResolveAttempts < 1 {
		return fmt.Errorf("resolve attempts must be at least 1, got %d", c.ResolveAttempts)
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("reconnect attempts must be at least 1, got %d", c.ReconnectAttempts)
	}
	if c.CommandPrefix == "" {
		return fmt.Errorf("command prefix must not be empty")
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"TOKEN":          "use GUILDPLAY_DISCORD_TOKEN (or DISCORD_TOKEN)",
		"FFMPEG_PATH":    "use GUILDPLAY_FFMPEG_PATH",
		"COMMAND_PREFIX": "use GUILDPLAY_COMMAND_PREFIX",
		"CHUNK_SIZE":     "use GUILDPLAY_BATCH_SIZE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("750ms") or bare seconds ("5").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}
