// Package db opens the play history store.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/guildplay/internal/config"
)

// ErrDisabled is returned by Connect when the database backend is "none".
var ErrDisabled = errors.New("database disabled")

// pool sizes the connection pool per backend.
type pool struct {
	maxOpen  int
	maxIdle  int
	lifetime time.Duration
}

func dialect(backend config.DatabaseBackend, dsn string) (gorm.Dialector, pool, error) {
	switch backend {
	case config.DatabasePostgres:
		return postgres.Open(dsn), pool{maxOpen: 10, maxIdle: 5, lifetime: 30 * time.Minute}, nil
	case config.DatabaseMySQL:
		return mysql.Open(dsn), pool{maxOpen: 10, maxIdle: 5, lifetime: 5 * time.Minute}, nil
	case config.DatabaseSQLite:
		// SQLite serializes writers; one connection avoids "database is locked".
		return sqlite.Open(dsn), pool{maxOpen: 1, maxIdle: 1}, nil
	case config.DatabaseNone, "":
		return nil, pool{}, ErrDisabled
	}
	return nil, pool{}, fmt.Errorf("unknown database backend: %s", backend)
}

// Connect opens the configured backend, sizes its pool, verifies it answers
// and installs the telemetry callbacks.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, p, err := dialect(cfg.DBBackend, cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if cfg.Environment == "development" {
		level = logger.Info
	}
	database, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBBackend, err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	if p.lifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.lifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.DBBackend, err)
	}

	if err := RegisterCallbacks(database); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("register db callbacks: %w", err)
	}
	return database, nil
}

// Close releases database resources.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
