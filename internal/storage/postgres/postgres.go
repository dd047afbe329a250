// Package postgres provides the PostgreSQL backend for Kumbu's unified
// store. GORM stays inside this package; the rest of the codebase sees
// only the repository interfaces.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = 30 * time.Minute
	slowQueryThreshold  = 200 * time.Millisecond
)

// Config configures the PostgreSQL connection and pool. Zero values fall
// back to the package defaults.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) poolSettings() (open, idle int, lifetime time.Duration) {
	open, idle, lifetime = c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime
	if open <= 0 {
		open = defaultMaxOpenConns
	}
	if idle <= 0 {
		idle = defaultMaxIdleConns
	}
	if lifetime <= 0 {
		lifetime = defaultConnLifetime
	}
	return open, idle, lifetime
}

// Open dials PostgreSQL and sizes the connection pool.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), gormOptions(slogger))
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	open, idle, lifetime := cfg.poolSettings()
	sqlDB.SetMaxOpenConns(open)
	sqlDB.SetMaxIdleConns(idle)
	sqlDB.SetConnMaxLifetime(lifetime)

	slogger.Info("postgres connected",
		slog.Int("max_open_conns", open),
		slog.Int("max_idle_conns", idle),
	)
	return NewStore(db, slogger), nil
}

func gormOptions(slogger *slog.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(gormLogWriter{slogger}, logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		PrepareStmt:    true,
		TranslateError: true,
	}
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogWriter adapts *slog.Logger to GORM's logger.Writer interface.
type gormLogWriter struct {
	logger *slog.Logger
}

func (w gormLogWriter) Printf(format string, args ...any) {
	w.logger.Info(fmt.Sprintf(format, args...))
}
