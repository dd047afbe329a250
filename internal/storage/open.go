package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/kumbu/internal/storage/postgres"
	"github.com/jkaninda/kumbu/internal/storage/sqlite"
)

// Open creates a Store for the configured driver. An empty driver selects
// SQLite.
func Open(cfg Config, logger *slog.Logger) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DefaultDriver
	}

	switch driver {
	case DriverSQLite:
		return sqlite.Open(sqlite.Config{
			Path:        cfg.SQLite.Path,
			JournalMode: cfg.SQLite.JournalMode,
		}, logger)
	case DriverPostgres:
		return postgres.Open(postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetimeS) * time.Second,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
