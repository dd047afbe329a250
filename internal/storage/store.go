// Package storage defines the unified Store interface over persistence.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"

	"github.com/jkaninda/kumbu/internal/chat"
	"github.com/jkaninda/kumbu/internal/identity"
	"github.com/jkaninda/kumbu/internal/security"
)

// Store is the unified persistence interface for Kumbu. Both backends
// implement it; sub-stores returned by the accessors share the same
// underlying connection.
type Store interface {
	// Conversations serves chat transcripts and the history tool queries.
	Conversations() chat.ConversationStore

	// Users persists accounts.
	Users() identity.UserStore

	// Audit is the append-only database sink for audit records.
	Audit() security.AuditStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DefaultDriver  = DriverSQLite
)

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `yaml:"driver" json:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite" json:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `yaml:"path" json:"path"`
	JournalMode string `yaml:"journal_mode" json:"journal_mode"` // "wal" by default
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `yaml:"dsn" json:"dsn"`
	MaxOpenConns     int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns     int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetimeS int    `yaml:"conn_max_lifetime_s" json:"conn_max_lifetime_s"`
}
