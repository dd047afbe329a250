// Package sqlite provides the default zero-config backend for Kumbu's
// unified store. It uses modernc.org/sqlite (pure Go, no CGO) through
// the glebarez/sqlite GORM driver and shares its models and repositories
// with the PostgreSQL backend; GORM's SQLite dialect handles the SQL
// differences transparently.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/kumbu/internal/chat"
	"github.com/jkaninda/kumbu/internal/identity"
	"github.com/jkaninda/kumbu/internal/security"
	pgstore "github.com/jkaninda/kumbu/internal/storage/postgres"
)

const defaultJournalMode = "wal"

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // Defaults to WAL for concurrent reads.
}

// Store implements the unified store backed by a single SQLite file.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	mu            sync.Mutex
	conversations chat.ConversationStore
	users         identity.UserStore
	audit         security.AuditStore
}

// Open creates the database file (and its parent directory) if needed
// and returns a ready Store. Migrate must still be called before use.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = defaultJournalMode
	}

	db, err := gorm.Open(sqlite.Open(dsnFor(cfg.Path, journalMode)), &gorm.Config{
		Logger: logger.New(gormLogWriter{slogger}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened",
		slog.String("path", cfg.Path),
		slog.String("journal_mode", journalMode),
	)
	return &Store{db: db, logger: slogger, path: cfg.Path}, nil
}

// dsnFor appends the connection pragmas to the file path. busy_timeout
// keeps concurrent writers from failing immediately with SQLITE_BUSY.
func dsnFor(path, journalMode string) string {
	pragmas := url.Values{}
	pragmas.Add("_pragma", fmt.Sprintf("journal_mode(%s)", journalMode))
	pragmas.Add("_pragma", "busy_timeout(5000)")
	pragmas.Add("_pragma", "foreign_keys(ON)")
	return path + "?" + pragmas.Encode()
}

// Migrate creates or updates the tables. The models are shared with the
// PostgreSQL backend.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(
		&pgstore.UserModel{},
		&pgstore.ConversationModel{},
		&pgstore.MessageModel{},
		&pgstore.AuditRecordModel{},
	)
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database file.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string { return "sqlite" }

// GormDB returns the underlying GORM DB for repository construction.
func (s *Store) GormDB() *gorm.DB { return s.db }

func (s *Store) Conversations() chat.ConversationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations == nil {
		s.conversations = pgstore.NewConversationRepository(s.db)
	}
	return s.conversations
}

func (s *Store) Users() identity.UserStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = pgstore.NewUserRepository(s.db)
	}
	return s.users
}

func (s *Store) Audit() security.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = pgstore.NewAuditRepository(s.db)
	}
	return s.audit
}

// gormLogWriter adapts *slog.Logger to GORM's logger.Writer interface.
type gormLogWriter struct {
	logger *slog.Logger
}

func (w gormLogWriter) Printf(format string, args ...any) {
	w.logger.Info(fmt.Sprintf(format, args...))
}
