package postgres

import (
	"context"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/jkaninda/kumbu/internal/chat"
	"github.com/jkaninda/kumbu/internal/identity"
	"github.com/jkaninda/kumbu/internal/security"
)

// Store implements the unified store backed by PostgreSQL.
// Sub-store repositories are created lazily and share one connection.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	mu            sync.Mutex
	conversations chat.ConversationStore
	users         identity.UserStore
	audit         security.AuditStore
}

// NewStore wraps an existing GORM connection as a unified Store.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// GormDB returns the underlying connection for repository construction.
func (s *Store) GormDB() *gorm.DB { return s.db }

// Migrate runs GORM AutoMigrate for all tables.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(
		&UserModel{},
		&ConversationModel{},
		&MessageModel{},
		&AuditRecordModel{},
	)
}

// Driver returns "postgres".
func (s *Store) Driver() string { return "postgres" }

func (s *Store) Conversations() chat.ConversationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations == nil {
		s.conversations = NewConversationRepository(s.db)
	}
	return s.conversations
}

func (s *Store) Users() identity.UserStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = NewUserRepository(s.db)
	}
	return s.users
}

func (s *Store) Audit() security.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.db)
	}
	return s.audit
}
