package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jkaninda/kumbu/internal/chat"
	"github.com/jkaninda/kumbu/internal/llm"
	"github.com/jkaninda/kumbu/internal/tools/history"
)

// Compile-time interface check.
var _ chat.ConversationStore = (*ConversationRepository)(nil)

// ConversationRepository implements chat.ConversationStore. Every query
// carries a user_id predicate; there is no method that reads messages
// without one.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// UserScope filters any message query to a single user. Applied to every
// read in this repository.
func UserScope(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}

// clampLimit keeps row limits inside the tool bounds. GORM renders a zero
// limit as LIMIT 0, so an unset limit must become the default here, not
// fall through to the driver.
func clampLimit(limit int) int {
	if limit <= 0 {
		return history.DefaultLimit
	}
	if limit > history.MaxLimit {
		return history.MaxLimit
	}
	return limit
}

// Fetch returns the user's messages newest first, optionally filtered by
// session and time window.
func (r *ConversationRepository) Fetch(ctx context.Context, q history.FetchQuery) ([]history.Record, error) {
	db := r.db.WithContext(ctx).
		Scopes(UserScope(q.UserID)).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(q.Limit))

	if q.SessionID != "" {
		db = db.Where("conversation_id = ?", q.SessionID)
	}
	if !q.From.IsZero() {
		db = db.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		db = db.Where("created_at <= ?", q.To)
	}

	var models []MessageModel
	if err := db.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return toRecords(models), nil
}

// Search returns the user's messages matching a keyword, newest first.
func (r *ConversationRepository) Search(ctx context.Context, q history.SearchQuery) ([]history.Record, error) {
	pattern := "%" + escapeLike(strings.ToLower(q.Keyword)) + "%"
	db := r.db.WithContext(ctx).
		Scopes(UserScope(q.UserID)).
		Where(`LOWER(content) LIKE ? ESCAPE '\'`, pattern).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(q.Limit))

	if q.SessionID != "" {
		db = db.Where("conversation_id = ?", q.SessionID)
	}

	var models []MessageModel
	if err := db.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	return toRecords(models), nil
}

// LoadSession returns up to limit most recent turns of one session, oldest
// first, after verifying the session belongs to the user.
func (r *ConversationRepository) LoadSession(ctx context.Context, userID, sessionID string, limit int) ([]llm.Message, error) {
	var conv ConversationModel
	err := r.db.WithContext(ctx).
		Scopes(UserScope(userID)).
		Where("id = ?", sessionID).
		First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		// Unknown session: a fresh conversation, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	var models []MessageModel
	err = r.db.WithContext(ctx).
		Scopes(UserScope(userID)).
		Where("conversation_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading session messages: %w", err)
	}

	msgs := make([]llm.Message, len(models))
	for i, m := range models {
		// Reverse into chronological order.
		msgs[len(models)-1-i] = llm.Message{
			Role:    llm.Role(m.Role),
			Content: m.Content,
		}
	}
	return msgs, nil
}

// AppendExchange stores a user/assistant pair, creating the conversation on
// first use. The conversation's owner is verified when it already exists.
func (r *ConversationRepository) AppendExchange(ctx context.Context, userID, sessionID, userMsg, assistantMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var conv ConversationModel
		err := tx.Where("id = ?", sessionID).First(&conv).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			conv = ConversationModel{
				ID:        sessionID,
				UserID:    userID,
				Title:     truncateTitle(userMsg),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&conv).Error; err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
		case err != nil:
			return fmt.Errorf("looking up conversation: %w", err)
		case conv.UserID != userID:
			return fmt.Errorf("conversation belongs to a different user")
		default:
			if err := tx.Model(&conv).Update("updated_at", now).Error; err != nil {
				return fmt.Errorf("touching conversation: %w", err)
			}
		}

		msgs := []MessageModel{
			{ConversationID: sessionID, UserID: userID, Role: string(llm.RoleUser), Content: userMsg, CreatedAt: now},
			{ConversationID: sessionID, UserID: userID, Role: string(llm.RoleAssistant), Content: assistantMsg, CreatedAt: now},
		}
		if err := tx.Create(&msgs).Error; err != nil {
			return fmt.Errorf("appending messages: %w", err)
		}
		return nil
	})
}

// ListSessions returns the user's conversations, most recently active first.
func (r *ConversationRepository) ListSessions(ctx context.Context, userID string, limit int) ([]chat.Session, error) {
	var convs []ConversationModel
	err := r.db.WithContext(ctx).
		Scopes(UserScope(userID)).
		Order("updated_at DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	sessions := make([]chat.Session, len(convs))
	for i, c := range convs {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&MessageModel{}).
			Where("conversation_id = ?", c.ID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("counting messages: %w", err)
		}
		sessions[i] = chat.Session{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  int(count),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
	}
	return sessions, nil
}

// PurgeOlderThan deletes conversations (and their messages) whose last
// activity predates the cutoff. Used by the retention janitor.
func (r *ConversationRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&ConversationModel{}).
			Where("updated_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("selecting stale conversations: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("conversation_id IN ?", ids).
			Delete(&MessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting stale messages: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&ConversationModel{})
		if res.Error != nil {
			return fmt.Errorf("deleting stale conversations: %w", res.Error)
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

// toRecords keeps storage order, which is newest first. That is the order
// the tools advertise to the model.
func toRecords(models []MessageModel) []history.Record {
	records := make([]history.Record, len(models))
	for i, m := range models {
		records[i] = history.Record{
			ID:        m.ID,
			SessionID: m.ConversationID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return records
}

// escapeLike neutralizes LIKE wildcards in user-supplied keywords.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

func truncateTitle(s string) string {
	const max = 80
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max]
	}
	return s
}
