// Package chat implements plain session-based conversations with the model,
// without tool use. Each exchange is persisted so later questions, whether
// through chat or through the history tools, can build on it.
package chat

import (
	"context"
	"time"

	"github.com/jkaninda/kumbu/internal/llm"
	"github.com/jkaninda/kumbu/internal/tools/history"
)

// Session summarizes one conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationStore persists conversations and serves them back, both as
// model transcripts and as history tool queries. Every method is scoped to
// a user ID; implementations must never return another user's rows.
type ConversationStore interface {
	history.Reader

	// LoadSession returns up to limit most recent turns of a session in
	// chronological order, ready to replay to the model.
	LoadSession(ctx context.Context, userID, sessionID string, limit int) ([]llm.Message, error)

	// AppendExchange stores one user/assistant message pair, creating the
	// session on first use.
	AppendExchange(ctx context.Context, userID, sessionID, userMsg, assistantMsg string) error

	// ListSessions returns the user's sessions, most recently active first.
	ListSessions(ctx context.Context, userID string, limit int) ([]Session, error)
}
