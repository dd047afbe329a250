// Package history implements the two read-only conversation-history tools the
// model may invoke: fetch_user_conversations and search_user_conversations.
//
// Security:
//   - Every query is scoped by the authenticated user id, supplied by the
//     invoker, never by the model. A session id belonging to another user
//     simply matches zero rows.
//   - All filter values are bound query parameters, never interpolated text.
//   - Result counts are clamped (default 50, maximum 200).
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jkaninda/kumbu/internal/tools"
)

// Limits applied to both tools.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Record is one conversation row as exposed to the model.
type Record struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FetchQuery filters a history fetch. Zero time values mean unbounded.
type FetchQuery struct {
	UserID    string
	SessionID string
	From      time.Time
	To        time.Time
	Limit     int
}

// SearchQuery filters a keyword search over history content.
type SearchQuery struct {
	UserID    string
	Keyword   string
	SessionID string
	Limit     int
}

// Reader is the read-only store contract the tools execute against.
// Implementations must apply UserID as a hard predicate on every query.
type Reader interface {
	Fetch(ctx context.Context, q FetchQuery) ([]Record, error)
	Search(ctx context.Context, q SearchQuery) ([]Record, error)
}

// encodeRecords renders rows as the JSON payload fed back to the model.
func encodeRecords(recs []Record) (*tools.Result, error) {
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("encoding history rows: %w", err)
	}
	return &tools.Result{
		Output: tools.TruncateOutput(string(data), tools.MaxOutputBytes),
		Rows:   len(recs),
	}, nil
}

// FetchTool implements fetch_user_conversations.
type FetchTool struct {
	reader Reader
}

// NewFetchTool creates the fetch tool over the given reader.
func NewFetchTool(r Reader) *FetchTool {
	return &FetchTool{reader: r}
}

func (t *FetchTool) Name() string { return "fetch_user_conversations" }

func (t *FetchTool) Description() string {
	return "Fetch the current user's conversation history, newest first, optionally filtered by session and time range."
}

func (t *FetchTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Arg{Name: "session_id", Type: tools.TypeString, Description: "Restrict to one chat session."},
		tools.Arg{Name: "from_datetime", Type: tools.TypeTimestamp, Description: "Only messages at or after this ISO 8601 time."},
		tools.Arg{Name: "to_datetime", Type: tools.TypeTimestamp, Description: "Only messages at or before this ISO 8601 time."},
		tools.Arg{Name: "limit", Type: tools.TypeInteger, Description: "Maximum rows to return.", Default: DefaultLimit, Max: MaxLimit},
	)
}

func (t *FetchTool) Execute(ctx context.Context, userID string, args map[string]any) (*tools.Result, error) {
	q := FetchQuery{UserID: userID, Limit: DefaultLimit}
	if v, ok := args["session_id"].(string); ok {
		q.SessionID = v
	}
	if v, ok := args["from_datetime"].(time.Time); ok {
		q.From = v
	}
	if v, ok := args["to_datetime"].(time.Time); ok {
		q.To = v
	}
	if v, ok := args["limit"].(int); ok {
		q.Limit = v
	}

	recs, err := t.reader.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	return encodeRecords(recs)
}

// SearchTool implements search_user_conversations.
type SearchTool struct {
	reader Reader
}

// NewSearchTool creates the search tool over the given reader.
func NewSearchTool(r Reader) *SearchTool {
	return &SearchTool{reader: r}
}

func (t *SearchTool) Name() string { return "search_user_conversations" }

func (t *SearchTool) Description() string {
	return "Search the current user's conversation history for a keyword, newest first."
}

func (t *SearchTool) Schema() *tools.Schema {
	return tools.NewSchema(
		tools.Arg{Name: "keyword", Type: tools.TypeString, Description: "Substring to search message content for.", Required: true},
		tools.Arg{Name: "session_id", Type: tools.TypeString, Description: "Restrict to one chat session."},
		tools.Arg{Name: "limit", Type: tools.TypeInteger, Description: "Maximum rows to return.", Default: DefaultLimit, Max: MaxLimit},
	)
}

func (t *SearchTool) Execute(ctx context.Context, userID string, args map[string]any) (*tools.Result, error) {
	q := SearchQuery{UserID: userID, Limit: DefaultLimit}
	if v, ok := args["keyword"].(string); ok {
		q.Keyword = v
	}
	if v, ok := args["session_id"].(string); ok {
		q.SessionID = v
	}
	if v, ok := args["limit"].(int); ok {
		q.Limit = v
	}

	recs, err := t.reader.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching conversations: %w", err)
	}
	return encodeRecords(recs)
}
