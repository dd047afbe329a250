package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// fakeReader records the last query it saw and returns canned rows.
type fakeReader struct {
	lastFetch  FetchQuery
	lastSearch SearchQuery
	rows       []Record
	err        error
}

func (f *fakeReader) Fetch(_ context.Context, q FetchQuery) ([]Record, error) {
	f.lastFetch = q
	return f.rows, f.err
}

func (f *fakeReader) Search(_ context.Context, q SearchQuery) ([]Record, error) {
	f.lastSearch = q
	return f.rows, f.err
}

func TestFetchTool_ScopesQueryByUser(t *testing.T) {
	r := &fakeReader{rows: []Record{{ID: 1, Role: "user", Content: "hello"}}}
	tool := NewFetchTool(r)

	args, err := tool.Schema().Validate(map[string]any{
		"session_id":    "sess-1",
		"from_datetime": "2025-01-01T00:00:00Z",
		"limit":         float64(10),
	})
	if err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}

	res, err := tool.Execute(context.Background(), "alice", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.lastFetch.UserID != "alice" {
		t.Errorf("query must carry the authenticated user, got %q", r.lastFetch.UserID)
	}
	if r.lastFetch.SessionID != "sess-1" || r.lastFetch.Limit != 10 {
		t.Errorf("unexpected query: %+v", r.lastFetch)
	}
	if r.lastFetch.From.IsZero() {
		t.Error("from_datetime filter was dropped")
	}
	if res.Rows != 1 {
		t.Errorf("expected 1 row, got %d", res.Rows)
	}
}

func TestSearchTool_DefaultsAndOutput(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := &fakeReader{rows: []Record{
		{ID: 3, SessionID: "s", Role: "assistant", Content: "security note", CreatedAt: now},
	}}
	tool := NewSearchTool(r)

	args, err := tool.Schema().Validate(map[string]any{"keyword": "security"})
	if err != nil {
		t.Fatalf("schema validation failed: %v", err)
	}

	res, err := tool.Execute(context.Background(), "bob", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.lastSearch.UserID != "bob" || r.lastSearch.Keyword != "security" {
		t.Errorf("unexpected query: %+v", r.lastSearch)
	}
	if r.lastSearch.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, r.lastSearch.Limit)
	}

	var decoded []Record
	if err := json.Unmarshal([]byte(res.Output), &decoded); err != nil {
		t.Fatalf("output must be valid JSON rows: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Content != "security note" {
		t.Errorf("unexpected output rows: %+v", decoded)
	}
}

func TestSearchTool_EmptyResultIsJSONArray(t *testing.T) {
	tool := NewSearchTool(&fakeReader{})
	args, _ := tool.Schema().Validate(map[string]any{"keyword": "nothing"})

	res, err := tool.Execute(context.Background(), "bob", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "[]" {
		t.Errorf("empty result must be an empty JSON array, got %q", res.Output)
	}
	if res.Rows != 0 {
		t.Errorf("expected 0 rows, got %d", res.Rows)
	}
}

func TestTools_StoreErrorPropagates(t *testing.T) {
	r := &fakeReader{err: errors.New("connection refused")}
	tool := NewFetchTool(r)
	args, _ := tool.Schema().Validate(map[string]any{})

	if _, err := tool.Execute(context.Background(), "alice", args); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
