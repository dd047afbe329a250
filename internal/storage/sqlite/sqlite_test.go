package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbu/internal/identity"
	"github.com/jkaninda/kumbu/internal/security"
	pgstore "github.com/jkaninda/kumbu/internal/storage/postgres"
	"github.com/jkaninda/kumbu/internal/tools/history"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "kumbu.db")},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestUserRepository(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	users := store.Users()

	u := &identity.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		PasswordHash: "$2a$10$fake",
		CreatedAt:    time.Now().UTC(),
	}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := &identity.User{ID: uuid.NewString(), Username: "alice", PasswordHash: "x", CreatedAt: time.Now().UTC()}
	if err := users.Create(ctx, dup); err != identity.ErrUserExists {
		t.Errorf("duplicate username: got %v, want ErrUserExists", err)
	}

	got, err := users.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if got.ID != u.ID || got.PasswordHash != u.PasswordHash {
		t.Errorf("unexpected user: %+v", got)
	}

	if _, err := users.GetByUsername(ctx, "nobody"); err != identity.ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := users.GetByID(ctx, u.ID); err != nil {
		t.Errorf("GetByID: %v", err)
	}
}

func TestConversationRepository_SessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	convs := store.Conversations()

	sessionID := uuid.NewString()
	if err := convs.AppendExchange(ctx, "user-a", sessionID, "hello", "hi there"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	if err := convs.AppendExchange(ctx, "user-a", sessionID, "how are you?", "good"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	msgs, err := convs.LoadSession(ctx, "user-a", sessionID, 50)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[3].Content != "good" {
		t.Errorf("messages out of order: %+v", msgs)
	}

	// Another user cannot read or write someone else's session.
	if got, err := convs.LoadSession(ctx, "user-b", sessionID, 50); err != nil || len(got) != 0 {
		t.Errorf("cross-user LoadSession returned %d messages, err=%v", len(got), err)
	}
	if err := convs.AppendExchange(ctx, "user-b", sessionID, "mine now", "no"); err == nil {
		t.Error("expected error appending to another user's session")
	}

	sessions, err := convs.ListSessions(ctx, "user-a", 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Messages != 4 {
		t.Errorf("unexpected sessions: %+v", sessions)
	}
	if sessions[0].Title != "hello" {
		t.Errorf("title = %q, want first message", sessions[0].Title)
	}
}

func TestConversationRepository_FetchAndSearchScoping(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	convs := store.Conversations()

	aSession := uuid.NewString()
	bSession := uuid.NewString()
	if err := convs.AppendExchange(ctx, "user-a", aSession, "planning the trip to Lisbon", "sounds fun"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	if err := convs.AppendExchange(ctx, "user-b", bSession, "my trip to Lisbon too", "nice"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	recs, err := convs.Fetch(ctx, history.FetchQuery{UserID: "user-a", Limit: 50})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.SessionID != aSession {
			t.Errorf("record from foreign session: %+v", r)
		}
	}

	found, err := convs.Search(ctx, history.SearchQuery{UserID: "user-a", Keyword: "LISBON", Limit: 50})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 case-insensitive match, got %d", len(found))
	}
	if found[0].Content != "planning the trip to Lisbon" {
		t.Errorf("unexpected match: %+v", found[0])
	}

	// LIKE wildcards in the keyword are literals, not patterns.
	none, err := convs.Search(ctx, history.SearchQuery{UserID: "user-a", Keyword: "%", Limit: 50})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("wildcard keyword matched %d records", len(none))
	}
}

func TestConversationRepository_FetchDefaultsAndOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	convs := store.Conversations()

	sessionID := uuid.NewString()
	if err := convs.AppendExchange(ctx, "user-a", sessionID, "first question", "first answer"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	if err := convs.AppendExchange(ctx, "user-a", sessionID, "second question", "second answer"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	// An unset limit means the default, never LIMIT 0.
	recs, err := convs.Fetch(ctx, history.FetchQuery{UserID: "user-a", SessionID: sessionID})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("zero-limit fetch returned %d records, want 4", len(recs))
	}
	// Newest first, as the tool descriptions promise.
	if recs[0].Content != "second answer" || recs[3].Content != "first question" {
		t.Errorf("records not newest first: %+v", recs)
	}

	found, err := convs.Search(ctx, history.SearchQuery{UserID: "user-a", Keyword: "question"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("zero-limit search returned %d records, want 2", len(found))
	}
	if found[0].Content != "second question" {
		t.Errorf("matches not newest first: %+v", found)
	}
}

func TestAuditRepository_AppendAndQuery(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	audit := store.Audit()

	recs := []security.Record{
		{Timestamp: time.Now().UTC().Add(-time.Minute), UserID: "user-a", Tool: "fetch_user_conversations", Outcome: security.OutcomeSuccess, Args: map[string]any{"limit": 50}},
		{Timestamp: time.Now().UTC(), UserID: "user-a", Tool: "search_user_conversations", Outcome: security.OutcomeInvalidArguments, Error: "unknown argument"},
		{Timestamp: time.Now().UTC(), UserID: "user-b", Tool: "fetch_user_conversations", Outcome: security.OutcomeSuccess},
	}
	for _, r := range recs {
		if err := audit.Write(ctx, r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got, err := audit.Query(ctx, "user-a", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for user-a, got %d", len(got))
	}
	// Newest first.
	if got[0].Tool != "search_user_conversations" {
		t.Errorf("unexpected order: %+v", got)
	}
	if got[1].Args["limit"] != float64(50) {
		t.Errorf("args did not round-trip: %+v", got[1].Args)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	repo := pgstore.NewConversationRepository(store.GormDB())

	oldSession := uuid.NewString()
	newSession := uuid.NewString()
	if err := repo.AppendExchange(ctx, "user-a", oldSession, "old stuff", "ok"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	if err := repo.AppendExchange(ctx, "user-a", newSession, "new stuff", "ok"); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	// Backdate the first session's activity.
	stale := time.Now().UTC().Add(-90 * 24 * time.Hour)
	if err := store.GormDB().Model(&pgstore.ConversationModel{}).
		Where("id = ?", oldSession).
		Update("updated_at", stale).Error; err != nil {
		t.Fatalf("backdating: %v", err)
	}

	purged, err := repo.PurgeOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if msgs, err := repo.LoadSession(ctx, "user-a", oldSession, 50); err != nil || len(msgs) != 0 {
		t.Errorf("purged session still readable: %d messages, err=%v", len(msgs), err)
	}
	if msgs, err := repo.LoadSession(ctx, "user-a", newSession, 50); err != nil || len(msgs) != 2 {
		t.Errorf("recent session affected: %d messages, err=%v", len(msgs), err)
	}
}

func TestPing(t *testing.T) {
	store := openTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
