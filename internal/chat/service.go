package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbu/internal/llm"
)

const systemPrompt = `You are Kumbu, a helpful assistant. Keep answers concise and honest; if you don't know something, say so.`

// DefaultHistoryLimit caps how many prior turns are replayed to the model.
const DefaultHistoryLimit = 50

// Reply is the result of one chat exchange.
type Reply struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Model     string `json:"model"`
}

// Service runs plain conversations and persists every exchange.
type Service struct {
	provider   llm.Provider
	store      ConversationStore
	logger     *slog.Logger
	maxTokens  int
	maxHistory int
}

// NewService creates a chat service.
func NewService(provider llm.Provider, store ConversationStore, logger *slog.Logger) *Service {
	return &Service{
		provider:   provider,
		store:      store,
		logger:     logger,
		maxTokens:  4096,
		maxHistory: DefaultHistoryLimit,
	}
}

// Send appends the user's message to a session, asks the model, and persists
// the exchange. An empty sessionID starts a new session.
func (s *Service) Send(ctx context.Context, userID, sessionID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message must not be empty")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	messages, err := s.store.LoadSession(ctx, userID, sessionID, s.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	start := time.Now()
	resp, err := s.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	if err := s.store.AppendExchange(ctx, userID, sessionID, message, resp.Content); err != nil {
		// The user already has the answer; losing one history row is
		// worth logging, not failing the request over.
		s.logger.ErrorContext(ctx, "persisting chat exchange failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "chat exchange",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.Duration("took", time.Since(start)),
	)

	return &Reply{
		SessionID: sessionID,
		Content:   resp.Content,
		Model:     s.provider.Model(),
	}, nil
}

// Record persists one exchange that was answered elsewhere, without calling
// the model. An empty sessionID starts a new session; the resolved session id
// is returned either way.
func (s *Service) Record(ctx context.Context, userID, sessionID, message, reply string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := s.store.AppendExchange(ctx, userID, sessionID, message, reply); err != nil {
		return sessionID, fmt.Errorf("persisting exchange: %w", err)
	}
	return sessionID, nil
}

// Sessions lists the user's sessions, most recently active first.
func (s *Service) Sessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListSessions(ctx, userID, limit)
}
