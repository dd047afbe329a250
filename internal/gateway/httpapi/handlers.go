package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jkaninda/kumbu/internal/agent"
	"github.com/jkaninda/kumbu/internal/chat"
	"github.com/jkaninda/kumbu/internal/identity"
	"github.com/jkaninda/kumbu/internal/security"
	"github.com/jkaninda/kumbu/internal/tools/history"
	"github.com/jkaninda/okapi"
)

// --- Auth handlers ---

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterResponse is the JSON response after account creation.
type RegisterResponse struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *Gateway) handleRegister(c *okapi.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("username and password are required")
	}

	user, err := g.identity.Register(c.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUserExists) {
			return c.JSON(http.StatusConflict, ErrorBody{Error: "username already taken"})
		}
		return c.AbortBadRequest(err.Error())
	}

	return c.JSON(http.StatusCreated, RegisterResponse{
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	})
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for subsequent /v1 requests.
type LoginResponse struct {
	Token string `json:"token"`
}

func (g *Gateway) handleLogin(c *okapi.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("username and password are required")
	}

	token, err := g.identity.Login(c.Context(), req.Username, req.Password)
	if err != nil {
		// Unknown user and wrong password are indistinguishable on purpose.
		return c.AbortUnauthorized("invalid username or password")
	}

	return c.OK(LoginResponse{Token: token})
}

// --- Chat handlers ---

// ChatRequest is the JSON body for POST /v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"` // Empty = new session.
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	userID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	reply, err := g.chats.Send(c.Context(), userID, req.SessionID, req.Message)
	if err != nil {
		g.logger.Error("chat request failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("chat failed")
	}

	return c.OK(ChatResponse{
		Reply:     reply.Content,
		SessionID: reply.SessionID,
		Model:     reply.Model,
	})
}

// --- History handlers ---

// HistoryChatRequest is the JSON body for POST /v1/history/chat.
type HistoryChatRequest struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id,omitempty"`  // Empty = new session.
	MaxHistory int    `json:"max_history,omitempty"` // Seeded turns. 0 = default.
}

// HistoryChatMeta describes how a history-backed answer was produced.
type HistoryChatMeta struct {
	Model         string `json:"model,omitempty"`
	Termination   string `json:"termination"`
	Iterations    int    `json:"iterations"`
	TookMS        int64  `json:"took_ms"`
	CorrelationID string `json:"correlation_id"`
}

// HistoryChatResponse is the JSON response for POST /v1/history/chat.
type HistoryChatResponse struct {
	Reply     string          `json:"reply"`
	SessionID string          `json:"session_id,omitempty"`
	UsedTools []agent.ToolUse `json:"used_tools"`
	Meta      HistoryChatMeta `json:"meta"`
}

func (g *Gateway) handleHistoryChat(c *okapi.Context) error {
	userID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req HistoryChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("history chat",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("session_id", req.SessionID),
	)

	start := time.Now()
	outcome, err := g.orchestrator.Run(c.Context(), agent.Input{
		UserID:        userID,
		Message:       req.Message,
		SessionID:     req.SessionID,
		MaxHistory:    req.MaxHistory,
		CorrelationID: correlationID,
	})
	if err != nil {
		if errors.Is(err, agent.ErrModelUnavailable) {
			return c.AbortServiceUnavailable("model unavailable")
		}
		g.logger.Error("history chat failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("processing failed")
	}

	// The orchestrator only answers; the session transcript lives here.
	sessionID, recErr := g.chats.Record(c.Context(), userID, req.SessionID, req.Message, outcome.Reply)
	if recErr != nil {
		g.logger.Error("persisting history chat failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", recErr.Error()),
		)
	}

	used := outcome.UsedTools
	if used == nil {
		used = []agent.ToolUse{}
	}
	return c.OK(HistoryChatResponse{
		Reply:     outcome.Reply,
		SessionID: sessionID,
		UsedTools: used,
		Meta: HistoryChatMeta{
			Model:         outcome.Model,
			Termination:   outcome.Termination,
			Iterations:    outcome.Iterations,
			TookMS:        time.Since(start).Milliseconds(),
			CorrelationID: correlationID,
		},
	})
}

// SessionListResponse is the JSON response for GET /v1/history.
type SessionListResponse struct {
	Sessions []chat.Session `json:"sessions"`
}

// SessionMessagesResponse is returned when session_id is given.
type SessionMessagesResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []history.Record `json:"messages"`
}

func (g *Gateway) handleHistory(c *okapi.Context) error {
	userID := c.GetString("userID")

	q := c.Request().URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	if sessionID := q.Get("session_id"); sessionID != "" && g.historyReader != nil {
		records, err := g.historyReader.Fetch(c.Context(), history.FetchQuery{
			UserID:    userID,
			SessionID: sessionID,
			Limit:     limit,
		})
		if err != nil {
			g.logger.Error("history fetch failed", slog.String("error", err.Error()))
			return c.AbortInternalServerError("history unavailable")
		}
		if records == nil {
			records = []history.Record{}
		}
		return c.OK(SessionMessagesResponse{SessionID: sessionID, Messages: records})
	}

	sessions, err := g.chats.Sessions(c.Context(), userID, limit)
	if err != nil {
		g.logger.Error("session listing failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("history unavailable")
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	return c.OK(SessionListResponse{Sessions: sessions})
}

// --- Audit handler ---

// AuditResponse is the JSON response for GET /v1/audit.
type AuditResponse struct {
	Records []security.Record `json:"records"`
}

func (g *Gateway) handleAudit(c *okapi.Context) error {
	userID := c.GetString("userID")

	limit, _ := strconv.Atoi(c.Request().URL.Query().Get("limit"))
	records, err := g.auditStore.Query(c.Context(), userID, limit)
	if err != nil {
		g.logger.Error("audit query failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("audit unavailable")
	}
	if records == nil {
		records = []security.Record{}
	}
	return c.OK(AuditResponse{Records: records})
}

// --- Health handlers ---

// HealthResponse is the JSON response for health probes.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
