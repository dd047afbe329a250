// Package httpapi implements the HTTP API gateway for Kumbu.
//
// Security:
//   - JWT bearer authentication on every /v1 request; the user id handlers
//     act under comes exclusively from the verified token, never from the body
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kumbu/internal/agent"
	"github.com/jkaninda/kumbu/internal/chat"
	"github.com/jkaninda/kumbu/internal/identity"
	"github.com/jkaninda/kumbu/internal/observability"
	"github.com/jkaninda/kumbu/internal/ratelimit"
	"github.com/jkaninda/kumbu/internal/security"
	"github.com/jkaninda/kumbu/internal/tools/history"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config       Config
	identity     *identity.Service
	chats        *chat.Service
	orchestrator *agent.Orchestrator
	limiter      *ratelimit.Limiter
	logger       *slog.Logger
	server       *http.Server

	historyReader history.Reader      // nil = GET /v1/history serves sessions only.
	auditStore    security.AuditStore // nil = audit endpoint disabled.

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, ids *identity.Service, chats *chat.Service, orch *agent.Orchestrator, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:       cfg,
		identity:     ids,
		chats:        chats,
		orchestrator: orch,
		limiter:      rl,
		logger:       logger,
		okapi:        okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithHistory attaches a conversation reader so GET /v1/history can return the
// rows of a single session.
func (g *Gateway) WithHistory(reader history.Reader) *Gateway {
	g.historyReader = reader
	return g
}

// WithAudit attaches an audit store and enables GET /v1/audit.
func (g *Gateway) WithAudit(store security.AuditStore) *Gateway {
	g.auditStore = store
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Kumbu",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Account endpoints (unauthenticated).
	g.okapi.Post("/auth/register", g.handleRegister,
		okapi.DocSummary("Create a user account"),
		okapi.DocTags("Auth"),
		okapi.DocRequestBody(RegisterRequest{}),
		okapi.DocResponse(http.StatusCreated, RegisterResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	g.okapi.Post("/auth/login", g.handleLogin,
		okapi.DocSummary("Exchange credentials for a bearer token"),
		okapi.DocTags("Auth"),
		okapi.DocRequestBody(LoginRequest{}),
		okapi.DocResponse(LoginResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Chat with the model without history tools"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/history/chat", g.handleHistoryChat,
		okapi.DocSummary("Ask a question answered from your conversation history"),
		okapi.DocTags("History"),
		okapi.DocRequestBody(HistoryChatRequest{}),
		okapi.DocResponse(HistoryChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)
	g.group.Get("/history", g.handleHistory,
		okapi.DocSummary("List your sessions, or the messages of one session"),
		okapi.DocTags("History"),
		okapi.DocResponse(SessionListResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Audit endpoint (only if an audit store is configured).
	if g.auditStore != nil {
		g.group.Get("/audit", g.handleAudit,
			okapi.DocSummary("List tool invocations recorded for your account"),
			okapi.DocTags("Audit"),
			okapi.DocResponse(AuditResponse{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// authenticate verifies the bearer token and stores the token's subject as
// the request's user id.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		userID, username, err := g.identity.Verify(token)
		if err != nil {
			return c.AbortUnauthorized("invalid or expired token")
		}
		c.Set("userID", userID)
		c.Set("username", username)
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
