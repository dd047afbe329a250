package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jkaninda/kumbu/internal/agent"
	"github.com/jkaninda/kumbu/internal/chat"
	"github.com/jkaninda/kumbu/internal/config"
	"github.com/jkaninda/kumbu/internal/gateway/httpapi"
	"github.com/jkaninda/kumbu/internal/identity"
	"github.com/jkaninda/kumbu/internal/llm"
	"github.com/jkaninda/kumbu/internal/llm/openai"
	"github.com/jkaninda/kumbu/internal/observability"
	"github.com/jkaninda/kumbu/internal/ratelimit"
	"github.com/jkaninda/kumbu/internal/retention"
	"github.com/jkaninda/kumbu/internal/security"
	"github.com/jkaninda/kumbu/internal/storage"
	"github.com/jkaninda/kumbu/internal/tools"
	"github.com/jkaninda/kumbu/internal/tools/history"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serverConfigPath string
	serverAddr       string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP server",
	RunE:  runServer,
}

func init() {
	// Register flags on both root and server so that
	// `kumbu --config path` and `kumbu server --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serverCmd} {
		cmd.Flags().StringVar(&serverConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serverAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServer wires every subsystem together and serves until a signal arrives.
func runServer(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("KUMBU_CONFIG", serverConfigPath))
	if err != nil {
		return err
	}
	if serverAddr != "" {
		cfg.Server.Addr = serverAddr
	}

	logger.Info("starting kumbu", slog.String("config", serverConfigPath))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	// Storage.
	store, err := storage.Open(storageConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Audit trail. The database sink is always on; a JSONL file sink is
	// added when a path is configured.
	sinks := []security.Sink{store.Audit()}
	if cfg.Audit.Path != "" {
		fileSink, err := security.NewFileSink(cfg.Audit.Path, logger)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer fileSink.Close()
		sinks = append(sinks, fileSink)
	}
	queueSize := cfg.Audit.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	auditMetrics := security.NewMetrics(registryOrNil(obs))
	auditor := security.NewAsyncAuditor(security.NewMultiSink(sinks...), queueSize, auditMetrics, logger)
	defer func() {
		if err := auditor.Close(); err != nil {
			logger.Error("closing auditor", slog.String("error", err.Error()))
		}
	}()

	// Model provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		return err
	}
	if obs.MetricsOrNil() != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
	}
	logger.Info("llm provider initialized",
		slog.String("provider", provider.Name()),
		slog.String("model", provider.Model()),
	)

	// History tools, scoped to the store's conversation repository.
	conversations := store.Conversations()
	registry := tools.NewRegistry()
	registry.Register(history.NewFetchTool(conversations))
	registry.Register(history.NewSearchTool(conversations))

	// Agent loop.
	agentMetrics := agent.NewMetrics(registryOrNil(obs))
	invoker := agent.NewInvoker(registry, auditor, logger, cfg.Agent.ToolTimeout(), agentMetrics)
	orchestrator := agent.NewOrchestrator(provider, registry, invoker, logger,
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithMaxTokens(cfg.Agent.ResponseToken),
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithHistoryLimit(cfg.Agent.HistoryLimit),
		agent.WithTranscripts(conversations),
		agent.WithMetrics(agentMetrics),
		agent.WithTracer(obs.TracerOrNil().Tracer()),
	)

	// Identity and chat services.
	ids, err := identity.NewService(store.Users(), []byte(cfg.Auth.Secret), cfg.Auth.TokenTTL(), logger)
	if err != nil {
		return fmt.Errorf("initializing identity: %w", err)
	}
	chats := chat.NewService(provider, conversations, logger)

	// Per-user rate limiting.
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
	})

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retention janitor (optional).
	if maxAge := cfg.Retention.MaxAge(); maxAge > 0 {
		purger, ok := conversations.(retention.Purger)
		if !ok {
			return fmt.Errorf("storage driver %q does not support retention", store.Driver())
		}
		janitor, err := retention.NewJanitor(purger, retention.Config{
			MaxAge:   maxAge,
			Schedule: cfg.Retention.Schedule,
		}, logger)
		if err != nil {
			return fmt.Errorf("initializing retention: %w", err)
		}
		if err := janitor.Start(); err != nil {
			return fmt.Errorf("starting retention: %w", err)
		}
		defer janitor.Stop()
		logger.Info("retention janitor started",
			slog.Duration("max_age", maxAge),
		)
	}

	// Idle rate-limit buckets are swept in the background.
	go sweepBuckets(ctx, limiter)

	// HTTP gateway.
	gwCfg := httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr(),
		EnableDocs: true,
	}
	if obs != nil {
		obs.Health.AddCheck("database", store.Ping)
		gwCfg.HealthChecker = obs.Health
	}
	if m := obs.MetricsOrNil(); m != nil {
		gwCfg.MetricsRegistry = m.Registry
		gwCfg.Metrics = m
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	if ts := obs.TracerOrNil(); ts != nil {
		gwCfg.Tracer = ts.Tracer()
	}

	gw := httpapi.NewGateway(gwCfg, ids, chats, orchestrator, limiter, logger).
		WithHistory(conversations).
		WithAudit(store.Audit())

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}

	return nil
}

// storageConfig maps the file config onto the storage factory config.
func storageConfig(cfg *config.Config) storage.Config {
	sc := storage.Config{Driver: storage.DefaultDriver}
	if cfg.Storage != nil {
		sc.Driver = cfg.Storage.StorageDriver()
		if cfg.Storage.SQLite != nil {
			sc.SQLite.Path = cfg.Storage.SQLite.Path
			sc.SQLite.JournalMode = cfg.Storage.SQLite.JournalMode
		}
		if cfg.Storage.Postgres != nil {
			sc.Postgres.DSN = cfg.Storage.Postgres.DSN
			sc.Postgres.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
			sc.Postgres.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
			sc.Postgres.ConnMaxLifetimeS = cfg.Storage.Postgres.ConnMaxLifetimeS
		}
	}
	if sc.SQLite.Path == "" {
		sc.SQLite.Path = config.DefaultSQLitePath()
	}
	return sc
}

// newLLMProvider builds the primary model backend plus configured fallbacks.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	if cfg.LLM.Model == "" {
		return nil, fmt.Errorf("llm.model is required")
	}

	primary := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, logger,
		clientOpts(cfg.LLM.BaseURL, cfg.LLM.Timeout())...)
	if len(cfg.LLM.Fallbacks) == 0 {
		return primary, nil
	}

	providers := []llm.Provider{primary}
	for _, fb := range cfg.LLM.Fallbacks {
		providers = append(providers, openai.NewClient(fb.APIKey, fb.Model, logger,
			clientOpts(fb.BaseURL, cfg.LLM.Timeout())...))
	}
	return llm.NewFallbackProvider(providers, logger), nil
}

func clientOpts(baseURL string, timeout time.Duration) []openai.Option {
	opts := []openai.Option{openai.WithTimeout(timeout)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return opts
}

// registryOrNil unwraps the metrics registry; nil disables metric families.
func registryOrNil(obs *observability.Observability) *prometheus.Registry {
	if m := obs.MetricsOrNil(); m != nil {
		return m.Registry
	}
	return nil
}

// sweepBuckets drops rate-limit buckets idle for over an hour.
func sweepBuckets(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.SweepIdle(time.Hour)
		}
	}
}
