// Package config handles loading and validating Kumbu configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Kumbu.
type Config struct {
	Server        ServerConfig         `json:"server" yaml:"server"`
	Auth          AuthConfig           `json:"auth" yaml:"auth"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default
	LLM           LLMConfig            `json:"llm" yaml:"llm"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	Audit         AuditConfig          `json:"audit" yaml:"audit"`
	RateLimit     RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = retention disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // Default: ":8080"
}

// ListenAddr returns the configured address, defaulting to ":8080".
func (s ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// AuthConfig configures token signing. Secret can be set in the config file
// or through the KUMBU_AUTH_SECRET env var; the env var takes precedence.
type AuthConfig struct {
	Secret        string `json:"secret" yaml:"secret"`
	TokenTTLHours int    `json:"token_ttl_h" yaml:"token_ttl_h"` // Default: 24
}

// TokenTTL returns the configured token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	if a.TokenTTLHours > 0 {
		return time.Duration(a.TokenTTLHours) * time.Hour
	}
	return 24 * time.Hour
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: ~/.kumbu/kumbu.db
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default)
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// LLMConfig configures the model backend. Any OpenAI-compatible endpoint
// works (OpenAI, vLLM, Ollama).
type LLMConfig struct {
	Model       string   `json:"model" yaml:"model"`
	BaseURL     string   `json:"base_url" yaml:"base_url"` // Default: https://api.openai.com/v1
	APIKey      string   `json:"api_key" yaml:"api_key"`   // Override: OPENAI_API_KEY env var.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"` // Default: 4096
	TimeoutS    int      `json:"timeout_s" yaml:"timeout_s"`   // Default: 120

	// Fallbacks are tried in order when the primary backend fails.
	Fallbacks []FallbackLLMConfig `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// FallbackLLMConfig is a secondary model backend.
type FallbackLLMConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// Timeout returns the per-request model timeout.
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutS > 0 {
		return time.Duration(l.TimeoutS) * time.Second
	}
	return 120 * time.Second
}

// AgentConfig bounds the tool-calling loop.
type AgentConfig struct {
	MaxTurns      int `json:"max_turns" yaml:"max_turns"`             // Default: 3
	ToolTimeoutS  int `json:"tool_timeout_s" yaml:"tool_timeout_s"`   // Default: 15
	HistoryLimit  int `json:"history_limit" yaml:"history_limit"`     // Default: 50, max 100
	ResponseToken int `json:"response_tokens" yaml:"response_tokens"` // Default: 4096
}

// ToolTimeout returns the per-tool execution timeout.
func (a AgentConfig) ToolTimeout() time.Duration {
	if a.ToolTimeoutS > 0 {
		return time.Duration(a.ToolTimeoutS) * time.Second
	}
	return 15 * time.Second
}

// AuditConfig configures the audit trail. The database sink is always on;
// the file sink is additionally enabled when Path is set.
type AuditConfig struct {
	Path      string `json:"path,omitempty" yaml:"path,omitempty"` // JSONL file path. Empty = DB only.
	QueueSize int    `json:"queue_size" yaml:"queue_size"`         // Default: 1024
}

// RateLimitConfig configures the per-user request limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// RetentionConfig configures the conversation retention janitor.
// When nil, nothing is ever deleted.
type RetentionConfig struct {
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"` // 0 = disabled
	Schedule   string `json:"schedule" yaml:"schedule"`         // Cron expression. Default: daily 03:00.
}

// MaxAge returns the retention window.
func (r *RetentionConfig) MaxAge() time.Duration {
	if r == nil || r.MaxAgeDays <= 0 {
		return 0
	}
	return time.Duration(r.MaxAgeDays) * 24 * time.Hour
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kumbu"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.kumbu/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kumbu.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kumbu", "config.yaml")
}

// DefaultSQLitePath returns the default database path (~/.kumbu/kumbu.db).
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "kumbu.db"
	}
	return filepath.Join(home, ".kumbu", "kumbu.db")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Secrets can be set in the config file or overridden by
// environment variables; environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a usable configuration without any config file, suitable
// for first runs: SQLite storage, env-provided secrets.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("KUMBU_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("KUMBU_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KUMBU_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("KUMBU_DB_DSN"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Driver = "postgres"
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("KUMBU_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage driver is postgres but no DSN is configured")
		}
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	return nil
}

// resolvePath expands a leading ~ to the user's home directory.
func resolvePath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
