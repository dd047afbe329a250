// Package security defines the audit trail for tool invocations.
// One record is written per invocation attempt, successes and failures
// alike, and records are never updated or deleted.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Record is a single audit entry: who invoked which tool, with which
// (post-sanitization) arguments, and how it went.
type Record struct {
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	UserID        string         `json:"user_id"`
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args,omitempty"`
	Outcome       string         `json:"outcome"`
	Error         string         `json:"error,omitempty"`
}

// Outcome values recorded per invocation attempt.
const (
	OutcomeSuccess          = "success"
	OutcomeUnknownTool      = "unknown_tool"
	OutcomeInvalidArguments = "invalid_arguments"
	OutcomeExecutionError   = "execution_error"
)

// Sink accepts audit records. Implementations must be append-only:
// no update or delete methods exist anywhere on this path.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// AuditStore is a queryable sink, backed by the database. Queries are
// scoped to one user; there is no cross-user listing.
type AuditStore interface {
	Sink
	Query(ctx context.Context, userID string, limit int) ([]Record, error)
}

// MultiSink fans each record out to every sink. All sinks are attempted;
// the first error encountered is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one. Nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Write(ctx context.Context, rec Record) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Write(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FileSink writes audit records as append-only JSONL.
// Each record is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can write concurrently.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// NewFileSink opens (or creates) the audit log file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewFileSink(path string, logger *slog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileSink{file: f, logger: logger}, nil
}

// Write serializes the record as JSON and appends it to the file.
// Marshal happens outside the lock; only the file write is serialized.
func (s *FileSink) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, writeErr := s.file.Write(data)
	s.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit record: %w", writeErr)
	}

	s.logger.DebugContext(ctx, "audit record written",
		slog.String("tool", rec.Tool),
		slog.String("user_id", rec.UserID),
		slog.String("outcome", rec.Outcome),
		slog.String("correlation_id", rec.CorrelationID),
	)
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
