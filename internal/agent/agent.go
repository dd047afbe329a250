// Package agent implements the bounded tool-calling loop that lets the model
// answer questions over a user's own conversation history. The loop is
// request-scoped: every run starts from the authenticated user's input and
// ends with a reply, a termination reason, and a full audit trail of every
// tool invocation attempted along the way.
package agent

import (
	"errors"
	"time"
)

// DefaultMaxTurns bounds the number of model calls per run. Each turn the
// model may either answer or request tools; once the budget is spent the run
// terminates even if the model still wants more tool results.
const DefaultMaxTurns = 3

// History seeding bounds for session-scoped runs.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// DefaultToolTimeout caps a single tool execution.
const DefaultToolTimeout = 15 * time.Second

// ErrModelUnavailable is returned when the model backend cannot be reached
// or returns an error. It is the only failure mode that surfaces to the
// caller as an error; everything else becomes part of the conversation.
var ErrModelUnavailable = errors.New("model unavailable")

// Termination reasons reported in the run outcome.
const (
	TerminationCompleted        = "completed"
	TerminationBudgetExceeded   = "budget_exceeded"
	TerminationModelUnavailable = "model_unavailable"
)

// Input is a single user request to the agent.
type Input struct {
	// UserID is the authenticated user. It is the only identity the run
	// ever acts under; identity fields in model-supplied tool arguments
	// are stripped before they reach any tool.
	UserID string

	// Message is the user's question.
	Message string

	// SessionID, when set, seeds the conversation with prior turns from
	// that session so the model has context without a tool call.
	SessionID string

	// MaxHistory caps the number of seeded turns. 0 uses DefaultHistoryLimit;
	// values above MaxHistoryLimit are clamped.
	MaxHistory int

	// CorrelationID ties log lines and audit records to this request.
	CorrelationID string
}

// ToolUse records one tool the model invoked during a run, with the
// sanitized arguments it was actually executed with.
type ToolUse struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Outcome is the result of a completed run.
type Outcome struct {
	Reply       string
	UsedTools   []ToolUse
	Iterations  int // model calls made
	Termination string
	Model       string
	Usage       Usage
}

// Usage aggregates token consumption across all model calls in a run.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func historyLimit(requested int) int {
	if requested <= 0 {
		return DefaultHistoryLimit
	}
	if requested > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return requested
}
