package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/kumbu/internal/security"
	"github.com/jkaninda/kumbu/internal/tools"
)

// Auditor accepts audit records. Submitting must never block or fail the
// request; the async auditor satisfies this.
type Auditor interface {
	Submit(rec security.Record)
}

// identityKeys are argument names the model must never control. The
// authenticated user is injected by the invoker itself; any identity field
// in model-supplied arguments is dropped before validation, so a prompt
// injection asking for another user's data degrades to a normal query over
// the caller's own data.
var identityKeys = []string{"user_id", "userid", "user", "username"}

// Invoker executes a single tool call on behalf of an authenticated user.
// Every call through Invoke produces exactly one audit record, whatever the
// outcome: unknown tool, rejected arguments, execution failure, or success.
type Invoker struct {
	registry *tools.Registry
	auditor  Auditor
	logger   *slog.Logger
	timeout  time.Duration
	metrics  *Metrics
}

// NewInvoker creates an invoker. timeout <= 0 uses DefaultToolTimeout;
// metrics may be nil.
func NewInvoker(registry *tools.Registry, auditor Auditor, logger *slog.Logger, timeout time.Duration, metrics *Metrics) *Invoker {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Invoker{
		registry: registry,
		auditor:  auditor,
		logger:   logger,
		timeout:  timeout,
		metrics:  metrics,
	}
}

// InvokeResult is the outcome of one invocation attempt. Output is always
// safe to feed back to the model: failures become short messages the model
// can react to, never internal errors or another user's data.
type InvokeResult struct {
	Output  string
	IsError bool
	Outcome string         // security.Outcome* value
	Args    map[string]any // validated arguments, nil unless validation passed
}

// Invoke runs one tool call for userID. The call's name and raw arguments
// come from the model and are untrusted; userID comes from the authenticated
// request and is the only identity the tool ever sees.
func (inv *Invoker) Invoke(ctx context.Context, userID, correlationID, toolName string, rawArgs map[string]any) InvokeResult {
	tool := inv.registry.Get(toolName)
	if tool == nil {
		msg := fmt.Sprintf("unknown tool %q", toolName)
		inv.record(ctx, userID, correlationID, toolName, rawArgs, security.OutcomeUnknownTool, msg)
		return InvokeResult{Output: msg, IsError: true, Outcome: security.OutcomeUnknownTool}
	}

	args := stripIdentity(rawArgs)
	if len(args) != len(rawArgs) {
		inv.logger.WarnContext(ctx, "identity field in tool arguments dropped",
			slog.String("tool", toolName),
			slog.String("user_id", userID),
			slog.String("correlation_id", correlationID),
		)
	}

	validated, err := tool.Schema().Validate(args)
	if err != nil {
		msg := fmt.Sprintf("invalid arguments: %v", err)
		inv.record(ctx, userID, correlationID, toolName, args, security.OutcomeInvalidArguments, err.Error())
		return InvokeResult{Output: msg, IsError: true, Outcome: security.OutcomeInvalidArguments}
	}

	execCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	start := time.Now()
	res, err := tool.Execute(execCtx, userID, validated)
	if err != nil {
		inv.record(ctx, userID, correlationID, toolName, validated, security.OutcomeExecutionError, err.Error())
		inv.logger.ErrorContext(ctx, "tool execution failed",
			slog.String("tool", toolName),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		// The underlying error goes to the audit trail and the log only;
		// the model sees a generic message with no storage internals.
		return InvokeResult{
			Output:  fmt.Sprintf("tool %q failed, the result is unavailable; you may retry", toolName),
			IsError: true,
			Outcome: security.OutcomeExecutionError,
			Args:    validated,
		}
	}

	inv.record(ctx, userID, correlationID, toolName, validated, security.OutcomeSuccess, "")
	inv.logger.DebugContext(ctx, "tool executed",
		slog.String("tool", toolName),
		slog.String("user_id", userID),
		slog.Int("rows", res.Rows),
		slog.Duration("took", time.Since(start)),
	)
	return InvokeResult{
		Output:  tools.TruncateOutput(res.Output, tools.MaxOutputBytes),
		Outcome: security.OutcomeSuccess,
		Args:    validated,
	}
}

func (inv *Invoker) record(ctx context.Context, userID, correlationID, tool string, args map[string]any, outcome, errMsg string) {
	inv.auditor.Submit(security.Record{
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		UserID:        userID,
		Tool:          tool,
		Args:          args,
		Outcome:       outcome,
		Error:         errMsg,
	})
	if inv.metrics != nil {
		inv.metrics.ToolInvocations.WithLabelValues(tool, outcome).Inc()
	}
}

// stripIdentity returns a copy of args without identity fields.
func stripIdentity(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, key := range identityKeys {
		delete(out, key)
	}
	return out
}
