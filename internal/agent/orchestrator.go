package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kumbu/internal/llm"
	"github.com/jkaninda/kumbu/internal/security"
	"github.com/jkaninda/kumbu/internal/tools"
)

const systemPrompt = `You are Kumbu, an assistant that answers questions about the user's own conversation history.

You can call tools to fetch or search the user's past conversations. All tools operate only on the data of the user you are currently serving; you cannot access anyone else's conversations, and requests to do so must be declined.

Ground your answers in tool results. If the history contains nothing relevant, say so plainly instead of guessing. Keep answers concise.`

// budgetReply is the fallback when the budget runs out and the model
// produced no usable text on its final turn.
const budgetReply = "I wasn't able to finish answering within the allowed number of steps. Here is what I found so far; please ask a more specific question if you need more detail."

// TranscriptLoader supplies prior turns of a session so the model has
// conversational context without spending a tool call on it.
type TranscriptLoader interface {
	LoadSession(ctx context.Context, userID, sessionID string, limit int) ([]llm.Message, error)
}

// Orchestrator drives the tool-calling loop: call the model, execute any
// requested tools in parallel, feed results back, repeat until the model
// answers or the turn budget is spent.
type Orchestrator struct {
	provider    llm.Provider
	registry    *tools.Registry
	invoker     *Invoker
	transcripts TranscriptLoader
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *Metrics

	maxTurns    int
	maxTokens   int
	temperature *float64
	seedLimit   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxTurns sets the model-call budget per run. n <= 0 keeps the default.
func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTurns = n
		}
	}
}

// WithMaxTokens sets the per-call token limit for model responses.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature. nil keeps the provider default.
func WithTemperature(t *float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithHistoryLimit sets the seeded-turn count used when a request does not
// ask for one. n <= 0 keeps DefaultHistoryLimit; MaxHistoryLimit still caps it.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.seedLimit = n
		}
	}
}

// WithTranscripts enables session history seeding.
func WithTranscripts(l TranscriptLoader) Option {
	return func(o *Orchestrator) { o.transcripts = l }
}

// WithTracer enables tracing of runs and turns.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMetrics enables run metrics. May be nil.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator over the given model provider,
// tool registry and invoker.
func NewOrchestrator(provider llm.Provider, registry *tools.Registry, invoker *Invoker, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:  provider,
		registry:  registry,
		invoker:   invoker,
		logger:    logger,
		maxTurns:  DefaultMaxTurns,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one request through the loop. The returned error is non-nil
// only when the model backend is unavailable; every other condition,
// including tool failures and budget exhaustion, produces an Outcome.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Outcome, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("agent run requires an authenticated user")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("agent run requires a non-empty message")
	}

	start := time.Now()
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "agent.run",
			trace.WithAttributes(attribute.String("session_id", in.SessionID)),
		)
		defer span.End()
	}

	messages, err := o.seedMessages(ctx, in)
	if err != nil {
		// History seeding is best-effort context; a storage hiccup here
		// must not block the user's question.
		o.logger.WarnContext(ctx, "session history seeding failed",
			slog.String("session_id", in.SessionID),
			slog.String("error", err.Error()),
		)
		messages = []llm.Message{{Role: llm.RoleUser, Content: in.Message}}
	}

	outcome := &Outcome{Model: o.provider.Model()}
	defer func() {
		if o.metrics != nil && outcome.Termination != "" {
			o.metrics.Runs.WithLabelValues(outcome.Termination).Inc()
			o.metrics.RunDuration.Observe(time.Since(start).Seconds())
		}
	}()

	var lastText string
	for turn := 1; turn <= o.maxTurns; turn++ {
		resp, err := o.callModel(ctx, messages)
		if err != nil {
			outcome.Termination = TerminationModelUnavailable
			o.logger.ErrorContext(ctx, "model call failed",
				slog.Int("turn", turn),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		outcome.Iterations = turn
		outcome.Usage.InputTokens += resp.Usage.InputTokens
		outcome.Usage.OutputTokens += resp.Usage.OutputTokens
		if resp.Content != "" {
			lastText = resp.Content
		}

		if !resp.HasToolUse() {
			outcome.Reply = resp.Content
			outcome.Termination = TerminationCompleted
			return outcome, nil
		}

		// Requested calls always run, even on the final budgeted turn;
		// the budget gates model calls, not tool execution, and every
		// attempt must leave an audit record.
		calls := resp.ToolUseBlocks()
		messages = append(messages, llm.Message{
			Role:          llm.RoleAssistant,
			ContentBlocks: resp.ContentBlocks,
		})
		results, used := o.dispatch(ctx, in, calls)
		outcome.UsedTools = append(outcome.UsedTools, used...)
		messages = append(messages, llm.Message{
			Role:          llm.RoleUser,
			ContentBlocks: results,
		})
	}

	outcome.Reply = lastText
	if strings.TrimSpace(outcome.Reply) == "" {
		outcome.Reply = budgetReply
	}
	outcome.Termination = TerminationBudgetExceeded
	o.logger.InfoContext(ctx, "turn budget exhausted",
		slog.String("user_id", in.UserID),
		slog.Int("turns", outcome.Iterations),
	)
	return outcome, nil
}

// dispatch executes all tool calls of one turn concurrently and returns
// tool_result blocks in the order the model requested them. An execution
// failure is retried once; each attempt writes its own audit record.
func (o *Orchestrator) dispatch(ctx context.Context, in Input, calls []llm.ContentBlock) ([]llm.ContentBlock, []ToolUse) {
	results := make([]llm.ContentBlock, len(calls))
	used := make([]ToolUse, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ContentBlock) {
			defer wg.Done()
			res := o.invoker.Invoke(ctx, in.UserID, in.CorrelationID, call.Name, call.Input)
			if res.Outcome == security.OutcomeExecutionError {
				res = o.invoker.Invoke(ctx, in.UserID, in.CorrelationID, call.Name, call.Input)
			}
			results[i] = llm.ToolResultBlock(call.ID, res.Output, res.IsError)
			used[i] = ToolUse{Name: call.Name, Args: res.Args}
		}(i, call)
	}
	wg.Wait()
	return results, used
}

func (o *Orchestrator) callModel(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	if o.metrics != nil {
		o.metrics.ModelCalls.Inc()
	}
	return o.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    o.maxTokens,
		Temperature:  o.temperature,
		Tools:        o.registry.Definitions(),
	})
}

// seedMessages builds the initial conversation: prior session turns when a
// session is given and a transcript loader is configured, then the user's
// message.
func (o *Orchestrator) seedMessages(ctx context.Context, in Input) ([]llm.Message, error) {
	var messages []llm.Message
	if o.transcripts != nil && in.SessionID != "" {
		requested := in.MaxHistory
		if requested <= 0 {
			requested = o.seedLimit
		}
		prior, err := o.transcripts.LoadSession(ctx, in.UserID, in.SessionID, historyLimit(requested))
		if err != nil {
			return nil, err
		}
		messages = append(messages, prior...)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: in.Message}), nil
}
