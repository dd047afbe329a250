package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jkaninda/kumbu/internal/llm"
	"github.com/jkaninda/kumbu/internal/security"
	"github.com/jkaninda/kumbu/internal/tools"
)

// scriptedProvider replays a fixed sequence of responses and records
// every request it receives.
type scriptedProvider struct {
	responses []*llm.Response
	err       error
	requests  []*llm.Request
}

func (p *scriptedProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	idx := len(p.requests) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "test-model" }

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:       text,
		ContentBlocks: []llm.ContentBlock{llm.TextBlock(text)},
		StopReason:    "end_turn",
	}
}

func toolUseResponse(blocks ...llm.ContentBlock) *llm.Response {
	return &llm.Response{ContentBlocks: blocks, StopReason: "tool_use"}
}

func newTestOrchestrator(t *testing.T, provider llm.Provider, reg *tools.Registry, aud Auditor, opts ...Option) *Orchestrator {
	t.Helper()
	inv := NewInvoker(reg, aud, testLogger(), 0, nil)
	return NewOrchestrator(provider, reg, inv, testLogger(), opts...)
}

func TestRun_DirectAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{textResponse("Hello! How can I help?")}}
	aud := &captureAuditor{}
	o := newTestOrchestrator(t, provider, tools.NewRegistry(), aud)

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != TerminationCompleted {
		t.Errorf("termination = %q, want completed", out.Termination)
	}
	if out.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", out.Iterations)
	}
	if out.Reply != "Hello! How can I help?" {
		t.Errorf("unexpected reply %q", out.Reply)
	}
	if len(out.UsedTools) != 0 {
		t.Errorf("expected no tools used, got %v", out.UsedTools)
	}
	if len(aud.records()) != 0 {
		t.Errorf("expected empty audit trail, got %d records", len(aud.records()))
	}
	if out.Model != "test-model" {
		t.Errorf("model = %q", out.Model)
	}
}

func TestRun_SingleToolCallThenAnswer(t *testing.T) {
	tool := &fakeTool{name: "search_user_conversations", schema: searchSchema()}
	reg := tools.NewRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("call_1", tool.name, map[string]any{"keyword": "invoices"})),
		textResponse("You discussed invoices on March 3rd."),
	}}
	aud := &captureAuditor{}
	o := newTestOrchestrator(t, provider, reg, aud)

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "when did we talk about invoices?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != TerminationCompleted || out.Iterations != 2 {
		t.Errorf("termination=%q iterations=%d, want completed/2", out.Termination, out.Iterations)
	}
	if len(out.UsedTools) != 1 || out.UsedTools[0].Name != tool.name {
		t.Fatalf("used tools = %v", out.UsedTools)
	}
	if got := len(aud.records()); got != 1 {
		t.Errorf("audit records = %d, want 1", got)
	}

	// Second model request must carry the assistant tool_use turn and a
	// user turn with the matching tool_result.
	if len(provider.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(provider.requests))
	}
	msgs := provider.requests[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != llm.RoleAssistant {
		t.Errorf("message 1 role = %q, want assistant", msgs[1].Role)
	}
	last := msgs[2]
	if last.Role != llm.RoleUser || len(last.ContentBlocks) != 1 {
		t.Fatalf("unexpected tool result message: %+v", last)
	}
	if b := last.ContentBlocks[0]; b.Type != "tool_result" || b.ToolUseID != "call_1" || b.IsError {
		t.Errorf("unexpected tool_result block: %+v", b)
	}
}

func TestRun_ParallelCallsKeepRequestOrder(t *testing.T) {
	reg := tools.NewRegistry()
	fetch := &fakeTool{name: "fetch_user_conversations", schema: tools.NewSchema(
		tools.Arg{Name: "limit", Type: tools.TypeInteger, Default: 50, Max: 200},
	)}
	search := &fakeTool{name: "search_user_conversations", schema: searchSchema()}
	reg.Register(fetch)
	reg.Register(search)

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(
			llm.ToolUseBlock("call_a", fetch.name, map[string]any{}),
			llm.ToolUseBlock("call_b", search.name, map[string]any{"keyword": "travel"}),
		),
		textResponse("done"),
	}}
	aud := &captureAuditor{}
	o := newTestOrchestrator(t, provider, reg, aud)

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "summarize"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.UsedTools) != 2 || out.UsedTools[0].Name != fetch.name || out.UsedTools[1].Name != search.name {
		t.Fatalf("used tools out of order: %v", out.UsedTools)
	}

	results := provider.requests[1].Messages[2].ContentBlocks
	if len(results) != 2 {
		t.Fatalf("expected 2 tool results, got %d", len(results))
	}
	if results[0].ToolUseID != "call_a" || results[1].ToolUseID != "call_b" {
		t.Errorf("tool results out of request order: %v, %v", results[0].ToolUseID, results[1].ToolUseID)
	}
	if got := len(aud.records()); got != 2 {
		t.Errorf("audit records = %d, want 2", got)
	}
}

func TestRun_BudgetExceeded(t *testing.T) {
	tool := &fakeTool{name: "search_user_conversations", schema: searchSchema()}
	reg := tools.NewRegistry()
	reg.Register(tool)

	// The model never stops asking for tools.
	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("call_1", tool.name, map[string]any{"keyword": "a"})),
	}}
	aud := &captureAuditor{}
	o := newTestOrchestrator(t, provider, reg, aud)

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "dig deep"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != TerminationBudgetExceeded {
		t.Errorf("termination = %q, want budget_exceeded", out.Termination)
	}
	if out.Iterations != DefaultMaxTurns {
		t.Errorf("iterations = %d, want %d", out.Iterations, DefaultMaxTurns)
	}
	if strings.TrimSpace(out.Reply) == "" {
		t.Error("budget-exceeded run must still produce a reply")
	}
	// Tools run on every turn, the final one included; the budget gates
	// model calls, not tool execution.
	if got := len(aud.records()); got != DefaultMaxTurns {
		t.Errorf("audit records = %d, want %d", got, DefaultMaxTurns)
	}
	if got := len(out.UsedTools); got != DefaultMaxTurns {
		t.Errorf("used tools = %d, want %d", got, DefaultMaxTurns)
	}
}

func TestRun_UnknownToolContinuesLoop(t *testing.T) {
	reg := tools.NewRegistry()
	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("call_1", "drop_tables", map[string]any{})),
		textResponse("I don't have that capability."),
	}}
	aud := &captureAuditor{}
	o := newTestOrchestrator(t, provider, reg, aud)

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "drop everything"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != TerminationCompleted {
		t.Errorf("termination = %q, want completed", out.Termination)
	}
	recs := aud.records()
	if len(recs) != 1 || recs[0].Outcome != security.OutcomeUnknownTool {
		t.Fatalf("unexpected audit trail: %+v", recs)
	}
	b := provider.requests[1].Messages[2].ContentBlocks[0]
	if !b.IsError || !strings.Contains(b.Text, "unknown tool") {
		t.Errorf("model did not receive the error result: %+v", b)
	}
}

func TestRun_ExecutionErrorRetriedOnce(t *testing.T) {
	tool := &fakeTool{
		name:   "fetch_user_conversations",
		schema: tools.NewSchema(tools.Arg{Name: "limit", Type: tools.TypeInteger, Default: 50, Max: 200}),
		err:    errors.New("timeout"),
		failN:  1,
	}
	reg := tools.NewRegistry()
	reg.Register(tool)

	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("call_1", tool.name, map[string]any{})),
		textResponse("here you go"),
	}}
	aud := &captureAuditor{}
	o := newTestOrchestrator(t, provider, reg, aud)

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "fetch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != TerminationCompleted || out.Iterations != 2 {
		t.Errorf("termination=%q iterations=%d", out.Termination, out.Iterations)
	}
	recs := aud.records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 audit records (failed attempt + retry), got %d", len(recs))
	}
	if recs[0].Outcome != security.OutcomeExecutionError || recs[1].Outcome != security.OutcomeSuccess {
		t.Errorf("unexpected outcomes: %q, %q", recs[0].Outcome, recs[1].Outcome)
	}
	b := provider.requests[1].Messages[2].ContentBlocks[0]
	if b.IsError {
		t.Error("retried call should have fed a success result to the model")
	}
}

func TestRun_ModelUnavailable(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}
	o := newTestOrchestrator(t, provider, tools.NewRegistry(), &captureAuditor{})

	_, err := o.Run(context.Background(), Input{UserID: "u1", Message: "hi"})
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestRun_RejectsEmptyInput(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{textResponse("x")}}
	o := newTestOrchestrator(t, provider, tools.NewRegistry(), &captureAuditor{})

	if _, err := o.Run(context.Background(), Input{Message: "hi"}); err == nil {
		t.Error("expected error for missing user")
	}
	if _, err := o.Run(context.Background(), Input{UserID: "u1", Message: "  "}); err == nil {
		t.Error("expected error for blank message")
	}
	if len(provider.requests) != 0 {
		t.Errorf("model was called %d times for invalid input", len(provider.requests))
	}
}

// sessionLoader returns a fixed prior transcript.
type sessionLoader struct {
	msgs  []llm.Message
	err   error
	limit int
}

func (l *sessionLoader) LoadSession(_ context.Context, _, _ string, limit int) ([]llm.Message, error) {
	l.limit = limit
	return l.msgs, l.err
}

func TestRun_SeedsSessionHistory(t *testing.T) {
	loader := &sessionLoader{msgs: []llm.Message{
		{Role: llm.RoleUser, Content: "my cat is named Miso"},
		{Role: llm.RoleAssistant, Content: "Noted!"},
	}}
	provider := &scriptedProvider{responses: []*llm.Response{textResponse("Your cat is Miso.")}}
	o := newTestOrchestrator(t, provider, tools.NewRegistry(), &captureAuditor{},
		WithTranscripts(loader))

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "what's my cat's name?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != TerminationCompleted {
		t.Fatalf("termination = %q", out.Termination)
	}
	msgs := provider.requests[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 seeded messages, got %d", len(msgs))
	}
	if msgs[0].Content != "my cat is named Miso" {
		t.Errorf("seeded history missing: %+v", msgs[0])
	}
	if loader.limit != DefaultHistoryLimit {
		t.Errorf("history limit = %d, want %d", loader.limit, DefaultHistoryLimit)
	}
}

func TestRun_HistoryLoadFailureIsNonFatal(t *testing.T) {
	loader := &sessionLoader{err: fmt.Errorf("db down")}
	provider := &scriptedProvider{responses: []*llm.Response{textResponse("hello")}}
	o := newTestOrchestrator(t, provider, tools.NewRegistry(), &captureAuditor{},
		WithTranscripts(loader))

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "hi", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Reply != "hello" {
		t.Errorf("reply = %q", out.Reply)
	}
	if len(provider.requests[0].Messages) != 1 {
		t.Errorf("expected bare user message after seed failure")
	}
}

func TestRun_CustomMaxTurns(t *testing.T) {
	tool := &fakeTool{name: "search_user_conversations", schema: searchSchema()}
	reg := tools.NewRegistry()
	reg.Register(tool)
	provider := &scriptedProvider{responses: []*llm.Response{
		toolUseResponse(llm.ToolUseBlock("c1", tool.name, map[string]any{"keyword": "x"})),
	}}
	o := newTestOrchestrator(t, provider, reg, &captureAuditor{}, WithMaxTurns(1))

	out, err := o.Run(context.Background(), Input{UserID: "u1", Message: "go"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Termination != TerminationBudgetExceeded || out.Iterations != 1 {
		t.Errorf("termination=%q iterations=%d, want budget_exceeded/1", out.Termination, out.Iterations)
	}
	// The single turn's call still executes and is reported, even
	// though no further model call is allowed.
	if tool.execs != 1 {
		t.Errorf("tool executed %d times, want 1", tool.execs)
	}
	if len(out.UsedTools) != 1 || out.UsedTools[0].Name != tool.name {
		t.Errorf("used tools = %v, want one %s call", out.UsedTools, tool.name)
	}
}
