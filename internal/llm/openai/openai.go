// Package openai implements llm.Provider against the OpenAI Chat Completions
// API. vLLM and Ollama expose the same endpoint, so one client covers all
// supported backends.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/kumbu/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com"
	completionsPath  = "/v1/chat/completions"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName overrides the provider name (e.g. "vllm", "ollama").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithTimeout sets the per-request timeout. Zero keeps the default (120s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a provider. For a local vLLM server, combine
// WithBaseURL("http://localhost:8000") with WithName("vllm").
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		name:       "openai",
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string  { return c.name }
func (c *Client) Model() string { return c.model }

// SendMessage posts the conversation to the completions endpoint and decodes
// the first choice.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	payload, err := json.Marshal(c.encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(raw))
	}

	var wire chatResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	resp := decodeResponse(&wire)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.name),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

// encodeRequest translates the provider-agnostic request into wire form.
// The system prompt becomes a leading system message.
func (c *Client) encodeRequest(req *llm.Request) chatRequest {
	out := chatRequest{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}

	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		if len(m.ContentBlocks) > 0 {
			out.Messages = append(out.Messages, flattenMessage(m)...)
			continue
		}
		out.Messages = append(out.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, toolSpec{
			Type: "function",
			Function: functionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// flattenMessage maps structured content onto the wire format. An assistant
// turn with tool_use blocks becomes one message carrying tool_calls; a user
// turn's tool_result blocks each become a "tool" role message.
func flattenMessage(m llm.Message) []chatMessage {
	if m.Role == llm.RoleAssistant {
		msg := chatMessage{Role: "assistant"}
		for _, b := range m.ContentBlocks {
			switch b.Type {
			case "text":
				msg.Content += b.Text
			case "tool_use":
				args, _ := json.Marshal(b.Input)
				msg.ToolCalls = append(msg.ToolCalls, toolCall{
					ID:       b.ID,
					Type:     "function",
					Function: callRef{Name: b.Name, Arguments: string(args)},
				})
			}
		}
		return []chatMessage{msg}
	}

	var msgs []chatMessage
	var text string
	for _, b := range m.ContentBlocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_result":
			msgs = append(msgs, chatMessage{Role: "tool", Content: b.Text, ToolCallID: b.ToolUseID})
		}
	}
	if text != "" {
		// Text precedes the tool results.
		msgs = append([]chatMessage{{Role: "user", Content: text}}, msgs...)
	}
	return msgs
}

// decodeResponse lifts the wire response into provider-agnostic form.
func decodeResponse(wire *chatResponse) *llm.Response {
	resp := &llm.Response{
		Usage: llm.Usage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		},
	}
	if len(wire.Choices) == 0 {
		return resp
	}

	choice := wire.Choices[0]
	if choice.Message.Content != "" {
		resp.Content = choice.Message.Content
		resp.ContentBlocks = append(resp.ContentBlocks, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := decodeArguments(tc.Function.Arguments)
		resp.ContentBlocks = append(resp.ContentBlocks, llm.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	resp.StopReason = stopReason(choice.FinishReason)
	return resp
}

// decodeArguments parses a tool call's arguments payload. Some backends
// emit a bare string instead of a JSON object; that string becomes a
// keyword argument so the call degrades to a history search rather than
// an argument rejection. Valid JSON of any other shape yields no
// arguments, matching how a non-object payload is treated upstream.
func decodeArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err == nil {
		if input == nil {
			input = map[string]any{}
		}
		return input
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return map[string]any{}
	}
	return map[string]any{"keyword": strings.TrimSpace(raw)}
}

// stopReason maps OpenAI finish reasons onto the canonical vocabulary.
func stopReason(finish string) string {
	switch finish {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return finish
	}
}

// --- wire types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []toolSpec    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type toolCall struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Function callRef `json:"function"`
}

type callRef struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   tokenUsage   `json:"usage"`
}

type chatChoice struct {
	Message      choiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type choiceMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type tokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
