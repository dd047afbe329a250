// Package llm defines the provider-agnostic vocabulary for talking to chat
// models: requests, structured message content, and tool-use blocks.
package llm

import (
	"context"
	"strings"
)

// Provider is any chat-completion backend. The service speaks the OpenAI
// wire protocol, so OpenAI itself, vLLM and Ollama all qualify.
type Provider interface {
	// SendMessage sends a conversation to the model and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
	// Model returns the configured model identifier.
	Model() string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Request is one full conversation turn sent to the model.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  *float64         // nil = provider default
	Tools        []ToolDefinition // nil = no tool use
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is a single turn. Plain text goes in Content; once tool use is
// involved a turn carries ContentBlocks instead. Never both.
type Message struct {
	Role          Role
	Content       string
	ContentBlocks []ContentBlock
}

// TextContent flattens the message to plain text: the Content field when no
// blocks are present, otherwise the text blocks concatenated in order.
func (m *Message) TextContent() string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.ContentBlocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ContentBlock is a tagged union; Type selects which fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolUseBlock builds a tool_use block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result block answering the given tool_use id.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Response is the model's reply.
type Response struct {
	Content       string         // concatenated text content
	ContentBlocks []ContentBlock // full structured response, tool_use included
	Usage         Usage
	StopReason    string // "end_turn", "tool_use", "max_tokens"
}

// HasToolUse reports whether the model is asking for tool execution.
// Some backends return finish_reason "stop" alongside tool calls, so the
// content blocks are authoritative, not just the stop reason.
func (r *Response) HasToolUse() bool {
	return r.StopReason == "tool_use" || len(r.ToolUseBlocks()) > 0
}

// ToolUseBlocks returns the tool_use blocks in the order the model emitted
// them. That order defines result ordering downstream.
func (r *Response) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range r.ContentBlocks {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

// Usage tracks token consumption for one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
