// Package tools defines the tool interface and registry for Kumbu.
// Every tool in this registry is read-only over the authenticated user's own
// data; there is no write-capable tool and adding one is a compile-time
// change, not a runtime option.
package tools

import (
	"context"
	"sync"

	"github.com/jkaninda/kumbu/internal/llm"
)

// Tool is the interface all Kumbu tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier, e.g. "search_user_conversations".
	Name() string

	// Description is the human-readable summary advertised to the model.
	Description() string

	// Schema returns the declarative argument schema. The invoker validates
	// raw model arguments against it before Execute is ever called.
	Schema() *Schema

	// Execute runs the tool with validated arguments, scoped to userID.
	// The userID always comes from the authenticated request context,
	// never from model-supplied arguments.
	Execute(ctx context.Context, userID string, args map[string]any) (*Result, error)
}

// Result is what a tool hands back to the invoker.
type Result struct {
	Output string `json:"output"` // JSON-encoded rows, fed back to the model.
	Rows   int    `json:"rows"`
}

// MaxOutputBytes caps how much tool output is fed back to the model.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps s at maxBytes. Truncated output carries a marker
// so the model knows the result is partial.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const marker = "\n... [output truncated]"
	cut := maxBytes - len(marker)
	if cut <= 0 {
		return s[:maxBytes]
	}
	return s[:cut] + marker
}

// Registry holds available tools keyed by name, preserving registration order.
// Registration order is the order schemas are advertised to the model, so it
// must be deterministic across process restarts.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Definitions converts all registered tools into model tool definitions,
// in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema().JSONSchema(),
		})
	}
	return defs
}
