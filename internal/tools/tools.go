// Package tools provides the registry of callable tools offered to the
// language model. Tools are the only way the model touches CRM data:
// the registry is a closed set assembled at startup, and every
// execution funnels through Execute so failures become structured
// results instead of crashing the turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler executes a tool with JSON-encoded arguments and returns a
// JSON-encoded result. Handlers report domain failures (not found,
// validation) inside the result payload; a returned error means the
// call itself could not be carried out.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool describes a single callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
	Handler    Handler
}

// Definition is the provider-facing shape of a tool, matching the
// OpenAI function-calling format. Anthropic requests are translated
// from this form by the provider client.
type Definition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes the function within a tool definition.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry holds the available tools. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool. Registering the same name twice replaces the
// earlier entry.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	r.logger.Debug("registered tool", "name", t.Name)
}

// Get returns the named tool, or nil if unknown.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns definitions for all registered tools, sorted by name so
// the provider sees a stable ordering across requests.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Type: "function",
			Function: FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Function.Name < defs[j].Function.Name
	})
	return defs
}

// Execute runs the named tool. The returned string is always valid
// JSON: handler errors and unknown tools are folded into a structured
// error payload so the model can read what went wrong and continue the
// conversation. Execute never panics outward.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) string {
	tool := r.Get(name)
	if tool == nil {
		r.logger.Warn("unknown tool requested", "name", name)
		return errorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	result, err := safeExecute(ctx, tool, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "name", name, "error", err)
		return errorResult(err.Error())
	}
	return result
}

// safeExecute invokes the handler with panic recovery. A panicking
// tool becomes an error result rather than tearing down the agent turn.
func safeExecute(ctx context.Context, tool *Tool, args json.RawMessage) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, rec)
		}
	}()
	return tool.Handler(ctx, args)
}

// errorResult encodes a structured failure payload.
func errorResult(msg string) string {
	data, err := json.Marshal(map[string]any{
		"success": false,
		"error":   msg,
	})
	if err != nil {
		// Marshaling a map of strings cannot fail; keep a fallback anyway.
		return `{"success":false,"error":"internal error"}`
	}
	return string(data)
}
