// Package execution runs named worker agents: a bounded LLM tool loop per
// agent with loop-cutoff heuristics, backed by a per-agent journal.
package execution

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/alynlabs/alyn/internal/llm"
)

// Tool is one callable exposed to an execution agent. Invoke returns a
// structured result; a non-nil error is surfaced to the LLM as a failure
// envelope and never aborts the run.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolParameters  json.RawMessage
	Handler         func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (t FuncTool) Name() string                { return t.ToolName }
func (t FuncTool) Description() string         { return t.ToolDescription }
func (t FuncTool) Parameters() json.RawMessage { return t.ToolParameters }

func (t FuncTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	return t.Handler(ctx, args)
}

// Registry manages the tools available to one agent, with thread-safe
// registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// RegistryBuilder constructs the tool registry for one run of the named
// agent. Each run gets its own registry so owner-scoped tools, like the
// trigger tools, bind to the agent actually running.
type RegistryBuilder func(agentName string) *Registry

// StaticRegistry adapts a fixed registry into a RegistryBuilder for
// tool sets that carry no owner binding.
func StaticRegistry(registry *Registry) RegistryBuilder {
	return func(string) *Registry { return registry }
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
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

// Schemas returns the tool schemas in the completion-request format,
// ordered by name.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		schemas = append(schemas, llm.ToolSchema{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return schemas
}
