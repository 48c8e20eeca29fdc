package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"duplexkit/core"
)

// Executor runs one tool. Implementations may block; they receive a context
// that carries the invocation deadline when one is configured.
type Executor interface {
	Execute(ctx context.Context, call core.FunctionCall) (map[string]any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call core.FunctionCall) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, call core.FunctionCall) (map[string]any, error) {
	return f(ctx, call)
}

// Registry maps tool names to executors and keeps the manifest declared to
// the host when a session opens.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	defs      map[string]core.ToolDef
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		defs:      make(map[string]core.ToolDef),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def core.ToolDef, exec Executor) {
	name := strings.TrimSpace(def.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; !exists {
		r.order = append(r.order, name)
	}
	def.Name = name
	r.defs[name] = def
	r.executors[name] = exec
}

func (r *Registry) Lookup(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[strings.TrimSpace(name)]
	return exec, ok
}

// Definitions returns the manifest in registration order.
func (r *Registry) Definitions() []core.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Handler returns a Handler that runs the registered executor for each call.
// Executors receive a context derived from base. Unknown tool names produce
// an error response.
func (r *Registry) Handler(base context.Context, timeout time.Duration) Handler {
	return func(call core.FunctionCall, respond RespondFunc) {
		exec, ok := r.Lookup(call.Name)
		if !ok {
			respond(call.ID, call.Name, nil, fmt.Errorf("tool %q is not registered", call.Name))
			return
		}

		ctx := base
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		result, err := exec.Execute(ctx, call)
		respond(call.ID, call.Name, result, err)
	}
}
