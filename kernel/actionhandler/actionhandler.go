// Package actionhandler provides the concrete, swappable tool dispatch
// registry consumed by the pipeline's Execute stage (SPEC_FULL.md §4.12).
// §6.5 describes the action handler contract as "consumed, not defined";
// Registry is a uniform name -> handler dispatch map in the spirit of the
// teacher's ToolsetRegistration.Execute pattern
// (runtime/agent/runtime/runtime.go), adapted so a single dispatch surface
// covers every registered tool rather than one per toolset.
package actionhandler

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a single tool call and returns its result. Handlers must
// respect ctx cancellation/deadline; the pipeline enforces the contract's
// maxDurationMs via ctx.
type Handler interface {
	Execute(ctx context.Context, params map[string]any, requestID string) (any, error)
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context, params map[string]any, requestID string) (any, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, params map[string]any, requestID string) (any, error) {
	return f(ctx, params, requestID)
}

// Registry maps tool name to Handler. Build-once, read-many in typical use,
// but registration is mutex-guarded to permit late registration in tests.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs handler for tool, replacing any previous registration.
func (r *Registry) Register(tool string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tool] = handler
}

// RegisterFunc is a convenience wrapper around Register(tool, Func(fn)).
func (r *Registry) RegisterFunc(tool string, fn Func) {
	r.Register(tool, fn)
}

// Dispatch runs the registered handler for tool. Returns an error if no
// handler is registered.
func (r *Registry) Dispatch(ctx context.Context, tool string, params map[string]any, requestID string) (any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[tool]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("actionhandler: no handler registered for tool %q", tool)
	}
	return handler.Execute(ctx, params, requestID)
}

// Has reports whether tool has a registered handler.
func (r *Registry) Has(tool string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[tool]
	return ok
}
