package toolspec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atlas2/coderagent/pkg/models"
)

// Executor is the minimal shape a tool implementation must satisfy to be
// invoked by the approval gate (C8) — the same contract internal/agent's
// LLMProvider-facing Tool interface uses, kept independent here so toolspec
// has no dependency on the agent package.
type Executor interface {
	Execute(ctx context.Context, params json.RawMessage) (*ExecResult, error)
}

// ExecResult is a tool's execution outcome, independent of any specific
// provider SDK's result shape.
type ExecResult struct {
	Content string
	IsError bool
}

// ErrUnknownTool is returned by Get when no spec is registered under the
// requested name.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("unknown tool: %s", e.Name) }

// Entry pairs an immutable ToolSpec with its parsed input schema, computed
// once at registration so the hot coercion path never re-parses JSON.
type Entry struct {
	Spec     models.ToolSpec
	Schema   InputSchema
	Executor Executor

	// compiled is the InputSchema rendered as a JSON Schema document and
	// compiled once at registration, so ValidateParams never re-compiles
	// on the hot call path.
	compiled *jsonschema.Schema
}

// Registry is the process-wide tool catalog (C1). It is populated once at
// startup and is effectively read-only afterward — spec.md §5 calls this
// out explicitly so the hot path needs no locking beyond what sync.RWMutex
// gives registration-time safety for free.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	log     *slog.Logger
}

// New constructs an empty Registry. Passing a nil logger falls back to
// slog.Default().
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{entries: make(map[string]Entry), log: log}
}

// Register adds spec to the catalog. Registering a name a second time is
// idempotent but logs a warning, matching spec.md §4.1's overwrite policy.
func (r *Registry) Register(spec models.ToolSpec, executor Executor) error {
	schema, err := ParseInputSchema(spec.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: parse input schema: %w", spec.Name, err)
	}
	compiled, err := compileInputSchema(spec.Name, schema)
	if err != nil {
		return fmt.Errorf("tool %s: %w", spec.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; exists {
		r.log.Warn("tool registered twice, overwriting", "tool", spec.Name)
	}
	r.entries[spec.Name] = Entry{Spec: spec, Schema: schema, Executor: executor, compiled: compiled}
	return nil
}

// Get returns the entry for name, or ErrUnknownTool if absent.
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, &ErrUnknownTool{Name: name}
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns every registered spec, in no particular order.
func (r *Registry) List() []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSpec, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Spec)
	}
	return out
}
