// Package task implements the active task registry (C11) and the
// iteration driver (C7): the explicit state machine that advances a task
// through prompt construction, model calls, response parsing, and approval
// handling.
package task

import (
	"sync"
	"time"

	"github.com/atlas2/coderagent/pkg/models"
)

// Registry is the process-wide active-task map (C11): a mutex-guarded
// map from task-id to TaskState, plus a recently-completed set used to
// give benign, idempotent responses to decisions that arrive just after a
// task reaches a terminal state (spec.md P9).
type Registry struct {
	mu sync.Mutex
	active    map[string]*models.TaskState
	completed map[string]time.Time

	// staleDecisionWindow governs RecentlyCompleted: how long a decision
	// arriving after MarkTerminal is still treated as a benign race
	// rather than a stale/unknown task-id (spec.md P9, ≤10s).
	staleDecisionWindow time.Duration

	// pruneWindow governs how long completed entries are retained before
	// pruneLocked evicts them. It is deliberately wider than
	// staleDecisionWindow so RecentlyCompleted can return false well
	// before the bookkeeping entry itself is reclaimed.
	pruneWindow time.Duration
}

// NewRegistry constructs a Registry with the given stale-decision grace
// window and completed-entry prune window. These are independently
// configurable (spec.md §9): the stale-decision window should stay tight
// (≤10s per P9) so a decision racing a completion is still honored, while
// the prune window can run longer (default 30s) since it only bounds
// memory, not decision semantics. A non-positive value selects the
// default for that parameter.
func NewRegistry(staleDecisionWindow, pruneWindow time.Duration) *Registry {
	if staleDecisionWindow <= 0 {
		staleDecisionWindow = 10 * time.Second
	}
	if pruneWindow <= 0 {
		pruneWindow = 30 * time.Second
	}
	return &Registry{
		active:              make(map[string]*models.TaskState),
		completed:           make(map[string]time.Time),
		staleDecisionWindow: staleDecisionWindow,
		pruneWindow:         pruneWindow,
	}
}

// Put registers a new active task.
func (r *Registry) Put(state *models.TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[state.TaskID] = state
}

// Get returns the active task state for id, or nil if it is not active
// (whether never created, already completed, or unknown).
func (r *Registry) Get(id string) (*models.TaskState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[id]
	return s, ok
}

// MarkTerminal moves id out of the active map and into the
// recently-completed set, opportunistically pruning expired entries.
func (r *Registry) MarkTerminal(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
	r.completed[id] = now
	r.pruneLocked(now)
}

// RecentlyCompleted reports whether id reached a terminal state within the
// registry's stale-decision window of now.
func (r *Registry) RecentlyCompleted(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.completed[id]
	if !ok {
		return false
	}
	return now.Sub(t) <= r.staleDecisionWindow
}

func (r *Registry) pruneLocked(now time.Time) {
	for id, t := range r.completed {
		if now.Sub(t) > r.pruneWindow {
			delete(r.completed, id)
		}
	}
}
