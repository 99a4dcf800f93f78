package task

import (
	"testing"
	"time"

	"github.com/atlas2/coderagent/pkg/models"
)

func TestRegistryPutGet(t *testing.T) {
	r := NewRegistry(0, 0)
	state := &models.TaskState{TaskID: "t1"}
	r.Put(state)

	got, ok := r.Get("t1")
	if !ok || got != state {
		t.Fatalf("Get(t1) = %v, %v; want the same state pointer", got, ok)
	}
	if _, ok := r.Get("unknown"); ok {
		t.Error("expected Get(unknown) to report not-found")
	}
}

func TestRegistryMarkTerminalRemovesFromActive(t *testing.T) {
	r := NewRegistry(0, 0)
	r.Put(&models.TaskState{TaskID: "t1"})
	r.MarkTerminal("t1", time.Now())

	if _, ok := r.Get("t1"); ok {
		t.Error("expected t1 to no longer be active after MarkTerminal")
	}
}

func TestRegistryRecentlyCompletedWithinWindow(t *testing.T) {
	r := NewRegistry(10*time.Second, time.Minute)
	now := time.Now()
	r.Put(&models.TaskState{TaskID: "t1"})
	r.MarkTerminal("t1", now)

	if !r.RecentlyCompleted("t1", now.Add(5*time.Second)) {
		t.Error("expected RecentlyCompleted to be true within the stale-decision window")
	}
	if r.RecentlyCompleted("t1", now.Add(20*time.Second)) {
		t.Error("expected RecentlyCompleted to be false once past the stale-decision window")
	}
}

func TestRegistryRecentlyCompletedUnknownTaskIsFalse(t *testing.T) {
	r := NewRegistry(0, 0)
	if r.RecentlyCompleted("never-existed", time.Now()) {
		t.Error("expected RecentlyCompleted to be false for a task that never completed")
	}
}

func TestRegistryPruneEvictsOldCompletedEntries(t *testing.T) {
	r := NewRegistry(time.Second, 5*time.Second)
	now := time.Now()
	r.Put(&models.TaskState{TaskID: "t1"})
	r.MarkTerminal("t1", now)

	// A second MarkTerminal call, long after the prune window, should evict
	// t1's bookkeeping entry as a side effect of pruneLocked.
	r.Put(&models.TaskState{TaskID: "t2"})
	r.MarkTerminal("t2", now.Add(10*time.Second))

	if r.RecentlyCompleted("t1", now.Add(10*time.Second)) {
		t.Error("expected t1's completed entry to have been pruned")
	}
}

func TestNewRegistryDefaultsNonPositiveWindows(t *testing.T) {
	r := NewRegistry(0, -1)
	if r.staleDecisionWindow != 10*time.Second {
		t.Errorf("staleDecisionWindow = %v, want default 10s", r.staleDecisionWindow)
	}
	if r.pruneWindow != 30*time.Second {
		t.Errorf("pruneWindow = %v, want default 30s", r.pruneWindow)
	}
}
