package approval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas2/coderagent/internal/autoexec"
	"github.com/atlas2/coderagent/internal/checkpoint"
	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/pkg/models"
)

func strPtr(s string) *string { return &s }

type stubExecutor struct {
	result *toolspec.ExecResult
	err    error
}

func (s *stubExecutor) Execute(ctx context.Context, params json.RawMessage) (*toolspec.ExecResult, error) {
	return s.result, s.err
}

func schemaDoc(t *testing.T) json.RawMessage {
	t.Helper()
	doc := struct {
		Fields map[string]toolspec.Field `json:"fields"`
		Order  []string                  `json:"order"`
	}{Fields: map[string]toolspec.Field{}, Order: nil}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal schema doc: %v", err)
	}
	return raw
}

func newTestGate(t *testing.T, root string) *Gate {
	t.Helper()
	reg := toolspec.New(nil)
	planContent := `{"task_description":"do it","steps":[{"step_id":"s1","description":"first","status":"pending"}]}`
	if err := reg.Register(models.ToolSpec{
		Name:        "plan.write",
		Version:     "1",
		InputSchema: schemaDoc(t),
	}, &stubExecutor{result: &toolspec.ExecResult{Content: planContent}}); err != nil {
		t.Fatalf("register plan.write: %v", err)
	}
	if err := reg.Register(models.ToolSpec{
		Name:        "plan.update",
		Version:     "1",
		InputSchema: schemaDoc(t),
	}, &stubExecutor{result: &toolspec.ExecResult{Content: `{"update_steps":[{"step_id":"s1","status":"completed"}]}`}}); err != nil {
		t.Fatalf("register plan.update: %v", err)
	}
	if err := reg.Register(models.ToolSpec{
		Name:        "broken.tool",
		Version:     "1",
		InputSchema: schemaDoc(t),
	}, &stubExecutor{err: context.DeadlineExceeded}); err != nil {
		t.Fatalf("register broken.tool: %v", err)
	}
	ae := autoexec.New(root)
	store := checkpoint.New(10, 0)
	return New(reg, ae, store, root, nil, nil)
}

func newPendingState(workspace string, proposals ...models.ToolCallProposal) *models.TaskState {
	return &models.TaskState{
		TaskID:           "t1",
		WorkspacePath:    workspace,
		Status:           models.TaskWaitingUser,
		PendingProposals: proposals,
	}
}

func TestGateDecideNoopEmptyWhenNoPending(t *testing.T) {
	g := newTestGate(t, t.TempDir())
	state := newPendingState(t.TempDir())
	out := g.Decide(context.Background(), state, Decision{CallID: BatchAll, Accept: true}, time.Now())
	if !out.NoopEmpty {
		t.Errorf("expected NoopEmpty, got %+v", out)
	}
}

func TestGateDecideNoopEmptyWhenCallIDNotFound(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{CallID: "call1", ToolName: "file.write"})
	out := g.Decide(context.Background(), state, Decision{CallID: "nonexistent", Accept: true}, time.Now())
	if !out.NoopEmpty {
		t.Errorf("expected NoopEmpty for an unmatched call-id, got %+v", out)
	}
}

func TestGateDecideRejectRevertsNewlyCreatedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "new.txt")
	if err := os.WriteFile(path, []byte("speculative"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{
		CallID:   "call1",
		ToolName: "file.write",
		PreExecutionState: &models.PreExecutionState{
			ToolName:        "file.write",
			WorkspacePath:   "new.txt",
			OriginalContent: nil,
		},
	})

	out := g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: false, Reason: "no thanks"}, time.Now())
	if !out.Rejected {
		t.Errorf("expected Rejected, got %+v", out)
	}
	if state.Status != models.TaskAborted {
		t.Errorf("Status = %v, want TaskAborted", state.Status)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected the speculatively created file to be deleted after rejection")
	}
	if len(state.PendingProposals) != 0 {
		t.Errorf("expected PendingProposals to be drained, got %d", len(state.PendingProposals))
	}
	if len(state.History) != 1 || state.History[0].Accepted {
		t.Errorf("expected one non-accepted history record, got %+v", state.History)
	}
}

func TestGateDecideAcceptPreExecutedFileWriteIsSynthesized(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("already written by auto-exec"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{
		CallID:      "call1",
		ToolName:    "file.write",
		PreExecuted: true,
		PreExecutionState: &models.PreExecutionState{
			ToolName:        "file.write",
			WorkspacePath:   "f.txt",
			OriginalContent: strPtr("original"),
		},
	})

	out := g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: true}, time.Now())
	if !out.Accepted {
		t.Errorf("expected Accepted, got %+v", out)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	// Synthesis must not re-execute file.write; the on-disk content from the
	// auto-exec pass is left untouched.
	if string(got) != "already written by auto-exec" {
		t.Errorf("file content changed by synthesis: %q", got)
	}
	if len(state.History) != 1 || !state.History[0].Accepted {
		t.Fatalf("expected one accepted history record, got %+v", state.History)
	}
	if state.History[0].Ops == nil {
		t.Error("expected the synthesized record to carry an Ops marker")
	}
}

func TestGateDecideAcceptExecutesPlanWriteAndInstallsPlan(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{
		CallID:   "call1",
		ToolName: "plan.write",
	})

	out := g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: true}, time.Now())
	if !out.Accepted {
		t.Errorf("expected Accepted, got %+v", out)
	}
	if state.Plan == nil {
		t.Fatal("expected the gate to install the decoded plan onto state.Plan")
	}
	if state.Plan.TaskDescription != "do it" || len(state.Plan.Steps) != 1 {
		t.Errorf("Plan = %+v", state.Plan)
	}
}

func TestGateDecideAcceptPlanUpdateMutatesExistingStep(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{
		CallID:   "call1",
		ToolName: "plan.update",
	})
	state.Plan = &models.ExecutionPlan{
		TaskDescription: "do it",
		Steps:           []models.PlanStep{{StepID: "s1", Status: models.StepPending}},
	}

	out := g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: true}, time.Now())
	if !out.Accepted {
		t.Errorf("expected Accepted, got %+v", out)
	}
	step := state.Plan.StepByID("s1")
	if step == nil || step.Status != models.StepCompleted {
		t.Errorf("step = %+v, want status completed", step)
	}
}

func TestGateDecideAcceptUnknownToolFails(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{CallID: "call1", ToolName: "no.such.tool"})

	out := g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: true}, time.Now())
	if !out.Accepted {
		t.Errorf("expected Accepted outcome (the gate still calls this accept, with a failed record), got %+v", out)
	}
	if len(state.History) != 1 || state.History[0].Accepted {
		t.Errorf("expected one failed history record for an unknown tool, got %+v", state.History)
	}
}

func TestGateDecideAcceptToolExecutionErrorRecordsError(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{CallID: "call1", ToolName: "broken.tool"})

	g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: true}, time.Now())
	if len(state.History) != 1 {
		t.Fatalf("expected one history record, got %d", len(state.History))
	}
	if state.History[0].Accepted || state.History[0].Error == "" {
		t.Errorf("expected a failed record with an error message, got %+v", state.History[0])
	}
}

func TestGateDecideBatchAllProcessesEveryPendingProposal(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t, root)
	state := newPendingState(root,
		models.ToolCallProposal{CallID: "call1", ToolName: "plan.write"},
		models.ToolCallProposal{CallID: "call2", ToolName: "plan.update"},
	)
	state.Plan = &models.ExecutionPlan{Steps: []models.PlanStep{{StepID: "s1", Status: models.StepPending}}}

	out := g.Decide(context.Background(), state, Decision{CallID: BatchAll, Accept: true}, time.Now())
	if !out.Accepted {
		t.Errorf("expected Accepted, got %+v", out)
	}
	if len(state.History) != 2 {
		t.Errorf("expected 2 history records from a batch decision, got %d", len(state.History))
	}
	if len(state.PendingProposals) != 0 {
		t.Errorf("expected all pending proposals drained, got %d", len(state.PendingProposals))
	}
}

func TestGateDecideDedupesRepeatedDecisionWithinWindow(t *testing.T) {
	root := t.TempDir()
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{CallID: "call1", ToolName: "plan.write"})

	now := time.Now()
	first := g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: true}, now)
	if !first.Accepted {
		t.Fatalf("expected the first decision to be accepted, got %+v", first)
	}

	// Re-seed an identical pending proposal the way a UI double-submit
	// would arrive before the first response is reflected back.
	state.PendingProposals = []models.ToolCallProposal{{CallID: "call1", ToolName: "plan.write"}}
	second := g.Decide(context.Background(), state, Decision{CallID: "call1", Accept: true}, now.Add(time.Millisecond))
	if !second.Deduped {
		t.Errorf("expected the repeated decision to be deduped, got %+v", second)
	}
}

func TestGateDecideOverridesApplyBeforeExecution(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	if err := os.WriteFile(path, []byte("content on disk"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	g := newTestGate(t, root)
	state := newPendingState(root, models.ToolCallProposal{
		CallID:      "call1",
		ToolName:    "file.write",
		PreExecuted: false,
	})

	preExecuted := true
	preState := &models.PreExecutionState{
		ToolName:        "file.write",
		WorkspacePath:   "f.txt",
		OriginalContent: strPtr("content on disk"),
	}
	out := g.Decide(context.Background(), state, Decision{
		CallID:              "call1",
		Accept:              true,
		PreExecutedOverride: &preExecuted,
		PreStateOverride:    preState,
	}, time.Now())

	if !out.Accepted {
		t.Errorf("expected Accepted, got %+v", out)
	}
	if len(state.History) != 1 || !state.History[0].Accepted {
		t.Fatalf("expected one accepted (synthesized) record, got %+v", state.History)
	}
}
