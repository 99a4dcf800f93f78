package task

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas2/coderagent/internal/agent"
	"github.com/atlas2/coderagent/internal/approval"
	"github.com/atlas2/coderagent/internal/autoexec"
	"github.com/atlas2/coderagent/internal/checkpoint"
	"github.com/atlas2/coderagent/internal/protocol"
	"github.com/atlas2/coderagent/internal/ratelimit"
	"github.com/atlas2/coderagent/internal/tasklog"
	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/pkg/models"
)

// syntheticErrorCallIDRe extracts the iteration number embedded in a
// synthetic error record's call-id, e.g. "format_error_iter3_a1b2".
var syntheticErrorCallIDRe = regexp.MustCompile(`^(format_error|parse_error|completion_rejected)_iter(\d+)_`)

// Driver is the iteration driver (C7): it owns the explicit state machine
// that advances a task from prompt construction through model call,
// response parsing, proposal registration, and (via HandleDecision) the
// approval gate. Corrective iterations and deferred completion are
// modeled as transitions driven by an outer loop, never as recursive
// self-calls (spec.md §9).
type Driver struct {
	Tools       *toolspec.Registry
	Registry    *Registry
	Provider    agent.LLMProvider
	Checkpoints checkpoint.Saver
	RetryPolicy agent.RetryPolicy
	MaxIterations int
	Emit        func(models.TaskEvent)
	Log         *slog.Logger
	Metrics     *tasklog.Metrics

	// Limiter throttles outgoing provider calls. Nil disables throttling.
	Limiter *ratelimit.Bucket

	mu          sync.Mutex
	autoExecEng map[string]*autoexec.Engine   // taskID -> engine
	sessions    map[string]*tasklog.Session   // taskID -> session log
	emitter     *tasklog.Emitter
}

// NewDriver constructs a Driver. A nil Emit is replaced with a no-op sink;
// a nil Metrics set disables metric recording.
func NewDriver(tools *toolspec.Registry, reg *Registry, provider agent.LLMProvider, checkpoints checkpoint.Saver, retry agent.RetryPolicy, maxIterations int, emit func(models.TaskEvent), log *slog.Logger, metrics *tasklog.Metrics) *Driver {
	if log == nil {
		log = slog.Default()
	}
	emitter := tasklog.NewEmitter(emit, log)
	return &Driver{
		Tools: tools, Registry: reg, Provider: provider, Checkpoints: checkpoints,
		RetryPolicy: retry, MaxIterations: maxIterations, Log: log, Metrics: metrics,
		Emit:        func(e models.TaskEvent) { emitter.Emit(e.EventKind, e.TaskID, e.DomainID, e.Payload) },
		emitter:     emitter,
		autoExecEng: make(map[string]*autoexec.Engine),
		sessions:    make(map[string]*tasklog.Session),
	}
}

// SetLimiter attaches a token-bucket limiter that throttles outgoing
// provider calls. Passing nil disables throttling.
func (d *Driver) SetLimiter(b *ratelimit.Bucket) {
	d.Limiter = b
}

// waitForLimiter blocks until the driver's rate limiter has a token
// available for an outgoing provider call, or ctx is cancelled. A nil
// Limiter is a no-op.
func (d *Driver) waitForLimiter(ctx context.Context) error {
	if d.Limiter == nil {
		return nil
	}
	for !d.Limiter.Allow() {
		wait := d.Limiter.WaitTime()
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (d *Driver) autoExecFor(taskID, workspace string) *autoexec.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	eng, ok := d.autoExecEng[taskID]
	if !ok {
		eng = autoexec.New(workspace)
		d.autoExecEng[taskID] = eng
	}
	return eng
}

// AutoExecFor returns the auto-exec engine the driver itself uses for
// taskID, creating it if needed. Callers building an approval.Gate for a
// task (the server layer, the one-shot CLI runner) must pass this same
// instance so Gate.Decide's post-hoc Forget(callID) calls stay consistent
// with the speculative executions RunIteration already applied during
// streaming.
func (d *Driver) AutoExecFor(taskID, workspace string) *autoexec.Engine {
	return d.autoExecFor(taskID, workspace)
}

func (d *Driver) sessionFor(taskID, domainID string) *tasklog.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[taskID]
	if !ok {
		s = tasklog.NewSession(taskID, domainID, d.Log)
		d.sessions[taskID] = s
	}
	return s
}

func (d *Driver) closeSession(taskID string, status models.TaskStatus, iterations int, output string) {
	d.mu.Lock()
	s, ok := d.sessions[taskID]
	delete(d.sessions, taskID)
	d.mu.Unlock()
	if ok {
		s.End(status, iterations, output)
	}
}

// recordIterationOutcome increments the iteration counter when metrics are
// enabled; outcome is one of again|waiting_user|completed|failed|aborted.
func (d *Driver) recordIterationOutcome(outcome string) {
	if d.Metrics != nil {
		d.Metrics.IterationCounter.WithLabelValues(outcome).Inc()
	}
}

// CreateTask implements execute_domain_task's entry point: builds a fresh
// TaskState, registers it, and runs the first iteration.
func (d *Driver) CreateTask(ctx context.Context, taskID, chatID, domainID, agentID, userRequest, workspace string) (*models.TaskState, error) {
	now := time.Now()
	state := &models.TaskState{
		TaskID: taskID, ChatID: chatID, DomainID: domainID, AgentID: agentID,
		UserRequest: userRequest, WorkspacePath: workspace,
		Status: models.TaskRunning, CreatedAt: now, UpdatedAt: now,
	}
	d.Registry.Put(state)
	if d.Metrics != nil {
		d.Metrics.ActiveTasks.Inc()
	}
	d.sessionFor(taskID, domainID).Start(userRequest, workspace)
	state.PushContextSnapshot(snapshotOf(state))
	return state, d.RunIteration(ctx, taskID)
}

// RunIteration is the core loop body (spec.md §4.7), executed as an outer
// loop over `{RunIteration, Continue}` transitions rather than recursive
// self-calls: corrective iterations and re-entries after deferred
// completion loop here instead of calling RunIteration again.
func (d *Driver) RunIteration(ctx context.Context, taskID string) error {
	for {
		state, ok := d.Registry.Get(taskID)
		if !ok {
			return fmt.Errorf("task %s is not active", taskID)
		}

		state.Iteration++
		purgeStaleSyntheticRecords(state)
		session := d.sessionFor(taskID, state.DomainID)
		session.IterationStart(state.Iteration)

		if state.Iteration > d.MaxIterations {
			session.IterationEnd(state.Iteration)
			d.fail(state, "max iterations exceeded")
			d.recordIterationOutcome("failed")
			return nil
		}

		prompt := BuildPrompt(state, d.Tools, PromptContext{Budget: ""}, nil)
		response, err := d.callModel(ctx, state, prompt)
		if err != nil {
			session.IterationEnd(state.Iteration)
			d.fail(state, fmt.Sprintf("provider call failed: %v", err))
			d.recordIterationOutcome("failed")
			return err
		}

		result := protocol.Parse(response)
		session.AgentMessage(state.Iteration, result.Message)

		again, err := d.classify(ctx, state, result)
		session.IterationEnd(state.Iteration)
		if err != nil {
			d.recordIterationOutcome("failed")
			return err
		}
		if !again {
			d.recordIterationOutcome(string(state.Status))
			return nil
		}
		d.recordIterationOutcome("again")
		// Corrective iteration: loop back to the top without a new user turn.
	}
}

// callModel invokes the provider with C9's retry policy, classifying
// errors via IsRetryableProviderError and backing off between attempts.
func (d *Driver) callModel(ctx context.Context, state *models.TaskState, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= d.RetryPolicy.MaxAttempts; attempt++ {
		if err := d.waitForLimiter(ctx); err != nil {
			return "", err
		}
		chunks, err := d.Provider.Complete(ctx, &agent.CompletionRequest{
			Model:    "",
			System:   prompt,
			Messages: []agent.CompletionMessage{{Role: "user", Content: state.UserRequest}},
		})
		if err != nil {
			lastErr = err
		} else {
			var b strings.Builder
			auto := d.autoExecFor(state.TaskID, state.WorkspacePath)
			coupler := protocol.NewCoupler(state.Iteration, auto, func(ev protocol.StreamEvent) {
				d.Emit(models.TaskEvent{
					EventKind: models.EventKindStream, TaskID: state.TaskID, DomainID: state.DomainID,
					Payload: ev, Timestamp: time.Now(),
				})
			})
			var chunkErr error
			for c := range chunks {
				if c.Error != nil {
					chunkErr = c.Error
					break
				}
				if c.Text != "" {
					b.WriteString(c.Text)
					if feedErr := coupler.Feed(ctx, c.Text); feedErr != nil {
						d.Log.Warn("auto-exec failed during streaming", "error", feedErr)
					}
				}
			}
			if chunkErr == nil {
				return b.String(), nil
			}
			lastErr = chunkErr
		}
		exhausted := !agent.IsRetryableProviderError(lastErr) || attempt == d.RetryPolicy.MaxAttempts
		if d.Metrics != nil {
			d.Metrics.ProviderRetryCounter.WithLabelValues(providerName(d.Provider), strconv.FormatBool(exhausted)).Inc()
		}
		if exhausted {
			return "", lastErr
		}
		d.Emit(models.TaskEvent{
			EventKind: models.EventKindState, TaskID: state.TaskID, DomainID: state.DomainID,
			Payload: map[string]any{"retry_attempt": attempt, "error": lastErr.Error()}, Timestamp: time.Now(),
		})
		time.Sleep(d.RetryPolicy.Backoff(attempt))
	}
	return "", lastErr
}

// classify implements spec.md §4.7 step 5: dispatch on parsed status,
// returning again=true when the driver should immediately re-enter the
// loop (a corrective iteration), or again=false when control returns to
// the caller (waiting_user, completed, failed).
func (d *Driver) classify(ctx context.Context, state *models.TaskState, result protocol.ParseResult) (again bool, err error) {
	state.LastResponse = result.Raw
	state.AgentMessage = result.Message
	if result.HasCodeSpec {
		state.CodeSpec = result.CodeSpec
	}

	switch {
	case result.Err != nil && result.Err.Kind == protocol.KindFormatError:
		d.appendSyntheticError(state, "format_error", "system.format_validation", result.Err.Message)
		return true, nil

	case result.Err != nil && result.Err.Kind == protocol.KindParseError:
		d.appendSyntheticError(state, "parse_error", "system.parse_validation", result.Err.Message)
		return true, nil

	case result.Status == protocol.StatusAwaitTool:
		if err := d.registerProposals(state, result.ToolCalls); err != nil {
			d.fail(state, err.Error())
			return false, nil
		}
		state.Status = models.TaskWaitingUser
		d.snapshotAndEmitState(state)
		return false, nil

	case result.Status == protocol.StatusComplete && len(result.ToolCalls) > 0:
		if err := d.registerProposals(state, result.ToolCalls); err != nil {
			d.fail(state, err.Error())
			return false, nil
		}
		state.Metadata = setMeta(state.Metadata, "deferred_completion", true)
		state.Metadata = setMeta(state.Metadata, "deferred_completion_message", result.Message)
		state.Status = models.TaskWaitingUser
		d.snapshotAndEmitState(state)
		return false, nil

	case result.Status == protocol.StatusComplete:
		if !d.validateCompletion(state) {
			removeCompletionRejection(state)
			d.appendSyntheticError(state, "completion_rejected", "system.completion_validation",
				"reject: propose the next tool call and set AGENT_STATUS=AWAIT_TOOL")
			return true, nil
		}
		d.complete(state, result.Message)
		return false, nil

	default:
		d.Log.Warn("unrecognized agent status, treating as COMPLETE", "status", result.Status)
		if !d.validateCompletion(state) {
			d.appendSyntheticError(state, "completion_rejected", "system.completion_validation",
				"reject: propose the next tool call and set AGENT_STATUS=AWAIT_TOOL")
			return true, nil
		}
		d.complete(state, result.Message)
		return false, nil
	}
}

// validateCompletion implements §4.7b: reject COMPLETE if zero tools have
// executed so far (coder-domain rule; other domains accept unconditionally
// — the driver is domain-agnostic here, so callers that need the
// unconditional variant pass a DomainID that this check treats specially).
func (d *Driver) validateCompletion(state *models.TaskState) bool {
	if state.DomainID != "coder" {
		return true
	}
	return len(state.History) > 0
}

func (d *Driver) registerProposals(state *models.TaskState, calls []protocol.RawToolCall) error {
	auto := d.autoExecFor(state.TaskID, state.WorkspacePath)
	session := d.sessionFor(state.TaskID, state.DomainID)
	now := time.Now()
	for i, call := range calls {
		if !d.Tools.Has(call.Tool) {
			return fmt.Errorf("unknown or disallowed tool: %s", call.Tool)
		}
		callID := randomCallID()
		if protocol.AutoExecAllowlist[call.Tool] {
			callID = fmt.Sprintf("auto_exec_iter%d_tool%d", state.Iteration, i)
		}
		proposal, err := protocol.Materialize(d.Tools, call, callID, now)
		if err != nil {
			return err
		}
		if preState, ok := auto.State(callID); ok {
			proposal.PreExecuted = true
			proposal.PreExecutionState = preState
		}
		session.ToolProposal(proposal.CallID, proposal.ToolName, proposal.Reason)
		state.PendingProposals = append(state.PendingProposals, proposal)
	}
	return nil
}

// HandleDecision is the external entry point for approving/rejecting
// pending proposals (spec.md §4.8). It handles the stale-task and
// recently-completed grace window itself, since that requires the
// registry; everything else is delegated to approval.Gate.
func (d *Driver) HandleDecision(ctx context.Context, gate *approval.Gate, taskID string, dec approval.Decision) (approval.Outcome, error) {
	now := time.Now()
	state, ok := d.Registry.Get(taskID)
	if !ok {
		if d.Registry.RecentlyCompleted(taskID, now) {
			return approval.Outcome{StaleRequest: true}, nil
		}
		return approval.Outcome{}, fmt.Errorf("task %s not found", taskID)
	}

	historyBefore := len(state.History)
	outcome := gate.Decide(ctx, state, dec, now)
	state.UpdatedAt = now

	session := d.sessionFor(taskID, state.DomainID)
	for _, rec := range state.History[historyBefore:] {
		session.ToolExecution(rec.CallID, rec.ToolName, rec.Accepted, rec.Summary, rec.Error)
		if d.Metrics != nil {
			result := "accepted"
			if !rec.Accepted {
				result = "rejected"
			}
			if rec.Error != "" {
				result = "error"
			}
			d.Metrics.ToolExecutionCounter.WithLabelValues(rec.ToolName, result).Inc()
		}
	}

	if outcome.Rejected {
		d.snapshotAndEmitState(state)
		d.Registry.MarkTerminal(taskID, now)
		d.closeSession(taskID, state.Status, state.Iteration, outcome.FinalMessage)
		if d.Metrics != nil {
			d.Metrics.ActiveTasks.Dec()
		}
		return outcome, nil
	}

	if outcome.Accepted {
		d.snapshotAndEmitState(state)
		if len(state.PendingProposals) > 0 {
			state.Status = models.TaskWaitingUser
			return outcome, nil
		}
		if deferred, _ := state.Metadata["deferred_completion"].(bool); deferred {
			msg, _ := state.Metadata["deferred_completion_message"].(string)
			delete(state.Metadata, "deferred_completion")
			delete(state.Metadata, "deferred_completion_message")
			d.complete(state, msg)
			return outcome, nil
		}
		return outcome, d.RunIteration(ctx, taskID)
	}

	return outcome, nil
}

// AbortTask implements the external cancel hook (spec.md §5): set status
// to aborted, emit state, and remove the task from the active set. A task
// already terminal is a no-op.
func (d *Driver) AbortTask(taskID, reason string) {
	state, ok := d.Registry.Get(taskID)
	if !ok {
		return
	}
	state.Status = models.TaskAborted
	state.UpdatedAt = time.Now()
	d.snapshotAndEmitState(state)
	d.Registry.MarkTerminal(taskID, time.Now())
	d.closeSession(taskID, state.Status, state.Iteration, reason)
	if d.Metrics != nil {
		d.Metrics.ActiveTasks.Dec()
	}
}

func (d *Driver) complete(state *models.TaskState, message string) {
	state.Status = models.TaskCompleted
	state.AgentMessage = message
	state.UpdatedAt = time.Now()
	d.snapshotAndEmitState(state)
	d.Registry.MarkTerminal(state.TaskID, time.Now())
	d.closeSession(state.TaskID, state.Status, state.Iteration, message)
	if d.Metrics != nil {
		d.Metrics.ActiveTasks.Dec()
	}
}

func (d *Driver) fail(state *models.TaskState, reason string) {
	state.Status = models.TaskFailed
	state.Metadata = setMeta(state.Metadata, "failure_reason", reason)
	state.UpdatedAt = time.Now()
	d.snapshotAndEmitState(state)
	d.Registry.MarkTerminal(state.TaskID, time.Now())
	d.closeSession(state.TaskID, state.Status, state.Iteration, reason)
	if d.Metrics != nil {
		d.Metrics.ActiveTasks.Dec()
	}
}

func (d *Driver) snapshotAndEmitState(state *models.TaskState) {
	state.PushContextSnapshot(snapshotOf(state))
	d.Emit(models.TaskEvent{
		EventKind: models.EventKindState, TaskID: state.TaskID, DomainID: state.DomainID,
		Payload: map[string]any{"status": state.Status, "iteration": state.Iteration}, Timestamp: time.Now(),
	})
}

func (d *Driver) appendSyntheticError(state *models.TaskState, kind, prefix, message string) {
	callID := fmt.Sprintf("%s_iter%d_%s", kind, state.Iteration, randomSuffix())
	state.AppendHistory(models.ToolExecutionRecord{
		CallID: callID, ToolName: prefix, Accepted: false,
		ExecutedAt: time.Now(), Summary: message, Error: message,
	})
}

// purgeStaleSyntheticRecords removes a synthetic error record's visibility
// after exactly one further iteration (spec.md §4.7 step 1): an entry with
// error-kind format_error/parse_error whose embedded iteration number N
// satisfies current - N >= 2 is removed.
func purgeStaleSyntheticRecords(state *models.TaskState) {
	kept := state.History[:0]
	for _, rec := range state.History {
		m := syntheticErrorCallIDRe.FindStringSubmatch(rec.CallID)
		if m == nil {
			kept = append(kept, rec)
			continue
		}
		n, _ := strconv.Atoi(m[2])
		if state.Iteration-n >= 2 {
			continue
		}
		kept = append(kept, rec)
	}
	state.History = kept
}

// removeCompletionRejection drops any prior completion_rejected synthetic
// record so rejections don't stack across repeated COMPLETE attempts.
func removeCompletionRejection(state *models.TaskState) {
	kept := state.History[:0]
	for _, rec := range state.History {
		if strings.HasPrefix(rec.CallID, "completion_rejected_") {
			continue
		}
		kept = append(kept, rec)
	}
	state.History = kept
}

func setMeta(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = make(map[string]any)
	}
	m[key] = value
	return m
}

func snapshotOf(state *models.TaskState) string {
	return fmt.Sprintf("iter=%d status=%s pending=%d history=%d", state.Iteration, state.Status, len(state.PendingProposals), len(state.History))
}

func randomCallID() string {
	return "call_" + randomSuffix()
}

// randomSuffix returns a UUIDv4 for call-id fallback generation (the
// non-deterministic path used whenever a tool call isn't auto-exec'd and
// so doesn't get the deterministic auto_exec_iterN_toolK scheme).
func randomSuffix() string {
	return uuid.NewString()
}

func providerName(p agent.LLMProvider) string {
	if p == nil {
		return "unknown"
	}
	return p.Name()
}
