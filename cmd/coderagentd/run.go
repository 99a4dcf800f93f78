package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atlas2/coderagent/internal/approval"
	"github.com/atlas2/coderagent/internal/config"
	"github.com/atlas2/coderagent/internal/engine"
	"github.com/atlas2/coderagent/pkg/models"
)

type oneShotParams struct {
	workspace, request, taskID, domainID, agentID, chatID string
	dryRun                                                bool
}

// runOneShot drives a task to completion outside of the HTTP server,
// auto-approving every pending tool-call batch as soon as it appears
// (unless dryRun, in which case the run stops at the first approval
// checkpoint so the operator can inspect what would execute). Every
// TaskEvent the driver emits is printed as a JSON line on stdout, giving
// the same shape a server-side subscriber would see.
func runOneShot(cmd *cobra.Command, cfg *config.Config, p oneShotParams) error {
	out := cmd.OutOrStdout()
	emit := func(ev models.TaskEvent) {
		line, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintln(out, string(line))
	}

	eng, err := engine.Build(cfg, emit)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	ctx := cmd.Context()
	state, err := eng.Driver.CreateTask(ctx, p.taskID, p.chatID, p.domainID, p.agentID, p.request, p.workspace)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	for {
		switch state.Status {
		case models.TaskCompleted, models.TaskFailed, models.TaskAborted:
			fmt.Fprintf(out, "task %s finished: %s\n", state.TaskID, state.Status)
			return nil
		case models.TaskWaitingUser:
			if p.dryRun {
				fmt.Fprintf(out, "task %s is waiting for approval on %d pending call(s); stopping (--dry-run)\n",
					state.TaskID, len(state.PendingProposals))
				return nil
			}
			gate := approval.New(eng.Tools, eng.Driver.AutoExecFor(state.TaskID, state.WorkspacePath),
				eng.Checkpoints, state.WorkspacePath, eng.Log, eng.Audit)
			if _, err := eng.Driver.HandleDecision(ctx, gate, state.TaskID, approval.Decision{
				CallID: approval.BatchAll, Accept: true, Batch: true, Reason: "auto-approved by coderagentd run",
			}); err != nil {
				return fmt.Errorf("handle decision: %w", err)
			}
		case models.TaskAwaitContinuation:
			fmt.Fprintf(out, "task %s is awaiting an external continuation; stopping\n", state.TaskID)
			return nil
		default:
			// TaskRunning should not be observable here: RunIteration only
			// returns once the task lands on a terminal or waiting status.
		}

		var ok bool
		state, ok = eng.Registry.Get(state.TaskID)
		if !ok {
			fmt.Fprintf(out, "task %s is no longer active\n", p.taskID)
			return nil
		}
	}
}
