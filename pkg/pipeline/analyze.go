package pipeline

import (
	"context"
	"fmt"

	"github.com/kestrel-eng/feasgen/pkg/prompts"
	"github.com/kestrel-eng/feasgen/pkg/subagent"
)

// runAnalyze fans the planned tasks out to the subagent coordinator. This
// stage never fails the run: individual task failures are recorded as
// non-fatal errors and the result list, whatever its mix of statuses, is
// always a valid input for risk synthesis.
func (e *Executor) runAnalyze(ctx context.Context, state *RunState, prompt prompts.Prompt) error {
	if state.Plan == nil || len(state.Plan.Tasks) == 0 {
		state.SubagentResults = []subagent.Result{}
		e.logInfo("pipeline: no analysis tasks planned, skipping fan-out", "run", state.ID)
		return nil
	}

	tasks := make([]subagent.Task, len(state.Plan.Tasks))
	for i, def := range state.Plan.Tasks {
		tasks[i] = subagent.Task{
			ID: def.Identifier,
			Instructions: prompts.Render(prompt.User, map[string]string{
				"INSTRUCTIONS": def.Instructions,
			}),
			ContextPayload: def.Context,
			Tools:          def.Tools,
			SystemPrompt:   prompt.System,
		}
	}

	results := e.cfg.Coordinator.ExecuteAll(ctx, tasks)
	state.SubagentResults = results

	for _, r := range results {
		switch r.Status {
		case subagent.StatusTimedOut:
			state.appendError(StageAnalyze, "subagent_timed_out",
				fmt.Sprintf("task %s: %s", r.ID, r.ErrorDetail), false, e.cfg.Clock.Now())
		case subagent.StatusFailed:
			state.appendError(StageAnalyze, "subagent_failed",
				fmt.Sprintf("task %s: %s", r.ID, r.ErrorDetail), false, e.cfg.Clock.Now())
		}
	}

	return nil
}
