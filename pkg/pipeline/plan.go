package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrel-eng/feasgen/pkg/llm"
	"github.com/kestrel-eng/feasgen/pkg/prompts"
)

// runPlan asks the model to split the analysis into parallel tasks, then
// normalizes and bounds the proposal before it is allowed near the
// coordinator. An over-long plan is reduced, not rejected: the model's
// ordering is taken as priority order and the overflow is folded into the
// last kept task.
func (e *Executor) runPlan(ctx context.Context, state *RunState, prompt prompts.Prompt) error {
	user := prompts.Render(prompt.User, map[string]string{
		"FACTS":     formatFacts(state.ExtractedFacts),
		"MAX_TASKS": strconv.Itoa(e.cfg.Validator.PlanCeiling),
	})

	response, err := e.cfg.LLM.Complete(ctx, prompt.System, user)
	if err != nil {
		return err
	}

	raw := extractJSON(response)
	if raw == "" {
		return llm.NewError(llm.ErrorMalformedResponse, errors.New("planning response contains no JSON object"))
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return llm.NewError(llm.ErrorMalformedResponse, fmt.Errorf("failed to parse planning response: %w", err))
	}

	normalizePlan(&plan)
	if reduced := reducePlan(&plan, e.cfg.Validator.PlanCeiling); reduced > 0 {
		state.appendError(StagePlan, "plan_reduced",
			fmt.Sprintf("plan proposed %d tasks over the ceiling of %d; overflow merged into task %q",
				reduced+e.cfg.Validator.PlanCeiling, e.cfg.Validator.PlanCeiling, plan.Tasks[len(plan.Tasks)-1].Identifier),
			false, e.cfg.Clock.Now())
		e.logInfo("pipeline: plan reduced", "run", state.ID, "ceiling", e.cfg.Validator.PlanCeiling, "dropped", reduced)
	}

	if err := e.cfg.Validator.ValidatePlan(&plan); err != nil {
		return err
	}

	state.Plan = &plan
	e.logInfo("pipeline: plan ready", "run", state.ID, "tasks", len(plan.Tasks))
	return nil
}

// normalizePlan trims whitespace the model tends to leave on identifiers and
// tool names. Structural problems are left for the validator.
func normalizePlan(plan *Plan) {
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		t.Identifier = strings.TrimSpace(t.Identifier)
		t.Instructions = strings.TrimSpace(t.Instructions)
		t.Context = strings.TrimSpace(t.Context)
		kept := t.Tools[:0]
		for _, name := range t.Tools {
			if name = strings.TrimSpace(name); name != "" {
				kept = append(kept, name)
			}
		}
		t.Tools = kept
	}
}

// reducePlan enforces the task ceiling. Tasks past the ceiling are merged
// into the last kept slot: instructions concatenated, contexts joined, tool
// grants unioned. Returns the number of tasks folded away.
func reducePlan(plan *Plan, ceiling int) int {
	if len(plan.Tasks) <= ceiling {
		return 0
	}

	kept := plan.Tasks[:ceiling]
	overflow := plan.Tasks[ceiling:]
	last := &kept[ceiling-1]

	toolSet := make(map[string]bool, len(last.Tools))
	for _, name := range last.Tools {
		toolSet[name] = true
	}

	var instructions, contexts strings.Builder
	instructions.WriteString(last.Instructions)
	contexts.WriteString(last.Context)

	for _, t := range overflow {
		fmt.Fprintf(&instructions, "\n\nAdditionally, cover what was planned as %q: %s", t.Identifier, t.Instructions)
		if t.Context != "" {
			fmt.Fprintf(&contexts, "\n\n%s", t.Context)
		}
		for _, name := range t.Tools {
			if !toolSet[name] {
				toolSet[name] = true
				last.Tools = append(last.Tools, name)
			}
		}
	}

	last.Instructions = instructions.String()
	last.Context = strings.TrimSpace(contexts.String())
	plan.Tasks = kept
	return len(overflow)
}
