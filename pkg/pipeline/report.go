package pipeline

import (
	"context"

	"github.com/kestrel-eng/feasgen/pkg/llm"
	"github.com/kestrel-eng/feasgen/pkg/prompts"
)

// runReport writes the final feasibility report from everything the run has
// gathered. Degraded upstream stages show up here as explicit gaps in the
// interpolated sections, never as silently missing content.
func (e *Executor) runReport(ctx context.Context, state *RunState, prompt prompts.Prompt) error {
	user := prompts.Render(prompt.User, map[string]string{
		"METADATA": formatMetadata(state.Inputs.Metadata),
		"FACTS":    formatFacts(state.ExtractedFacts),
		"FINDINGS": formatFindings(state.SubagentResults),
		"RISKS":    formatRisks(state.RiskAssessment),
	})

	report, err := e.cfg.LLM.Complete(ctx, prompt.System, user, llm.WithCacheControl())
	if err != nil {
		return err
	}

	if err := e.cfg.Validator.ValidateReport(report); err != nil {
		return err
	}

	state.FinalReport = report
	e.logInfo("pipeline: report written", "run", state.ID, "bytes", len(report))
	return nil
}
