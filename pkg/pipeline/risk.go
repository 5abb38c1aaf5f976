package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kestrel-eng/feasgen/pkg/llm"
	"github.com/kestrel-eng/feasgen/pkg/prompts"
)

// runRisk synthesizes the subagent analyses into a consolidated assessment
// with an overall verdict. Failed and timed-out analyses are rendered into
// the prompt as explicit gaps so the model weighs the missing coverage.
func (e *Executor) runRisk(ctx context.Context, state *RunState, prompt prompts.Prompt) error {
	user := prompts.Render(prompt.User, map[string]string{
		"FACTS":    formatFacts(state.ExtractedFacts),
		"FINDINGS": formatFindings(state.SubagentResults),
	})

	response, err := e.cfg.LLM.Complete(ctx, prompt.System, user)
	if err != nil {
		return err
	}

	raw := extractJSON(response)
	if raw == "" {
		return llm.NewError(llm.ErrorMalformedResponse, errors.New("risk synthesis response contains no JSON object"))
	}
	var assessment RiskAssessment
	if err := json.Unmarshal([]byte(raw), &assessment); err != nil {
		return llm.NewError(llm.ErrorMalformedResponse, fmt.Errorf("failed to parse risk synthesis response: %w", err))
	}

	if err := e.cfg.Validator.ValidateRisk(&assessment); err != nil {
		return err
	}

	state.RiskAssessment = &assessment
	e.logInfo("pipeline: risk assessment ready", "run", state.ID, "verdict", assessment.Verdict, "risks", len(assessment.Risks))
	return nil
}
