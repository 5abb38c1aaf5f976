package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kestrel-eng/feasgen/pkg/llm"
	"github.com/kestrel-eng/feasgen/pkg/prompts"
)

// runExtract turns the raw input documents into structured facts. The input
// documents are large and identical across retries, so the system prompt is
// cached on the provider side.
func (e *Executor) runExtract(ctx context.Context, state *RunState, prompt prompts.Prompt) error {
	if len(state.Inputs.Documents) == 0 {
		return invalid(StageExtract, "no input documents")
	}

	user := prompts.Render(prompt.User, map[string]string{
		"METADATA":  formatMetadata(state.Inputs.Metadata),
		"DOCUMENTS": formatDocuments(state.Inputs.Documents),
	})

	response, err := e.cfg.LLM.Complete(ctx, prompt.System, user, llm.WithCacheControl())
	if err != nil {
		return err
	}

	raw := extractJSON(response)
	if raw == "" {
		return llm.NewError(llm.ErrorMalformedResponse, errors.New("extraction response contains no JSON object"))
	}
	var facts ExtractedFacts
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		return llm.NewError(llm.ErrorMalformedResponse, fmt.Errorf("failed to parse extraction response: %w", err))
	}

	if err := e.cfg.Validator.ValidateExtract(&facts); err != nil {
		return err
	}

	state.ExtractedFacts = &facts
	e.logInfo("pipeline: facts extracted", "run", state.ID, "facts", len(facts.Facts), "unknowns", len(facts.Unknowns))
	return nil
}
