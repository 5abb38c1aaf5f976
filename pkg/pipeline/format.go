package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kestrel-eng/feasgen/pkg/subagent"
)

// Formatting helpers that turn structured state into the plain-text blocks
// the prompt templates interpolate. Deterministic output: map iteration is
// sorted so the same state always renders the same prompt.

func formatMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return "(none provided)"
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, metadata[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatDocuments(documents []string) string {
	var sb strings.Builder
	for i, doc := range documents {
		fmt.Fprintf(&sb, "--- Document %d ---\n%s\n\n", i+1, strings.TrimSpace(doc))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatFacts(facts *ExtractedFacts) string {
	if facts == nil {
		return "(no extracted facts)"
	}
	var sb strings.Builder
	sb.WriteString("Summary: ")
	sb.WriteString(facts.ProjectSummary)
	sb.WriteString("\n\n")
	for _, f := range facts.Facts {
		fmt.Fprintf(&sb, "- [%s] %s", f.Category, f.Statement)
		if f.Source != "" {
			fmt.Fprintf(&sb, " (source: %s)", f.Source)
		}
		sb.WriteString("\n")
	}
	if len(facts.Unknowns) > 0 {
		sb.WriteString("\nUnknowns:\n")
		for _, u := range facts.Unknowns {
			fmt.Fprintf(&sb, "- %s\n", u)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatFindings renders the subagent results, failed and timed-out tasks
// included. Downstream prompts are told to treat a missing analysis as
// uncertainty, so the failure has to be visible in the rendered text.
func formatFindings(results []subagent.Result) string {
	if len(results) == 0 {
		return "(no analyses were run)"
	}
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "=== Analysis %s [%s] ===\n", r.ID, r.Status)
		switch r.Status {
		case subagent.StatusSucceeded:
			sb.WriteString(strings.TrimSpace(r.Output))
		default:
			fmt.Fprintf(&sb, "This analysis did not complete: %s", r.ErrorDetail)
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatRisks(assessment *RiskAssessment) string {
	if assessment == nil {
		return "(no risk assessment available)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\nRationale: %s\n", assessment.Verdict, assessment.Rationale)
	if len(assessment.Risks) > 0 {
		sb.WriteString("\nRisks:\n")
		for _, r := range assessment.Risks {
			fmt.Fprintf(&sb, "- [%s] %s: %s", r.Severity, r.Title, r.Description)
			if r.Mitigation != "" {
				fmt.Fprintf(&sb, " Mitigation: %s", r.Mitigation)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
