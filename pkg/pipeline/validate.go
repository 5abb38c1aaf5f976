package pipeline

import (
	"fmt"
	"strings"

	"github.com/kestrel-eng/feasgen/pkg/tools"
)

const (
	defaultPlanMinTasks = 1
	defaultPlanCeiling  = 6
)

// ValidationFailure reports that a stage's output does not conform to its
// declared contract. It never carries a repaired value: the validator
// accepts or rejects, normalization is the owning stage's job.
type ValidationFailure struct {
	Stage  Stage
	Reason string
}

func (f *ValidationFailure) Error() string {
	return fmt.Sprintf("stage %s output invalid: %s", f.Stage, f.Reason)
}

func invalid(stage Stage, format string, args ...any) error {
	return &ValidationFailure{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks each stage's output against that stage's contract before
// the rest of the pipeline is allowed to trust it.
type Validator struct {
	PlanMinTasks int // minimum task definitions a plan must carry
	PlanCeiling  int // hard ceiling after the plan stage's reduction
}

// NewValidator creates a Validator with the given plan bounds; zero values
// select the defaults.
func NewValidator(minTasks, ceiling int) *Validator {
	if minTasks == 0 {
		minTasks = defaultPlanMinTasks
	}
	if ceiling == 0 {
		ceiling = defaultPlanCeiling
	}
	return &Validator{PlanMinTasks: minTasks, PlanCeiling: ceiling}
}

// ValidateExtract checks the extraction stage's parsed output.
func (v *Validator) ValidateExtract(facts *ExtractedFacts) error {
	if facts == nil {
		return invalid(StageExtract, "no output")
	}
	if strings.TrimSpace(facts.ProjectSummary) == "" {
		return invalid(StageExtract, "project_summary is empty")
	}
	if len(facts.Facts) == 0 {
		return invalid(StageExtract, "facts list is empty")
	}
	for i, f := range facts.Facts {
		if strings.TrimSpace(f.Statement) == "" {
			return invalid(StageExtract, "fact %d has an empty statement", i)
		}
	}
	return nil
}

// ValidatePlan checks the planning stage's parsed and already-reduced plan.
// Unknown tool names are rejected here, before any model call is made.
func (v *Validator) ValidatePlan(plan *Plan) error {
	if plan == nil {
		return invalid(StagePlan, "no output")
	}
	if len(plan.Tasks) < v.PlanMinTasks {
		return invalid(StagePlan, "plan has %d tasks, minimum is %d", len(plan.Tasks), v.PlanMinTasks)
	}
	if len(plan.Tasks) > v.PlanCeiling {
		return invalid(StagePlan, "plan has %d tasks, ceiling is %d", len(plan.Tasks), v.PlanCeiling)
	}
	seen := make(map[string]bool, len(plan.Tasks))
	for i, t := range plan.Tasks {
		if strings.TrimSpace(t.Identifier) == "" {
			return invalid(StagePlan, "task %d has an empty identifier", i)
		}
		if seen[t.Identifier] {
			return invalid(StagePlan, "duplicate task identifier %q", t.Identifier)
		}
		seen[t.Identifier] = true
		if strings.TrimSpace(t.Instructions) == "" {
			return invalid(StagePlan, "task %q has empty instructions", t.Identifier)
		}
		if err := tools.ValidateNames(t.Tools); err != nil {
			return invalid(StagePlan, "task %q: %v", t.Identifier, err)
		}
	}
	return nil
}

// ValidateRisk checks the risk synthesis stage's parsed output.
func (v *Validator) ValidateRisk(assessment *RiskAssessment) error {
	if assessment == nil {
		return invalid(StageRisk, "no output")
	}
	switch assessment.Verdict {
	case VerdictGo, VerdictConditionalGo, VerdictNoGo:
	default:
		return invalid(StageRisk, "verdict %q is not one of go, conditional_go, no_go", assessment.Verdict)
	}
	for i, r := range assessment.Risks {
		if strings.TrimSpace(r.Title) == "" {
			return invalid(StageRisk, "risk %d has an empty title", i)
		}
		switch r.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		default:
			return invalid(StageRisk, "risk %q severity %q is not one of low, medium, high, critical", r.Title, r.Severity)
		}
	}
	return nil
}

// ValidateReport checks the writing stage's output.
func (v *Validator) ValidateReport(report string) error {
	if strings.TrimSpace(report) == "" {
		return invalid(StageReport, "report is empty")
	}
	return nil
}

// extractJSON pulls a JSON object out of a model response that may wrap it
// in code fences or surrounding prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	// Fenced ```json blocks are the most reliable.
	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	// Generic code fences, if the content looks like an object.
	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}

	return ""
}

// extractJSONObject returns the balanced JSON object starting at start.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}

	return ""
}
