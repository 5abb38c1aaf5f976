package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validPlan(n int) *Plan {
	p := &Plan{}
	for i := 0; i < n; i++ {
		p.Tasks = append(p.Tasks, TaskDefinition{
			Identifier:   string(rune('a' + i)),
			Instructions: "analyze something",
		})
	}
	return p
}

func TestValidateExtract(t *testing.T) {
	v := NewValidator(0, 0)

	require.Error(t, v.ValidateExtract(nil))
	require.Error(t, v.ValidateExtract(&ExtractedFacts{ProjectSummary: "", Facts: []Fact{{Statement: "x"}}}))
	require.Error(t, v.ValidateExtract(&ExtractedFacts{ProjectSummary: "s"}))
	require.Error(t, v.ValidateExtract(&ExtractedFacts{ProjectSummary: "s", Facts: []Fact{{Statement: "  "}}}))

	require.NoError(t, v.ValidateExtract(&ExtractedFacts{
		ProjectSummary: "a methanol plant",
		Facts:          []Fact{{Category: "site", Statement: "plot area is 40 ha"}},
	}))
}

func TestValidatePlan_Bounds(t *testing.T) {
	v := NewValidator(1, 6)

	require.Error(t, v.ValidatePlan(nil))
	require.Error(t, v.ValidatePlan(validPlan(0)))
	require.Error(t, v.ValidatePlan(validPlan(7)))
	require.NoError(t, v.ValidatePlan(validPlan(1)))
	require.NoError(t, v.ValidatePlan(validPlan(6)))
}

func TestValidatePlan_TaskShape(t *testing.T) {
	v := NewValidator(0, 0)

	p := validPlan(2)
	p.Tasks[1].Identifier = p.Tasks[0].Identifier
	require.ErrorContains(t, v.ValidatePlan(p), "duplicate")

	p = validPlan(2)
	p.Tasks[0].Identifier = "  "
	require.ErrorContains(t, v.ValidatePlan(p), "identifier")

	p = validPlan(2)
	p.Tasks[1].Instructions = ""
	require.ErrorContains(t, v.ValidatePlan(p), "instructions")
}

func TestValidatePlan_RejectsUnknownTools(t *testing.T) {
	v := NewValidator(0, 0)

	p := validPlan(1)
	p.Tasks[0].Tools = []string{"web_search", "rm_rf"}
	err := v.ValidatePlan(p)
	require.Error(t, err)
	require.ErrorContains(t, err, "rm_rf")

	p.Tasks[0].Tools = []string{"web_search", "knowledge_search", "catalog_lookup"}
	require.NoError(t, v.ValidatePlan(p))
}

func TestValidateRisk(t *testing.T) {
	v := NewValidator(0, 0)

	require.Error(t, v.ValidateRisk(nil))
	require.Error(t, v.ValidateRisk(&RiskAssessment{Verdict: "maybe"}))
	require.Error(t, v.ValidateRisk(&RiskAssessment{
		Verdict: VerdictGo,
		Risks:   []Risk{{Title: "flooding", Severity: "catastrophic"}},
	}))
	require.Error(t, v.ValidateRisk(&RiskAssessment{
		Verdict: VerdictGo,
		Risks:   []Risk{{Title: " ", Severity: SeverityLow}},
	}))

	require.NoError(t, v.ValidateRisk(&RiskAssessment{Verdict: VerdictNoGo}))
	require.NoError(t, v.ValidateRisk(&RiskAssessment{
		Verdict: VerdictConditionalGo,
		Risks:   []Risk{{Title: "flooding", Severity: SeverityHigh}},
	}))
}

func TestValidateReport(t *testing.T) {
	v := NewValidator(0, 0)
	require.Error(t, v.ValidateReport(""))
	require.Error(t, v.ValidateReport("   \n\t"))
	require.NoError(t, v.ValidateReport("# Feasibility Report"))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence", "Here you go:\n```json\n{\"a\":1}\n```", `{"a":1}`},
		{"generic fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", `The result is {"a":{"b":2}} as requested.`, `{"a":{"b":2}}`},
		{"braces in strings", `{"a":"}{"}`, `{"a":"}{"}`},
		{"escaped quotes", `{"a":"say \"hi\""}`, `{"a":"say \"hi\""}`},
		{"no object", "no json here", ""},
		{"unbalanced", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}
