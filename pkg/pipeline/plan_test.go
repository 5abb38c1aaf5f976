package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func proposedPlan(n int) *Plan {
	p := &Plan{}
	for i := 0; i < n; i++ {
		p.Tasks = append(p.Tasks, TaskDefinition{
			Identifier:   fmt.Sprintf("task_%d", i),
			Instructions: fmt.Sprintf("analyze area %d", i),
			Context:      fmt.Sprintf("context %d", i),
		})
	}
	return p
}

func TestReducePlan_NoReductionAtOrBelowCeiling(t *testing.T) {
	p := proposedPlan(6)
	require.Equal(t, 0, reducePlan(p, 6))
	require.Len(t, p.Tasks, 6)

	p = proposedPlan(3)
	require.Equal(t, 0, reducePlan(p, 6))
	require.Len(t, p.Tasks, 3)
}

func TestReducePlan_MergesOverflowIntoLastSlot(t *testing.T) {
	p := proposedPlan(8)
	p.Tasks[5].Tools = []string{"web_search"}
	p.Tasks[6].Tools = []string{"web_search", "catalog_lookup"}
	p.Tasks[7].Tools = []string{"knowledge_search"}

	dropped := reducePlan(p, 6)

	require.Equal(t, 2, dropped)
	require.Len(t, p.Tasks, 6)

	// Proposal order is priority order: the first five survive untouched.
	for i := 0; i < 5; i++ {
		require.Equal(t, fmt.Sprintf("task_%d", i), p.Tasks[i].Identifier)
		require.Equal(t, fmt.Sprintf("analyze area %d", i), p.Tasks[i].Instructions)
	}

	last := p.Tasks[5]
	require.Equal(t, "task_5", last.Identifier)
	require.Contains(t, last.Instructions, "analyze area 5")
	require.Contains(t, last.Instructions, `"task_6"`)
	require.Contains(t, last.Instructions, "analyze area 6")
	require.Contains(t, last.Instructions, "analyze area 7")
	require.Contains(t, last.Context, "context 5")
	require.Contains(t, last.Context, "context 7")
	require.ElementsMatch(t, []string{"web_search", "catalog_lookup", "knowledge_search"}, last.Tools)
}

func TestReducePlan_MergedToolsStayDeduplicated(t *testing.T) {
	p := proposedPlan(7)
	p.Tasks[5].Tools = []string{"web_search"}
	p.Tasks[6].Tools = []string{"web_search"}

	reducePlan(p, 6)
	require.Equal(t, []string{"web_search"}, p.Tasks[5].Tools)
}

func TestNormalizePlan(t *testing.T) {
	p := &Plan{Tasks: []TaskDefinition{{
		Identifier:   "  site_review ",
		Instructions: " check the site\n",
		Context:      " facts ",
		Tools:        []string{" web_search ", "", "catalog_lookup"},
	}}}

	normalizePlan(p)

	require.Equal(t, "site_review", p.Tasks[0].Identifier)
	require.Equal(t, "check the site", p.Tasks[0].Instructions)
	require.Equal(t, "facts", p.Tasks[0].Context)
	require.Equal(t, []string{"web_search", "catalog_lookup"}, p.Tasks[0].Tools)
}
