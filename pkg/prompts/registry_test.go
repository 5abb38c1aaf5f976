package prompts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_LoadsEmbeddedTemplates(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, stage := range []string{"extract", "plan", "analyze", "risk", "report"} {
		p, err := r.Resolve(stage, "v1")
		require.NoError(t, err, "stage %s", stage)
		require.Equal(t, stage, p.Stage)
		require.Equal(t, "v1", p.Version)
		require.NotEmpty(t, p.System)
		require.NotEmpty(t, p.User)
	}
}

func TestRegistry_ResolutionIsPure(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	first, err := r.Resolve("plan", "v1")
	require.NoError(t, err)
	second, err := r.Resolve("plan", "v1")
	require.NoError(t, err)

	// Same (stage, version) must yield byte-identical templates.
	require.Equal(t, first.System, second.System)
	require.Equal(t, first.User, second.User)
}

func TestRegistry_VersionsAreIndependent(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	v1, err := r.Resolve("plan", "v1")
	require.NoError(t, err)
	v2, err := r.Resolve("plan", "v2")
	require.NoError(t, err)
	require.NotEqual(t, v1.User, v2.User)
}

func TestRegistry_UnknownVersion(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.Resolve("plan", "v99")
	require.ErrorIs(t, err, ErrVersionNotFound)

	_, err = r.Resolve("nonexistent", "v1")
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRegistry_ListVersions(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.Equal(t, []string{"v1", "v2"}, r.ListVersions("plan"))
	require.Equal(t, []string{"v1"}, r.ListVersions("extract"))
	require.Nil(t, r.ListVersions("nonexistent"))
}

func TestRender(t *testing.T) {
	out := Render("Facts:\n{{FACTS}}\nLimit: {{MAX_TASKS}}", map[string]string{
		"FACTS":     "- fact one",
		"MAX_TASKS": "6",
	})
	require.Equal(t, "Facts:\n- fact one\nLimit: 6", out)

	// Unmatched placeholders are left in place.
	require.Equal(t, "{{UNKNOWN}}", Render("{{UNKNOWN}}", nil))
}
