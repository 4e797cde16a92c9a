package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/testutil"
)

func TestNew_LoadsEmbeddedTemplates(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	for _, k := range []Key{
		{"architect", "design"},
		{"developer", "tests"},
		{"developer", "implementation"},
		{"developer", "fix"},
		{"reviewer", "review"},
		{"generic", "default"},
		{"crew", "plan"},
	} {
		assert.True(t, r.Has(k.Role, k.Step), "missing %s", k)
	}
}

func TestRender_ArchitectDesign(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	out, err := r.Render("architect", "design", map[string]any{
		"requirements": []any{"Create a function to validate email addresses"},
		"constraints":  []string{"Must use a regex"},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "# Architecture design")
	assert.Contains(t, out, "- Create a function to validate email addresses")
	assert.Contains(t, out, "## Constraints\n- Must use a regex")
	assert.NotContains(t, out, "## Context")
	assert.NotContains(t, out, "<no value>")
}

func TestRender_MissingRequiredParam(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	_, err = r.Render("developer", "fix", map[string]any{"task": "x"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))
	assert.Contains(t, err.Error(), "implementation")
}

func TestRender_FallsBackToGeneric(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	out, err := r.Render("analyst", "quality_analysis", map[string]any{
		"role":   "analyst",
		"step":   "quality_analysis",
		"inputs": map[string]any{"code": "def f(): pass", "depth": 2},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "# quality_analysis")
	assert.Contains(t, out, "## code\ndef f(): pass")
	assert.Contains(t, out, "## depth\n2")
}

func TestRegister_UndeclaredParamIsConfigError(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	err = r.Register("writer", "draft", "{{/* params: topic */}}Write about {{ .topic }} for {{ .audience }}")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))
	assert.Contains(t, err.Error(), "audience")

	// Fields read inside range refer to the element, not to params.
	err = r.Register("writer", "list", "{{/* params: items */}}{{ range .items }}{{ .name }}{{ end }}")
	assert.NoError(t, err)
}

func TestLoadDir_Overrides(t *testing.T) {
	dir := testutil.TempDir(t)
	testutil.TempFile(t, dir, "reviewer/review.md.tmpl", "{{/* params: code */}}CUSTOM {{ .code }}")

	r, err := New()
	require.NoError(t, err)
	require.NoError(t, r.LoadDir(dir))

	out, err := r.Render("reviewer", "review", map[string]any{"code": "x = 1"})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM x = 1", out)
}

func TestLoadDir_Missing(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	err = r.LoadDir("/nonexistent/prompts")
	assert.True(t, core.IsKind(err, core.KindConfig))
}
