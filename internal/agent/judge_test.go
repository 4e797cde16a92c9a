package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func newJudge(t *testing.T) *Judge {
	t.Helper()
	j, err := NewJudge(core.DefaultAgentConfig("judge", ""), Deps{})
	require.NoError(t, err)
	j.Activate()
	return j
}

func TestJudge_Passes(t *testing.T) {
	j := newJudge(t)
	out, err := j.Execute(context.Background(), map[string]any{
		"code":         emailImpl,
		"tests":        emailTests,
		"test_results": map[string]any{"success": true, "output": "TOTAL 12 1 92%"},
		"requirements": []any{"Create a function to validate email addresses"},
	})
	require.NoError(t, err)

	assert.Equal(t, true, out["passed"])
	score := out["quality_score"].(float64)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
	assert.Contains(t, out, "code_validation")
	assert.Contains(t, out, "test_validation")
	assert.Contains(t, out, "requirements_validation")
	assert.Contains(t, out, "feedback")
	testAnalysis := out["test_analysis"].(map[string]any)
	assert.InDelta(t, 0.92, testAnalysis["coverage"], 1e-9)
	assert.Equal(t, core.AgentIdle, j.State().Current)
}

func TestJudge_FailsOnLowCoverage(t *testing.T) {
	j := newJudge(t)
	out, err := j.Execute(context.Background(), map[string]any{
		"implementation": emailImpl,
		"tests":          emailTests,
		"coverage":       0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, false, out["passed"])
	assert.Contains(t, out["feedback"], "coverage 0.50 below threshold 0.80")
}

func TestJudgeInput(t *testing.T) {
	in := JudgeInput(map[string]any{"code": "x", "coverage": 1.7})
	assert.Equal(t, 1.0, in.Coverage)

	in = JudgeInput(map[string]any{"implementation": "y", "test_results": map[string]any{"output": "coverage: 81%"}})
	assert.Equal(t, "y", in.Code)
	assert.InDelta(t, 0.81, in.Coverage, 1e-9)

	in = JudgeInput(map[string]any{"code": "z"})
	assert.Equal(t, 0.0, in.Coverage)
}
