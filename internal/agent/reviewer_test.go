package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/testutil"
)

func newReviewer(t *testing.T, model core.ModelPort) *Reviewer {
	t.Helper()
	r, err := NewReviewer(core.DefaultAgentConfig("reviewer", ""), Deps{Model: model})
	require.NoError(t, err)
	r.Activate()
	return r
}

func TestReviewer_Review(t *testing.T) {
	model := testutil.NewMockModel().On("# Code review", `Review follows.
{"issues": ["no docstring"], "suggestions": ["add a docstring"], "scores": {"quality": 0.85, "maintainability": 0.8, "security": 0.9}}`)
	r := newReviewer(t, model)

	out, err := r.Execute(context.Background(), map[string]any{"code": emailImpl})
	require.NoError(t, err)
	assert.Equal(t, []string{"no docstring"}, out["issues"])
	assert.Equal(t, []string{"add a docstring"}, out["suggestions"])
	scores := out["scores"].(map[string]any)
	assert.Equal(t, 0.85, scores["quality"])
	assert.Equal(t, 0.9, scores["security"])
	assert.Contains(t, model.ModelCalls()[0].Prompt(), "email_validator")
}

func TestReviewer_RejectsMalformedReplies(t *testing.T) {
	tests := map[string]string{
		"not json":       "Looks good to me!",
		"missing scores": `{"issues": [], "suggestions": []}`,
		"missing one":    `{"issues": [], "suggestions": [], "scores": {"quality": 0.5, "maintainability": 0.5}}`,
		"out of range":   `{"issues": [], "suggestions": [], "scores": {"quality": 1.5, "maintainability": 0.5, "security": 0.5}}`,
		"unknown field":  `{"issues": [], "suggestions": [], "verdict": "ok", "scores": {"quality": 1, "maintainability": 1, "security": 1}}`,
		"wrong type":     `{"issues": "none", "suggestions": [], "scores": {"quality": 1, "maintainability": 1, "security": 1}}`,
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			r := newReviewer(t, testutil.NewMockModel().WithResponse(reply))
			_, err := r.Execute(context.Background(), map[string]any{"code": "x = 1"})
			assert.True(t, core.IsKind(err, core.KindOutputFormat), "got %v", err)
		})
	}
}

func TestReviewer_RequiresCode(t *testing.T) {
	r := newReviewer(t, testutil.NewMockModel())
	_, err := r.Execute(context.Background(), map[string]any{"context": "nothing"})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))
}

func TestReview_BoundaryScores(t *testing.T) {
	zero, one := 0.0, 1.0
	review := Review{Scores: &ReviewScores{Quality: &zero, Maintainability: &one, Security: &one}}
	require.NoError(t, review.Validate())
	m := review.ToMap()
	assert.Equal(t, []string{}, m["issues"])
}
