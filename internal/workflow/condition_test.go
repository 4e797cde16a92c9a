package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func TestCompileCondition(t *testing.T) {
	_, err := CompileCondition("inputs.run ==")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidInput))

	_, err = CompileCondition("   ")
	assert.Error(t, err)
}

func TestLuaCondition_Evaluate(t *testing.T) {
	tests := []struct {
		expr   string
		inputs map[string]any
		want   bool
	}{
		{"inputs.run", map[string]any{"run": true}, true},
		{"inputs.run", map[string]any{"run": false}, false},
		{"inputs.missing", map[string]any{}, false},
		{"inputs.score >= 0.8", map[string]any{"score": 0.9}, true},
		{"inputs.review.scores.quality > 0.5", map[string]any{
			"review": map[string]any{"scores": map[string]any{"quality": 0.4}},
		}, false},
		{"string.find(inputs.kind, 'bug') ~= nil", map[string]any{"kind": "bugfix"}, true},
		{"os == nil and io == nil", map[string]any{}, true},
		{"#inputs.items == 3", map[string]any{"items": []string{"a", "b", "c"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			cond, err := CompileCondition(tt.expr)
			require.NoError(t, err)
			got, err := cond.Evaluate(tt.inputs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLuaCondition_RuntimeError(t *testing.T) {
	cond, err := CompileCondition("inputs.missing.field")
	require.NoError(t, err)
	_, err = cond.Evaluate(map[string]any{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindWorkflow))
}

func TestInputTruthy(t *testing.T) {
	cond := InputTruthy("run")
	for _, tc := range []struct {
		value any
		want  bool
	}{
		{true, true}, {false, false}, {nil, false}, {"yes", true}, {"false", false},
		{"", false}, {0.0, false}, {2.0, true}, {[]any{}, false}, {[]any{1}, true},
	} {
		got, err := cond.Evaluate(map[string]any{"run": tc.value})
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "value %#v", tc.value)
	}
}
