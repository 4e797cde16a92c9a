package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func TestSubstitute(t *testing.T) {
	outputs := Outputs{
		"design": {"components": []any{"api"}, "specs": map[string]any{"user": "GET /user"}},
	}
	got, err := Substitute(map[string]any{
		"components": "$design.components",
		"spec":       "$design.specs.user",
		"nested":     map[string]any{"inner": "$design.components"},
		"text":       "no reference",
		"number":     3,
	}, outputs)
	require.NoError(t, err)
	assert.Equal(t, []any{"api"}, got["components"])
	assert.Equal(t, "GET /user", got["spec"])
	assert.Equal(t, map[string]any{"inner": []any{"api"}}, got["nested"])
	assert.Equal(t, "no reference", got["text"])
	assert.Equal(t, 3, got["number"])
}

func TestSubstitute_Errors(t *testing.T) {
	outputs := Outputs{"design": {"components": []any{}}}

	_, err := Substitute(map[string]any{"v": "$implement.code"}, outputs)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindReference))

	_, err = Substitute(map[string]any{"v": "$design.absent"}, outputs)
	assert.True(t, core.IsKind(err, core.KindReference))

	_, err = Substitute(map[string]any{"v": "$not a ref"}, outputs)
	assert.True(t, core.IsKind(err, core.KindInvalidInput))
}
