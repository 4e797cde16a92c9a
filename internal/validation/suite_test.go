package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func TestSuite_EvaluateExactThresholds(t *testing.T) {
	s := NewSuite()
	code := core.CodeAnalysis{Complexity: 10, Duplication: 0.1, Maintainability: 80}
	tests := core.TestAnalysis{Coverage: 0.8}
	reqs := core.ValidationResult{Passed: true, Score: 1}

	r := s.Evaluate(code, tests, reqs)

	assert.True(t, r.Passed)
	assert.True(t, r.CodeValidation.Passed)
	assert.True(t, r.TestValidation.Passed)
	assert.Empty(t, r.CodeValidation.Issues)
	assert.Empty(t, r.TestValidation.Issues)
	assert.GreaterOrEqual(t, r.QualityScore, 0.0)
	assert.LessOrEqual(t, r.QualityScore, 1.0)
	// 0.3*(1-10/15) + 0.2*0.9 + 0.3*0.8 + 0.2*1
	assert.InDelta(t, 0.72, r.CodeValidation.Score, 1e-9)
}

func TestSuite_EvaluateViolations(t *testing.T) {
	s := NewSuite()
	code := core.CodeAnalysis{Complexity: 10.5, Duplication: 0.25, Maintainability: 50}
	tests := core.TestAnalysis{Coverage: 0.79}

	r := s.Evaluate(code, tests, core.ValidationResult{Passed: true, Score: 1})

	assert.False(t, r.Passed)
	assert.False(t, r.CodeValidation.Passed)
	assert.False(t, r.TestValidation.Passed)
	assert.Contains(t, r.CodeValidation.Issues, "complexity 10.50 exceeds threshold 10.00")
	assert.Contains(t, r.CodeValidation.Issues, "duplication 0.25 exceeds threshold 0.10")
	assert.Contains(t, r.TestValidation.Issues, "coverage 0.79 below threshold 0.80")
	assert.Contains(t, r.Feedback, "Add tests for uncovered branches")
}

func TestSuite_RequirementsFailurePropagates(t *testing.T) {
	s := NewSuite()
	reqs := core.ValidationResult{Passed: false, Score: 0.5}
	r := s.Evaluate(core.CodeAnalysis{Complexity: 1, Maintainability: 90}, core.TestAnalysis{Coverage: 1}, reqs)
	assert.False(t, r.Passed)
}

func TestSuite_Validate(t *testing.T) {
	s := NewSuite()
	r, err := s.Validate(context.Background(), Input{
		Code:         emailValidator,
		Tests:        "def test_ok():\n    assert email_validator(\"a@b.co\")\n    assert not email_validator(\"x\")\n",
		Coverage:     0.95,
		Requirements: []string{"Create a function to validate email addresses"},
	})
	require.NoError(t, err)

	assert.True(t, r.Passed)
	assert.Equal(t, 1, r.TestAnalysis.TestCount)
	assert.Equal(t, 2, r.TestAnalysis.AssertionCount)

	m := r.ToMap()
	assert.Equal(t, true, m["passed"])
	assert.Contains(t, m, "code_validation")
	assert.Contains(t, m, "test_validation")
	assert.Contains(t, m, "requirements_validation")
	assert.Contains(t, m, "feedback")
}
