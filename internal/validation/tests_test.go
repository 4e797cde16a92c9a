package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pytestSample = `def test_valid_email():
    assert email_validator("a@b.com")
    assert_true(email_validator("x@y.org"))

def test_invalid_email():
    assert not email_validator("nope")

def test_nothing():
    global_counter = 1
    x = 2

def helper():
    assert True
`

func TestTestValidator_Structure(t *testing.T) {
	a, err := NewTestValidator().Analyze(context.Background(), pytestSample, 0.9)
	require.NoError(t, err)

	assert.Equal(t, 3, a.TestCount)
	assert.Equal(t, 3, a.AssertionCount)
	assert.Equal(t, 1.0, a.Complexity)
	assert.ElementsMatch(t, []string{
		"Test 'test_nothing' uses shared state",
		"Test 'test_nothing' has no assertions",
	}, a.Issues)
	// 0.4*0.9 + 0.2*0.5 + 0.2*0.9 + 0.2*0.6
	assert.InDelta(t, 0.76, a.QualityScore, 1e-9)
}

func TestTestValidator_TooManyAssertionsAndTooLong(t *testing.T) {
	var b strings.Builder
	b.WriteString("def test_everything():\n")
	for i := 0; i < 6; i++ {
		b.WriteString("    assert_equal(1, 1)\n")
	}
	for i := 0; i < 16; i++ {
		b.WriteString("    y = 1\n")
	}

	a, err := NewTestValidator().Analyze(context.Background(), b.String(), 1)
	require.NoError(t, err)

	assert.Contains(t, a.Issues, "Test 'test_everything' has too many assertions (6)")
	assert.Contains(t, a.Issues, "Test 'test_everything' is too long (22 statements)")
}

func TestTestValidator_NoTests(t *testing.T) {
	a, err := NewTestValidator().Analyze(context.Background(), "x = 1\n", 0)
	require.NoError(t, err)

	assert.Equal(t, 0, a.TestCount)
	assert.Contains(t, a.Issues, "No test functions found")
	assert.GreaterOrEqual(t, a.QualityScore, 0.0)
}

func TestTestValidator_GoTests(t *testing.T) {
	code := "func TestMax(t *testing.T) {\n\tassert.Equal(t, 2, Max(1, 2))\n\tif Max(0, 0) != 0 {\n\t\tt.Fatalf(\"bad\")\n\t}\n}\n"
	a, err := NewTestValidator().Analyze(context.Background(), code, 0.8)
	require.NoError(t, err)

	assert.Equal(t, 1, a.TestCount)
	assert.Equal(t, 2, a.AssertionCount)
	assert.Equal(t, 2.0, a.Complexity)
}

func TestParseCoverage(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
		ok     bool
	}{
		{"coverage.py total", "Name    Stmts   Miss  Cover\nmod.py     20      2    90%\nTOTAL      20      2    90%\n", 0.9, true},
		{"go summary", "ok  pkg 0.01s  coverage: 85.5% of statements", 0.855, true},
		{"missing", "2 passed", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCoverage(tt.output)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestTestQuality_Bounds(t *testing.T) {
	assert.InDelta(t, 1.0, TestQuality(1, 1, 2, 0, 0), 1e-9)
	assert.InDelta(t, 0.0, TestQuality(0, 0, 0, 50, 50), 1e-9)
}
