package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Per-test structural limits.
const (
	MaxTestStatements = 20
	MaxTestAssertions = 5
)

var (
	assertionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bassert_\w*\s*\(`),
		regexp.MustCompile(`^assert\s`),
		regexp.MustCompile(`\.assert[A-Z]\w*\s*\(`),
		regexp.MustCompile(`\b(?:assert|require)\.[A-Z]\w*\s*\(`),
		regexp.MustCompile(`\bt\.(?:Error|Errorf|Fatal|Fatalf)\s*\(`),
	}
	sharedStatePattern = regexp.MustCompile(`\b(?:global_|shared_)\w*`)

	coveragePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^TOTAL\s+.*?(\d+(?:\.\d+)?)%\s*$`),
		regexp.MustCompile(`(?i)coverage:\s*(\d+(?:\.\d+)?)%`),
	}
)

// TestValidator produces a TestAnalysis from test source text.
type TestValidator struct{}

// NewTestValidator creates a test validator.
func NewTestValidator() *TestValidator {
	return &TestValidator{}
}

// IsTestFunction reports whether a function name denotes a test.
func IsTestFunction(name string) bool {
	return strings.HasPrefix(name, "test_") || strings.HasPrefix(name, "Test")
}

// CountAssertions counts assertion calls in cleaned lines.
func CountAssertions(lines []string) int {
	n := 0
	for _, l := range lines {
		for _, p := range assertionPatterns {
			n += len(p.FindAllString(l, -1))
		}
	}
	return n
}

// Analyze inspects the tests and combines them with a measured coverage in [0,1].
func (v *TestValidator) Analyze(ctx context.Context, testCode string, coverage float64) (core.TestAnalysis, error) {
	src := Parse(testCode)
	analysis := core.TestAnalysis{
		Coverage:        core.Clamp01(coverage),
		Issues:          []string{},
		Recommendations: []string{},
	}

	complexity := 0
	for _, fn := range src.Functions {
		if !IsTestFunction(fn.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return core.TestAnalysis{}, core.ErrCancelled("test analysis interrupted").WithCause(err)
		}
		analysis.TestCount++
		complexity += fn.Complexity()

		asserts := CountAssertions(fn.Lines)
		analysis.AssertionCount += asserts

		if fn.Statements > MaxTestStatements {
			analysis.Issues = append(analysis.Issues,
				fmt.Sprintf("Test '%s' is too long (%d statements)", fn.Name, fn.Statements))
		}
		if sharedStatePattern.MatchString(strings.Join(fn.Lines, "\n")) {
			analysis.Issues = append(analysis.Issues,
				fmt.Sprintf("Test '%s' uses shared state", fn.Name))
		}
		switch {
		case asserts == 0:
			analysis.Issues = append(analysis.Issues,
				fmt.Sprintf("Test '%s' has no assertions", fn.Name))
		case asserts > MaxTestAssertions:
			analysis.Issues = append(analysis.Issues,
				fmt.Sprintf("Test '%s' has too many assertions (%d)", fn.Name, asserts))
		}
	}

	if analysis.TestCount == 0 {
		analysis.Issues = append(analysis.Issues, "No test functions found")
	} else {
		analysis.Complexity = float64(complexity) / float64(analysis.TestCount)
	}

	analysis.Recommendations = testRecommendations(analysis.Issues)
	analysis.QualityScore = TestQuality(analysis.Coverage, analysis.TestCount,
		analysis.AssertionCount, analysis.Complexity, len(analysis.Issues))
	return analysis, nil
}

func testRecommendations(issues []string) []string {
	out := []string{}
	add := func(s string) {
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}
	for _, issue := range issues {
		switch {
		case strings.Contains(issue, "too long"):
			add("Split long tests into focused cases")
		case strings.Contains(issue, "shared state"):
			add("Use fixtures instead of shared module state")
		case strings.Contains(issue, "no assertions"):
			add("Assert on the behavior under test")
		case strings.Contains(issue, "too many assertions"):
			add("Keep each test to a single behavior")
		case strings.Contains(issue, "No test functions"):
			add("Add tests named test_<behavior>")
		}
	}
	return out
}

// ParseCoverage extracts a coverage ratio in [0,1] from test runner output.
// It understands coverage.py's TOTAL line and "coverage: NN%" summaries.
func ParseCoverage(output string) (float64, bool) {
	for _, p := range coveragePatterns {
		m := p.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return core.Clamp01(pct / 100), true
	}
	return 0, false
}
