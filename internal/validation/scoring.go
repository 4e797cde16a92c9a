package validation

import (
	"math"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Weights defines the importance of each code-quality component.
type Weights struct {
	Complexity      float64
	Duplication     float64
	Maintainability float64
	Issues          float64
}

// DefaultWeights returns the default component weights.
func DefaultWeights() Weights {
	return Weights{
		Complexity:      0.30,
		Duplication:     0.20,
		Maintainability: 0.30,
		Issues:          0.20,
	}
}

// Thresholds gate the judge verdict. Complexity and duplication are upper
// bounds, coverage a lower bound; all are inclusive.
type Thresholds struct {
	MaxComplexity  float64 `mapstructure:"max_complexity" yaml:"max_complexity"`
	MaxDuplication float64 `mapstructure:"max_duplication" yaml:"max_duplication"`
	MinCoverage    float64 `mapstructure:"min_coverage" yaml:"min_coverage"`
}

// DefaultThresholds returns the default judge thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxComplexity:  10,
		MaxDuplication: 0.1,
		MinCoverage:    0.8,
	}
}

// ComplexityScore maps mean cyclomatic complexity to [0,1].
func ComplexityScore(complexity float64) float64 {
	return math.Max(0, 1-complexity/15)
}

// DuplicationScore maps a duplication ratio to [0,1].
func DuplicationScore(duplication float64) float64 {
	return core.Clamp01(1 - duplication)
}

// MaintainabilityScore maps a maintainability index in [0,100] to [0,1].
func MaintainabilityScore(mi float64) float64 {
	return core.Clamp01(mi / 100)
}

// IssuesScore maps an issue count to [0,1].
func IssuesScore(issues int) float64 {
	return math.Max(0, 1-float64(issues)/10)
}

// CodeQuality aggregates the component scores of an analysis.
func (w Weights) CodeQuality(a core.CodeAnalysis) float64 {
	score := w.Complexity*core.Clamp01(ComplexityScore(a.Complexity)) +
		w.Duplication*DuplicationScore(a.Duplication) +
		w.Maintainability*MaintainabilityScore(a.Maintainability) +
		w.Issues*IssuesScore(len(a.Issues))
	return core.Clamp01(score)
}

// TestQuality aggregates test metrics:
//
//	0.4 coverage + 0.2 min(1, assertions/(2 tests)) + 0.2 max(0, 1 - complexity/10) + 0.2 max(0, 1 - issues/5)
func TestQuality(coverage float64, tests, assertions int, complexity float64, issues int) float64 {
	ratio := 0.0
	if tests > 0 {
		ratio = math.Min(1, float64(assertions)/float64(2*tests))
	}
	score := 0.4*core.Clamp01(coverage) +
		0.2*ratio +
		0.2*math.Max(0, 1-complexity/10) +
		0.2*math.Max(0, 1-float64(issues)/5)
	return core.Clamp01(score)
}

// CheckCode compares a code analysis against the thresholds.
func (t Thresholds) CheckCode(a core.CodeAnalysis) core.ValidationResult {
	res := core.ValidationResult{
		Passed:          true,
		Score:           core.Clamp01(a.QualityScore),
		Issues:          append([]string{}, a.Issues...),
		Recommendations: append([]string{}, a.Recommendations...),
	}
	if a.Complexity > t.MaxComplexity {
		res.Passed = false
		res.Issues = append(res.Issues, formatViolation("complexity", a.Complexity, "exceeds", t.MaxComplexity))
		res.Recommendations = append(res.Recommendations, "Split complex functions into smaller units")
	}
	if a.Duplication > t.MaxDuplication {
		res.Passed = false
		res.Issues = append(res.Issues, formatViolation("duplication", a.Duplication, "exceeds", t.MaxDuplication))
		res.Recommendations = append(res.Recommendations, "Extract duplicated blocks into shared helpers")
	}
	return res
}

// CheckTests compares a test analysis against the thresholds.
func (t Thresholds) CheckTests(a core.TestAnalysis) core.ValidationResult {
	res := core.ValidationResult{
		Passed:          true,
		Score:           core.Clamp01(a.QualityScore),
		Issues:          append([]string{}, a.Issues...),
		Recommendations: append([]string{}, a.Recommendations...),
	}
	if a.Coverage < t.MinCoverage {
		res.Passed = false
		res.Issues = append(res.Issues, formatViolation("coverage", a.Coverage, "below", t.MinCoverage))
		res.Recommendations = append(res.Recommendations, "Add tests for uncovered branches")
	}
	return res
}
