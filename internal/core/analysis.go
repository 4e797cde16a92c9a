package core

// CodeAnalysis is the result of static code analysis.
type CodeAnalysis struct {
	Complexity      float64  `json:"complexity"`
	Duplication     float64  `json:"duplication"`
	Maintainability float64  `json:"maintainability"`
	QualityScore    float64  `json:"quality_score"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// TestAnalysis is the result of test-quality analysis.
type TestAnalysis struct {
	Coverage        float64  `json:"coverage"`
	QualityScore    float64  `json:"quality_score"`
	TestCount       int      `json:"test_count"`
	AssertionCount  int      `json:"assertion_count"`
	Complexity      float64  `json:"complexity"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// ValidationResult is a pass/fail verdict with a score in [0,1].
type ValidationResult struct {
	Passed          bool     `json:"passed"`
	Score           float64  `json:"score"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// ToMap renders the result as a step output fragment.
func (r ValidationResult) ToMap() map[string]any {
	return map[string]any{
		"passed":          r.Passed,
		"score":           r.Score,
		"issues":          r.Issues,
		"recommendations": r.Recommendations,
	}
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
