package validation

import (
	"context"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Suite bundles the validators used by the judge.
type Suite struct {
	Code         *CodeValidator
	Tests        *TestValidator
	Requirements *RequirementsValidator
	Weights      Weights
	Thresholds   Thresholds
}

// NewSuite creates a suite with default validators and thresholds.
func NewSuite() *Suite {
	return &Suite{
		Code:         NewCodeValidator(),
		Tests:        NewTestValidator(),
		Requirements: &RequirementsValidator{},
		Weights:      DefaultWeights(),
		Thresholds:   DefaultThresholds(),
	}
}

// Input is the material the judge evaluates.
type Input struct {
	Code         string
	Tests        string
	Coverage     float64
	Requirements []string
}

// Report is the aggregated verdict.
type Report struct {
	Passed                 bool                  `json:"passed"`
	QualityScore           float64               `json:"quality_score"`
	CodeAnalysis           core.CodeAnalysis     `json:"code_analysis"`
	TestAnalysis           core.TestAnalysis     `json:"test_analysis"`
	CodeValidation         core.ValidationResult `json:"code_validation"`
	TestValidation         core.ValidationResult `json:"test_validation"`
	RequirementsValidation core.ValidationResult `json:"requirements_validation"`
	Feedback               []string              `json:"feedback"`
}

// ToMap renders the report as a step output.
func (r Report) ToMap() map[string]any {
	return map[string]any{
		"passed":                  r.Passed,
		"quality_score":           r.QualityScore,
		"code_validation":         r.CodeValidation.ToMap(),
		"test_validation":         r.TestValidation.ToMap(),
		"requirements_validation": r.RequirementsValidation.ToMap(),
		"feedback":                r.Feedback,
	}
}

// Validate analyzes code and tests, then evaluates the analyses.
func (s *Suite) Validate(ctx context.Context, in Input) (Report, error) {
	code, err := s.Code.Analyze(ctx, in.Code)
	if err != nil {
		return Report{}, err
	}
	tests, err := s.Tests.Analyze(ctx, in.Tests, in.Coverage)
	if err != nil {
		return Report{}, err
	}
	reqs := s.Requirements.Validate(in.Requirements, in.Code)
	return s.Evaluate(code, tests, reqs), nil
}

// Evaluate compares precomputed analyses against the thresholds. Quality
// scores are recomputed from the metrics. The report passes only when every
// individual validation passes.
func (s *Suite) Evaluate(code core.CodeAnalysis, tests core.TestAnalysis, reqs core.ValidationResult) Report {
	code.QualityScore = s.Weights.CodeQuality(code)
	tests.QualityScore = TestQuality(tests.Coverage, tests.TestCount, tests.AssertionCount,
		tests.Complexity, len(tests.Issues))

	codeRes := s.Thresholds.CheckCode(code)
	testRes := s.Thresholds.CheckTests(tests)

	report := Report{
		CodeAnalysis:           code,
		TestAnalysis:           tests,
		CodeValidation:         codeRes,
		TestValidation:         testRes,
		RequirementsValidation: reqs,
		Passed:                 codeRes.Passed && testRes.Passed && reqs.Passed,
		QualityScore:           core.Clamp01((codeRes.Score + testRes.Score) / 2),
	}
	report.Feedback = feedback(codeRes, testRes, reqs)
	return report
}

func feedback(results ...core.ValidationResult) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, r := range results {
		for _, list := range [][]string{r.Issues, r.Recommendations} {
			for _, item := range list {
				if !seen[item] {
					seen[item] = true
					out = append(out, item)
				}
			}
		}
	}
	return out
}
