package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Limits for per-function issues.
const (
	MaxFunctionComplexity = 10
	MaxFunctionStatements = 50
	MaxLineLength         = 120
	MinMaintainability    = 20
)

// CodeValidator produces a CodeAnalysis from source text.
type CodeValidator struct {
	Weights    Weights
	Thresholds Thresholds
}

// NewCodeValidator creates a validator with default weights and thresholds.
func NewCodeValidator() *CodeValidator {
	return &CodeValidator{
		Weights:    DefaultWeights(),
		Thresholds: DefaultThresholds(),
	}
}

// Analyze computes complexity, duplication, maintainability and issues.
// The context is checked between functions.
func (v *CodeValidator) Analyze(ctx context.Context, code string) (core.CodeAnalysis, error) {
	src := Parse(code)
	analysis := core.CodeAnalysis{
		Issues:          []string{},
		Recommendations: []string{},
	}
	if len(src.Code) == 0 {
		analysis.Maintainability = 100
		analysis.Issues = append(analysis.Issues, "No code to analyze")
		analysis.QualityScore = v.Weights.CodeQuality(analysis)
		return analysis, nil
	}

	var total int
	for _, fn := range src.Functions {
		if err := ctx.Err(); err != nil {
			return core.CodeAnalysis{}, core.ErrCancelled("code analysis interrupted").WithCause(err)
		}
		cc := fn.Complexity()
		total += cc
		if cc > MaxFunctionComplexity {
			analysis.Issues = append(analysis.Issues,
				fmt.Sprintf("Function '%s' has high cyclomatic complexity (%d)", fn.Name, cc))
		}
		if fn.Statements > MaxFunctionStatements {
			analysis.Issues = append(analysis.Issues,
				fmt.Sprintf("Function '%s' is too long (%d statements)", fn.Name, fn.Statements))
		}
	}
	if len(src.Functions) > 0 {
		analysis.Complexity = float64(total) / float64(len(src.Functions))
	} else {
		_, decisions := countBody(src.Code)
		analysis.Complexity = float64(1 + decisions)
	}

	analysis.Duplication = DuplicationRatio(src.Code)
	volume := CountHalstead(src.Code).Volume()
	analysis.Maintainability = MaintainabilityIndex(volume, analysis.Complexity, len(src.Code))

	analysis.Issues = append(analysis.Issues, lineIssues(src)...)
	if analysis.Duplication > v.Thresholds.MaxDuplication {
		analysis.Issues = append(analysis.Issues,
			fmt.Sprintf("Duplicated code blocks (%.0f%% of lines)", analysis.Duplication*100))
	}
	if analysis.Maintainability < MinMaintainability {
		analysis.Issues = append(analysis.Issues,
			fmt.Sprintf("Low maintainability index (%.1f)", analysis.Maintainability))
	}

	analysis.Recommendations = recommendFor(analysis.Issues)
	analysis.QualityScore = v.Weights.CodeQuality(analysis)
	return analysis, nil
}

func lineIssues(src Source) []string {
	var issues []string
	long := 0
	bareExcept := false
	markers := 0
	for _, line := range src.Raw {
		if len(line) > MaxLineLength {
			long++
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "except:" {
			bareExcept = true
		}
		if strings.Contains(line, "TODO") || strings.Contains(line, "FIXME") {
			markers++
		}
	}
	if long > 0 {
		issues = append(issues, fmt.Sprintf("%d lines exceed %d characters", long, MaxLineLength))
	}
	if bareExcept {
		issues = append(issues, "Bare except clause swallows all errors")
	}
	if markers > 0 {
		issues = append(issues, fmt.Sprintf("%d unresolved TODO/FIXME markers", markers))
	}
	return issues
}

var recommendations = []struct {
	match string
	text  string
}{
	{"cyclomatic complexity", "Reduce branching by extracting helper functions"},
	{"too long", "Break long functions into focused steps"},
	{"Duplicated", "Extract duplicated blocks into shared helpers"},
	{"maintainability", "Simplify expressions and shorten modules"},
	{"characters", "Wrap long lines"},
	{"except", "Catch specific exception types"},
	{"TODO/FIXME", "Resolve outstanding TODO/FIXME markers"},
}

func recommendFor(issues []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, issue := range issues {
		for _, r := range recommendations {
			if strings.Contains(issue, r.match) && !seen[r.text] {
				seen[r.text] = true
				out = append(out, r.text)
			}
		}
	}
	return out
}

func formatViolation(metric string, value float64, relation string, limit float64) string {
	return fmt.Sprintf("%s %.2f %s threshold %.2f", metric, value, relation, limit)
}
