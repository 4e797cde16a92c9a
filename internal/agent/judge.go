package agent

import (
	"context"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/validation"
)

// Judge gates a workflow on code and test quality. It does not call the model.
type Judge struct {
	*Base
}

// NewJudge creates a judge agent.
func NewJudge(cfg core.AgentConfig, deps Deps) (*Judge, error) {
	j := &Judge{}
	base, err := NewBase(cfg, j, deps)
	if err != nil {
		return nil, err
	}
	j.Base = base
	return j, nil
}

func (j *Judge) DefaultRole() string { return "judge" }

func (j *Judge) Messages(inputs map[string]any) ([]core.Message, error) {
	return inputMessages(j.Config(), inputs)
}

func (j *Judge) Run(ctx context.Context, run *Run) (map[string]any, error) {
	if err := run.Transition(core.AgentAnalyzing); err != nil {
		return nil, err
	}
	in := JudgeInput(run.Inputs)
	report, err := j.Deps().Suite.Validate(ctx, in)
	if err != nil {
		return nil, err
	}
	j.logger.Info("judge verdict",
		"passed", report.Passed, "quality_score", report.QualityScore)
	out := report.ToMap()
	out["code_analysis"] = toGeneric(report.CodeAnalysis)
	out["test_analysis"] = toGeneric(report.TestAnalysis)
	return out, nil
}

// JudgeInput gathers the material to validate from step inputs. Coverage is
// taken from an explicit "coverage" input or parsed from test_results output.
func JudgeInput(inputs map[string]any) validation.Input {
	code := stringValue(inputs["code"])
	if code == "" {
		code = stringValue(inputs["implementation"])
	}
	in := validation.Input{
		Code:         code,
		Tests:        stringValue(inputs["tests"]),
		Requirements: stringList(inputs["requirements"]),
	}
	if cov, ok := floatValue(inputs["coverage"]); ok {
		in.Coverage = core.Clamp01(cov)
		return in
	}
	if results, ok := inputs["test_results"].(map[string]any); ok {
		if cov, ok := validation.ParseCoverage(stringValue(results["output"])); ok {
			in.Coverage = cov
		}
	}
	return in
}
