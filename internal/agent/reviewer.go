package agent

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// ReviewScores rate a piece of code in [0,1].
type ReviewScores struct {
	Quality         *float64 `json:"quality"`
	Maintainability *float64 `json:"maintainability"`
	Security        *float64 `json:"security"`
}

// Review is the reviewer's structured output.
type Review struct {
	Issues      []string      `json:"issues"`
	Suggestions []string      `json:"suggestions"`
	Scores      *ReviewScores `json:"scores"`
}

// Validate checks that every score is present and within [0,1].
func (r Review) Validate() error {
	if r.Scores == nil {
		return core.ErrOutputFormat("review has no scores")
	}
	scores := []struct {
		name  string
		value *float64
	}{
		{"quality", r.Scores.Quality},
		{"maintainability", r.Scores.Maintainability},
		{"security", r.Scores.Security},
	}
	for _, s := range scores {
		name, v := s.name, s.value
		if v == nil {
			return core.ErrOutputFormat(fmt.Sprintf("review score %s is missing", name))
		}
		if *v < 0 || *v > 1 {
			return core.ErrOutputFormat(fmt.Sprintf("review score %s=%.2f outside [0,1]", name, *v))
		}
	}
	return nil
}

// ToMap renders the review as a step output.
func (r Review) ToMap() map[string]any {
	issues := r.Issues
	if issues == nil {
		issues = []string{}
	}
	suggestions := r.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return map[string]any{
		"issues":      issues,
		"suggestions": suggestions,
		"scores": map[string]any{
			"quality":         *r.Scores.Quality,
			"maintainability": *r.Scores.Maintainability,
			"security":        *r.Scores.Security,
		},
	}
}

// Reviewer scores code and lists issues and suggestions.
type Reviewer struct {
	*Base
	model *ModelCaller
}

// NewReviewer creates a reviewer agent.
func NewReviewer(cfg core.AgentConfig, deps Deps) (*Reviewer, error) {
	r := &Reviewer{}
	base, err := NewBase(cfg, r, deps)
	if err != nil {
		return nil, err
	}
	r.Base = base
	r.model = NewModelCaller(base.Deps())
	return r, nil
}

func (r *Reviewer) DefaultRole() string { return "reviewer" }

func (r *Reviewer) Messages(inputs map[string]any) ([]core.Message, error) {
	code := inputs["code"]
	if code == nil {
		code = inputs["implementation"]
	}
	if stringValue(code) == "" {
		return nil, core.ErrInvalidInput(core.CodeMissingInput, "reviewer needs code")
	}
	prompt, err := r.Deps().Prompts.Render("reviewer", "review", map[string]any{
		"code":    code,
		"context": inputs["context"],
		"focus":   inputs["focus"],
	})
	if err != nil {
		return nil, err
	}
	return []core.Message{systemPrompt(r.Config()), core.UserMessage(prompt)}, nil
}

func (r *Reviewer) Run(ctx context.Context, run *Run) (map[string]any, error) {
	if err := run.Transition(core.AgentAnalyzing); err != nil {
		return nil, err
	}
	reply, err := r.model.Call(ctx, run.Messages, r.Config().Model)
	if err != nil {
		return nil, err
	}
	var review Review
	if err := DecodeJSON(reply, &review); err != nil {
		return nil, err
	}
	if err := review.Validate(); err != nil {
		return nil, err
	}
	return review.ToMap(), nil
}
