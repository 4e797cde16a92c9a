package agent

import (
	"context"
	"maps"
	"strings"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// RoleAgent serves roles without a dedicated strategy, such as analyst,
// writer, debugger, tester and integrator. It renders the role's prompt for
// the current step and returns the model's answer.
type RoleAgent struct {
	*Base
	model *ModelCaller
}

// NewRoleAgent creates a generic agent for cfg.Role.
func NewRoleAgent(cfg core.AgentConfig, deps Deps) (*RoleAgent, error) {
	if cfg.Role == "" {
		cfg.Role = "assistant"
	}
	r := &RoleAgent{}
	base, err := NewBase(cfg, r, deps)
	if err != nil {
		return nil, err
	}
	r.Base = base
	r.model = NewModelCaller(base.Deps())
	return r, nil
}

func (r *RoleAgent) DefaultRole() string { return "assistant" }

// Messages renders the prompt for a step named "task".
func (r *RoleAgent) Messages(inputs map[string]any) ([]core.Message, error) {
	return r.render("task", inputs)
}

func (r *RoleAgent) render(step string, inputs map[string]any) ([]core.Message, error) {
	cfg := r.Config()
	prompt, err := r.Deps().Prompts.Render(cfg.Role, step, map[string]any{
		"role":   cfg.Role,
		"step":   step,
		"inputs": inputs,
	})
	if err != nil {
		return nil, err
	}
	return []core.Message{systemPrompt(cfg), core.UserMessage(prompt)}, nil
}

// Execute renders the prompt for the step carried by ctx.
func (r *RoleAgent) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	step := core.StepFrom(ctx)
	if step == "" {
		step = "task"
	}
	messages, err := r.render(step, inputs)
	if err != nil {
		return nil, err
	}
	return r.process(ctx, messages, inputs)
}

func (r *RoleAgent) Run(ctx context.Context, run *Run) (map[string]any, error) {
	if err := run.Transition(core.AgentAnalyzing); err != nil {
		return nil, err
	}
	reply, err := r.model.Call(ctx, run.Messages, r.Config().Model)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if obj, err := ExtractJSON(reply); err == nil {
		maps.Copy(out, obj)
	}
	out["content"] = strings.TrimSpace(reply)
	return out, nil
}
