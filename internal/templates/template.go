package templates

import (
	"fmt"
	"maps"
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/workflow"
)

// Step is one declared step of a template.
type Step struct {
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"`
	// Inputs may hold $input.<key> and $<step>.<key> references. A step
	// without inputs receives every user input.
	Inputs map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	// Condition is a Lua expression over the resolved inputs.
	Condition      string `yaml:"condition,omitempty" json:"condition,omitempty"`
	MaxRetries     *int   `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Template is a named workflow definition.
type Template struct {
	Key         string        `yaml:"-" json:"key"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	ProcessType core.Strategy `yaml:"process_type" json:"process_type"`
	// Roles maps each role key used by the steps to an agent type.
	Roles          map[string]string `yaml:"roles" json:"roles"`
	RequiredInputs []string          `yaml:"required_inputs,omitempty" json:"required_inputs,omitempty"`
	Defaults       map[string]any    `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Steps          []Step            `yaml:"steps" json:"steps"`
}

// Validate checks the template's structure: unique step names, bound roles,
// well-formed references and conditions that compile.
func (t *Template) Validate() error {
	if t.Key == "" {
		return core.ErrConfig(core.CodeInvalidConfig, "template key is required")
	}
	if t.ProcessType == "" {
		t.ProcessType = core.StrategySequential
	}
	if !t.ProcessType.Valid() {
		return t.invalid("unknown process type %q", t.ProcessType)
	}
	if len(t.Steps) == 0 {
		return t.invalid("no steps")
	}
	seen := make(map[string]bool, len(t.Steps))
	for _, s := range t.Steps {
		if s.Name == "" {
			return t.invalid("step without a name")
		}
		if seen[s.Name] {
			return t.invalid("duplicate step %q", s.Name)
		}
		seen[s.Name] = true
		if s.Role == "" {
			return t.invalid("step %q has no role", s.Name)
		}
		if _, ok := t.Roles[s.Role]; !ok {
			return t.invalid("step %q uses role %q, which is not bound", s.Name, s.Role)
		}
		if _, err := core.CollectReferences(s.Inputs); err != nil {
			return t.invalid("step %q: %v", s.Name, err)
		}
		if s.Condition != "" {
			if _, err := workflow.CompileCondition(s.Condition); err != nil {
				return t.invalid("step %q: %v", s.Name, err)
			}
		}
	}
	return nil
}

func (t *Template) invalid(format string, args ...any) error {
	return core.ErrConfig(core.CodeInvalidConfig,
		fmt.Sprintf("template %s: ", t.Key)+fmt.Sprintf(format, args...))
}

// RoleKeys returns the distinct roles used by the steps, in step order.
func (t *Template) RoleKeys() []string {
	var keys []string
	seen := make(map[string]bool)
	for _, s := range t.Steps {
		if !seen[s.Role] {
			seen[s.Role] = true
			keys = append(keys, s.Role)
		}
	}
	return keys
}

// StepNames returns the step names in declaration order.
func (t *Template) StepNames() []string {
	names := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		names[i] = s.Name
	}
	return names
}

// Inputs merges user inputs over the template defaults and checks that
// every required input and every $input key used by a step is present.
func (t *Template) Inputs(user map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(t.Defaults)+len(user))
	for k, v := range t.Defaults {
		merged[k] = cloneValue(v)
	}
	maps.Copy(merged, user)

	for _, key := range t.RequiredInputs {
		if v, ok := merged[key]; !ok || v == nil {
			return nil, core.ErrInvalidInput(core.CodeMissingInput,
				fmt.Sprintf("workflow %s requires input %q", t.Key, key)).WithDetail("input", key)
		}
	}
	for _, s := range t.Steps {
		refs, err := core.CollectReferences(s.Inputs)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if ref.Step != core.InputStep {
				continue
			}
			if _, ok := core.Lookup(merged, ref.Path()); !ok {
				return nil, core.ErrInvalidInput(core.CodeMissingInput,
					fmt.Sprintf("step %s needs input %q", s.Name, ref.Key)).WithDetail("input", ref.Key)
			}
		}
	}
	return merged, nil
}

// Build turns the template into a workflow spec for the given user inputs.
func (t *Template) Build(user map[string]any) (core.WorkflowSpec, error) {
	inputs, err := t.Inputs(user)
	if err != nil {
		return core.WorkflowSpec{}, err
	}
	spec := core.WorkflowSpec{
		Name:     t.Key,
		Strategy: t.ProcessType,
		Roles:    maps.Clone(t.Roles),
		Inputs:   inputs,
		Steps:    make([]core.StepSpec, 0, len(t.Steps)),
	}
	for _, s := range t.Steps {
		stepInputs, _ := cloneValue(s.Inputs).(map[string]any)
		if len(s.Inputs) == 0 {
			stepInputs = passThrough(inputs)
		}
		step := core.NewStepSpec(s.Name, s.Role, stepInputs)
		if s.MaxRetries != nil {
			step.MaxRetries = *s.MaxRetries
		}
		if s.TimeoutSeconds > 0 {
			step.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
		}
		if s.Condition != "" {
			cond, err := workflow.CompileCondition(s.Condition)
			if err != nil {
				return core.WorkflowSpec{}, err
			}
			step.Condition = cond
		}
		spec.Steps = append(spec.Steps, step)
	}
	return spec, nil
}

// passThrough references every user input by key, so steps declared
// without inputs see the workflow inputs.
func passThrough(inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k := range inputs {
		ref := core.ReferencePrefix + core.InputStep + "." + k
		if _, err := core.ParseReference(ref); err == nil {
			out[k] = ref
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *Template) Clone() *Template {
	cp := *t
	cp.Roles = maps.Clone(t.Roles)
	cp.RequiredInputs = append([]string(nil), t.RequiredInputs...)
	cp.Defaults, _ = cloneValue(t.Defaults).(map[string]any)
	cp.Steps = make([]Step, len(t.Steps))
	for i, s := range t.Steps {
		s.Inputs, _ = cloneValue(s.Inputs).(map[string]any)
		if s.MaxRetries != nil {
			n := *s.MaxRetries
			s.MaxRetries = &n
		}
		cp.Steps[i] = s
	}
	return &cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
