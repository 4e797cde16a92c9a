package agent

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/graph"
)

// IssueCircularDependencies is reported when the component graph has a cycle.
const IssueCircularDependencies = "Circular dependencies detected"

// Component is one building block of a design.
type Component struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Interfaces are provided by the component.
	Interfaces []string `json:"interfaces"`
	// Requires lists interfaces the component consumes.
	Requires     []string `json:"requires,omitempty"`
	Dependencies []string `json:"dependencies"`
}

// DataFlow is a directed data exchange between two components.
type DataFlow struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Design is the architect's structured output.
type Design struct {
	Components []Component    `json:"components"`
	DataFlows  []DataFlow     `json:"data_flows"`
	APISpecs   map[string]any `json:"api_specs"`
}

// DesignCheck is the outcome of validating a design.
type DesignCheck struct {
	Issues []string
	// Cycle holds the nodes of the first detected cycle, closed on its start.
	Cycle []string
}

// OK reports whether the design passed every check.
func (c DesignCheck) OK() bool {
	return len(c.Issues) == 0
}

// ValidateDesign checks that the dependency graph is acyclic, that every
// required interface is provided, and that data flows connect known components.
func ValidateDesign(d Design) DesignCheck {
	var check DesignCheck
	dag := graph.New()
	provided := make(map[string]bool)

	for _, c := range d.Components {
		if c.Name == "" {
			check.Issues = append(check.Issues, "Component without a name")
			continue
		}
		if err := dag.AddNode(c.Name); err != nil {
			check.Issues = append(check.Issues, fmt.Sprintf("Duplicate component %s", c.Name))
			continue
		}
		for _, iface := range c.Interfaces {
			provided[iface] = true
		}
	}

	for _, c := range d.Components {
		for _, dep := range c.Dependencies {
			if !dag.Has(dep) {
				check.Issues = append(check.Issues,
					fmt.Sprintf("Component %s depends on unknown component %s", c.Name, dep))
				continue
			}
			_ = dag.AddDependency(c.Name, dep)
		}
	}
	if cycle := dag.FindCycle(); len(cycle) > 0 {
		check.Cycle = cycle
		check.Issues = append(check.Issues, IssueCircularDependencies)
	}

	for _, c := range d.Components {
		for _, iface := range c.Requires {
			if !provided[iface] {
				check.Issues = append(check.Issues,
					fmt.Sprintf("Interface %s required by %s is not provided by any component", iface, c.Name))
			}
		}
	}

	for _, f := range d.DataFlows {
		if !dag.Has(f.Source) {
			check.Issues = append(check.Issues, fmt.Sprintf("Data flow source %s is not a component", f.Source))
		}
		if !dag.Has(f.Target) {
			check.Issues = append(check.Issues, fmt.Sprintf("Data flow target %s is not a component", f.Target))
		}
	}
	return check
}

// Architect designs components, interfaces and data flows from requirements.
type Architect struct {
	*Base
	model *ModelCaller
}

// NewArchitect creates an architect agent.
func NewArchitect(cfg core.AgentConfig, deps Deps) (*Architect, error) {
	a := &Architect{}
	base, err := NewBase(cfg, a, deps)
	if err != nil {
		return nil, err
	}
	a.Base = base
	a.model = NewModelCaller(base.Deps())
	return a, nil
}

func (a *Architect) DefaultRole() string { return "architect" }

// Messages renders the design prompt.
func (a *Architect) Messages(inputs map[string]any) ([]core.Message, error) {
	reqs := requirementsOf(inputs)
	if len(reqs) == 0 {
		return nil, core.ErrInvalidInput(core.CodeMissingInput, "architect needs requirements")
	}
	prompt, err := a.Deps().Prompts.Render("architect", "design", map[string]any{
		"requirements": reqs,
		"constraints":  stringList(inputs["constraints"]),
		"context":      inputs["context"],
	})
	if err != nil {
		return nil, err
	}
	return []core.Message{systemPrompt(a.Config()), core.UserMessage(prompt)}, nil
}

// Run asks the model for a design and validates it.
func (a *Architect) Run(ctx context.Context, run *Run) (map[string]any, error) {
	if err := run.Transition(core.AgentPlanning); err != nil {
		return nil, err
	}
	reply, err := a.model.Call(ctx, run.Messages, a.Config().Model)
	if err != nil {
		return nil, err
	}
	if err := run.Transition(core.AgentAnalyzing); err != nil {
		return nil, err
	}

	var design Design
	if err := DecodeJSON(reply, &design); err != nil {
		return nil, err
	}
	if len(design.Components) == 0 {
		return nil, core.ErrOutputFormat("design has no components")
	}

	check := ValidateDesign(design)
	if !check.OK() {
		_ = run.Transition(core.AgentError)
		a.Store("last_design_issues", check.Issues)
		derr := core.ErrWorkflow(core.CodeDesignInvalid, "design validation failed: "+check.Issues[0]).
			WithDetail("issues", check.Issues)
		if len(check.Cycle) > 0 {
			derr = derr.WithDetail("cycle", check.Cycle)
		}
		return nil, derr
	}

	if design.APISpecs == nil {
		design.APISpecs = map[string]any{}
	}
	return map[string]any{
		"components": toGeneric(design.Components),
		"data_flows": toGeneric(design.DataFlows),
		"api_specs":  design.APISpecs,
		"issues":     []any{},
	}, nil
}

// requirementsOf reads requirements, falling back to a task or raw content.
func requirementsOf(inputs map[string]any) []string {
	if reqs := stringList(inputs["requirements"]); len(reqs) > 0 {
		return reqs
	}
	if task := stringList(inputs["task"]); len(task) > 0 {
		return task
	}
	return stringList(inputs["content"])
}
