package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/templates"
	"github.com/hugo-lorenzo-mato/crewflow/internal/workflow"
)

// Crew tools.
const (
	ToolCodeFormatter = "code_formatter"
	ToolDocGenerator  = "doc_generator"
)

// crewMember describes one fixed seat of the crew.
type crewMember struct {
	name  string
	tools []string
	build func(cfg core.AgentConfig, deps Deps) (Agent, error)
}

var crewTeam = []crewMember{
	{name: "architect", tools: []string{ToolDocGenerator}, build: func(cfg core.AgentConfig, deps Deps) (Agent, error) {
		return NewArchitect(cfg, deps)
	}},
	{name: "developer", tools: []string{ToolCodeFormatter}, build: func(cfg core.AgentConfig, deps Deps) (Agent, error) {
		return NewDeveloper(cfg, deps)
	}},
	{name: "analyst", tools: []string{ToolDocGenerator}, build: func(cfg core.AgentConfig, deps Deps) (Agent, error) {
		return NewRoleAgent(cfg, deps)
	}},
	{name: "integrator", tools: []string{ToolCodeFormatter, ToolDocGenerator}, build: func(cfg core.AgentConfig, deps Deps) (Agent, error) {
		return NewRoleAgent(cfg, deps)
	}},
}

// crewRoles maps template roles onto crew members.
var crewRoles = map[string]string{
	"architect":  "architect",
	"developer":  "developer",
	"debugger":   "developer",
	"tester":     "developer",
	"analyst":    "analyst",
	"reviewer":   "analyst",
	"writer":     "analyst",
	"judge":      "analyst",
	"integrator": "integrator",
}

// Task is one planned step and the crew member that will run it.
type Task struct {
	Step   string `json:"step"`
	Role   string `json:"role"`
	Member string `json:"member"`
}

// Plan is a crew-bound workflow ready for the engine.
type Plan struct {
	Workflow string
	Spec     core.WorkflowSpec
	Tasks    []Task
}

// Crew is a meta-agent owning a fixed team. It turns a workflow key into a
// plan whose roles are bound to its members; the engine executes the plan.
type Crew struct {
	*Base
	members map[string]Agent
}

// NewCrew creates the crew and its members. Members share deps and inherit
// the crew's model parameters.
func NewCrew(cfg core.AgentConfig, deps Deps) (*Crew, error) {
	if deps.Templates == nil {
		reg, err := templates.Load()
		if err != nil {
			return nil, err
		}
		deps.Templates = reg
	}
	c := &Crew{members: make(map[string]Agent, len(crewTeam))}
	base, err := NewBase(cfg, c, deps)
	if err != nil {
		return nil, err
	}
	c.Base = base

	for _, m := range crewTeam {
		mcfg := core.DefaultAgentConfig(fmt.Sprintf("%s-%s", base.Name(), m.name), m.name)
		mcfg.Description = fmt.Sprintf("%s of crew %s", m.name, base.Name())
		mcfg.Model = base.Config().Model
		for _, tool := range m.tools {
			mcfg.Tools[tool] = true
		}
		member, err := m.build(mcfg, base.Deps())
		if err != nil {
			return nil, fmt.Errorf("creating crew member %s: %w", m.name, err)
		}
		member.Activate()
		c.members[m.name] = member
	}
	return c, nil
}

func (c *Crew) DefaultRole() string { return "crew" }

// Member returns the crew member with the given name.
func (c *Crew) Member(name string) (Agent, bool) {
	m, ok := c.members[name]
	return m, ok
}

// Members lists member names in sorted order.
func (c *Crew) Members() []string {
	names := make([]string, 0, len(c.members))
	for name := range c.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MemberFor returns the member name serving a template role.
func (c *Crew) MemberFor(role string) (string, bool) {
	if name, ok := crewRoles[role]; ok {
		return name, true
	}
	if _, ok := c.members[role]; ok {
		return role, true
	}
	return "", false
}

// Resolve implements workflow.Resolver over the crew members.
func (c *Crew) Resolve(agentID string) (workflow.Runner, error) {
	if m, ok := c.members[agentID]; ok {
		return m, nil
	}
	return nil, core.ErrConfig(core.CodeRoleUnbound,
		fmt.Sprintf("crew %s has no member %q", c.Name(), agentID))
}

// Plan builds the workflow for key and binds each role to a crew member.
func (c *Crew) Plan(key string, inputs map[string]any) (*Plan, error) {
	tmpl, err := c.Deps().Templates.Get(key)
	if err != nil {
		return nil, err
	}
	spec, err := tmpl.Build(inputs)
	if err != nil {
		return nil, err
	}
	spec.Roles = make(map[string]string, len(tmpl.Roles))
	for _, role := range tmpl.RoleKeys() {
		member, ok := c.MemberFor(role)
		if !ok {
			return nil, core.ErrConfig(core.CodeRoleUnbound,
				fmt.Sprintf("no crew member can act as %s", role)).WithDetail("role", role)
		}
		spec.Roles[role] = member
	}
	plan := &Plan{Workflow: key, Spec: spec, Tasks: make([]Task, 0, len(spec.Steps))}
	for _, s := range spec.Steps {
		plan.Tasks = append(plan.Tasks, Task{Step: s.Name, Role: s.AgentRef, Member: spec.Roles[s.AgentRef]})
	}
	return plan, nil
}

func (c *Crew) Messages(inputs map[string]any) ([]core.Message, error) {
	if stringValue(inputs["workflow"]) == "" {
		return nil, core.ErrInvalidInput(core.CodeMissingInput, "crew needs a workflow key")
	}
	return inputMessages(c.Config(), inputs)
}

// Run plans the requested workflow. It does not execute it.
func (c *Crew) Run(_ context.Context, run *Run) (map[string]any, error) {
	if err := run.Transition(core.AgentPlanning); err != nil {
		return nil, err
	}
	key := stringValue(run.Inputs["workflow"])
	if key == "" {
		return nil, core.ErrInvalidInput(core.CodeMissingInput, "crew needs a workflow key")
	}
	userInputs, _ := run.Inputs["inputs"].(map[string]any)
	plan, err := c.Plan(key, userInputs)
	if err != nil {
		return nil, err
	}

	steps := make([]any, 0, len(plan.Tasks))
	roles := make(map[string]any, len(plan.Tasks))
	for _, t := range plan.Tasks {
		steps = append(steps, t.Step)
		roles[t.Step] = t.Member
	}
	text, err := c.Deps().Prompts.Render("crew", "plan", map[string]any{
		"workflow": key,
		"steps":    steps,
		"roles":    roles,
		"inputs":   userInputs,
	})
	if err != nil {
		return nil, err
	}
	c.Store("last_plan", key)
	return map[string]any{
		"workflow": key,
		"steps":    steps,
		"roles":    roles,
		"tasks":    toGeneric(plan.Tasks),
		"plan":     text,
	}, nil
}
