package config

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/templates"
)

// AgentDocument is the persisted agent configuration: profiles per agent
// type with workflow overrides, role settings and tool switches.
type AgentDocument struct {
	AgentEnabled  bool                     `json:"AGENT_ENABLED"`
	CurrentAgent  string                   `json:"CURRENT_AGENT"`
	AgentConfig   map[string]any           `json:"AGENT_CONFIG"`
	AgentProfiles map[string]*AgentProfile `json:"AGENT_PROFILES"`
}

// AgentProfile configures one agent type.
type AgentProfile struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	Config      ProfileSettings `json:"config"`
}

// ProfileSettings groups the per-profile overrides.
type ProfileSettings struct {
	Workflows map[string]*WorkflowSettings `json:"workflows"`
	Roles     map[string]*RoleSettings     `json:"roles"`
	Tools     map[string]bool              `json:"tools"`
}

// WorkflowSettings overrides or defines a workflow template.
type WorkflowSettings struct {
	Enabled     bool     `json:"enabled"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	// Roles maps step names to role keys.
	Roles       map[string]string `json:"roles"`
	ProcessType string            `json:"process_type,omitempty"`
}

// RoleSettings tunes the agents serving a role.
type RoleSettings struct {
	Enabled          bool     `json:"enabled"`
	Temperature      float64  `json:"temperature"`
	Description      string   `json:"description"`
	Responsibilities []string `json:"responsibilities"`
}

// Override converts the settings into a template override.
func (w *WorkflowSettings) Override() templates.Override {
	enabled := w.Enabled
	return templates.Override{
		Enabled:     &enabled,
		Name:        w.Name,
		Description: w.Description,
		Steps:       slices.Clone(w.Steps),
		Roles:       maps.Clone(w.Roles),
		ProcessType: w.ProcessType,
	}
}

// Validate checks the document invariants.
func (d *AgentDocument) Validate() error {
	if d.AgentEnabled && d.CurrentAgent == "" {
		return core.ErrConfig(core.CodeInvalidConfig, "CURRENT_AGENT is required when AGENT_ENABLED is set")
	}
	if d.CurrentAgent != "" {
		if _, ok := d.AgentProfiles[d.CurrentAgent]; !ok {
			return core.ErrConfig(core.CodeProfileNotFound,
				fmt.Sprintf("CURRENT_AGENT %q has no profile", d.CurrentAgent))
		}
	}
	for agentType, p := range d.AgentProfiles {
		if p == nil {
			return core.ErrConfig(core.CodeInvalidConfig, fmt.Sprintf("profile %q is empty", agentType))
		}
		for key, w := range p.Config.Workflows {
			if w == nil {
				return core.ErrConfig(core.CodeInvalidConfig,
					fmt.Sprintf("profile %q: workflow %q is empty", agentType, key))
			}
			if w.ProcessType != "" && !core.Strategy(w.ProcessType).Valid() {
				return core.ErrConfig(core.CodeInvalidConfig,
					fmt.Sprintf("profile %q: workflow %q: unknown process_type %q", agentType, key, w.ProcessType))
			}
		}
		for role, r := range p.Config.Roles {
			if r == nil {
				return core.ErrConfig(core.CodeInvalidConfig,
					fmt.Sprintf("profile %q: role %q is empty", agentType, role))
			}
			if r.Temperature < core.MinTemperature || r.Temperature > core.MaxTemperature {
				return core.ErrConfig(core.CodeInvalidTemperature,
					fmt.Sprintf("profile %q: role %q: temperature %.2f outside [0, 2]", agentType, role, r.Temperature))
			}
		}
	}
	return nil
}

// Profile returns the profile for agentType, or the current agent's profile
// when agentType is empty.
func (d *AgentDocument) Profile(agentType string) (*AgentProfile, error) {
	if !d.AgentEnabled {
		return nil, core.ErrConfig(core.CodeInvalidConfig, "agent profiles are disabled (AGENT_ENABLED=false)")
	}
	if agentType == "" {
		agentType = d.CurrentAgent
	}
	p, ok := d.AgentProfiles[agentType]
	if !ok {
		return nil, core.ErrConfig(core.CodeProfileNotFound,
			fmt.Sprintf("no agent profile %q (available: %v)", agentType, d.ProfileNames())).
			WithDetail("agent", agentType)
	}
	if !p.Enabled {
		return nil, core.ErrConfig(core.CodeInvalidConfig, fmt.Sprintf("agent profile %q is disabled", agentType)).
			WithDetail("agent", agentType)
	}
	return p, nil
}

// ProfileNames lists profile keys in sorted order.
func (d *AgentDocument) ProfileNames() []string {
	names := make([]string, 0, len(d.AgentProfiles))
	for name := range d.AgentProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Workflow returns the workflow settings of a profile.
func (d *AgentDocument) Workflow(agentType, key string) (*WorkflowSettings, error) {
	p, err := d.Profile(agentType)
	if err != nil {
		return nil, err
	}
	w, ok := p.Config.Workflows[key]
	if !ok {
		return nil, core.ErrConfig(core.CodeTemplateNotFound,
			fmt.Sprintf("profile %q has no workflow %q", agentType, key)).WithDetail("template", key)
	}
	return w, nil
}

// Role returns the role settings of a profile.
func (d *AgentDocument) Role(agentType, role string) (*RoleSettings, error) {
	p, err := d.Profile(agentType)
	if err != nil {
		return nil, err
	}
	r, ok := p.Config.Roles[role]
	if !ok {
		return nil, core.ErrConfig(core.CodeRoleUnbound,
			fmt.Sprintf("profile %q has no role %q", agentType, role)).WithDetail("role", role)
	}
	return r, nil
}

// ApplyTo merges the profile's workflows into a copy of reg.
func (d *AgentDocument) ApplyTo(reg *templates.Registry, agentType string) (*templates.Registry, error) {
	p, err := d.Profile(agentType)
	if err != nil {
		return nil, err
	}
	out := reg.Clone()
	keys := make([]string, 0, len(p.Config.Workflows))
	for key := range p.Config.Workflows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := out.Apply(key, p.Config.Workflows[key].Override()); err != nil {
			return nil, fmt.Errorf("applying workflow %s of profile %s: %w", key, agentType, err)
		}
	}
	return out, nil
}

// DefaultRoleTemperatures are seeded into new documents.
var DefaultRoleTemperatures = map[string]float64{
	"architect": 0.3,
	"developer": 0.2,
	"debugger":  0.2,
	"tester":    0.2,
	"reviewer":  0.3,
	"judge":     0,
}

// DefaultAgentType is the profile selected by new documents.
const DefaultAgentType = "crew"

// DefaultDocument seeds a document from the built-in templates: one enabled
// profile for the crew carrying every workflow and role.
func DefaultDocument(reg *templates.Registry) *AgentDocument {
	settings := ProfileSettings{
		Workflows: make(map[string]*WorkflowSettings),
		Roles:     make(map[string]*RoleSettings),
		Tools:     map[string]bool{"code_formatter": true, "doc_generator": true},
	}
	for _, t := range reg.List() {
		roles := make(map[string]string, len(t.Steps))
		for _, s := range t.Steps {
			roles[s.Name] = s.Role
		}
		settings.Workflows[t.Key] = &WorkflowSettings{
			Enabled:     t.Enabled,
			Name:        t.Name,
			Description: t.Description,
			Steps:       t.StepNames(),
			Roles:       roles,
			ProcessType: string(t.ProcessType),
		}
		for _, role := range t.RoleKeys() {
			if _, ok := settings.Roles[role]; ok {
				continue
			}
			temp, ok := DefaultRoleTemperatures[role]
			if !ok {
				temp = core.DefaultTemperature
			}
			settings.Roles[role] = &RoleSettings{
				Enabled:          true,
				Temperature:      temp,
				Description:      fmt.Sprintf("%s of the crew", role),
				Responsibilities: []string{},
			}
		}
	}
	return &AgentDocument{
		AgentEnabled: true,
		CurrentAgent: DefaultAgentType,
		AgentConfig:  map[string]any{"version": "1"},
		AgentProfiles: map[string]*AgentProfile{
			DefaultAgentType: {
				Name:        "Crew",
				Description: "Fixed team of architect, developer, analyst and integrator",
				Enabled:     true,
				Config:      settings,
			},
		},
	}
}
