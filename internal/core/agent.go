package core

import (
	"fmt"
	"maps"
	"time"
)

// AgentStateKind is a state of the agent state machine.
type AgentStateKind string

const (
	AgentIdle         AgentStateKind = "idle"
	AgentPlanning     AgentStateKind = "planning"
	AgentAnalyzing    AgentStateKind = "analyzing"
	AgentImplementing AgentStateKind = "implementing"
	AgentTesting      AgentStateKind = "testing"
	AgentValidating   AgentStateKind = "validating"
	AgentError        AgentStateKind = "error"
)

var agentTransitions = map[AgentStateKind][]AgentStateKind{
	AgentIdle:         {AgentPlanning, AgentAnalyzing},
	AgentPlanning:     {AgentAnalyzing},
	AgentAnalyzing:    {AgentImplementing},
	AgentImplementing: {AgentTesting},
	AgentTesting:      {AgentValidating, AgentImplementing},
}

// CanTransition reports whether the state machine allows from -> to.
// Any state may move to error; error only leaves through Reset. A
// transition to the current state is a no-op and always allowed outside error.
func CanTransition(from, to AgentStateKind) bool {
	if to == AgentError {
		return true
	}
	if from == AgentError {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range agentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResourcePaths locates the auxiliary resources of an agent.
type ResourcePaths struct {
	Prompts   string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Memory    string `json:"memory,omitempty" yaml:"memory,omitempty"`
	Knowledge string `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
}

// AgentConfig is the immutable configuration of one agent instance.
type AgentConfig struct {
	Name           string          `json:"name" yaml:"name"`
	Version        string          `json:"version" yaml:"version"`
	Description    string          `json:"description" yaml:"description"`
	Role           string          `json:"role" yaml:"role"`
	Model          ModelParams     `json:"model_parameters" yaml:"model_parameters"`
	MaxRetries     int             `json:"max_retries" yaml:"max_retries"`
	Tools          map[string]bool `json:"tool_flags,omitempty" yaml:"tool_flags,omitempty"`
	Resources      ResourcePaths   `json:"resource_paths" yaml:"resource_paths"`
	AutoFix        bool            `json:"auto_fix" yaml:"auto_fix"`
	MaxFixAttempts int             `json:"max_fix_attempts" yaml:"max_fix_attempts"`
}

// DefaultAgentConfig returns a config for the given name and role.
func DefaultAgentConfig(name, role string) AgentConfig {
	return AgentConfig{
		Name:           name,
		Version:        "1.0.0",
		Description:    fmt.Sprintf("%s agent", role),
		Role:           role,
		Model:          DefaultModelParams(),
		MaxRetries:     3,
		Tools:          map[string]bool{},
		AutoFix:        true,
		MaxFixAttempts: 1,
	}
}

// Validate checks the config invariants.
func (c AgentConfig) Validate() error {
	if c.Name == "" {
		return ErrInvalidInput(CodeInvalidConfig, "agent name is required")
	}
	if c.MaxRetries < 0 {
		return ErrInvalidInput(CodeInvalidConfig, "max_retries must not be negative")
	}
	if c.MaxFixAttempts < 0 {
		return ErrInvalidInput(CodeInvalidConfig, "max_fix_attempts must not be negative")
	}
	return c.Model.Validate()
}

// ToolEnabled reports whether the agent may use a tool.
func (c AgentConfig) ToolEnabled(tool string) bool {
	return c.Tools[tool]
}

// Clone returns a deep copy.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	out.Tools = maps.Clone(c.Tools)
	if c.Model.Stop != nil {
		out.Model.Stop = append([]string(nil), c.Model.Stop...)
	}
	return out
}

// AgentConfigPatch holds optional overrides applied by Merge.
type AgentConfigPatch struct {
	Name           *string
	Version        *string
	Description    *string
	Role           *string
	Temperature    *float64
	MaxTokens      *int
	ModelName      *string
	MaxRetries     *int
	Tools          map[string]bool
	AutoFix        *bool
	MaxFixAttempts *int
}

// Merge returns a new config with the patch applied. The receiver is untouched.
func (c AgentConfig) Merge(p AgentConfigPatch) AgentConfig {
	out := c.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Version != nil {
		out.Version = *p.Version
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Role != nil {
		out.Role = *p.Role
	}
	if p.Temperature != nil {
		out.Model.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		out.Model.MaxTokens = *p.MaxTokens
	}
	if p.ModelName != nil {
		out.Model.ModelName = *p.ModelName
	}
	if p.MaxRetries != nil {
		out.MaxRetries = *p.MaxRetries
	}
	if p.AutoFix != nil {
		out.AutoFix = *p.AutoFix
	}
	if p.MaxFixAttempts != nil {
		out.MaxFixAttempts = *p.MaxFixAttempts
	}
	if len(p.Tools) > 0 {
		if out.Tools == nil {
			out.Tools = make(map[string]bool, len(p.Tools))
		}
		maps.Copy(out.Tools, p.Tools)
	}
	return out
}

// AgentState is a snapshot of an agent's mutable runtime state.
type AgentState struct {
	Current        AgentStateKind `json:"current_state"`
	Last           AgentStateKind `json:"last_state"`
	ChangedAt      time.Time      `json:"state_change_time"`
	ErrorCount     int            `json:"error_count"`
	ExecutionCount int            `json:"execution_count"`
	LastActivity   time.Time      `json:"last_activity"`
	Data           map[string]any `json:"stored_data"`
}

// NewAgentState returns the initial state.
func NewAgentState() AgentState {
	now := time.Now()
	return AgentState{
		Current:      AgentIdle,
		Last:         AgentIdle,
		ChangedAt:    now,
		LastActivity: now,
		Data:         make(map[string]any),
	}
}
