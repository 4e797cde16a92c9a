package events

import "time"

// Event type constants.
const (
	TypeWorkflowStarted   = "workflow_started"
	TypeWorkflowCompleted = "workflow_completed"
	TypeWorkflowFailed    = "workflow_failed"
	TypeWorkflowCancelled = "workflow_cancelled"
	TypeStepState         = "step_state"
	TypeStepRetry         = "step_retry"
	TypeHookWarning       = "hook_warning"
	TypeAgentState        = "agent_state"
)

// WorkflowEvent reports a workflow-level transition.
type WorkflowEvent struct {
	BaseEvent
	Name     string        `json:"name"`
	State    string        `json:"state"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// NewWorkflowEvent creates a workflow event of the given type.
func NewWorkflowEvent(eventType, workflowID, name, state string) WorkflowEvent {
	return WorkflowEvent{
		BaseEvent: NewBaseEvent(eventType, workflowID),
		Name:      name,
		State:     state,
	}
}

// IsTerminal reports whether the event ends a workflow.
func (e WorkflowEvent) IsTerminal() bool {
	switch e.Type {
	case TypeWorkflowCompleted, TypeWorkflowFailed, TypeWorkflowCancelled:
		return true
	}
	return false
}

// StepEvent reports a step transition, a scheduled retry or a hook warning.
type StepEvent struct {
	BaseEvent
	Step      string        `json:"step"`
	State     string        `json:"state"`
	Attempt   int           `json:"attempt"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
}

// NewStepEvent creates a step event.
func NewStepEvent(eventType, workflowID, step, state string, attempt int) StepEvent {
	return StepEvent{
		BaseEvent: NewBaseEvent(eventType, workflowID),
		Step:      step,
		State:     state,
		Attempt:   attempt,
	}
}

// AgentStateEvent reports an agent state-machine transition.
type AgentStateEvent struct {
	BaseEvent
	Agent string `json:"agent"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// NewAgentStateEvent creates an agent state event. Agents are not tied to a
// workflow, so the workflow ID is optional.
func NewAgentStateEvent(workflowID, agent, from, to string) AgentStateEvent {
	return AgentStateEvent{
		BaseEvent: NewBaseEvent(TypeAgentState, workflowID),
		Agent:     agent,
		From:      from,
		To:        to,
	}
}
