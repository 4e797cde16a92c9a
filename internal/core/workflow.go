package core

import (
	"context"
	"time"
)

// WorkflowID uniquely identifies a workflow run.
type WorkflowID string

// Strategy selects how a workflow's steps are scheduled.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategySequential || s == StrategyParallel
}

// StepState is the runtime state of a step.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
	StepCancelled StepState = "cancelled"
	StepSkipped   StepState = "skipped"
)

// Done reports whether the state counts as success for the workflow.
func (s StepState) Done() bool {
	return s == StepCompleted || s == StepSkipped
}

// Terminal reports whether no further transitions happen without a retry.
func (s StepState) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCancelled, StepSkipped:
		return true
	}
	return false
}

// WorkflowState is the runtime state of a workflow.
type WorkflowState string

const (
	WorkflowPending   WorkflowState = "pending"
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
)

// Terminal reports whether the workflow has finished.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// Defaults for step specs.
const (
	DefaultStepMaxRetries = 3
	DefaultStepTimeout    = 300 * time.Second
)

// Condition gates a step on its resolved inputs. Implementations must be pure.
type Condition interface {
	Evaluate(inputs map[string]any) (bool, error)
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(inputs map[string]any) (bool, error)

// Evaluate calls f(inputs).
func (f ConditionFunc) Evaluate(inputs map[string]any) (bool, error) {
	return f(inputs)
}

// SuccessHook runs after a step completes.
type SuccessHook func(ctx context.Context, output map[string]any) error

// FailureHook runs after a failed attempt, before the retry.
type FailureHook func(ctx context.Context, err error) error

// StepSpec declares one step of a workflow.
type StepSpec struct {
	Name       string
	AgentRef   string
	Inputs     map[string]any
	Condition  Condition
	OnSuccess  SuccessHook
	OnFailure  FailureHook
	MaxRetries int
	Timeout    time.Duration
}

// NewStepSpec returns a spec with default retries and timeout.
func NewStepSpec(name, agentRef string, inputs map[string]any) StepSpec {
	return StepSpec{
		Name:       name,
		AgentRef:   agentRef,
		Inputs:     inputs,
		MaxRetries: DefaultStepMaxRetries,
		Timeout:    DefaultStepTimeout,
	}
}

// StepInstance is the runtime record of a step.
type StepInstance struct {
	Name        string
	AgentRef    string
	State       StepState
	Inputs      map[string]any
	Output      map[string]any
	Err         error
	Attempts    int
	StartedAt   *time.Time
	FinishedAt  *time.Time
	HookWarning string
}

// WorkflowSpec is an ordered list of steps plus scheduling and role bindings.
type WorkflowSpec struct {
	Name        string
	Steps       []StepSpec
	Strategy    Strategy
	Roles       map[string]string
	MaxParallel int
	// Inputs are the user inputs, visible to steps as $input.<key>.
	Inputs map[string]any
}

// Binding returns the agent bound to a role, defaulting to the role itself.
func (s WorkflowSpec) Binding(role string) string {
	if id, ok := s.Roles[role]; ok && id != "" {
		return id
	}
	return role
}

// WorkflowInstance is the runtime record of a workflow run.
type WorkflowInstance struct {
	ID              WorkflowID
	Name            string
	State           WorkflowState
	Steps           []*StepInstance
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CancelRequested bool
	Outputs         map[string]map[string]any
}

// StepStatus is the externally visible status of one step.
type StepStatus struct {
	Name        string    `json:"name"`
	State       StepState `json:"state"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Attempts    int       `json:"attempts"`
	HookWarning string    `json:"hook_warning,omitempty"`
}

// FailureInfo names the first failing step.
type FailureInfo struct {
	Step  string    `json:"step"`
	Kind  ErrorKind `json:"kind"`
	Error string    `json:"error"`
}

// WorkflowStatus is a consistent snapshot of a workflow run.
type WorkflowStatus struct {
	ID           WorkflowID    `json:"id"`
	Name         string        `json:"name"`
	State        WorkflowState `json:"state"`
	CurrentStep  string        `json:"current_step,omitempty"`
	Steps        []StepStatus  `json:"steps"`
	FirstFailure *FailureInfo  `json:"first_failure,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// Step returns the status of the named step.
func (s WorkflowStatus) Step(name string) (StepStatus, bool) {
	for _, st := range s.Steps {
		if st.Name == name {
			return st, true
		}
	}
	return StepStatus{}, false
}

type stepKey struct{}

// WithStep annotates ctx with the name of the step being executed.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey{}, step)
}

// StepFrom returns the step name stored by WithStep.
func StepFrom(ctx context.Context) string {
	s, _ := ctx.Value(stepKey{}).(string)
	return s
}
