// Package agent implements the agent runtime: a shared Base carrying the
// configuration, state machine and error accounting, and per-role strategies
// plugged into it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/events"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
	"github.com/hugo-lorenzo-mato/crewflow/internal/prompts"
	"github.com/hugo-lorenzo-mato/crewflow/internal/templates"
	"github.com/hugo-lorenzo-mato/crewflow/internal/validation"
)

// Agent is the capability every agent variant offers.
type Agent interface {
	Name() string
	Role() string
	Config() core.AgentConfig
	State() core.AgentState
	IsActive() bool
	Activate()
	Deactivate()
	// Process runs the agent on a conversation.
	Process(ctx context.Context, messages []core.Message) (map[string]any, error)
	// Execute runs the agent on resolved step inputs.
	Execute(ctx context.Context, inputs map[string]any) (map[string]any, error)
	Reset()
}

// Strategy is the role-specific part of an agent.
type Strategy interface {
	// DefaultRole is the role key used when the config names none.
	DefaultRole() string
	// Messages renders step inputs into the conversation sent to Process.
	Messages(inputs map[string]any) ([]core.Message, error)
	// Run produces the structured output of one invocation.
	Run(ctx context.Context, run *Run) (map[string]any, error)
}

// Run is the state of one Process invocation.
type Run struct {
	Messages []core.Message
	Inputs   map[string]any
	base     *Base
}

// Transition moves the running agent along its state machine.
func (r *Run) Transition(to core.AgentStateKind) error {
	return r.base.Transition(to)
}

// Deps are the collaborators injected into every agent.
type Deps struct {
	Model     core.ModelPort
	Executor  core.ExecutorPort
	RateLimit core.RateLimitHook
	Prompts   *prompts.Registry
	Suite     *validation.Suite
	Templates *templates.Registry
	Bus       *events.Bus
	Logger    *logging.Logger
	// ExecTimeout bounds each executor run. Zero means DefaultExecTimeout.
	ExecTimeout time.Duration
}

// DefaultExecTimeout bounds test runs when Deps.ExecTimeout is unset.
const DefaultExecTimeout = 60 * time.Second

func (d Deps) withDefaults() (Deps, error) {
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Prompts == nil {
		reg, err := prompts.New()
		if err != nil {
			return d, err
		}
		d.Prompts = reg
	}
	if d.Suite == nil {
		d.Suite = validation.NewSuite()
	}
	if d.ExecTimeout <= 0 {
		d.ExecTimeout = DefaultExecTimeout
	}
	return d, nil
}

// Base implements Agent around a Strategy.
type Base struct {
	mu       sync.RWMutex
	cfg      core.AgentConfig
	state    core.AgentState
	active   bool
	strategy Strategy
	deps     Deps
	hooks    *HookChain
	logger   *logging.Logger

	// runMu serializes invocations; the state machine belongs to one run at a time.
	runMu sync.Mutex
}

// NewBase validates cfg and creates an inactive agent driven by strategy.
func NewBase(cfg core.AgentConfig, strategy Strategy, deps Deps) (*Base, error) {
	if strategy == nil {
		return nil, core.ErrConfig(core.CodeInvalidConfig, "agent strategy is required")
	}
	if cfg.Role == "" {
		cfg.Role = strategy.DefaultRole()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Base{
		cfg:      cfg.Clone(),
		state:    core.NewAgentState(),
		strategy: strategy,
		deps:     deps,
		hooks:    NewHookChain(),
		logger:   deps.Logger.WithAgent(cfg.Name),
	}, nil
}

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Name
}

func (b *Base) Role() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Role
}

// Config returns a copy of the configuration.
func (b *Base) Config() core.AgentConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Clone()
}

// Deps returns the injected collaborators.
func (b *Base) Deps() Deps {
	return b.deps
}

// Hooks returns the agent's hook chain.
func (b *Base) Hooks() *HookChain {
	return b.hooks
}

// State returns a snapshot of the runtime state.
func (b *Base) State() core.AgentState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.state
	s.Data = maps.Clone(b.state.Data)
	return s
}

func (b *Base) IsActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *Base) Activate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	b.state.LastActivity = time.Now()
}

func (b *Base) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	b.state.LastActivity = time.Now()
}

// Transition moves the state machine to `to`.
func (b *Base) Transition(to core.AgentStateKind) error {
	b.mu.Lock()
	from := b.state.Current
	if !core.CanTransition(from, to) {
		b.mu.Unlock()
		return core.ErrInvalidInput(core.CodeInvalidTransition,
			fmt.Sprintf("agent %s cannot move from %s to %s", b.cfg.Name, from, to))
	}
	b.setStateLocked(to)
	name := b.cfg.Name
	b.mu.Unlock()

	if from != to {
		b.logger.Debug("agent state changed", "from", from, "to", to)
		b.publishState(name, from, to)
	}
	return nil
}

// rewind returns the state machine to idle outside the transition table.
// It applies when a run completes short of validating and when a run starts
// after an earlier one stopped midway. Error is left for Reset.
func (b *Base) rewind(reason string) {
	b.mu.Lock()
	from := b.state.Current
	if from == core.AgentIdle || from == core.AgentError {
		b.mu.Unlock()
		return
	}
	b.setStateLocked(core.AgentIdle)
	name := b.cfg.Name
	b.mu.Unlock()

	b.logger.Debug("agent state rewound", "from", from, "to", core.AgentIdle, "reason", reason)
	b.publishState(name, from, core.AgentIdle)
}

func (b *Base) publishState(name string, from, to core.AgentStateKind) {
	if b.deps.Bus != nil {
		b.deps.Bus.Publish(events.NewAgentStateEvent("", name, string(from), string(to)))
	}
}

func (b *Base) setStateLocked(to core.AgentStateKind) {
	now := time.Now()
	b.state.Last = b.state.Current
	b.state.Current = to
	b.state.ChangedAt = now
	b.state.LastActivity = now
}

// ValidateMessages checks a conversation before it reaches the strategy.
func (b *Base) ValidateMessages(messages []core.Message) error {
	return core.ValidateMessages(messages)
}

// HandleError records a failed invocation. Once error_count exceeds
// max_retries the agent moves to error and is deactivated.
func (b *Base) HandleError(err error) error {
	if err == nil {
		return nil
	}
	b.mu.Lock()
	b.state.ErrorCount++
	count := b.state.ErrorCount
	exhausted := count > b.cfg.MaxRetries
	if exhausted {
		b.setStateLocked(core.AgentError)
		b.active = false
	}
	b.mu.Unlock()

	b.logger.Warn("agent invocation failed",
		"error", err, "kind", core.KindOf(err), "error_count", count)
	if exhausted {
		b.logger.Error("agent exceeded max retries, deactivated", "error_count", count)
	}
	return err
}

// UpdateConfig merges patch into the configuration. The stored config is
// replaced by a new value, never mutated.
func (b *Base) UpdateConfig(patch core.AgentConfigPatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.cfg.Merge(patch)
	if next.Description == "" {
		next.Description = fmt.Sprintf("%s agent", next.Role)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	b.cfg = next
	return nil
}

// Reset returns the state machine to idle and clears counters and stored data.
func (b *Base) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = core.NewAgentState()
}

// Store saves a value in the agent's private data.
func (b *Base) Store(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Data[key] = value
}

// Load reads a value from the agent's private data.
func (b *Base) Load(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.state.Data[key]
	return v, ok
}

// Process runs the strategy on messages.
func (b *Base) Process(ctx context.Context, messages []core.Message) (map[string]any, error) {
	return b.process(ctx, messages, nil)
}

// Execute renders inputs into messages and processes them.
func (b *Base) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	messages, err := b.strategy.Messages(inputs)
	if err != nil {
		return nil, err
	}
	return b.process(ctx, messages, inputs)
}

func (b *Base) process(ctx context.Context, messages []core.Message, inputs map[string]any) (map[string]any, error) {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if err := b.begin(); err != nil {
		return nil, err
	}
	if err := b.ValidateMessages(messages); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, core.ErrCancelled("agent invocation cancelled").WithCause(err)
	}
	if inputs == nil {
		inputs = InputsFromMessages(messages)
	}

	b.mu.Lock()
	b.state.ExecutionCount++
	b.mu.Unlock()

	run := &Run{Messages: messages, Inputs: inputs, base: b}
	if err := b.hooks.runPre(ctx, run); err != nil {
		return nil, b.HandleError(err)
	}
	output, err := b.strategy.Run(ctx, run)
	if err != nil {
		return nil, b.HandleError(err)
	}
	output, err = b.hooks.runPost(ctx, run, output)
	if err != nil {
		return nil, b.HandleError(err)
	}

	b.mu.Lock()
	b.state.LastActivity = time.Now()
	b.mu.Unlock()
	// A completed run rests in validating, or back in idle.
	if b.State().Current != core.AgentValidating {
		b.rewind("completed")
	}
	return output, nil
}

// begin checks the agent may run and rewinds the state left by the previous
// run to idle.
func (b *Base) begin() error {
	b.mu.RLock()
	active, current, name := b.active, b.state.Current, b.cfg.Name
	b.mu.RUnlock()
	if !active {
		return core.ErrInvalidInput(core.CodeAgentInactive, fmt.Sprintf("agent %s is not active", name))
	}
	if current == core.AgentError {
		return core.ErrInvalidInput(core.CodeAgentInError,
			fmt.Sprintf("agent %s is in error state; reset required", name))
	}
	b.rewind("next run")
	return nil
}

// InputsFromMessages derives structured inputs from a raw conversation: the
// last user message is decoded when it holds a JSON object, otherwise its
// text is exposed as "content".
func InputsFromMessages(messages []core.Message) map[string]any {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != core.RoleUser {
			continue
		}
		content := strings.TrimSpace(messages[i].Content)
		var obj map[string]any
		if strings.HasPrefix(content, "{") && json.Unmarshal([]byte(content), &obj) == nil {
			return obj
		}
		return map[string]any{"content": content}
	}
	return map[string]any{}
}

// systemPrompt introduces the agent to the model.
func systemPrompt(cfg core.AgentConfig) core.Message {
	text := fmt.Sprintf("You are %s, the %s of a software engineering crew.", cfg.Name, cfg.Role)
	if cfg.Description != "" {
		text += " " + cfg.Description + "."
	}
	return core.SystemMessage(text)
}

// inputMessages wraps inputs as a JSON user message for strategies that do
// not prompt a model.
func inputMessages(cfg core.AgentConfig, inputs map[string]any) ([]core.Message, error) {
	data, err := json.Marshal(inputs)
	if err != nil {
		return nil, core.ErrInvalidInput(core.CodeInvalidMessage, "inputs are not serializable").WithCause(err)
	}
	return []core.Message{systemPrompt(cfg), core.UserMessage(string(data))}, nil
}
