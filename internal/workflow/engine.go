// Package workflow executes declarative step pipelines: it resolves symbolic
// references between steps, gates steps on conditions, retries failures with
// backoff and reports a consistent status snapshot.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/events"
	"github.com/hugo-lorenzo-mato/crewflow/internal/graph"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
)

// DefaultMaxParallel bounds concurrent steps under the parallel strategy.
const DefaultMaxParallel = 4

// Runner executes one step on resolved inputs.
type Runner interface {
	Execute(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Execute calls f(ctx, inputs).
func (f RunnerFunc) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return f(ctx, inputs)
}

// Resolver finds the runner bound to an agent identifier.
type Resolver interface {
	Resolve(agentID string) (Runner, error)
}

// Agents is a static Resolver.
type Agents map[string]Runner

// Resolve returns the runner registered under agentID.
func (a Agents) Resolve(agentID string) (Runner, error) {
	if r, ok := a[agentID]; ok && r != nil {
		return r, nil
	}
	return nil, core.ErrConfig(core.CodeRoleUnbound, fmt.Sprintf("no agent bound to %q", agentID))
}

// Option configures an Engine.
type Option func(*Engine)

// WithID sets the workflow instance ID.
func WithID(id core.WorkflowID) Option {
	return func(e *Engine) { e.inst.ID = id }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBus publishes workflow and step transitions on bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithRetryPolicy replaces the backoff policy.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithBackoff sets base and maximum backoff without jitter.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(e *Engine) {
		e.retry = NewRetryPolicy(WithBaseDelay(base), WithMaxDelay(maxDelay), WithJitter(0))
	}
}

// WithStrategy overrides the strategy of the WorkflowSpec.
func WithStrategy(s core.Strategy) Option {
	return func(e *Engine) { e.spec.Strategy = s }
}

// WithMaxParallel bounds concurrent steps.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.spec.MaxParallel = n }
}

// WithInputs sets the user inputs seen as $input.<key>.
func WithInputs(inputs map[string]any) Option {
	return func(e *Engine) { e.spec.Inputs = maps.Clone(inputs) }
}

// WithRoles binds role keys to agent identifiers.
func WithRoles(roles map[string]string) Option {
	return func(e *Engine) { e.spec.Roles = maps.Clone(roles) }
}

// Engine runs a single workflow instance. It is not reusable.
type Engine struct {
	mu      sync.RWMutex
	spec    core.WorkflowSpec
	inst    *core.WorkflowInstance
	byName  map[string]*core.StepInstance
	specs   map[string]core.StepSpec
	agents  Resolver
	retry   *RetryPolicy
	logger  *logging.Logger
	bus     *events.Bus
	started bool
	current string
	failure *core.FailureInfo

	cancelRun context.CancelFunc
}

// New creates an engine with no steps.
func New(name string, agents Resolver, opts ...Option) *Engine {
	e := &Engine{
		spec: core.WorkflowSpec{Name: name, Strategy: core.StrategySequential},
		inst: &core.WorkflowInstance{
			ID:      core.WorkflowID(uuid.NewString()),
			Name:    name,
			State:   core.WorkflowPending,
			Outputs: make(map[string]map[string]any),
		},
		byName: make(map[string]*core.StepInstance),
		specs:  make(map[string]core.StepSpec),
		agents: agents,
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	e.logger = e.logger.WithWorkflow(string(e.inst.ID), name)
	return e
}

// FromSpec creates an engine and adds every step of spec.
func FromSpec(spec core.WorkflowSpec, agents Resolver, opts ...Option) (*Engine, error) {
	base := []Option{
		WithMaxParallel(spec.MaxParallel),
		WithInputs(spec.Inputs),
		WithRoles(spec.Roles),
	}
	if spec.Strategy != "" {
		base = append(base, WithStrategy(spec.Strategy))
	}
	e := New(spec.Name, agents, append(base, opts...)...)
	for _, step := range spec.Steps {
		if err := e.AddStep(step); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ID returns the workflow instance ID.
func (e *Engine) ID() core.WorkflowID {
	return e.inst.ID
}

// Name returns the workflow name.
func (e *Engine) Name() string {
	return e.spec.Name
}

// AddStep appends a step. Names must be unique and reference strings must
// match the `$step.key` grammar.
func (e *Engine) AddStep(spec core.StepSpec) error {
	if spec.Name == "" {
		return core.ErrInvalidInput(core.CodeInvalidConfig, "step name is required")
	}
	if spec.Name == core.InputStep {
		return core.ErrInvalidInput(core.CodeInvalidConfig,
			fmt.Sprintf("step name %q is reserved for workflow inputs", core.InputStep))
	}
	if _, err := core.CollectReferences(spec.Inputs); err != nil {
		return err
	}
	if spec.MaxRetries < 0 {
		spec.MaxRetries = 0
	}
	if spec.Timeout <= 0 {
		spec.Timeout = core.DefaultStepTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return core.ErrWorkflow(core.CodeAlreadyStarted, "cannot add steps to a started workflow")
	}
	if _, exists := e.specs[spec.Name]; exists {
		return core.ErrInvalidInput(core.CodeDuplicateStep, fmt.Sprintf("duplicate step %q", spec.Name))
	}
	inst := &core.StepInstance{
		Name:     spec.Name,
		AgentRef: spec.AgentRef,
		State:    core.StepPending,
	}
	e.spec.Steps = append(e.spec.Steps, spec)
	e.specs[spec.Name] = spec
	e.byName[spec.Name] = inst
	e.inst.Steps = append(e.inst.Steps, inst)
	return nil
}

// Validate checks references and role bindings without running anything.
// Under sequential every referenced step must be declared earlier; under
// parallel the reference graph must be acyclic.
func (e *Engine) Validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, err := e.buildGraphLocked()
	if err != nil {
		return err
	}
	if e.agents == nil {
		return core.ErrConfig(core.CodeRoleUnbound, "no agents bound to workflow")
	}
	for _, step := range e.spec.Steps {
		if _, err := e.agents.Resolve(e.spec.Binding(step.AgentRef)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildGraphLocked() (*graph.DAG, error) {
	if len(e.spec.Steps) == 0 {
		return nil, core.ErrWorkflow(core.CodeNoSteps, "workflow has no steps")
	}
	if !e.spec.Strategy.Valid() {
		return nil, core.ErrConfig(core.CodeInvalidConfig,
			fmt.Sprintf("unknown strategy %q", e.spec.Strategy))
	}

	dag := graph.New()
	position := make(map[string]int, len(e.spec.Steps))
	for i, step := range e.spec.Steps {
		_ = dag.AddNode(step.Name)
		position[step.Name] = i
	}
	for i, step := range e.spec.Steps {
		refs, err := core.CollectReferences(step.Inputs)
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if ref.Step == core.InputStep {
				continue
			}
			pos, ok := position[ref.Step]
			if !ok {
				return nil, core.ErrReference(ref.String(),
					fmt.Sprintf("step %q references unknown step %q", step.Name, ref.Step))
			}
			if e.spec.Strategy == core.StrategySequential && pos >= i {
				return nil, core.ErrWorkflow(core.CodeForwardReference,
					fmt.Sprintf("step %q references %s, which does not run before it", step.Name, ref))
			}
			_ = dag.AddDependency(step.Name, ref.Step)
		}
	}
	if _, err := dag.TopologicalSort(); err != nil {
		return nil, err
	}
	return dag, nil
}

// Execute runs the workflow and returns the outputs of completed steps.
// Skipped steps have no output.
func (e *Engine) Execute(ctx context.Context) (map[string]map[string]any, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, core.ErrWorkflow(core.CodeAlreadyStarted, "workflow already started")
	}
	dag, err := e.buildGraphLocked()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancelRun = cancel
	if e.inst.CancelRequested {
		cancel()
	}
	now := time.Now()
	e.inst.State = core.WorkflowRunning
	e.inst.StartedAt = &now
	e.mu.Unlock()

	e.logger.Info("workflow started", "strategy", e.spec.Strategy, "steps", len(e.spec.Steps))
	e.publishWorkflow(events.TypeWorkflowStarted, core.WorkflowRunning, nil)

	var runErr error
	if e.spec.Strategy == core.StrategyParallel {
		runErr = e.runParallel(runCtx, dag)
	} else {
		runErr = e.runSequential(runCtx)
	}

	outputs := e.outputs()
	switch {
	case runErr != nil && !core.IsKind(runErr, core.KindCancelled):
		e.finish(core.WorkflowFailed, runErr)
		return outputs, runErr
	case e.allDone():
		e.finish(core.WorkflowCompleted, nil)
		return outputs, nil
	default:
		cerr := core.ErrCancelled("workflow cancelled")
		e.finish(core.WorkflowCancelled, cerr)
		return outputs, cerr
	}
}

func (e *Engine) runSequential(ctx context.Context) error {
	for _, spec := range e.spec.Steps {
		if e.stopRequested(ctx) {
			return nil
		}
		if err := e.runStep(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// runParallel runs batches of steps whose references are satisfied. The
// first failure stops scheduling and retries; steps already running finish,
// and the rest (including later failures of the same batch) stay pending.
func (e *Engine) runParallel(ctx context.Context, dag *graph.DAG) error {
	limit := e.spec.MaxParallel
	if limit <= 0 {
		limit = DefaultMaxParallel
	}
	sem := semaphore.NewWeighted(int64(limit))
	done := make(map[string]bool, len(e.spec.Steps))

	for len(done) < len(e.spec.Steps) {
		if e.stopRequested(ctx) {
			return nil
		}
		ready := dag.Ready(done)
		if len(ready) == 0 {
			return core.ErrWorkflow(core.CodeDependencyCycle, "no runnable steps left")
		}
		e.logger.Debug("scheduling step batch", "ready", ready, "completed", len(done))

		var (
			g      errgroup.Group
			failed atomic.Bool
		)
		for _, name := range ready {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			if failed.Load() || e.stopRequested(ctx) {
				sem.Release(1)
				break
			}
			spec := e.specs[name]
			g.Go(func() error {
				defer sem.Release(1)
				if err := e.runStep(ctx, spec); err != nil {
					failed.Store(true)
					return err
				}
				return nil
			})
		}
		err := g.Wait()

		e.mu.RLock()
		for _, name := range ready {
			if e.byName[name].State.Done() {
				done[name] = true
			}
		}
		e.mu.RUnlock()
		if err != nil {
			return e.firstError(err)
		}
	}
	return nil
}

// runStep drives one step through substitution, its condition and attempts.
func (e *Engine) runStep(ctx context.Context, spec core.StepSpec) error {
	inst := e.byName[spec.Name]
	logger := e.logger.WithStep(spec.Name)

	e.mu.RLock()
	resolved, err := Substitute(spec.Inputs, e.outputsWithInputsLocked())
	e.mu.RUnlock()
	if err != nil {
		e.failStep(inst, err)
		return err
	}

	e.mu.Lock()
	inst.Inputs = resolved
	e.mu.Unlock()

	if spec.Condition != nil {
		ok, err := spec.Condition.Evaluate(resolved)
		if err != nil {
			e.failStep(inst, err)
			return err
		}
		if !ok {
			logger.Info("step skipped by condition")
			e.setStepState(inst, core.StepSkipped, nil)
			return nil
		}
	}

	runner, err := e.agents.Resolve(e.spec.Binding(spec.AgentRef))
	if err != nil {
		e.failStep(inst, err)
		return err
	}

	for {
		e.mu.Lock()
		inst.Attempts++
		attempt := inst.Attempts
		if inst.StartedAt == nil {
			now := time.Now()
			inst.StartedAt = &now
		}
		e.current = spec.Name
		e.mu.Unlock()
		e.setStepState(inst, core.StepRunning, nil)
		logger.Info("step started", "attempt", attempt, "agent", e.spec.Binding(spec.AgentRef))

		output, err := e.attempt(ctx, spec, runner, resolved)
		if err == nil {
			e.completeStep(ctx, spec, inst, output, logger)
			return nil
		}

		if ctx.Err() != nil || core.IsKind(err, core.KindCancelled) {
			cerr := core.ErrCancelled(fmt.Sprintf("step %s cancelled", spec.Name)).WithCause(err)
			e.setStepState(inst, core.StepCancelled, cerr)
			return cerr
		}
		if core.IsFatal(err) || attempt > spec.MaxRetries || e.failed() {
			logger.Error("step failed", "attempt", attempt, "error", err, "kind", core.KindOf(err))
			e.failStep(inst, err)
			return err
		}

		e.setStepState(inst, core.StepFailed, err)
		if spec.OnFailure != nil {
			if herr := spec.OnFailure(ctx, err); herr != nil {
				e.hookWarning(inst, "on_failure", herr)
			}
		}
		e.setStepState(inst, core.StepPending, err)

		delay := e.retry.CalculateDelay(attempt)
		logger.Warn("retrying step", "attempt", attempt, "max_retries", spec.MaxRetries,
			"delay", delay, "error", err, "kind", core.KindOf(err))
		e.publishRetry(inst, attempt, delay, err)
		if werr := sleepCtx(ctx, delay); werr != nil {
			cerr := core.ErrCancelled(fmt.Sprintf("step %s cancelled during backoff", spec.Name)).WithCause(werr)
			e.setStepState(inst, core.StepCancelled, cerr)
			return cerr
		}
		if e.failed() {
			e.setStepState(inst, core.StepPending, err)
			return err
		}
	}
}

type attemptResult struct {
	output map[string]any
	err    error
}

// attempt runs the agent once under the step timeout. A deadline is enforced
// even when the agent ignores its context; a cancellation is not, so a
// running agent is allowed to finish.
func (e *Engine) attempt(ctx context.Context, spec core.StepSpec, runner Runner, inputs map[string]any) (map[string]any, error) {
	stepCtx, cancel := context.WithTimeout(core.WithStep(ctx, spec.Name), spec.Timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: core.ErrInternal(fmt.Sprintf("step %s panicked: %v", spec.Name, r))}
			}
		}()
		out, err := runner.Execute(stepCtx, maps.Clone(inputs))
		done <- attemptResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutError(spec, res.err)
		}
		return res.output, res.err
	case <-stepCtx.Done():
		if ctx.Err() == nil {
			return nil, timeoutError(spec, stepCtx.Err())
		}
		res := <-done
		return res.output, res.err
	}
}

func timeoutError(spec core.StepSpec, cause error) error {
	return core.ErrTimeout(fmt.Sprintf("step %s exceeded timeout %s", spec.Name, spec.Timeout)).WithCause(cause)
}

func (e *Engine) completeStep(ctx context.Context, spec core.StepSpec, inst *core.StepInstance, output map[string]any, logger *logging.Logger) {
	if output == nil {
		output = map[string]any{}
	}
	e.mu.Lock()
	inst.Output = output
	inst.Err = nil
	now := time.Now()
	inst.FinishedAt = &now
	e.inst.Outputs[spec.Name] = output
	e.mu.Unlock()
	e.setStepState(inst, core.StepCompleted, nil)
	logger.Info("step completed", "attempts", inst.Attempts)

	if spec.OnSuccess != nil {
		if err := spec.OnSuccess(ctx, output); err != nil {
			e.hookWarning(inst, "on_success", err)
		}
	}
}

// failStep marks inst as the workflow's failed step. Only the first failure
// is recorded; a step of the same parallel batch failing afterwards is put
// back to pending with its error, so a failed run has one failed step.
func (e *Engine) failStep(inst *core.StepInstance, err error) {
	e.mu.Lock()
	if e.failure != nil {
		first := e.failure.Step
		e.mu.Unlock()
		e.logger.WithStep(inst.Name).Warn("step failed after workflow failure, left pending",
			"failed_step", first, "error", err, "kind", core.KindOf(err))
		e.setStepState(inst, core.StepPending, err)
		return
	}
	now := time.Now()
	inst.FinishedAt = &now
	e.failure = &core.FailureInfo{Step: inst.Name, Kind: core.KindOf(err), Error: err.Error()}
	e.mu.Unlock()
	e.setStepState(inst, core.StepFailed, err)
}

func (e *Engine) failed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failure != nil
}

func (e *Engine) hookWarning(inst *core.StepInstance, hook string, err error) {
	msg := fmt.Sprintf("%s hook failed: %v", hook, err)
	e.mu.Lock()
	inst.HookWarning = msg
	e.mu.Unlock()
	e.logger.WithStep(inst.Name).Warn("step hook failed", "hook", hook, "error", err)
	if e.bus != nil {
		ev := events.NewStepEvent(events.TypeHookWarning, string(e.inst.ID), inst.Name, string(core.StepCompleted), inst.Attempts)
		ev.Error = msg
		e.bus.Publish(ev)
	}
}

func (e *Engine) setStepState(inst *core.StepInstance, state core.StepState, err error) {
	e.mu.Lock()
	inst.State = state
	inst.Err = err
	if state == core.StepRunning || state == core.StepPending {
		inst.FinishedAt = nil
	}
	if state.Terminal() && inst.FinishedAt == nil {
		now := time.Now()
		inst.FinishedAt = &now
	}
	if e.current == inst.Name && state != core.StepRunning {
		e.current = ""
	}
	attempt := inst.Attempts
	e.mu.Unlock()

	if e.bus != nil {
		ev := events.NewStepEvent(events.TypeStepState, string(e.inst.ID), inst.Name, string(state), attempt)
		if err != nil {
			ev.Error = err.Error()
			ev.ErrorKind = string(core.KindOf(err))
		}
		e.bus.Publish(ev)
	}
}

func (e *Engine) publishRetry(inst *core.StepInstance, attempt int, delay time.Duration, err error) {
	if e.bus == nil {
		return
	}
	ev := events.NewStepEvent(events.TypeStepRetry, string(e.inst.ID), inst.Name, string(core.StepPending), attempt)
	ev.Delay = delay
	ev.Error = err.Error()
	ev.ErrorKind = string(core.KindOf(err))
	e.bus.Publish(ev)
}

func (e *Engine) publishWorkflow(eventType string, state core.WorkflowState, err error) {
	if e.bus == nil {
		return
	}
	ev := events.NewWorkflowEvent(eventType, string(e.inst.ID), e.spec.Name, string(state))
	if err != nil {
		ev.Error = err.Error()
	}
	e.mu.RLock()
	if e.inst.StartedAt != nil {
		ev.Duration = time.Since(*e.inst.StartedAt)
	}
	e.mu.RUnlock()
	if ev.IsTerminal() {
		e.bus.PublishPriority(ev)
		return
	}
	e.bus.Publish(ev)
}

func (e *Engine) finish(state core.WorkflowState, err error) {
	e.mu.Lock()
	now := time.Now()
	e.inst.State = state
	e.inst.FinishedAt = &now
	e.current = ""
	e.mu.Unlock()

	switch state {
	case core.WorkflowCompleted:
		e.logger.Info("workflow completed")
		e.publishWorkflow(events.TypeWorkflowCompleted, state, nil)
	case core.WorkflowCancelled:
		e.logger.Info("workflow cancelled")
		e.publishWorkflow(events.TypeWorkflowCancelled, state, err)
	default:
		e.logger.Error("workflow failed", "error", err)
		e.publishWorkflow(events.TypeWorkflowFailed, state, err)
	}
}

// Cancel requests cancellation. It is idempotent and does not block: no
// further step starts, and the context handed to running agents is cancelled.
func (e *Engine) Cancel() {
	e.mu.Lock()
	already := e.inst.CancelRequested
	e.inst.CancelRequested = true
	cancel := e.cancelRun
	terminal := e.inst.State.Terminal()
	e.mu.Unlock()

	if already || terminal {
		return
	}
	e.logger.Info("workflow cancellation requested")
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	e.mu.RLock()
	requested := e.inst.CancelRequested
	e.mu.RUnlock()
	return requested || ctx.Err() != nil
}

func (e *Engine) firstError(fallback error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.failure != nil {
		if inst := e.byName[e.failure.Step]; inst != nil && inst.Err != nil {
			return inst.Err
		}
	}
	return fallback
}

func (e *Engine) allDone() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.inst.Steps {
		if !s.State.Done() {
			return false
		}
	}
	return true
}

func (e *Engine) outputs() map[string]map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.inst.Outputs)
}

func (e *Engine) outputsWithInputsLocked() Outputs {
	out := make(Outputs, len(e.inst.Outputs)+1)
	maps.Copy(out, e.inst.Outputs)
	inputs := e.spec.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	out[core.InputStep] = inputs
	return out
}

// Status returns a consistent snapshot of the workflow and its steps in
// declaration order.
func (e *Engine) Status() core.WorkflowStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := core.WorkflowStatus{
		ID:          e.inst.ID,
		Name:        e.spec.Name,
		State:       e.inst.State,
		CurrentStep: e.current,
		Steps:       make([]core.StepStatus, 0, len(e.inst.Steps)),
		StartedAt:   e.inst.StartedAt,
		FinishedAt:  e.inst.FinishedAt,
	}
	for _, s := range e.inst.Steps {
		st := core.StepStatus{
			Name:        s.Name,
			State:       s.State,
			Attempts:    s.Attempts,
			HookWarning: s.HookWarning,
		}
		if s.Err != nil {
			st.Error = s.Err.Error()
			st.ErrorKind = core.KindOf(s.Err)
		}
		if status.CurrentStep == "" && s.State == core.StepRunning {
			status.CurrentStep = s.Name
		}
		status.Steps = append(status.Steps, st)
	}
	if e.failure != nil {
		f := *e.failure
		status.FirstFailure = &f
	}
	return status
}

// Instance returns a deep copy of the runtime record.
func (e *Engine) Instance() core.WorkflowInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst := *e.inst
	inst.Steps = make([]*core.StepInstance, len(e.inst.Steps))
	for i, s := range e.inst.Steps {
		cp := *s
		inst.Steps[i] = &cp
	}
	inst.Outputs = maps.Clone(e.inst.Outputs)
	return inst
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
