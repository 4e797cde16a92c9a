package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/agent"
	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/history"
	"github.com/hugo-lorenzo-mato/crewflow/internal/workflow"
)

// Run is one workflow created by the orchestrator.
type Run struct {
	// Template is the key the run was created from.
	Template string
	// Agent is the agent profile the run used, if any.
	Agent string
	// Plan is set when a crew planned the run.
	Plan *agent.Plan

	engine   *workflow.Engine
	strategy core.Strategy
	orch     *Orchestrator
	release  func()

	started atomic.Bool
	done    chan struct{}
	mu      sync.Mutex
	outputs map[string]map[string]any
	err     error
}

func (r *Run) ID() core.WorkflowID { return r.engine.ID() }

// Strategy returns the strategy the run executes with.
func (r *Run) Strategy() core.Strategy { return r.strategy }

// Status returns a snapshot of the run.
func (r *Run) Status() core.WorkflowStatus { return r.engine.Status() }

// Cancel requests cancellation. It is idempotent and does not block.
func (r *Run) Cancel() { r.engine.Cancel() }

// Done is closed once the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Start executes the run in the background. ctx bounds the whole run.
func (r *Run) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return core.ErrWorkflow(core.CodeAlreadyStarted, "run already started or closed").
			WithDetail("workflow_id", string(r.ID()))
	}
	go func() {
		defer close(r.done)
		outputs, err := r.engine.Execute(ctx)
		r.mu.Lock()
		r.outputs, r.err = outputs, err
		r.mu.Unlock()
		r.orch.finished(r)
	}()
	return nil
}

// Wait blocks until the run finishes or ctx is done and returns the step
// outputs and the run error.
func (r *Run) Wait(ctx context.Context) (map[string]map[string]any, error) {
	if !r.started.Load() {
		return nil, core.ErrWorkflow(core.CodeNoSteps, "run has not been started")
	}
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, core.ErrCancelled("stopped waiting for run").WithCause(ctx.Err())
	}
}

// Execute starts the run and waits for it.
func (r *Run) Execute(ctx context.Context) (map[string]map[string]any, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	return r.Wait(context.Background())
}

// Result returns the outputs and error of a finished run.
func (r *Run) Result() (map[string]map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputs, r.err
}

func (r *Run) record() history.Record {
	return history.Record{
		WorkflowStatus: r.Status(),
		Template:       r.Template,
		Agent:          r.Agent,
		Strategy:       r.strategy,
	}
}

const recordTimeout = 5 * time.Second
