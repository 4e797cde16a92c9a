package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/crewflow/internal/agent"
	"github.com/hugo-lorenzo-mato/crewflow/internal/config"
	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/history"
	"github.com/hugo-lorenzo-mato/crewflow/internal/templates"
	"github.com/hugo-lorenzo-mato/crewflow/internal/workflow"
)

// CreateOptions adjust a single run.
type CreateOptions struct {
	// Agent selects the agent profile. Empty uses CURRENT_AGENT when agent
	// profiles are enabled. A crew-type agent plans the run itself.
	Agent string
	// Strategy overrides the template's and the settings' strategy.
	Strategy    core.Strategy
	MaxParallel int
	ID          core.WorkflowID
}

// Orchestrator creates, runs and tracks workflows.
type Orchestrator struct {
	c *Context

	mu     sync.RWMutex
	runs   map[core.WorkflowID]*Run
	order  []core.WorkflowID
	closed bool
	wg     sync.WaitGroup
}

// New creates an orchestrator over c.
func New(c *Context) *Orchestrator {
	return &Orchestrator{c: c, runs: make(map[core.WorkflowID]*Run)}
}

// Context returns the orchestrator's runtime context.
func (o *Orchestrator) Context() *Context {
	return o.c
}

// Templates returns the templates visible to runs of the given agent
// profile, with the profile's workflow overrides applied.
func (o *Orchestrator) Templates(agentType string) (*templates.Registry, error) {
	_, reg, err := o.registryFor(agentType)
	return reg, err
}

// registryFor resolves the effective profile name and template registry.
func (o *Orchestrator) registryFor(agentType string) (string, *templates.Registry, error) {
	doc := o.c.Document()
	if doc == nil || (agentType == "" && !doc.AgentEnabled) {
		return agentType, o.c.Templates, nil
	}
	if agentType == "" {
		agentType = doc.CurrentAgent
	}
	reg, err := doc.ApplyTo(o.c.Templates, agentType)
	if err != nil {
		return "", nil, err
	}
	return agentType, reg, nil
}

// CreateWorkflow builds a run of the named template with agents bound to
// every role. The run is registered but not started.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, template string, inputs map[string]any, opts CreateOptions) (*Run, error) {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return nil, core.ErrWorkflow(core.CodeAlreadyStarted, "orchestrator is closed")
	}

	agentType, reg, err := o.registryFor(opts.Agent)
	if err != nil {
		return nil, err
	}
	tmpl, err := reg.Get(template)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = core.WorkflowID(uuid.NewString())
	}
	logger := o.c.Logger.WithWorkflow(string(id), template)
	if _, err := o.Get(id); err == nil {
		return nil, core.ErrWorkflow(core.CodeAlreadyStarted, fmt.Sprintf("workflow %s already exists", id))
	}

	var run *Run
	if agentType != "" {
		run, err = o.createWithAgent(ctx, id, agentType, tmpl, reg, inputs, opts)
	} else {
		run, err = o.createWithRoles(id, "", tmpl, reg, inputs, opts)
	}
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if _, dup := o.runs[id]; dup {
		o.mu.Unlock()
		run.release()
		return nil, core.ErrWorkflow(core.CodeAlreadyStarted, fmt.Sprintf("workflow %s already exists", id))
	}
	o.runs[id] = run
	o.order = append(o.order, id)
	o.wg.Add(1)
	o.mu.Unlock()

	logger.Info("workflow created", "agent", run.Agent, "strategy", run.strategy, "steps", len(tmpl.Steps))
	return run, nil
}

// CreateCrewWorkflow builds a run planned by a crew agent, regardless of
// the current agent profile.
func (o *Orchestrator) CreateCrewWorkflow(ctx context.Context, template string, inputs map[string]any) (*Run, error) {
	return o.CreateWorkflow(ctx, template, inputs, CreateOptions{Agent: config.DefaultAgentType})
}

// createWithAgent instantiates the selected agent type. A crew plans the
// run and serves every role; any other type only selects the profile.
func (o *Orchestrator) createWithAgent(ctx context.Context, id core.WorkflowID, agentType string, tmpl *templates.Template,
	reg *templates.Registry, inputs map[string]any, opts CreateOptions) (*Run, error) {
	name := runAgentName(agentType, id)
	cfg := o.agentConfig(name, "", nil, o.profileTools(agentType))
	a, err := o.c.Factory.Create(agentType, cfg, o.c.deps(reg))
	if err != nil {
		return nil, err
	}
	crew, ok := a.(*agent.Crew)
	if !ok {
		o.c.Factory.Release(name)
		return o.createWithRoles(id, agentType, tmpl, reg, inputs, opts)
	}

	out, err := crew.Execute(ctx, map[string]any{"workflow": tmpl.Key, "inputs": inputs})
	if err != nil {
		o.c.Factory.Release(name)
		return nil, err
	}
	plan, err := crew.Plan(tmpl.Key, inputs)
	if err != nil {
		o.c.Factory.Release(name)
		return nil, err
	}
	o.applyStepDefaults(tmpl, &plan.Spec)
	o.c.Logger.Debug("crew planned workflow", "workflow_id", id, "plan", out["plan"])

	run, err := o.newRun(id, plan.Spec, crew, opts)
	if err != nil {
		o.c.Factory.Release(name)
		return nil, err
	}
	run.Template = tmpl.Key
	run.Agent = agentType
	run.Plan = plan
	run.release = func() { o.c.Factory.Release(name) }
	return run, nil
}

// createWithRoles binds each template role to a fresh agent of the role's
// type. The agents belong to the run and are released when it ends, so no
// error count or stored data carries over to another workflow.
func (o *Orchestrator) createWithRoles(id core.WorkflowID, profile string, tmpl *templates.Template,
	reg *templates.Registry, inputs map[string]any, opts CreateOptions) (*Run, error) {
	spec, err := tmpl.Build(inputs)
	if err != nil {
		return nil, err
	}
	o.applyStepDefaults(tmpl, &spec)

	var roleSettings map[string]*config.RoleSettings
	if doc := o.c.Document(); doc != nil && profile != "" {
		if p, err := doc.Profile(profile); err == nil {
			roleSettings = p.Config.Roles
		}
	}

	deps := o.c.deps(reg)
	bound := make(workflow.Agents, len(tmpl.Roles))
	roles := make(map[string]string, len(tmpl.Roles))
	release := func() {
		for name := range bound {
			o.c.Factory.Release(name)
		}
	}
	for _, role := range tmpl.RoleKeys() {
		agentType := tmpl.Roles[role]
		rs := roleSettings[role]
		if rs != nil && !rs.Enabled {
			release()
			return nil, core.ErrConfig(core.CodeRoleUnbound,
				fmt.Sprintf("role %s is disabled in profile %s", role, profile)).WithDetail("role", role)
		}
		base := role
		if profile != "" {
			base = profile + "-" + role
		}
		name := runAgentName(base, id)
		cfg := o.agentConfig(name, role, rs, o.profileTools(profile))
		a, err := o.c.Factory.Create(agentType, cfg, deps)
		if err != nil {
			release()
			return nil, fmt.Errorf("binding role %s: %w", role, err)
		}
		bound[name] = a
		roles[role] = name
	}
	spec.Roles = roles

	run, err := o.newRun(id, spec, bound, opts)
	if err != nil {
		release()
		return nil, err
	}
	run.Template = tmpl.Key
	run.Agent = profile
	run.release = release
	return run, nil
}

// runAgentName names an agent owned by one run.
func runAgentName(base string, id core.WorkflowID) string {
	return base + "@" + string(id)
}

func (o *Orchestrator) newRun(id core.WorkflowID, spec core.WorkflowSpec, agents workflow.Resolver, opts CreateOptions) (*Run, error) {
	s := o.c.Settings
	strategy := spec.Strategy
	if s.Strategy != "" {
		strategy = s.Strategy
	}
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}
	if !strategy.Valid() {
		return nil, core.ErrConfig(core.CodeInvalidConfig, fmt.Sprintf("unknown strategy %q", strategy))
	}
	maxParallel := s.MaxParallel
	if opts.MaxParallel > 0 {
		maxParallel = opts.MaxParallel
	}
	spec.Strategy = strategy
	spec.MaxParallel = maxParallel

	engine, err := workflow.FromSpec(spec, agents,
		workflow.WithID(id),
		workflow.WithLogger(o.c.Logger),
		workflow.WithBus(o.c.Bus),
		workflow.WithBackoff(s.BackoffBase, s.BackoffMax),
	)
	if err != nil {
		return nil, err
	}
	if err := engine.Validate(); err != nil {
		return nil, err
	}
	return &Run{engine: engine, strategy: strategy, orch: o, done: make(chan struct{})}, nil
}

// applyStepDefaults fills retries and timeouts the template left unset.
func (o *Orchestrator) applyStepDefaults(tmpl *templates.Template, spec *core.WorkflowSpec) {
	s := o.c.Settings
	for i := range spec.Steps {
		if i >= len(tmpl.Steps) || spec.Steps[i].Name != tmpl.Steps[i].Name {
			continue
		}
		if tmpl.Steps[i].MaxRetries == nil && s.StepMaxRetries >= 0 {
			spec.Steps[i].MaxRetries = s.StepMaxRetries
		}
		if tmpl.Steps[i].TimeoutSeconds == 0 && s.StepTimeout > 0 {
			spec.Steps[i].Timeout = s.StepTimeout
		}
	}
}

func (o *Orchestrator) agentConfig(name, role string, rs *config.RoleSettings, tools map[string]bool) core.AgentConfig {
	s := o.c.Settings
	cfg := core.DefaultAgentConfig(name, role)
	if role == "" {
		cfg.Description = ""
	}
	cfg.Model = s.Model
	cfg.MaxRetries = s.AgentMaxRetries
	cfg.AutoFix = s.AutoFix
	cfg.MaxFixAttempts = s.MaxFixAttempts
	maps.Copy(cfg.Tools, tools)
	if rs != nil {
		cfg.Model.Temperature = rs.Temperature
		if rs.Description != "" {
			cfg.Description = rs.Description
		}
	}
	return cfg
}

func (o *Orchestrator) profileTools(profile string) map[string]bool {
	doc := o.c.Document()
	if doc == nil || profile == "" {
		return nil
	}
	p, err := doc.Profile(profile)
	if err != nil {
		return nil
	}
	return p.Config.Tools
}

// finished records a run that has ended.
func (o *Orchestrator) finished(r *Run) {
	defer o.wg.Done()
	r.release()

	status := r.Status()
	logger := o.c.Logger.WithWorkflow(string(status.ID), status.Name)
	if status.FirstFailure != nil {
		logger.Warn("workflow finished", "state", status.State,
			"failed_step", status.FirstFailure.Step, "kind", status.FirstFailure.Kind)
	} else {
		logger.Info("workflow finished", "state", status.State)
	}

	if o.c.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := o.c.History.Record(ctx, r.record()); err != nil {
		logger.Warn("recording workflow history failed", "error", err)
	}
}

// Get returns a run created by this orchestrator.
func (o *Orchestrator) Get(id core.WorkflowID) (*Run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[id]
	if !ok {
		return nil, core.ErrInvalidInput(core.CodeWorkflowNotFound, fmt.Sprintf("workflow %s not found", id)).
			WithDetail("workflow_id", string(id))
	}
	return r, nil
}

// Status returns the status of a live run, falling back to the history
// ledger for runs of earlier processes.
func (o *Orchestrator) Status(ctx context.Context, id core.WorkflowID) (core.WorkflowStatus, error) {
	r, err := o.Get(id)
	if err == nil {
		return r.Status(), nil
	}
	if o.c.History == nil {
		return core.WorkflowStatus{}, err
	}
	rec, herr := o.c.History.Get(ctx, id)
	if herr != nil {
		return core.WorkflowStatus{}, err
	}
	return rec.WorkflowStatus, nil
}

// List returns the status of every run in creation order.
func (o *Orchestrator) List() []core.WorkflowStatus {
	o.mu.RLock()
	runs := make([]*Run, 0, len(o.order))
	for _, id := range o.order {
		runs = append(runs, o.runs[id])
	}
	o.mu.RUnlock()

	out := make([]core.WorkflowStatus, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Status())
	}
	return out
}

// Cancel requests cancellation of a run.
func (o *Orchestrator) Cancel(id core.WorkflowID) error {
	r, err := o.Get(id)
	if err != nil {
		return err
	}
	r.Cancel()
	return nil
}

// History lists recorded runs, newest first.
func (o *Orchestrator) History(ctx context.Context, f history.Filter) ([]history.Record, error) {
	if o.c.History == nil {
		return nil, core.ErrConfig(core.CodeInvalidConfig, "run history is disabled")
	}
	return o.c.History.List(ctx, f)
}

// TemplateSummary describes a template for listings.
type TemplateSummary struct {
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Enabled     bool          `json:"enabled"`
	ProcessType core.Strategy `json:"process_type"`
	Steps       []string      `json:"steps"`
	Roles       []string      `json:"roles"`
}

// TemplateSummaries lists the templates visible to an agent profile.
func (o *Orchestrator) TemplateSummaries(agentType string) ([]TemplateSummary, error) {
	reg, err := o.Templates(agentType)
	if err != nil {
		return nil, err
	}
	list := reg.List()
	out := make([]TemplateSummary, 0, len(list))
	for _, t := range list {
		roles := make([]string, 0, len(t.Roles))
		for role := range t.Roles {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		out = append(out, TemplateSummary{
			Key:         t.Key,
			Name:        t.Name,
			Description: t.Description,
			Enabled:     t.Enabled,
			ProcessType: t.ProcessType,
			Steps:       t.StepNames(),
			Roles:       roles,
		})
	}
	return out, nil
}

// Close cancels every unfinished run and waits for them until ctx is done.
// No run can be created afterwards.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	runs := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		if r.started.CompareAndSwap(false, true) {
			// Never started: settle it here so Wait returns.
			r.mu.Lock()
			r.err = core.ErrCancelled("orchestrator closed before the run started")
			r.mu.Unlock()
			close(r.done)
			r.release()
			o.wg.Done()
			continue
		}
		r.Cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return core.ErrTimeout("runs still active at close").WithCause(ctx.Err())
	}
}
