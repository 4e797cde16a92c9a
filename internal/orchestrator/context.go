// Package orchestrator is the public façade of crewflow: it turns a template
// name into a running workflow with agents bound to every role, tracks the
// runs it started and records them in the history ledger.
package orchestrator

import (
	"context"
	"sync"

	"github.com/hugo-lorenzo-mato/crewflow/internal/agent"
	"github.com/hugo-lorenzo-mato/crewflow/internal/config"
	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/events"
	"github.com/hugo-lorenzo-mato/crewflow/internal/history"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
	"github.com/hugo-lorenzo-mato/crewflow/internal/prompts"
	"github.com/hugo-lorenzo-mato/crewflow/internal/templates"
	"github.com/hugo-lorenzo-mato/crewflow/internal/validation"
)

// Context carries every collaborator the orchestrator and its agents need.
// Nothing is process-global: tests build their own Context.
type Context struct {
	Logger    *logging.Logger
	Factory   *agent.Factory
	Store     *config.AgentStore
	Templates *templates.Registry
	Prompts   *prompts.Registry
	Suite     *validation.Suite
	Model     core.ModelPort
	Executor  core.ExecutorPort
	RateLimit core.RateLimitHook
	Bus       *events.Bus
	History   *history.Store
	Settings  Settings

	mu  sync.RWMutex
	doc *config.AgentDocument
}

// ContextOption configures a Context.
type ContextOption func(*Context)

func WithLogger(l *logging.Logger) ContextOption {
	return func(c *Context) { c.Logger = l }
}

func WithFactory(f *agent.Factory) ContextOption {
	return func(c *Context) { c.Factory = f }
}

// WithAgentStore loads the agent configuration document from store.
func WithAgentStore(s *config.AgentStore) ContextOption {
	return func(c *Context) { c.Store = s }
}

// WithDocument uses doc as the agent configuration instead of a store.
func WithDocument(doc *config.AgentDocument) ContextOption {
	return func(c *Context) { c.doc = doc }
}

func WithTemplates(r *templates.Registry) ContextOption {
	return func(c *Context) { c.Templates = r }
}

func WithPrompts(r *prompts.Registry) ContextOption {
	return func(c *Context) { c.Prompts = r }
}

func WithSuite(s *validation.Suite) ContextOption {
	return func(c *Context) { c.Suite = s }
}

func WithModel(m core.ModelPort) ContextOption {
	return func(c *Context) { c.Model = m }
}

func WithExecutor(e core.ExecutorPort) ContextOption {
	return func(c *Context) { c.Executor = e }
}

func WithRateLimit(h core.RateLimitHook) ContextOption {
	return func(c *Context) { c.RateLimit = h }
}

func WithBus(b *events.Bus) ContextOption {
	return func(c *Context) { c.Bus = b }
}

// WithHistory records finished runs in h.
func WithHistory(h *history.Store) ContextOption {
	return func(c *Context) { c.History = h }
}

func WithSettings(s Settings) ContextOption {
	return func(c *Context) { c.Settings = s }
}

// NewContext builds a Context. Unset collaborators get fresh defaults; the
// model and executor ports have none.
func NewContext(opts ...ContextOption) (*Context, error) {
	c := &Context{Settings: DefaultSettings()}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.Factory == nil {
		c.Factory = agent.DefaultFactory()
	}
	if c.Templates == nil {
		reg, err := templates.Load()
		if err != nil {
			return nil, err
		}
		c.Templates = reg
	}
	if c.Prompts == nil {
		reg, err := prompts.New()
		if err != nil {
			return nil, err
		}
		c.Prompts = reg
	}
	if c.Suite == nil {
		c.Suite = validation.NewSuite()
	}
	if c.Bus == nil {
		c.Bus = events.New(100)
	}
	if c.doc == nil && c.Store != nil {
		doc, err := c.Store.LoadOrDefault(c.Templates)
		if err != nil {
			return nil, err
		}
		c.doc = doc
	}
	return c, nil
}

// Document returns the current agent configuration document, or nil.
func (c *Context) Document() *config.AgentDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc
}

// SetDocument replaces the agent configuration document.
func (c *Context) SetDocument(doc *config.AgentDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc
}

// WatchAgents reloads the document whenever the store file changes. Invalid
// edits are logged and the previous document stays in effect.
func (c *Context) WatchAgents(ctx context.Context) error {
	if c.Store == nil {
		return core.ErrConfig(core.CodeInvalidConfig, "no agent store configured")
	}
	return c.Store.Watch(ctx, func(doc *config.AgentDocument, err error) {
		if err != nil {
			c.Logger.Warn("agent configuration reload failed, keeping previous", "path", c.Store.Path(), "error", err)
			return
		}
		c.SetDocument(doc)
		c.Logger.Info("agent configuration reloaded", "path", c.Store.Path(), "current_agent", doc.CurrentAgent)
	})
}

// deps returns the agent dependencies for a run using reg as its templates.
func (c *Context) deps(reg *templates.Registry) agent.Deps {
	return agent.Deps{
		Model:       c.Model,
		Executor:    c.Executor,
		RateLimit:   c.RateLimit,
		Prompts:     c.Prompts,
		Suite:       c.Suite,
		Templates:   reg,
		Bus:         c.Bus,
		Logger:      c.Logger,
		ExecTimeout: c.Settings.ExecTimeout,
	}
}
