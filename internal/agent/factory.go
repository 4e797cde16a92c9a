package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Constructor builds an agent of one type.
type Constructor func(cfg core.AgentConfig, deps Deps) (Agent, error)

// Metadata describes a registered agent type.
type Metadata struct {
	Type        string `json:"type"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// Availability reports whether a type can be constructed.
type Availability struct {
	Metadata  Metadata `json:"metadata"`
	Available bool     `json:"available"`
	Error     string   `json:"error,omitempty"`
}

type registration struct {
	ctor Constructor
	meta Metadata
}

// Factory is the agent type registry. It constructs, activates and caches
// agents by name.
type Factory struct {
	mu      sync.RWMutex
	types   map[string]registration
	initial map[string]registration
	cache   map[string]Agent
	kinds   map[string]string
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{
		types:   make(map[string]registration),
		initial: make(map[string]registration),
		cache:   make(map[string]Agent),
		kinds:   make(map[string]string),
	}
}

// DefaultFactory creates a factory with every built-in agent type.
func DefaultFactory() *Factory {
	f := NewFactory()
	RegisterBuiltins(f)
	f.mu.Lock()
	for k, v := range f.types {
		f.initial[k] = v
	}
	f.mu.Unlock()
	return f
}

var (
	sharedOnce    sync.Once
	sharedFactory *Factory
)

// Shared returns the process-wide factory used by the CLI. Library callers
// should hold their own factory.
func Shared() *Factory {
	sharedOnce.Do(func() {
		sharedFactory = DefaultFactory()
	})
	return sharedFactory
}

// GenericRoles are served by RoleAgent.
var GenericRoles = []string{"analyst", "integrator", "writer", "debugger", "tester", "documenter"}

// RegisterBuiltins registers the dedicated agents and the generic roles.
func RegisterBuiltins(f *Factory) {
	builtins := []struct {
		name string
		desc string
		ctor Constructor
	}{
		{"architect", "Designs components, interfaces and data flows", func(cfg core.AgentConfig, deps Deps) (Agent, error) {
			return NewArchitect(cfg, deps)
		}},
		{"developer", "Writes tests and code, runs them and repairs failures", func(cfg core.AgentConfig, deps Deps) (Agent, error) {
			return NewDeveloper(cfg, deps)
		}},
		{"reviewer", "Scores code quality, maintainability and security", func(cfg core.AgentConfig, deps Deps) (Agent, error) {
			return NewReviewer(cfg, deps)
		}},
		{"judge", "Validates code and tests against quality thresholds", func(cfg core.AgentConfig, deps Deps) (Agent, error) {
			return NewJudge(cfg, deps)
		}},
		{"crew", "Plans workflows for a fixed team of agents", func(cfg core.AgentConfig, deps Deps) (Agent, error) {
			return NewCrew(cfg, deps)
		}},
	}
	for _, b := range builtins {
		_ = f.RegisterWithMetadata(b.name, b.ctor, Metadata{Type: b.name, Role: b.name, Description: b.desc})
	}
	for _, role := range GenericRoles {
		role := role
		ctor := func(cfg core.AgentConfig, deps Deps) (Agent, error) {
			if cfg.Role == "" {
				cfg.Role = role
			}
			return NewRoleAgent(cfg, deps)
		}
		_ = f.RegisterWithMetadata(role, ctor, Metadata{
			Type: role, Role: role, Description: fmt.Sprintf("Generic %s answering from role prompts", role),
		})
	}
}

// Register adds an agent type.
func (f *Factory) Register(name string, ctor Constructor) error {
	return f.RegisterWithMetadata(name, ctor, Metadata{Type: name, Role: name})
}

// RegisterWithMetadata adds an agent type. The constructor is dry-run with a
// default configuration and must return an agent without panicking.
func (f *Factory) RegisterWithMetadata(name string, ctor Constructor, meta Metadata) error {
	if strings.TrimSpace(name) == "" {
		return core.ErrInvalidInput(core.CodeInvalidConstructor, "agent type name is required")
	}
	if err := dryRun(name, ctor); err != nil {
		return err
	}
	if meta.Type == "" {
		meta.Type = name
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[name] = registration{ctor: ctor, meta: meta}
	return nil
}

func dryRun(name string, ctor Constructor) (err error) {
	if ctor == nil {
		return core.ErrInvalidInput(core.CodeInvalidConstructor, fmt.Sprintf("constructor for %s is nil", name))
	}
	defer func() {
		if r := recover(); r != nil {
			err = core.ErrInvalidInput(core.CodeInvalidConstructor,
				fmt.Sprintf("constructor for %s panicked: %v", name, r))
		}
	}()
	a, cerr := ctor(core.DefaultAgentConfig("dry-run-"+name, ""), Deps{})
	if cerr != nil {
		return core.ErrInvalidInput(core.CodeInvalidConstructor,
			fmt.Sprintf("constructor for %s rejects the default configuration", name)).WithCause(cerr)
	}
	if a == nil {
		return core.ErrInvalidInput(core.CodeInvalidConstructor, fmt.Sprintf("constructor for %s returned no agent", name))
	}
	return nil
}

// Unregister removes an agent type. Cached agents stay usable.
func (f *Factory) Unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.types, name)
}

// Types returns the registered type names in sorted order.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.types))
	for t := range f.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Has reports whether typ is registered.
func (f *Factory) Has(typ string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.types[typ]
	return ok
}

// Create constructs an agent of type typ, activates it and caches it under
// its name. An agent already cached under that name with the same type is
// returned as is.
func (f *Factory) Create(typ string, cfg core.AgentConfig, deps Deps) (Agent, error) {
	f.mu.RLock()
	reg, ok := f.types[typ]
	f.mu.RUnlock()
	if !ok {
		return nil, f.unknown(typ)
	}
	if cfg.Name == "" {
		cfg.Name = typ
	}

	f.mu.RLock()
	cached, hit := f.cache[cfg.Name]
	sameType := f.kinds[cfg.Name] == typ
	f.mu.RUnlock()
	if hit && sameType {
		return cached, nil
	}

	a, err := reg.ctor(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("creating %s agent %s: %w", typ, cfg.Name, err)
	}
	a.Activate()

	f.mu.Lock()
	f.cache[cfg.Name] = a
	f.kinds[cfg.Name] = typ
	f.mu.Unlock()
	return a, nil
}

// CreateMany creates one agent per type, named after the type.
func (f *Factory) CreateMany(types []string, cfg core.AgentConfig, deps Deps) (map[string]Agent, error) {
	out := make(map[string]Agent, len(types))
	for _, typ := range types {
		c := cfg.Clone()
		c.Name = typ
		c.Role = ""
		a, err := f.Create(typ, c, deps)
		if err != nil {
			return nil, err
		}
		out[typ] = a
	}
	return out, nil
}

// Get returns a cached agent by name.
func (f *Factory) Get(name string) (Agent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.cache[name]
	return a, ok
}

// Release drops a cached agent. Agents created per run are released when
// the run ends.
func (f *Factory) Release(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, name)
	delete(f.kinds, name)
}

// Available reports every type's metadata and whether it can be built
// without a live model.
func (f *Factory) Available() map[string]Availability {
	f.mu.RLock()
	regs := make(map[string]registration, len(f.types))
	for k, v := range f.types {
		regs[k] = v
	}
	f.mu.RUnlock()

	out := make(map[string]Availability, len(regs))
	for name, reg := range regs {
		av := Availability{Metadata: reg.meta, Available: true}
		if err := dryRun(name, reg.ctor); err != nil {
			av.Available = false
			av.Error = err.Error()
		}
		out[name] = av
	}
	return out
}

// Reset drops cached agents and restores the registrations the factory was
// created with.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]Agent)
	f.kinds = make(map[string]string)
	f.types = make(map[string]registration, len(f.initial))
	for k, v := range f.initial {
		f.types[k] = v
	}
}

func (f *Factory) unknown(typ string) error {
	types := f.Types()
	msg := fmt.Sprintf("unknown agent type %q (available: %s)", typ, strings.Join(types, ", "))
	if typ != "" {
		if matches := fuzzy.Find(typ, types); len(matches) > 0 {
			msg += fmt.Sprintf("; did you mean %q?", matches[0].Str)
		}
	}
	return core.ErrConfig(core.CodeUnknownAgentType, msg).
		WithDetail("type", typ).
		WithDetail("available", types)
}
