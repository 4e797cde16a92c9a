// Package templates holds the declarative workflow templates. Templates are
// data: a set of steps bound to role keys, loaded from embedded YAML and
// optionally adjusted by the agent configuration document.
package templates

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

//go:embed templates.yaml
var builtin []byte

// Registry maps template keys to templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// Load returns a registry holding the built-in templates.
func Load() (*Registry, error) {
	r, err := Parse(builtin)
	if err != nil {
		return nil, fmt.Errorf("loading built-in templates: %w", err)
	}
	return r, nil
}

// MustLoad is Load for package initialization and tests.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(err)
	}
	return r
}

// Parse decodes a template document. Unknown fields are rejected.
func Parse(data []byte) (*Registry, error) {
	var doc map[string]*Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, core.ErrConfig(core.CodeParseFailed, "invalid template document").WithCause(err)
	}
	r := &Registry{templates: make(map[string]*Template, len(doc))}
	for key, t := range doc {
		if t == nil {
			return nil, core.ErrConfig(core.CodeParseFailed, fmt.Sprintf("template %q is empty", key))
		}
		t.Key = key
		if err := r.Put(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &Registry{templates: make(map[string]*Template, len(r.templates))}
	for k, t := range r.templates {
		out.templates[k] = t.Clone()
	}
	return out
}

// Put validates t and adds or replaces it.
func (r *Registry) Put(t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Key] = t.Clone()
	return nil
}

// Get returns the enabled template registered under key.
func (r *Registry) Get(key string) (*Template, error) {
	t, ok := r.Lookup(key)
	if !ok {
		msg := fmt.Sprintf("unknown workflow template %q (available: %s)", key, strings.Join(r.Keys(), ", "))
		if s := closest(key, r.Keys()); s != "" {
			msg += fmt.Sprintf("; did you mean %q?", s)
		}
		return nil, core.ErrConfig(core.CodeTemplateNotFound, msg).WithDetail("template", key)
	}
	if !t.Enabled {
		return nil, core.ErrConfig(core.CodeTemplateDisabled,
			fmt.Sprintf("workflow template %q is disabled", key)).WithDetail("template", key)
	}
	return t, nil
}

// Lookup returns a copy of the template under key, enabled or not.
func (r *Registry) Lookup(key string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[key]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns copies of every template ordered by key.
func (r *Registry) List() []*Template {
	keys := r.Keys()
	out := make([]*Template, 0, len(keys))
	for _, k := range keys {
		if t, ok := r.Lookup(k); ok {
			out = append(out, t)
		}
	}
	return out
}

// SetEnabled toggles a template.
func (r *Registry) SetEnabled(key string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[key]
	if !ok {
		return core.ErrConfig(core.CodeTemplateNotFound, fmt.Sprintf("unknown workflow template %q", key))
	}
	t.Enabled = enabled
	return nil
}

// Override adjusts a template from the agent configuration document. Zero
// fields leave the template unchanged.
type Override struct {
	Enabled     *bool
	Name        string
	Description string
	// Steps selects and orders steps by name. Unknown names add a step
	// bound to Roles[name] that receives the user inputs.
	Steps []string
	// Roles rebinds steps to role keys.
	Roles       map[string]string
	ProcessType string
}

// Apply merges o into the template under key, creating the template when it
// does not exist yet.
func (r *Registry) Apply(key string, o Override) error {
	t, ok := r.Lookup(key)
	if !ok {
		t = &Template{Key: key, Name: key, Enabled: true, ProcessType: core.StrategySequential}
	}
	if o.Enabled != nil {
		t.Enabled = *o.Enabled
	}
	if o.Name != "" {
		t.Name = o.Name
	}
	if o.Description != "" {
		t.Description = o.Description
	}
	if o.ProcessType != "" {
		t.ProcessType = core.Strategy(o.ProcessType)
	}
	if len(o.Steps) > 0 {
		byName := make(map[string]Step, len(t.Steps))
		for _, s := range t.Steps {
			byName[s.Name] = s
		}
		steps := make([]Step, 0, len(o.Steps))
		for _, name := range o.Steps {
			s, ok := byName[name]
			if !ok {
				s = Step{Name: name, Role: o.Roles[name]}
			}
			steps = append(steps, s)
		}
		t.Steps = steps
	}
	if t.Roles == nil {
		t.Roles = make(map[string]string)
	}
	for i, s := range t.Steps {
		role, ok := o.Roles[s.Name]
		if !ok || role == "" {
			continue
		}
		t.Steps[i].Role = role
		if _, bound := t.Roles[role]; !bound {
			t.Roles[role] = role
		}
	}
	return r.Put(t)
}

// closest returns the best fuzzy match for name among candidates.
func closest(name string, candidates []string) string {
	if name == "" {
		return ""
	}
	matches := fuzzy.Find(name, candidates)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}
