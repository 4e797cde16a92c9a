// Package prompts holds the typed prompt registry used by every agent.
//
// Templates are keyed by (role, step) and declare their parameters in a
// leading comment:
//
//	{{/* params: requirements constraints? */}}
//
// A trailing "?" marks an optional parameter. Referencing an undeclared
// parameter is rejected when the template is loaded; omitting a required one
// is rejected when it is rendered.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"text/template/parse"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

//go:embed templates/*/*.md.tmpl
var templatesFS embed.FS

const (
	templateSuffix = ".md.tmpl"
	// DefaultStep is the fallback step name within a role.
	DefaultStep = "default"
	// GenericRole is the fallback role.
	GenericRole = "generic"
)

var paramsHeader = regexp.MustCompile(`^\s*\{\{/\*\s*params:(.*?)\*/\}\}`)

// Key identifies a template.
type Key struct {
	Role string
	Step string
}

func (k Key) String() string {
	return k.Role + "/" + k.Step
}

// Template is a parsed prompt with its declared parameters.
type Template struct {
	Key      Key
	Required []string
	Optional []string
	tmpl     *template.Template
}

// Registry maps (role, step) to prompt templates.
type Registry struct {
	templates map[Key]*Template
	mu        sync.RWMutex
}

// New creates a registry loaded with the embedded templates.
func New() (*Registry, error) {
	r := &Registry{templates: make(map[Key]*Template)}
	if err := r.LoadFS(templatesFS, "templates"); err != nil {
		return nil, fmt.Errorf("loading embedded prompts: %w", err)
	}
	return r, nil
}

// LoadDir overrides or extends templates from <dir>/<role>/<step>.md.tmpl.
func (r *Registry) LoadDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return core.ErrConfig(core.CodePromptMissing, fmt.Sprintf("prompt directory %s: %v", dir, err))
	}
	return r.LoadFS(os.DirFS(dir), ".")
}

// LoadFS loads every <role>/<step>.md.tmpl below root.
func (r *Registry) LoadFS(fsys fs.FS, root string) error {
	return fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, templateSuffix) {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}

		step := strings.TrimSuffix(path.Base(p), templateSuffix)
		role := path.Base(path.Dir(p))
		if role == "." || role == root {
			return nil
		}
		return r.Register(role, step, string(content))
	})
}

// Register parses and stores a template, replacing any existing one.
func (r *Registry) Register(role, step, text string) error {
	key := Key{Role: role, Step: step}
	t, err := compile(key, text)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[key] = t
	return nil
}

func compile(key Key, text string) (*Template, error) {
	t := &Template{Key: key}
	declared := make(map[string]bool)
	if m := paramsHeader.FindStringSubmatch(text); m != nil {
		for _, p := range strings.Fields(m[1]) {
			if name, ok := strings.CutSuffix(p, "?"); ok {
				t.Optional = append(t.Optional, name)
				declared[name] = true
				continue
			}
			t.Required = append(t.Required, p)
			declared[p] = true
		}
	}

	tmpl, err := template.New(key.String()).Funcs(templateFuncs()).Parse(text)
	if err != nil {
		return nil, core.ErrConfig(core.CodePromptParams, fmt.Sprintf("parsing prompt %s: %v", key, err))
	}

	var undeclared []string
	for _, field := range referencedParams(tmpl.Tree.Root) {
		if !declared[field] {
			undeclared = append(undeclared, field)
		}
	}
	if len(undeclared) > 0 {
		return nil, core.ErrConfig(core.CodePromptParams,
			fmt.Sprintf("prompt %s references undeclared params: %s", key, strings.Join(undeclared, ", ")))
	}

	t.tmpl = tmpl
	return t, nil
}

// referencedParams returns the top-level fields read from the root data.
func referencedParams(root *parse.ListNode) []string {
	seen := make(map[string]bool)
	var walk func(n parse.Node, atRoot bool)
	walk = func(n parse.Node, atRoot bool) {
		switch node := n.(type) {
		case nil:
		case *parse.ListNode:
			if node == nil {
				return
			}
			for _, c := range node.Nodes {
				walk(c, atRoot)
			}
		case *parse.ActionNode:
			walk(node.Pipe, atRoot)
		case *parse.PipeNode:
			if node == nil {
				return
			}
			for _, cmd := range node.Cmds {
				walk(cmd, atRoot)
			}
		case *parse.CommandNode:
			for _, arg := range node.Args {
				walk(arg, atRoot)
			}
		case *parse.FieldNode:
			if atRoot && len(node.Ident) > 0 {
				seen[node.Ident[0]] = true
			}
		case *parse.VariableNode:
			if len(node.Ident) > 1 && node.Ident[0] == "$" {
				seen[node.Ident[1]] = true
			}
		case *parse.ChainNode:
			walk(node.Node, atRoot)
		case *parse.IfNode:
			walk(node.Pipe, atRoot)
			walk(node.List, atRoot)
			walk(node.ElseList, atRoot)
		case *parse.RangeNode:
			walk(node.Pipe, atRoot)
			walk(node.List, false)
			walk(node.ElseList, atRoot)
		case *parse.WithNode:
			walk(node.Pipe, atRoot)
			walk(node.List, false)
			walk(node.ElseList, atRoot)
		case *parse.TemplateNode:
			walk(node.Pipe, atRoot)
		}
	}
	walk(root, true)

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup finds the template for (role, step), falling back to the role's
// default and then to the generic default.
func (r *Registry) Lookup(role, step string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range []Key{{role, step}, {role, DefaultStep}, {GenericRole, DefaultStep}} {
		if t, ok := r.templates[k]; ok {
			return t, true
		}
	}
	return nil, false
}

// Has reports whether an exact (role, step) template exists.
func (r *Registry) Has(role, step string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[Key{role, step}]
	return ok
}

// Keys lists the registered templates in sorted order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Render executes the template for (role, step) with params.
func (r *Registry) Render(role, step string, params map[string]any) (string, error) {
	t, ok := r.Lookup(role, step)
	if !ok {
		return "", core.ErrConfig(core.CodePromptMissing, fmt.Sprintf("no prompt for %s/%s", role, step))
	}
	return t.Render(params)
}

// Render executes the template. Missing optional params render empty.
func (t *Template) Render(params map[string]any) (string, error) {
	data := make(map[string]any, len(params)+len(t.Optional))
	var missing []string
	for _, name := range t.Required {
		v, ok := params[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		data[name] = v
	}
	if len(missing) > 0 {
		return "", core.ErrConfig(core.CodePromptParams,
			fmt.Sprintf("prompt %s missing params: %s", t.Key, strings.Join(missing, ", ")))
	}
	for _, name := range t.Optional {
		if v, ok := params[name]; ok && v != nil {
			data[name] = v
		} else {
			data[name] = ""
		}
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", core.ErrConfig(core.CodePromptParams, fmt.Sprintf("rendering prompt %s: %v", t.Key, err))
	}
	return strings.TrimSpace(buf.String()), nil
}

// templateFuncs returns custom template functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"indent":    indent,
		"trimSpace": strings.TrimSpace,
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"bullets":   bullets,
		"toJSON":    toJSON,
		"text":      text,
	}
}

func indent(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

// bullets renders a list (or a scalar) as markdown bullet points.
func bullets(v any) string {
	var items []string
	switch val := v.(type) {
	case nil:
		return ""
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, text(item))
		}
	default:
		items = []string{text(val)}
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}

// text renders strings verbatim and everything else as JSON.
func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	return toJSON(v)
}

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
