package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ReferencePrefix marks a string input as a symbolic reference.
const ReferencePrefix = "$"

// InputStep is the pseudo-step holding the user-supplied workflow inputs.
const InputStep = "input"

// Grammar:
//
//	reference := "$" step "." key
//	step      := [A-Za-z_][A-Za-z0-9_-]*
//	key       := segment ("." segment)*
//	segment   := [A-Za-z_][A-Za-z0-9_]*
var referencePattern = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_-]*)\.([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)$`)

// Reference is a parsed `$<step>.<key>` string.
type Reference struct {
	Step string
	Key  string
}

// String renders the reference back to its source form.
func (r Reference) String() string {
	return ReferencePrefix + r.Step + "." + r.Key
}

// Path returns the key split on dots.
func (r Reference) Path() []string {
	return strings.Split(r.Key, ".")
}

// IsReference reports whether a value is a string that begins with "$".
func IsReference(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, ReferencePrefix)
}

// ParseReference parses s against the reference grammar.
func ParseReference(s string) (Reference, error) {
	m := referencePattern.FindStringSubmatch(s)
	if m == nil {
		return Reference{}, ErrInvalidInput(CodeInvalidReference,
			fmt.Sprintf("%q is not a valid reference; expected $<step>.<key>", s))
	}
	return Reference{Step: m[1], Key: m[2]}, nil
}

// CollectReferences returns every reference found in inputs, descending into
// nested maps and slices. The result is sorted for stable error reporting.
func CollectReferences(inputs map[string]any) ([]Reference, error) {
	var refs []Reference
	var walk func(v any) error
	walk = func(v any) error {
		switch val := v.(type) {
		case string:
			if !strings.HasPrefix(val, ReferencePrefix) {
				return nil
			}
			ref, err := ParseReference(val)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		case map[string]any:
			for _, item := range val {
				if err := walk(item); err != nil {
					return err
				}
			}
		case []any:
			for _, item := range val {
				if err := walk(item); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, v := range inputs {
		if err := walk(v); err != nil {
			return nil, err
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].String() < refs[j].String()
	})
	return refs, nil
}

// Lookup descends into value along path.
func Lookup(value map[string]any, path []string) (any, bool) {
	var cur any = value
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
