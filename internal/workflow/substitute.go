package workflow

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Outputs maps completed step names to their outputs.
type Outputs map[string]map[string]any

// Substitute returns a copy of inputs with every `$step.key` string replaced
// by the referenced output. Nested maps and lists are walked; other values
// pass through unchanged.
func Substitute(inputs map[string]any, outputs Outputs) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		resolved, err := substituteValue(v, outputs)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func substituteValue(v any, outputs Outputs) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, core.ReferencePrefix) {
			return val, nil
		}
		ref, err := core.ParseReference(val)
		if err != nil {
			return nil, err
		}
		return resolveReference(ref, outputs)
	case map[string]any:
		return Substitute(val, outputs)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			resolved, err := substituteValue(item, outputs)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return items, nil
	}
	return v, nil
}

func resolveReference(ref core.Reference, outputs Outputs) (any, error) {
	output, ok := outputs[ref.Step]
	if !ok {
		return nil, core.ErrReference(ref.String(),
			fmt.Sprintf("step %q has not completed", ref.Step))
	}
	value, ok := core.Lookup(output, ref.Path())
	if !ok {
		return nil, core.ErrReference(ref.String(),
			fmt.Sprintf("step %q has no output %q", ref.Step, ref.Key))
	}
	return value, nil
}
