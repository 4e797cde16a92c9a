package agent

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
)

// ModelCaller sends conversations to the model port, waiting on the rate
// limiter first and streaming when the binding supports it.
type ModelCaller struct {
	Model     core.ModelPort
	RateLimit core.RateLimitHook
	Logger    *logging.Logger
}

// NewModelCaller builds a caller from agent dependencies.
func NewModelCaller(d Deps) *ModelCaller {
	return &ModelCaller{Model: d.Model, RateLimit: d.RateLimit, Logger: d.Logger}
}

// Call returns the full completion text.
func (c *ModelCaller) Call(ctx context.Context, messages []core.Message, params core.ModelParams) (string, error) {
	if c.Model == nil {
		return "", core.ErrConfig(core.CodeInvalidConfig, "no model configured")
	}
	if err := params.Validate(); err != nil {
		return "", err
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.Wait(ctx); err != nil {
			return "", mapModelError(err)
		}
	}

	if streaming, ok := c.Model.(core.StreamingModel); ok {
		text, err := c.stream(ctx, streaming, messages, params)
		return text, mapModelError(err)
	}
	text, err := c.Model.Complete(ctx, messages, params)
	if err != nil {
		return "", mapModelError(err)
	}
	return text, nil
}

func (c *ModelCaller) stream(ctx context.Context, m core.StreamingModel, messages []core.Message, params core.ModelParams) (string, error) {
	chunks, err := m.Chat(ctx, messages, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return "", chunk.Err
			}
			sb.WriteString(chunk.Text)
		}
	}
}

// mapModelError converts binding failures into the error taxonomy.
func mapModelError(err error) error {
	if err == nil {
		return nil
	}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return core.ErrCancelled("model call cancelled").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return core.ErrTimeout("model call timed out").WithCause(err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "rate limit", "too many requests", "429", "quota"):
		return core.ErrRateLimited(msg).WithCause(err)
	case containsAny(lower, "unauthorized", "forbidden", "api key", "401", "403"):
		return core.ErrAuth(msg).WithCause(err)
	case containsAny(lower, "context length", "context window", "too many tokens", "maximum context"):
		return core.ErrContextLength(msg).WithCause(err)
	}
	return core.ErrProviderUnavailable(msg).WithCause(err)
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractJSON decodes the first JSON object found in a model reply. It
// accepts bare JSON, fenced blocks and objects embedded in prose.
func ExtractJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if obj, ok := decodeObject(text); ok {
		return obj, nil
	}

	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" {
			continue
		}
		if obj, ok := decodeObject(strings.TrimSpace(m[2])); ok {
			return obj, nil
		}
	}

	if obj, ok := decodeObject(scanObject(text)); ok {
		return obj, nil
	}
	return nil, core.ErrOutputFormat("model reply does not contain a JSON object").
		WithDetail("reply", truncate(text, 200))
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// DecodeJSON extracts a JSON object and decodes it strictly into v.
func DecodeJSON(text string, v any) error {
	obj, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return core.ErrOutputFormat("re-encoding model reply").WithCause(err)
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.ErrOutputFormat("model reply has unexpected shape: " + err.Error()).WithCause(err)
	}
	return nil
}

// scanObject returns the first balanced {...} span outside string literals.
func scanObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// ExtractCode returns the body of the first fenced code block, or the whole
// reply when it carries no fence.
func ExtractCode(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[2], " \t\r\n")
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stringValue renders an input as text.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, "\n")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, stringValue(item))
		}
		return strings.Join(parts, "\n")
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// stringList normalizes a string or list input into a slice.
func stringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{stringValue(v)}
}

// floatValue reads a numeric input.
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toGeneric converts typed records into the map/slice shape step outputs use.
func toGeneric(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
