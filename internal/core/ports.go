// Package core defines the domain types, ports and error taxonomy shared by
// every crewflow package.
package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Model Port
// =============================================================================

// Bounds for model parameters.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MaxTokensLimit = 16384

	DefaultTemperature = 0.7
)

// ModelParams configures a single model request.
type ModelParams struct {
	Temperature float64  `json:"temperature" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`
	ModelName   string   `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	Stop        []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// DefaultModelParams returns sensible defaults.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Temperature: DefaultTemperature,
		MaxTokens:   4096,
	}
}

// Validate checks the parameter bounds. Both temperature ends and a zero
// max_tokens are accepted.
func (p ModelParams) Validate() error {
	if p.Temperature < MinTemperature || p.Temperature > MaxTemperature {
		return ErrInvalidInput(CodeInvalidTemperature,
			fmt.Sprintf("temperature %.2f outside [%.0f, %.0f]", p.Temperature, MinTemperature, MaxTemperature))
	}
	if p.MaxTokens < 0 || p.MaxTokens > MaxTokensLimit {
		return ErrInvalidInput(CodeInvalidMaxTokens,
			fmt.Sprintf("max_tokens %d outside [0, %d]", p.MaxTokens, MaxTokensLimit))
	}
	return nil
}

// ModelPort is the blocking completion contract every model binding offers.
type ModelPort interface {
	Complete(ctx context.Context, messages []Message, params ModelParams) (string, error)
}

// Chunk is one piece of a streamed completion. A chunk with Err set is the
// last value sent before the channel is closed.
type Chunk struct {
	Text string
	Err  error
}

// StreamingModel is implemented by bindings that can stream chunks. The
// returned channel is closed when the stream ends; cancelling ctx stops the
// next fetch.
type StreamingModel interface {
	ModelPort
	Chat(ctx context.Context, messages []Message, params ModelParams) (<-chan Chunk, error)
}

// =============================================================================
// Executor Port
// =============================================================================

// ExecOptions configures a code execution.
type ExecOptions struct {
	Timeout     time.Duration
	Environment map[string]string
	// Files are extra files written next to the code, keyed by relative path.
	Files map[string]string
}

// ExecutionResult is the structured outcome of running code.
type ExecutionResult struct {
	Success              bool    `json:"success"`
	Output               string  `json:"output"`
	Error                string  `json:"error,omitempty"`
	ReturnCode           int     `json:"return_code"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	MemoryUsageMB        float64 `json:"memory_usage_mb"`
}

// ExecutorPort runs untrusted code or tests in an isolated environment.
type ExecutorPort interface {
	Execute(ctx context.Context, code string, opts ExecOptions) (*ExecutionResult, error)
}

// =============================================================================
// Rate limiting
// =============================================================================

// RateLimitHook is called before every model invocation. Wait blocks until
// quota is available and returns early when ctx is cancelled.
type RateLimitHook interface {
	Wait(ctx context.Context) error
}

// RateLimitFunc adapts a function to RateLimitHook.
type RateLimitFunc func(ctx context.Context) error

// Wait calls f(ctx).
func (f RateLimitFunc) Wait(ctx context.Context) error {
	return f(ctx)
}
