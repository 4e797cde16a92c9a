package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateModel(&cfg.Model)
	v.validateExecutor(&cfg.Executor)
	v.validateWorkflow(&cfg.Workflow)
	v.validateAgents(&cfg.Agents)
	v.validateHistory(&cfg.History)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateModel(cfg *ModelConfig) {
	if u, err := url.Parse(cfg.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		v.addError("model.endpoint", cfg.Endpoint, "must be an absolute URL")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		v.addError("model.name", cfg.Name, "model name required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("model.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 || cfg.MaxTokens > core.MaxTokensLimit {
		v.addError("model.max_tokens", cfg.MaxTokens, fmt.Sprintf("must be between 0 and %d", core.MaxTokensLimit))
	}
	v.validateDuration("model.timeout", cfg.Timeout)
	if cfg.RequestsPerMinute < 0 {
		v.addError("model.requests_per_minute", cfg.RequestsPerMinute, "must not be negative")
	}
	if cfg.RequestsPerMinute > 0 && cfg.Burst < 1 {
		v.addError("model.burst", cfg.Burst, "must be at least 1 when rate limiting is enabled")
	}
}

func (v *Validator) validateExecutor(cfg *ExecutorConfig) {
	if strings.TrimSpace(cfg.Interpreter) == "" {
		v.addError("executor.interpreter", cfg.Interpreter, "interpreter required")
	}
	v.validateDuration("executor.timeout", cfg.Timeout)
	if cfg.Workdir != "" && !isValidPath(cfg.Workdir) {
		v.addError("executor.workdir", cfg.Workdir, "invalid directory path")
	}
}

func (v *Validator) validateWorkflow(cfg *WorkflowConfig) {
	if cfg.Strategy != "" && !core.Strategy(cfg.Strategy).Valid() {
		v.addError("workflow.strategy", cfg.Strategy, "must be empty or one of: sequential, parallel")
	}
	if cfg.MaxParallel < 1 {
		v.addError("workflow.max_parallel", cfg.MaxParallel, "must be at least 1")
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		v.addError("workflow.max_retries", cfg.MaxRetries, "must be between 0 and 10")
	}
	if cfg.MaxFixAttempts < 0 {
		v.addError("workflow.max_fix_attempts", cfg.MaxFixAttempts, "must not be negative")
	}
	v.validateDuration("workflow.step_timeout", cfg.StepTimeout)

	base, baseOK := v.validateDuration("workflow.backoff_base", cfg.BackoffBase)
	maxDelay, maxOK := v.validateDuration("workflow.backoff_max", cfg.BackoffMax)
	if baseOK && maxOK && maxDelay < base {
		v.addError("workflow.backoff_max", cfg.BackoffMax, "must be >= workflow.backoff_base")
	}
}

func (v *Validator) validateAgents(cfg *AgentsConfig) {
	if cfg.Path == "" {
		v.addError("agents.path", cfg.Path, "path required")
	} else if !isValidPath(cfg.Path) {
		v.addError("agents.path", cfg.Path, "invalid file path")
	}
	v.validateDuration("agents.lock_ttl", cfg.LockTTL)
}

func (v *Validator) validateHistory(cfg *HistoryConfig) {
	if cfg.Enabled && cfg.Path == "" {
		v.addError("history.path", cfg.Path, "path required when history is enabled")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "listen address required")
	}
}

// validateDuration records an error unless value parses as a positive duration.
func (v *Validator) validateDuration(field, value string) (time.Duration, bool) {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return 0, false
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
		return 0, false
	}
	return d, true
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}

// Durations are the parsed duration settings of a validated Config.
type Durations struct {
	ModelTimeout    time.Duration
	ExecutorTimeout time.Duration
	StepTimeout     time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	LockTTL         time.Duration
}

// Durations parses the duration strings. Call it after ValidateConfig.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"model.timeout", c.Model.Timeout, &d.ModelTimeout},
		{"executor.timeout", c.Executor.Timeout, &d.ExecutorTimeout},
		{"workflow.step_timeout", c.Workflow.StepTimeout, &d.StepTimeout},
		{"workflow.backoff_base", c.Workflow.BackoffBase, &d.BackoffBase},
		{"workflow.backoff_max", c.Workflow.BackoffMax, &d.BackoffMax},
		{"agents.lock_ttl", c.Agents.LockTTL, &d.LockTTL},
	}
	for _, f := range fields {
		parsed, err := time.ParseDuration(f.value)
		if err != nil {
			return Durations{}, core.ErrConfig(core.CodeInvalidConfig, fmt.Sprintf("%s: %v", f.name, err))
		}
		*f.dst = parsed
	}
	return d, nil
}
