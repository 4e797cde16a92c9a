package orchestrator

import (
	"time"

	"github.com/hugo-lorenzo-mato/crewflow/internal/config"
	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/workflow"
)

// Settings are the run defaults applied to every workflow the orchestrator
// creates.
type Settings struct {
	// Strategy overrides each template's process type when set.
	Strategy    core.Strategy
	MaxParallel int
	// StepMaxRetries and StepTimeout apply to steps whose template does not
	// set them.
	StepMaxRetries int
	StepTimeout    time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	ExecTimeout    time.Duration

	Model           core.ModelParams
	AgentMaxRetries int
	AutoFix         bool
	MaxFixAttempts  int
}

// DefaultSettings returns the built-in run defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxParallel:     workflow.DefaultMaxParallel,
		StepMaxRetries:  core.DefaultStepMaxRetries,
		StepTimeout:     core.DefaultStepTimeout,
		BackoffBase:     time.Second,
		BackoffMax:      30 * time.Second,
		ExecTimeout:     60 * time.Second,
		Model:           core.DefaultModelParams(),
		AgentMaxRetries: 3,
		AutoFix:         true,
		MaxFixAttempts:  1,
	}
}

// SettingsFromConfig maps the application configuration onto run settings.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	d, err := cfg.Durations()
	if err != nil {
		return Settings{}, err
	}
	s := DefaultSettings()
	s.Strategy = core.Strategy(cfg.Workflow.Strategy)
	s.MaxParallel = cfg.Workflow.MaxParallel
	s.StepMaxRetries = cfg.Workflow.MaxRetries
	s.StepTimeout = d.StepTimeout
	s.BackoffBase = d.BackoffBase
	s.BackoffMax = d.BackoffMax
	s.ExecTimeout = d.ExecutorTimeout
	s.Model = core.ModelParams{
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		ModelName:   cfg.Model.Name,
	}
	s.AgentMaxRetries = cfg.Workflow.MaxRetries
	s.AutoFix = cfg.Workflow.AutoFix
	s.MaxFixAttempts = cfg.Workflow.MaxFixAttempts
	return s, nil
}
