package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/crewflow/internal/adapters/executor"
	"github.com/hugo-lorenzo-mato/crewflow/internal/adapters/model"
	"github.com/hugo-lorenzo-mato/crewflow/internal/config"
	"github.com/hugo-lorenzo-mato/crewflow/internal/history"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
	"github.com/hugo-lorenzo-mato/crewflow/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/crewflow/internal/ratelimit"
	"github.com/hugo-lorenzo-mato/crewflow/internal/validation"
)

// app bundles what a command needs once configuration has been loaded.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	orch    *orchestrator.Orchestrator
	store   *config.AgentStore
	history *history.Store
}

// appOptions select the optional parts of the app.
type appOptions struct {
	// history opens the run ledger when it is enabled in the config.
	history bool
}

func newLoader() *config.Loader {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	return loadConfigWith(newLoader())
}

func loadConfigWith(loader *config.Loader) (*config.Config, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, &exitError{code: ExitInvalid, err: err}
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, &exitError{code: ExitInvalid, err: err}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level := cfg.Log.Level
	if quiet {
		level = "error"
	}
	out := os.Stderr
	if cfg.Log.File != "" {
		if f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err == nil {
			out = f
		}
	}
	return logging.New(logging.Config{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    out,
		AddSource: level == "debug",
	})
}

// newApp wires configuration, adapters and the orchestrator.
func newApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, &exitError{code: ExitInvalid, err: err}
	}
	logger := newLogger(cfg)
	logger.RedactSecret(cfg.Model.APIKey)

	settings, err := orchestrator.SettingsFromConfig(cfg)
	if err != nil {
		return nil, &exitError{code: ExitInvalid, err: err}
	}

	limits := ratelimit.NewRegistry(ratelimit.Config{
		RequestsPerMinute: float64(cfg.Model.RequestsPerMinute),
		Burst:             cfg.Model.Burst,
	})
	client := model.New(model.Config{
		Endpoint: cfg.Model.Endpoint,
		Model:    cfg.Model.Name,
		APIKey:   cfg.Model.APIKey,
		Timeout:  d.ModelTimeout,
	}, model.WithLogger(logger))
	exec := executor.New(executor.Config{
		Interpreter: cfg.Executor.Interpreter,
		Workdir:     cfg.Executor.Workdir,
		Timeout:     d.ExecutorTimeout,
		Environment: cfg.Executor.Environment,
	}, logger)
	if err := exec.Available(); err != nil {
		logger.Warn("code executor unavailable, developer steps will fail", "error", err)
	}

	suite := validation.NewSuite()
	suite.Requirements.Strict = cfg.Workflow.StrictRequirements

	a := &app{cfg: cfg, logger: logger}
	ctxOpts := []orchestrator.ContextOption{
		orchestrator.WithSuite(suite),
		orchestrator.WithLogger(logger),
		orchestrator.WithModel(client),
		orchestrator.WithExecutor(exec),
		orchestrator.WithRateLimit(limits.Hook(cfg.Model.Name)),
		orchestrator.WithSettings(settings),
	}

	a.store = config.NewAgentStore(cfg.Agents.Path,
		config.WithLockTTL(d.LockTTL),
		config.WithStoreLogger(logger))
	// Without an agent document every role binds to its own agent type.
	if _, err := os.Stat(cfg.Agents.Path); err == nil {
		ctxOpts = append(ctxOpts, orchestrator.WithAgentStore(a.store))
	}

	if opts.history && cfg.History.Enabled {
		h, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Warn("run history unavailable", "path", cfg.History.Path, "error", err)
		} else {
			a.history = h
			ctxOpts = append(ctxOpts, orchestrator.WithHistory(h))
		}
	}

	c, err := orchestrator.NewContext(ctxOpts...)
	if err != nil {
		a.close(context.Background())
		return nil, &exitError{code: ExitInvalid, err: err}
	}
	a.orch = orchestrator.New(c)
	return a, nil
}

// close stops the orchestrator and releases the ledger.
func (a *app) close(ctx context.Context) {
	if a.orch != nil {
		if err := a.orch.Close(ctx); err != nil {
			a.logger.Warn("closing orchestrator", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("closing run history", "error", err)
		}
	}
}

// OutputJSON writes v as indented JSON to stdout.
func OutputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requireHistory opens the ledger for commands that only read it.
func requireHistory(cfg *config.Config) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, &exitError{code: ExitInvalid, err: errors.New("run history is disabled (history.enabled: false)")}
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		return nil, &exitError{code: ExitInvalid, err: fmt.Errorf("no run history at %s", cfg.History.Path)}
	}
	return history.Open(cfg.History.Path)
}
