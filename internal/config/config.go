package config

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Model    ModelConfig    `mapstructure:"model"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	History  HistoryConfig  `mapstructure:"history"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ModelConfig configures the model endpoint agents talk to.
type ModelConfig struct {
	Endpoint          string  `mapstructure:"endpoint"`
	Name              string  `mapstructure:"name"`
	APIKey            string  `mapstructure:"api_key"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Timeout           string  `mapstructure:"timeout"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// ExecutorConfig configures the local code executor.
type ExecutorConfig struct {
	Interpreter string            `mapstructure:"interpreter"`
	Timeout     string            `mapstructure:"timeout"`
	Workdir     string            `mapstructure:"workdir"`
	Environment map[string]string `mapstructure:"environment"`
}

// WorkflowConfig configures workflow execution.
type WorkflowConfig struct {
	Strategy       string `mapstructure:"strategy"`
	MaxParallel    int    `mapstructure:"max_parallel"`
	MaxRetries     int    `mapstructure:"max_retries"`
	StepTimeout    string `mapstructure:"step_timeout"`
	BackoffBase    string `mapstructure:"backoff_base"`
	BackoffMax     string `mapstructure:"backoff_max"`
	MaxFixAttempts int    `mapstructure:"max_fix_attempts"`
	AutoFix        bool   `mapstructure:"auto_fix"`

	// StrictRequirements makes unmet requirements fail the judge.
	StrictRequirements bool `mapstructure:"strict_requirements"`
}

// AgentsConfig locates the agent configuration document.
type AgentsConfig struct {
	Path    string `mapstructure:"path"`
	LockTTL string `mapstructure:"lock_ttl"`
	Watch   bool   `mapstructure:"watch"`
}

// HistoryConfig configures the run history ledger.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
