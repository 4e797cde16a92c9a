package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CREWFLOW_LOG_LEVEL.
const EnvPrefix = "CREWFLOW"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: EnvPrefix,
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CREWFLOW_*)
// 3. Project config (.crewflow/config.yaml in current directory)
// 4. User config (~/.config/crewflow/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")

		// First found wins, so the project directory goes first.
		l.v.AddConfigPath(".crewflow")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "crewflow"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("model.endpoint", "http://localhost:11434")
	l.v.SetDefault("model.name", "qwen2.5-coder")
	l.v.SetDefault("model.api_key", "")
	l.v.SetDefault("model.temperature", 0.7)
	l.v.SetDefault("model.max_tokens", 2048)
	l.v.SetDefault("model.timeout", "5m")
	l.v.SetDefault("model.requests_per_minute", 0)
	l.v.SetDefault("model.burst", 1)

	l.v.SetDefault("executor.interpreter", "python3")
	l.v.SetDefault("executor.timeout", "60s")
	l.v.SetDefault("executor.workdir", "")

	l.v.SetDefault("workflow.strategy", "")
	l.v.SetDefault("workflow.max_parallel", 4)
	l.v.SetDefault("workflow.max_retries", 3)
	l.v.SetDefault("workflow.step_timeout", "300s")
	l.v.SetDefault("workflow.backoff_base", "1s")
	l.v.SetDefault("workflow.backoff_max", "30s")
	l.v.SetDefault("workflow.max_fix_attempts", 1)
	l.v.SetDefault("workflow.auto_fix", true)
	l.v.SetDefault("workflow.strict_requirements", false)

	l.v.SetDefault("agents.path", ".crewflow/agents.json")
	l.v.SetDefault("agents.lock_ttl", "1m")
	l.v.SetDefault("agents.watch", false)

	l.v.SetDefault("history.enabled", true)
	l.v.SetDefault("history.path", ".crewflow/history.db")

	l.v.SetDefault("server.addr", "127.0.0.1:8080")
	l.v.SetDefault("server.allowed_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// secretKeys are masked by Settings.
var secretKeys = []string{"model.api_key"}

// Settings returns the merged settings as nested maps, with secrets masked.
// Call it after Load.
func (l *Loader) Settings() map[string]any {
	all := l.v.AllSettings()
	for _, key := range secretKeys {
		section, field, _ := strings.Cut(key, ".")
		m, ok := all[section].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := m[field].(string); ok && v != "" {
			m[field] = "***"
		}
	}
	return all
}
