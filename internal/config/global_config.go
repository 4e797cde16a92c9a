package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GlobalConfigPath returns the per-user configuration path.
func GlobalConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "crewflow", "config.yaml"), nil
}

// ProjectConfigPath returns the project configuration path under dir.
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, ".crewflow", "config.yaml")
}

// EnsureConfigFile writes DefaultConfigYAML to path unless a file exists
// there. It reports whether the file was created.
func EnsureConfigFile(path string) (bool, error) {
	if _, statErr := os.Stat(path); statErr == nil {
		return false, nil
	} else if !os.IsNotExist(statErr) {
		return false, fmt.Errorf("checking config: %w", statErr)
	}

	if err := AtomicWrite(path, []byte(DefaultConfigYAML)); err != nil {
		return false, fmt.Errorf("creating config: %w", err)
	}
	return true, nil
}
