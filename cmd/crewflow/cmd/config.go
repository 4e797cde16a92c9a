package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/crewflow/internal/config"
	"github.com/hugo-lorenzo-mato/crewflow/internal/templates"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the project configuration and agent document",
	Long: `Write .crewflow/config.yaml with the defaults and the agent configuration
document with one profile per agent type. Existing files are kept unless
--force is given, which rewrites the agent document.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var (
	configInitForce  bool
	configInitGlobal bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite the agent document")
	configInitCmd.Flags().BoolVar(&configInitGlobal, "global", false, "write the per-user config instead of the project one")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := config.ProjectConfigPath(".")
	if configInitGlobal {
		p, err := config.GlobalConfigPath()
		if err != nil {
			return &exitError{code: ExitInvalid, err: err}
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	created, err := config.EnsureConfigFile(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Kept existing %s\n", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := cfg.Durations()
	if err != nil {
		return &exitError{code: ExitInvalid, err: err}
	}
	reg, err := templates.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Agents.Path), 0o750); err != nil {
		return fmt.Errorf("creating agent config directory: %w", err)
	}
	store := config.NewAgentStore(cfg.Agents.Path, config.WithLockTTL(d.LockTTL))
	written, err := store.Init(cmd.Context(), reg, configInitForce)
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote agent configuration %s\n", store.Path())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Kept existing agent configuration %s (use --force to rewrite)\n", store.Path())
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	loader := newLoader()
	if _, err := loadConfigWith(loader); err != nil {
		return err
	}
	data, err := yaml.Marshal(loader.Settings())
	if err != nil {
		return err
	}
	if f := loader.ConfigFile(); f != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
