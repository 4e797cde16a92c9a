package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crewflow/internal/agent"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent types and profiles",
	Long: `List the registered agent types, whether each can be constructed with the
current configuration, and the profiles of the agent configuration document.`,
	Args: cobra.NoArgs,
	RunE: runAgents,
}

var agentsSetWorkflowCmd = &cobra.Command{
	Use:   "set-workflow <agent> <workflow> <on|off>",
	Short: "Enable or disable a workflow for an agent profile",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(3)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	},
	RunE: runAgentsSetWorkflow,
}

var agentsJSON bool

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsSetWorkflowCmd)
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "output as JSON")
}

// agentsListing is the --json document.
type agentsListing struct {
	Types        []agent.Availability `json:"types"`
	AgentEnabled bool                 `json:"agent_enabled"`
	CurrentAgent string               `json:"current_agent,omitempty"`
	Profiles     []string             `json:"profiles"`
}

func runAgents(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	c := a.orch.Context()
	available := c.Factory.Available()
	listing := agentsListing{Profiles: []string{}}
	for _, name := range sortedKeys(available) {
		listing.Types = append(listing.Types, available[name])
	}
	if doc := c.Document(); doc != nil {
		listing.AgentEnabled = doc.AgentEnabled
		listing.CurrentAgent = doc.CurrentAgent
		listing.Profiles = doc.ProfileNames()
	}
	if agentsJSON {
		return OutputJSON(listing)
	}

	r := newRenderer(cmd.OutOrStdout())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tROLE\tAVAILABLE\tDESCRIPTION")
	for _, av := range listing.Types {
		desc := av.Metadata.Description
		if !av.Available {
			desc = "unavailable: " + av.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", av.Metadata.Type, av.Metadata.Role, av.Available, desc)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout())
	if len(listing.Profiles) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No agent profiles (create %s with 'crewflow config init').\n", a.store.Path())
		return nil
	}
	r.header("Profiles")
	for _, name := range listing.Profiles {
		marker := " "
		if listing.AgentEnabled && name == listing.CurrentAgent {
			marker = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
	}
	return nil
}

func runAgentsSetWorkflow(cmd *cobra.Command, args []string) error {
	var enabled bool
	switch strings.ToLower(args[2]) {
	case "on", "true", "enable", "enabled":
		enabled = true
	case "off", "false", "disable", "disabled":
		enabled = false
	default:
		return usageError(fmt.Errorf("invalid state %q: expected on or off", args[2]))
	}

	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if err := a.store.SetWorkflowEnabled(cmd.Context(), args[0], args[1], enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s %s for agent %s\n", args[1], state, args[0])
	return nil
}
