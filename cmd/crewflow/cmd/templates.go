package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List workflow templates",
	Long: `List the built-in workflow templates. With --agent the overrides of
that agent profile are applied first.`,
	Args: cobra.NoArgs,
	RunE: runTemplates,
}

var (
	templatesAgent string
	templatesJSON  bool
)

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.Flags().StringVar(&templatesAgent, "agent", "", "apply the overrides of this agent profile")
	templatesCmd.Flags().BoolVar(&templatesJSON, "json", false, "output as JSON")
}

func runTemplates(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	list, err := a.orch.TemplateSummaries(templatesAgent)
	if err != nil {
		return err
	}
	if templatesJSON {
		return OutputJSON(list)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tSTRATEGY\tENABLED\tSTEPS")
	for _, t := range list {
		strategy := string(t.ProcessType)
		if strategy == "" {
			strategy = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			t.Key, t.Name, strategy, t.Enabled, strings.Join(t.Steps, ", "))
	}
	return w.Flush()
}
