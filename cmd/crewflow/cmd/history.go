package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/history"
	"github.com/hugo-lorenzo-mato/crewflow/internal/tui"
)

var historyCmd = &cobra.Command{
	Use:   "history [workflow-id]",
	Short: "Show finished workflow runs",
	Long: `List finished runs from the history ledger, newest first. With a
workflow ID the full status of that run is shown.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	},
	RunE: runHistory,
}

var (
	historyTemplate string
	historyState    string
	historyLimit    int
	historyPrune    time.Duration
	historyJSON     bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyTemplate, "template", "", "only runs of this template")
	historyCmd.Flags().StringVar(&historyState, "state", "", "only runs in this state (completed, failed, cancelled)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete runs finished longer ago than this")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := requireHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	if historyPrune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-historyPrune))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
		return nil
	}

	if len(args) == 1 {
		return showHistoryRecord(ctx, cmd, store, core.WorkflowID(args[0]))
	}

	records, err := store.List(ctx, history.Filter{
		Template: historyTemplate,
		State:    core.WorkflowState(historyState),
		Limit:    historyLimit,
	})
	if err != nil {
		return err
	}
	if historyJSON {
		return OutputJSON(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
		return nil
	}

	r := newRenderer(cmd.OutOrStdout())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTEMPLATE\tAGENT\tSTATE\tFINISHED\tDURATION")
	for _, rec := range records {
		finished := "-"
		if rec.FinishedAt != nil {
			finished = rec.FinishedAt.Local().Format(time.DateTime)
		}
		agentName := rec.Agent
		if agentName == "" {
			agentName = "-"
		}
		d := duration(rec.StartedAt, rec.FinishedAt)
		if d == "" {
			d = "-"
		}
		// State is left unstyled here; escape codes would skew tabwriter.
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Template, agentName, rec.State, finished, d)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.style(tui.PendingStyle, fmt.Sprintf("%d run(s)", len(records))))
	return nil
}

func showHistoryRecord(ctx context.Context, cmd *cobra.Command, store *history.Store, id core.WorkflowID) error {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if historyJSON {
		return OutputJSON(rec)
	}
	newRenderer(cmd.OutOrStdout()).status(rec.WorkflowStatus)
	return nil
}
