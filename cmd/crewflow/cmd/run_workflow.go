package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/crewflow/internal/tui"
)

var runWorkflowCmd = &cobra.Command{
	Use:   "run-workflow <template>",
	Short: "Run a workflow template to completion",
	Long: `Create a workflow from a template and run it in the foreground.

Inputs come from --inputs-file (JSON or YAML) and from repeated --input
key=value flags, which win over the file. Values that parse as JSON keep
their type, anything else is passed as a string.

Exit codes: 0 completed, 1 invalid input or configuration, 2 workflow
failed, 3 cancelled, 64 usage error.`,
	Example: `  crewflow run-workflow develop --input requirements="Validate email addresses"
  crewflow run-workflow review --inputs-file review.yaml --strategy parallel --json
  crewflow run-workflow develop --agent crew --cancel-after 30`,
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	},
	RunE: runWorkflow,
}

var (
	runAgent       string
	runCancelAfter float64
	runInputs      []string
	runInputsFile  string
	runStrategy    string
	runMaxParallel int
	runJSON        bool
	runLive        bool
)

func init() {
	rootCmd.AddCommand(runWorkflowCmd)
	runWorkflowCmd.Flags().StringVar(&runAgent, "agent", "", "agent profile to run with (default: current agent)")
	runWorkflowCmd.Flags().Float64Var(&runCancelAfter, "cancel-after", 0, "request cancellation after this many seconds")
	runWorkflowCmd.Flags().StringArrayVar(&runInputs, "input", nil, "workflow input as key=value (repeatable)")
	runWorkflowCmd.Flags().StringVar(&runInputsFile, "inputs-file", "", "JSON or YAML file with workflow inputs")
	runWorkflowCmd.Flags().StringVar(&runStrategy, "strategy", "", "override the strategy (sequential, parallel)")
	runWorkflowCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "maximum concurrent steps for parallel runs")
	runWorkflowCmd.Flags().BoolVar(&runJSON, "json", false, "output the final status as JSON")
	runWorkflowCmd.Flags().BoolVar(&runLive, "live", false, "show live step progress in the terminal")
}

// runResult is the --json document.
type runResult struct {
	Template string                    `json:"template"`
	Agent    string                    `json:"agent,omitempty"`
	Strategy core.Strategy             `json:"strategy"`
	Status   core.WorkflowStatus       `json:"status"`
	Outputs  map[string]map[string]any `json:"outputs,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	inputs, err := parseInputs(runInputs, runInputsFile)
	if err != nil {
		return err
	}

	a, err := newApp(appOptions{history: true})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ctx := cmd.Context()
	run, err := a.orch.CreateWorkflow(ctx, args[0], inputs, orchestrator.CreateOptions{
		Agent:       runAgent,
		Strategy:    core.Strategy(runStrategy),
		MaxParallel: runMaxParallel,
	})
	if err != nil {
		return &exitError{code: ExitInvalid, err: err}
	}
	a.logger.Info("workflow created",
		"workflow_id", run.ID(), "template", run.Template, "strategy", run.Strategy())

	// Interrupts cancel cooperatively so the running step can finish.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			run.Cancel()
		case <-run.Done():
		}
	}()
	if runCancelAfter > 0 {
		timer := time.AfterFunc(time.Duration(runCancelAfter*float64(time.Second)), run.Cancel)
		defer timer.Stop()
	}

	var (
		outputs map[string]map[string]any
		runErr  error
	)
	if runLive && !runJSON {
		outputs, runErr = runLiveView(ctx, cmd, a, run)
	} else {
		outputs, runErr = run.Execute(ctx)
	}
	status := run.Status()
	code := runExitCode(status.State, runErr)

	if runJSON {
		res := runResult{
			Template: run.Template,
			Agent:    run.Agent,
			Strategy: run.Strategy(),
			Status:   status,
			Outputs:  outputs,
		}
		if runErr != nil {
			res.Error = runErr.Error()
		}
		if err := OutputJSON(res); err != nil {
			return err
		}
	} else {
		r := newRenderer(cmd.OutOrStdout())
		r.status(status)
		if code == ExitOK && !quiet {
			printFinalOutputs(cmd, status, outputs)
		}
		if runErr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", runErr)
		}
	}

	if code != ExitOK {
		return &exitError{code: code, err: runErr, silent: true}
	}
	return nil
}

// runLiveView runs the workflow behind the progress view. The view stays
// open until the run ends; leaving it early cancels the run.
func runLiveView(ctx context.Context, cmd *cobra.Command, a *app, run *orchestrator.Run) (map[string]map[string]any, error) {
	bus := a.orch.Context().Bus
	sub := bus.SubscribeWorkflow(string(run.ID()))
	defer bus.Unsubscribe(sub)

	view := tui.NewProgress(run.Status(), sub, run.Done(), run.Cancel)
	if err := run.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := tui.Run(ctx, view, cmd.OutOrStdout()); err != nil {
		a.logger.Warn("progress view stopped", "error", err)
		run.Cancel()
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return run.Wait(context.Background())
}

// printFinalOutputs prints the outputs of the last step. Markdown text is
// rendered when color is enabled, everything else is printed as YAML.
func printFinalOutputs(cmd *cobra.Command, status core.WorkflowStatus, outputs map[string]map[string]any) {
	if len(status.Steps) == 0 {
		return
	}
	last := status.Steps[len(status.Steps)-1].Name
	out, ok := outputs[last]
	if !ok || len(out) == 0 {
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nOutputs of %s:\n", last)

	rest := make(map[string]any, len(out))
	for _, key := range sortedKeys(out) {
		text, isText := out[key].(string)
		if isText && !noColor && tui.LooksLikeMarkdown(text) {
			if rendered, err := tui.RenderMarkdown(text, 100); err == nil {
				fmt.Fprintf(w, "%s:\n%s", key, rendered)
				continue
			}
		}
		rest[key] = out[key]
	}
	if len(rest) == 0 {
		return
	}
	data, err := yaml.Marshal(rest)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

// parseInputs merges the inputs file with key=value pairs. Pairs win.
func parseInputs(pairs []string, file string) (map[string]any, error) {
	inputs := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, &exitError{code: ExitInvalid, err: fmt.Errorf("reading inputs file: %w", err)}
		}
		// YAML is a superset of JSON, so one decoder serves both.
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, &exitError{code: ExitInvalid, err: fmt.Errorf("parsing inputs file %s: %w", file, err)}
		}
		if inputs == nil {
			inputs = map[string]any{}
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageError(fmt.Errorf("invalid --input %q: expected key=value", pair))
		}
		inputs[key] = inputValue(value)
	}
	return inputs, nil
}

// inputValue decodes JSON scalars, arrays and objects and falls back to the
// raw string.
func inputValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
