package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"explicit code", &exitError{code: ExitFailed, err: errors.New("boom")}, ExitFailed},
		{"wrapped explicit code", fmt.Errorf("run: %w", &exitError{code: ExitCancelled}), ExitCancelled},
		{"usage", usageError(errors.New("bad flag")), ExitUsage},
		{"cancelled kind", core.ErrCancelled("workflow cancelled"), ExitCancelled},
		{"context canceled", context.Canceled, ExitCancelled},
		{"workflow kind", core.ErrWorkflow(core.CodeNoSteps, "no steps"), ExitFailed},
		{"config kind", core.ErrConfig(core.CodeInvalidConfig, "bad"), ExitInvalid},
		{"invalid input", core.ErrInvalidInput(core.CodeMissingInput, "missing"), ExitInvalid},
		{"unknown command", errors.New(`unknown command "bogus" for "crewflow"`), ExitUsage},
		{"wrong arg count", errors.New("accepts 1 arg(s), received 0"), ExitUsage},
		{"plain error", errors.New("something else"), ExitInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestRunExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, runExitCode(core.WorkflowCompleted, nil))
	assert.Equal(t, ExitCancelled, runExitCode(core.WorkflowCancelled, core.ErrCancelled("workflow cancelled")))
	assert.Equal(t, ExitCancelled, runExitCode(core.WorkflowFailed, core.ErrCancelled("stopped")))
	assert.Equal(t, ExitFailed, runExitCode(core.WorkflowFailed, core.ErrWorkflow(core.CodeNoSteps, "failed")))
	assert.Equal(t, ExitFailed, runExitCode(core.WorkflowCompleted, errors.New("late error")))
}

func TestIsSilent(t *testing.T) {
	assert.True(t, IsSilent(&exitError{code: ExitFailed, silent: true}))
	assert.False(t, IsSilent(&exitError{code: ExitFailed}))
	assert.False(t, IsSilent(errors.New("x")))
}

func TestParseInputs(t *testing.T) {
	t.Run("pairs decode JSON values", func(t *testing.T) {
		inputs, err := parseInputs([]string{
			"requirements=Validate emails",
			"count=3",
			"strict=true",
			`tags=["a","b"]`,
			"empty=",
		}, "")
		require.NoError(t, err)
		assert.Equal(t, "Validate emails", inputs["requirements"])
		assert.Equal(t, float64(3), inputs["count"])
		assert.Equal(t, true, inputs["strict"])
		assert.Equal(t, []any{"a", "b"}, inputs["tags"])
		assert.Equal(t, "", inputs["empty"])
	})

	t.Run("value may contain equals", func(t *testing.T) {
		inputs, err := parseInputs([]string{"expr=a=b"}, "")
		require.NoError(t, err)
		assert.Equal(t, "a=b", inputs["expr"])
	})

	t.Run("missing separator is a usage error", func(t *testing.T) {
		_, err := parseInputs([]string{"requirements"}, "")
		require.Error(t, err)
		assert.Equal(t, ExitUsage, ExitCode(err))

		_, err = parseInputs([]string{"=value"}, "")
		require.Error(t, err)
		assert.Equal(t, ExitUsage, ExitCode(err))
	})

	t.Run("yaml file with pair override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "inputs.yaml")
		require.NoError(t, os.WriteFile(path, []byte("code: print(1)\nfocus: security\nlimits:\n  max: 2\n"), 0o600))

		inputs, err := parseInputs([]string{"focus=performance"}, path)
		require.NoError(t, err)
		assert.Equal(t, "print(1)", inputs["code"])
		assert.Equal(t, "performance", inputs["focus"])
		assert.Equal(t, map[string]any{"max": 2}, inputs["limits"])
	})

	t.Run("json file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "inputs.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"requirements": "Parse CSV", "n": 1}`), 0o600))

		inputs, err := parseInputs(nil, path)
		require.NoError(t, err)
		assert.Equal(t, "Parse CSV", inputs["requirements"])
		assert.Equal(t, 1, inputs["n"])
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		inputs, err := parseInputs(nil, path)
		require.NoError(t, err)
		assert.Empty(t, inputs)
	})

	t.Run("missing and malformed files", func(t *testing.T) {
		_, err := parseInputs(nil, filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.Equal(t, ExitInvalid, ExitCode(err))

		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o600))
		_, err = parseInputs(nil, path)
		require.Error(t, err)
		assert.Equal(t, ExitInvalid, ExitCode(err))
	})
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"run-workflow without template", []string{"run-workflow"}},
		{"run-workflow with two templates", []string{"run-workflow", "develop", "review"}},
		{"unknown flag", []string{"run-workflow", "develop", "--bogus"}},
		{"bad set-workflow state", []string{"agents", "set-workflow", "crew", "develop", "maybe"}},
		{"set-workflow arity", []string{"agents", "set-workflow", "crew"}},
		{"history arity", []string{"history", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetErr(&out)
			rootCmd.SetArgs(tt.args)
			t.Cleanup(func() { rootCmd.SetArgs(nil) })

			err := rootCmd.Execute()
			require.Error(t, err)
			assert.Equal(t, ExitUsage, ExitCode(err))
		})
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"run-workflow", "templates", "agents", "history", "serve", "config", "version"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	for _, flag := range []string{"agent", "cancel-after", "input", "inputs-file", "strategy", "json", "live"} {
		assert.NotNil(t, runWorkflowCmd.Flags().Lookup(flag), flag)
	}
	for _, flag := range []string{"config", "log-level", "log-format", "no-color", "quiet"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}

	c, _, err := rootCmd.Find([]string{"config", "init"})
	require.NoError(t, err)
	assert.Equal(t, "init", c.Name())
	c, _, err = rootCmd.Find([]string{"agents", "set-workflow"})
	require.NoError(t, err)
	assert.Equal(t, "set-workflow", c.Name())
}

func TestRendererStatus(t *testing.T) {
	prev := noColor
	noColor = true
	t.Cleanup(func() { noColor = prev })

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)
	st := core.WorkflowStatus{
		ID:    "wf-1",
		Name:  "Code review",
		State: core.WorkflowFailed,
		Steps: []core.StepStatus{
			{Name: "review", State: core.StepCompleted, Attempts: 1},
			{Name: "judge", State: core.StepFailed, Attempts: 3, ErrorKind: core.KindOutputFormat, Error: "no JSON"},
			{Name: "summary", State: core.StepPending},
		},
		FirstFailure: &core.FailureInfo{Step: "judge", Kind: core.KindOutputFormat, Error: "no JSON"},
		StartedAt:    &start,
		FinishedAt:   &end,
	}

	var buf bytes.Buffer
	newRenderer(&buf).status(st)
	out := buf.String()

	assert.Contains(t, out, "Workflow Code review (wf-1)")
	assert.Contains(t, out, "State:    failed")
	assert.Contains(t, out, "Duration: 1.5s")
	assert.Contains(t, out, "judge    failed      3         [OutputFormatError] no JSON")
	assert.Contains(t, out, "summary  pending")
	assert.Contains(t, out, `First failure: step "judge" (OutputFormatError): no JSON`)
	assert.NotContains(t, out, "\x1b[")
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2026-01-15")
	t.Cleanup(func() { SetVersion("", "", "") })

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	versionCmd.Run(versionCmd, []string{})

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "crewflow v1.2.3")
	assert.Contains(t, output, "commit: abc123def")
	assert.Contains(t, output, "built:  2026-01-15")
	assert.Equal(t, "v1.2.3", GetVersion())
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]int{"c": 3, "a": 1, "b": 2}))
	assert.Empty(t, sortedKeys(map[string]bool{}))
}
