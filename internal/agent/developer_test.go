package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/testutil"
)

const (
	emailTests = "def test_valid():\n    assert email_validator(\"a@b.co\")\n\ndef test_invalid():\n    assert not email_validator(\"nope\")\n"
	emailImpl  = "import re\n\nEMAIL_PATTERN = re.compile(r\"^[\\w.+-]+@[\\w-]+\\.[\\w.-]+$\")\n\ndef email_validator(address):\n    if not isinstance(address, str):\n        return False\n    return bool(EMAIL_PATTERN.match(address))"
	brokenImpl = "def email_validator(address):\n    return True"
)

func fence(code string) string {
	return "```python\n" + code + "\n```"
}

func developerModel() *testutil.MockModel {
	return testutil.NewMockModel().
		On("# Repair implementation", fence(emailImpl)).
		On("# Test synthesis", fence(emailTests)).
		On("# Implementation", fence(brokenImpl))
}

func newDeveloper(t *testing.T, model core.ModelPort, exec core.ExecutorPort, mutate func(*core.AgentConfig)) *Developer {
	t.Helper()
	cfg := core.DefaultAgentConfig("developer", "")
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDeveloper(cfg, Deps{Model: model, Executor: exec})
	require.NoError(t, err)
	d.Activate()
	return d
}

func TestDeveloper_AutoFixKeepsPassingRepair(t *testing.T) {
	exec := testutil.NewMockExecutor().Enqueue(
		&core.ExecutionResult{Success: false, Output: "FAIL test_invalid", Error: "AssertionError", ReturnCode: 1},
		&core.ExecutionResult{Success: true, Output: "PASS test_valid\nPASS test_invalid\nTOTAL 10 1 90%"},
	)
	d := newDeveloper(t, developerModel(), exec, nil)

	out, err := d.Execute(context.Background(), emailRequirements)
	require.NoError(t, err)

	assert.Equal(t, emailImpl, out["implementation"])
	assert.Equal(t, emailImpl, out["code"])
	assert.Equal(t, strings.TrimRight(emailTests, "\n"), out["tests"])
	assert.Equal(t, 1, out["fix_attempts"])
	assert.InDelta(t, 0.9, out["coverage"], 1e-9)
	results := out["test_results"].(map[string]any)
	assert.Equal(t, true, results["success"])
	assert.Equal(t, core.AgentValidating, d.State().Current)

	calls := exec.ExecCalls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[1].Code, emailImpl))
	assert.Contains(t, calls[1].Code, emailTests)
	assert.Contains(t, calls[1].Code, "if __name__ == \"__main__\":")
	assert.Equal(t, DefaultExecTimeout, calls[1].Options.Timeout)
}

func TestDeveloper_FailedRepairIsDiscarded(t *testing.T) {
	failing := &core.ExecutionResult{Success: false, Output: "FAIL test_invalid", Error: "AssertionError", ReturnCode: 1}
	exec := testutil.NewMockExecutor().WithResult(failing)
	d := newDeveloper(t, developerModel(), exec, nil)

	out, err := d.Execute(context.Background(), emailRequirements)
	require.NoError(t, err)
	assert.Equal(t, brokenImpl, out["implementation"])
	assert.Equal(t, false, out["test_results"].(map[string]any)["success"])
	assert.Equal(t, 1, out["fix_attempts"])
	assert.Len(t, exec.ExecCalls(), 2)
}

func TestDeveloper_MaxFixAttempts(t *testing.T) {
	failing := &core.ExecutionResult{Success: false, Error: "boom"}
	exec := testutil.NewMockExecutor().WithResult(failing)
	d := newDeveloper(t, developerModel(), exec, func(c *core.AgentConfig) { c.MaxFixAttempts = 3 })

	out, err := d.Execute(context.Background(), emailRequirements)
	require.NoError(t, err)
	assert.Equal(t, 3, out["fix_attempts"])
	assert.Len(t, exec.ExecCalls(), 4)
}

func TestDeveloper_AutoFixDisabled(t *testing.T) {
	exec := testutil.NewMockExecutor().WithResult(&core.ExecutionResult{Success: false})
	d := newDeveloper(t, developerModel(), exec, func(c *core.AgentConfig) { c.AutoFix = false })

	out, err := d.Execute(context.Background(), emailRequirements)
	require.NoError(t, err)
	assert.Equal(t, 0, out["fix_attempts"])
	assert.Len(t, exec.ExecCalls(), 1)
}

func TestDeveloper_UsesProvidedTests(t *testing.T) {
	model := developerModel()
	d := newDeveloper(t, model, testutil.NewMockExecutor(), nil)

	out, err := d.Execute(context.Background(), map[string]any{
		"task":  "Validate emails",
		"tests": fence(emailTests),
	})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimRight(emailTests, "\n"), out["tests"])
	for _, call := range model.ModelCalls() {
		assert.NotContains(t, call.Prompt(), "# Test synthesis")
	}
}

func TestDeveloper_NoExecutor(t *testing.T) {
	d := newDeveloper(t, developerModel(), nil, nil)
	_, err := d.Execute(context.Background(), emailRequirements)
	assert.True(t, core.IsKind(err, core.KindSandboxUnavailable))
}

func TestDeveloper_ExecutorFailureMapped(t *testing.T) {
	exec := testutil.NewMockExecutor().WithError(errors.New("interpreter not found"))
	d := newDeveloper(t, developerModel(), exec, nil)
	_, err := d.Execute(context.Background(), emailRequirements)
	assert.True(t, core.IsKind(err, core.KindExecutionEnvironmentError))
}

func TestDeveloper_RequiresTask(t *testing.T) {
	d := newDeveloper(t, developerModel(), nil, nil)
	_, err := d.Execute(context.Background(), map[string]any{})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))
}
