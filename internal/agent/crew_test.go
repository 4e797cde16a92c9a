package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/testutil"
)

func newCrew(t *testing.T) *Crew {
	t.Helper()
	cfg := core.DefaultAgentConfig("alpha", "")
	cfg.Model.Temperature = 0.2
	c, err := NewCrew(cfg, Deps{Model: testutil.NewMockModel()})
	require.NoError(t, err)
	c.Activate()
	return c
}

func TestCrew_Members(t *testing.T) {
	c := newCrew(t)
	assert.Equal(t, []string{"analyst", "architect", "developer", "integrator"}, c.Members())

	dev, ok := c.Member("developer")
	require.True(t, ok)
	assert.Equal(t, "alpha-developer", dev.Name())
	assert.True(t, dev.IsActive())
	assert.Equal(t, 0.2, dev.Config().Model.Temperature)
	assert.True(t, dev.Config().Tools[ToolCodeFormatter])

	integrator, _ := c.Member("integrator")
	assert.True(t, integrator.Config().Tools[ToolDocGenerator])
	assert.True(t, integrator.Config().Tools[ToolCodeFormatter])
}

func TestCrew_PlanBindsRolesToMembers(t *testing.T) {
	c := newCrew(t)
	plan, err := c.Plan("develop", map[string]any{"requirements": []any{"validate emails"}})
	require.NoError(t, err)

	assert.Equal(t, "develop", plan.Workflow)
	require.Len(t, plan.Tasks, 9)
	assert.Equal(t, Task{Step: "design", Role: "architect", Member: "architect"}, plan.Tasks[3])
	assert.Equal(t, Task{Step: "review", Role: "reviewer", Member: "analyst"}, plan.Tasks[7])
	assert.Equal(t, "analyst", plan.Spec.Roles["judge"])
	for _, task := range plan.Tasks {
		_, err := c.Resolve(task.Member)
		assert.NoError(t, err, task.Step)
	}
}

func TestCrew_Resolve(t *testing.T) {
	c := newCrew(t)
	runner, err := c.Resolve("architect")
	require.NoError(t, err)
	assert.NotNil(t, runner)

	_, err = c.Resolve("reviewer")
	assert.True(t, core.IsKind(err, core.KindConfig))
}

func TestCrew_Run(t *testing.T) {
	c := newCrew(t)
	out, err := c.Execute(context.Background(), map[string]any{
		"workflow": "review",
		"inputs":   map[string]any{"code": "x = 1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "review", out["workflow"])
	assert.NotEmpty(t, out["steps"])
	assert.Contains(t, out["plan"], "# Crew plan: review")
	last, ok := c.Load("last_plan")
	require.True(t, ok)
	assert.Equal(t, "review", last)
	assert.Equal(t, core.AgentIdle, c.State().Current)
}

func TestCrew_UnknownWorkflow(t *testing.T) {
	c := newCrew(t)
	_, err := c.Execute(context.Background(), map[string]any{"workflow": "deploy"})
	assert.True(t, core.IsKind(err, core.KindConfig))

	_, err = c.Execute(context.Background(), map[string]any{})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))
}
