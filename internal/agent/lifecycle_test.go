package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/testutil"
)

func TestAgents_CompletedRunEndsInValidatingOrIdle(t *testing.T) {
	passing := testutil.NewMockExecutor().WithResult(&core.ExecutionResult{Success: true, Output: "coverage: 90.0%"})
	roleAgent := func(t *testing.T) Agent {
		r, err := NewRoleAgent(core.DefaultAgentConfig("writer", "writer"),
			Deps{Model: testutil.NewMockModel().WithResponse("Draft ready.")})
		require.NoError(t, err)
		r.Activate()
		return r
	}

	tests := []struct {
		name   string
		agent  func(t *testing.T) Agent
		inputs map[string]any
		want   core.AgentStateKind
	}{
		{
			name: "architect",
			agent: func(t *testing.T) Agent {
				return newArchitect(t, testutil.NewMockModel().On("# Architecture design", validDesign))
			},
			inputs: emailRequirements,
			want:   core.AgentIdle,
		},
		{
			name: "developer",
			agent: func(t *testing.T) Agent {
				return newDeveloper(t, developerModel(), passing, nil)
			},
			inputs: emailRequirements,
			want:   core.AgentValidating,
		},
		{
			name: "reviewer",
			agent: func(t *testing.T) Agent {
				return newReviewer(t, testutil.NewMockModel().On("# Code review",
					`{"issues": [], "suggestions": [], "scores": {"quality": 0.9, "maintainability": 0.9, "security": 0.9}}`))
			},
			inputs: map[string]any{"code": emailImpl},
			want:   core.AgentIdle,
		},
		{
			name:   "judge",
			agent:  func(t *testing.T) Agent { return newJudge(t) },
			inputs: map[string]any{"code": emailImpl, "tests": emailTests, "coverage": 0.9},
			want:   core.AgentIdle,
		},
		{
			name:   "crew",
			agent:  func(t *testing.T) Agent { return newCrew(t) },
			inputs: map[string]any{"workflow": "review", "inputs": map[string]any{"code": "x = 1"}},
			want:   core.AgentIdle,
		},
		{
			name:   "role",
			agent:  roleAgent,
			inputs: map[string]any{"content": "outline the docs"},
			want:   core.AgentIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.agent(t)
			_, err := a.Execute(context.Background(), tt.inputs)
			require.NoError(t, err)

			st := a.State()
			assert.Equal(t, tt.want, st.Current)
			assert.NotEqual(t, core.AgentIdle, st.Last, "the run moved through its working states")
			assert.True(t, a.IsActive())

			// The next run starts cleanly from where this one ended.
			_, err = a.Execute(context.Background(), tt.inputs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.State().Current)
		})
	}
}
