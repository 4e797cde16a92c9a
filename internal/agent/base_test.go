package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/events"
)

// stubStrategy is a minimal strategy driven by a function.
type stubStrategy struct {
	run func(ctx context.Context, run *Run) (map[string]any, error)
}

func (s *stubStrategy) DefaultRole() string { return "stub" }

func (s *stubStrategy) Messages(inputs map[string]any) ([]core.Message, error) {
	return inputMessages(core.DefaultAgentConfig("stub", "stub"), inputs)
}

func (s *stubStrategy) Run(ctx context.Context, run *Run) (map[string]any, error) {
	return s.run(ctx, run)
}

func newStub(t *testing.T, maxRetries int, run func(context.Context, *Run) (map[string]any, error)) *Base {
	t.Helper()
	cfg := core.DefaultAgentConfig("stub-1", "")
	cfg.MaxRetries = maxRetries
	b, err := NewBase(cfg, &stubStrategy{run: run}, Deps{})
	require.NoError(t, err)
	b.Activate()
	return b
}

func userMessages(text string) []core.Message {
	return []core.Message{core.SystemMessage("sys"), core.UserMessage(text)}
}

func TestNewBase_DefaultsRoleAndStartsInactive(t *testing.T) {
	b, err := NewBase(core.DefaultAgentConfig("a", ""), &stubStrategy{}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "stub", b.Role())
	assert.False(t, b.IsActive())
	assert.Equal(t, core.AgentIdle, b.State().Current)
}

func TestNewBase_RejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultAgentConfig("a", "x")
	cfg.Model.Temperature = 2.5
	_, err := NewBase(cfg, &stubStrategy{}, Deps{})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))

	cfg = core.DefaultAgentConfig("", "x")
	_, err = NewBase(cfg, &stubStrategy{}, Deps{})
	assert.Error(t, err)
}

func TestBase_ProcessInactive(t *testing.T) {
	b := newStub(t, 3, func(context.Context, *Run) (map[string]any, error) { return nil, nil })
	b.Deactivate()
	_, err := b.Process(context.Background(), userMessages("hi"))
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.CodeAgentInactive, domErr.Code)
}

func TestBase_ProcessValidatesMessages(t *testing.T) {
	b := newStub(t, 3, func(context.Context, *Run) (map[string]any, error) { return map[string]any{}, nil })
	_, err := b.Process(context.Background(), nil)
	assert.True(t, core.IsKind(err, core.KindInvalidInput))

	_, err = b.Process(context.Background(), []core.Message{{Role: "robot", Content: "x"}})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))
	assert.Equal(t, 0, b.State().ErrorCount)
}

func TestBase_ProcessDerivesInputs(t *testing.T) {
	var seen map[string]any
	b := newStub(t, 3, func(_ context.Context, run *Run) (map[string]any, error) {
		seen = run.Inputs
		return map[string]any{"ok": true}, nil
	})

	out, err := b.Process(context.Background(), userMessages(`{"task": "write code"}`))
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "write code", seen["task"])

	_, err = b.Process(context.Background(), userMessages("plain words"))
	require.NoError(t, err)
	assert.Equal(t, "plain words", seen["content"])
	assert.Equal(t, 2, b.State().ExecutionCount)
}

func TestBase_ProcessCancelled(t *testing.T) {
	b := newStub(t, 3, func(context.Context, *Run) (map[string]any, error) { return nil, nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Process(ctx, userMessages("x"))
	assert.True(t, core.IsKind(err, core.KindCancelled))
}

func TestBase_StateMachine(t *testing.T) {
	b := newStub(t, 3, func(_ context.Context, run *Run) (map[string]any, error) {
		for _, s := range []core.AgentStateKind{core.AgentPlanning, core.AgentAnalyzing,
			core.AgentImplementing, core.AgentTesting, core.AgentImplementing, core.AgentTesting, core.AgentValidating} {
			if err := run.Transition(s); err != nil {
				return nil, err
			}
		}
		return map[string]any{}, nil
	})
	_, err := b.Process(context.Background(), userMessages("x"))
	require.NoError(t, err)
	st := b.State()
	assert.Equal(t, core.AgentValidating, st.Current)
	assert.Equal(t, core.AgentTesting, st.Last)

	// A finished run is rewound to idle at the next start.
	_, err = b.Process(context.Background(), userMessages("x"))
	require.NoError(t, err)
}

func TestBase_InvalidTransition(t *testing.T) {
	b := newStub(t, 3, func(_ context.Context, run *Run) (map[string]any, error) {
		return nil, run.Transition(core.AgentTesting)
	})
	_, err := b.Process(context.Background(), userMessages("x"))
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.CodeInvalidTransition, domErr.Code)
	assert.Equal(t, 1, b.State().ErrorCount)
}

func TestBase_HandleErrorDeactivatesAfterMaxRetries(t *testing.T) {
	boom := core.ErrProviderUnavailable("down")
	b := newStub(t, 1, func(context.Context, *Run) (map[string]any, error) { return nil, boom })

	_, err := b.Process(context.Background(), userMessages("x"))
	require.ErrorIs(t, err, boom)
	assert.True(t, b.IsActive())
	assert.Equal(t, 1, b.State().ErrorCount)

	_, err = b.Process(context.Background(), userMessages("x"))
	require.Error(t, err)
	assert.False(t, b.IsActive())
	assert.Equal(t, core.AgentError, b.State().Current)

	b.Activate()
	_, err = b.Process(context.Background(), userMessages("x"))
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.CodeAgentInError, domErr.Code)
}

func TestBase_Reset(t *testing.T) {
	b := newStub(t, 0, func(context.Context, *Run) (map[string]any, error) { return nil, errors.New("x") })
	b.Store("memo", 42)
	_, _ = b.Process(context.Background(), userMessages("x"))
	require.Equal(t, core.AgentError, b.State().Current)

	b.Reset()
	st := b.State()
	assert.Equal(t, core.AgentIdle, st.Current)
	assert.Equal(t, 0, st.ErrorCount)
	assert.Equal(t, 0, st.ExecutionCount)
	assert.Empty(t, st.Data)
	_, ok := b.Load("memo")
	assert.False(t, ok)
}

func TestBase_StateSnapshotIsCopy(t *testing.T) {
	b := newStub(t, 3, nil)
	b.Store("k", "v")
	st := b.State()
	st.Data["k"] = "changed"
	v, _ := b.Load("k")
	assert.Equal(t, "v", v)
}

func TestBase_UpdateConfig(t *testing.T) {
	b := newStub(t, 3, nil)
	before := b.Config()

	temp := 0.0
	role := "reviewer"
	require.NoError(t, b.UpdateConfig(core.AgentConfigPatch{Temperature: &temp, Role: &role}))
	after := b.Config()
	assert.Equal(t, 0.0, after.Model.Temperature)
	assert.Equal(t, "reviewer", after.Role)
	assert.NotEqual(t, before.Role, after.Role)

	bad := 3.0
	err := b.UpdateConfig(core.AgentConfigPatch{Temperature: &bad})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))
	assert.Equal(t, 0.0, b.Config().Model.Temperature)
}

func TestBase_HooksRunInPriorityOrder(t *testing.T) {
	var order []string
	b := newStub(t, 3, func(_ context.Context, run *Run) (map[string]any, error) {
		order = append(order, "run")
		return map[string]any{"value": run.Inputs["value"]}, nil
	})
	b.Hooks().Pre("late", 10, func(context.Context, *Run) error {
		order = append(order, "late")
		return nil
	})
	b.Hooks().Pre("first", 1, func(_ context.Context, run *Run) error {
		order = append(order, "first")
		run.Inputs["value"] = "rewritten"
		return nil
	})
	b.Hooks().Pre("second", 1, func(context.Context, *Run) error {
		order = append(order, "second")
		return nil
	})
	b.Hooks().Post("decorate", 0, func(_ context.Context, _ *Run, out map[string]any) (map[string]any, error) {
		order = append(order, "post")
		out["decorated"] = true
		return out, nil
	})

	out, err := b.Execute(context.Background(), map[string]any{"value": "original"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "late", "run", "post"}, order)
	assert.Equal(t, "rewritten", out["value"])
	assert.Equal(t, true, out["decorated"])

	b.Hooks().Remove("late")
	assert.Equal(t, []string{"first", "second", "decorate"}, b.Hooks().Names())
}

func TestBase_HookFailureCountsAsError(t *testing.T) {
	b := newStub(t, 3, func(context.Context, *Run) (map[string]any, error) { return map[string]any{}, nil })
	b.Hooks().Pre("guard", 0, func(context.Context, *Run) error {
		return core.ErrInvalidInput(core.CodeInvalidMessage, "blocked")
	})
	_, err := b.Process(context.Background(), userMessages("x"))
	assert.True(t, core.IsKind(err, core.KindInvalidInput))
	assert.Equal(t, 1, b.State().ErrorCount)
}

func TestBase_PublishesStateChanges(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeAgentState)

	cfg := core.DefaultAgentConfig("observed", "")
	b, err := NewBase(cfg, &stubStrategy{run: func(_ context.Context, run *Run) (map[string]any, error) {
		return map[string]any{}, run.Transition(core.AgentAnalyzing)
	}}, Deps{Bus: bus})
	require.NoError(t, err)
	b.Activate()
	_, err = b.Process(context.Background(), userMessages("x"))
	require.NoError(t, err)

	ev := (<-ch).(events.AgentStateEvent)
	assert.Equal(t, "observed", ev.Agent)
	assert.Equal(t, "idle", ev.From)
	assert.Equal(t, "analyzing", ev.To)

	ev = (<-ch).(events.AgentStateEvent)
	assert.Equal(t, "analyzing", ev.From)
	assert.Equal(t, "idle", ev.To, "a completed run returns to idle")
}

func TestBase_RewindAfterStoppedRunIsPublished(t *testing.T) {
	bus := events.New(10)
	defer bus.Close()
	ch := bus.Subscribe(events.TypeAgentState)

	fail := true
	cfg := core.DefaultAgentConfig("interrupted", "")
	b, err := NewBase(cfg, &stubStrategy{run: func(_ context.Context, run *Run) (map[string]any, error) {
		if err := run.Transition(core.AgentPlanning); err != nil {
			return nil, err
		}
		if fail {
			fail = false
			return nil, core.ErrRateLimited("slow down")
		}
		return map[string]any{}, nil
	}}, Deps{Bus: bus})
	require.NoError(t, err)
	b.Activate()

	_, err = b.Process(context.Background(), userMessages("x"))
	require.Error(t, err)
	assert.Equal(t, core.AgentPlanning, b.State().Current)

	_, err = b.Process(context.Background(), userMessages("x"))
	require.NoError(t, err)

	var moves []string
	for len(ch) > 0 {
		ev := (<-ch).(events.AgentStateEvent)
		moves = append(moves, ev.From+">"+ev.To)
	}
	assert.Equal(t, []string{
		"idle>planning",
		"planning>idle", // rewound when the second run starts
		"idle>planning",
		"planning>idle",
	}, moves)
}
