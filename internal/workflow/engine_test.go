package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/events"
)

func fastBackoff() Option {
	return WithBackoff(time.Millisecond, 5*time.Millisecond)
}

func static(out map[string]any) RunnerFunc {
	return func(context.Context, map[string]any) (map[string]any, error) {
		return out, nil
	}
}

func echo() RunnerFunc {
	return func(_ context.Context, inputs map[string]any) (map[string]any, error) {
		return inputs, nil
	}
}

func step(name, agent string, inputs map[string]any) core.StepSpec {
	return core.NewStepSpec(name, agent, inputs)
}

func TestEngine_SequentialSubstitutesOutputs(t *testing.T) {
	agents := Agents{
		"architect": static(map[string]any{"design": map[string]any{"name": "svc"}, "count": 2.0}),
		"developer": echo(),
	}
	e := New("build", agents, WithInputs(map[string]any{"user": "ada"}), fastBackoff())
	require.NoError(t, e.AddStep(step("design", "architect", nil)))
	require.NoError(t, e.AddStep(step("implement", "developer", map[string]any{
		"name":  "$design.design.name",
		"count": "$design.count",
		"user":  "$input.user",
		"list":  []any{"$design.count", "literal"},
		"plain": 7,
	})))

	outputs, err := e.Execute(context.Background())
	require.NoError(t, err)

	impl := outputs["implement"]
	assert.Equal(t, "svc", impl["name"])
	assert.Equal(t, 2.0, impl["count"])
	assert.Equal(t, "ada", impl["user"])
	assert.Equal(t, []any{2.0, "literal"}, impl["list"])
	assert.Equal(t, 7, impl["plain"])
	assert.NotContains(t, outputs, core.InputStep)

	status := e.Status()
	assert.Equal(t, core.WorkflowCompleted, status.State)
	for _, s := range status.Steps {
		assert.Equal(t, core.StepCompleted, s.State)
		assert.Equal(t, 1, s.Attempts)
	}
	assert.Empty(t, status.CurrentStep)
	assert.NotNil(t, status.FinishedAt)
}

func TestEngine_RetryRecoversFromOutputFormatError(t *testing.T) {
	var calls int32
	agents := Agents{
		"developer": RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, core.ErrOutputFormat("not json")
			}
			return map[string]any{"fixed_code": "def fixed(): pass"}, nil
		}),
	}
	var hookErrs []error
	s := step("fail", "developer", nil)
	s.MaxRetries = 2
	s.OnFailure = func(_ context.Context, err error) error {
		hookErrs = append(hookErrs, err)
		return nil
	}
	e := New("recovery", agents, fastBackoff())
	require.NoError(t, e.AddStep(s))

	outputs, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "def fixed(): pass", outputs["fail"]["fixed_code"])

	status := e.Status()
	assert.Equal(t, core.WorkflowCompleted, status.State)
	st, ok := status.Step("fail")
	require.True(t, ok)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, core.StepCompleted, st.State)
	require.Len(t, hookErrs, 1)
	assert.True(t, core.IsKind(hookErrs[0], core.KindOutputFormat))
}

func TestEngine_RetriesExhausted(t *testing.T) {
	var calls int32
	agents := Agents{
		"flaky": RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, core.ErrProviderUnavailable("down")
		}),
		"next": static(map[string]any{}),
	}
	s := step("call", "flaky", nil)
	s.MaxRetries = 2
	e := New("exhaust", agents, fastBackoff())
	require.NoError(t, e.AddStep(s))
	require.NoError(t, e.AddStep(step("after", "next", nil)))

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindProviderUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	status := e.Status()
	assert.Equal(t, core.WorkflowFailed, status.State)
	require.NotNil(t, status.FirstFailure)
	assert.Equal(t, "call", status.FirstFailure.Step)
	assert.Equal(t, core.KindProviderUnavailable, status.FirstFailure.Kind)
	first, _ := status.Step("call")
	assert.Equal(t, core.StepFailed, first.State)
	assert.Equal(t, 3, first.Attempts)
	after, _ := status.Step("after")
	assert.Equal(t, core.StepPending, after.State)
}

func TestEngine_FatalErrorIsNotRetried(t *testing.T) {
	var calls int32
	agents := Agents{
		"bad": RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, core.ErrInvalidInput(core.CodeInvalidMessage, "broken")
		}),
	}
	e := New("fatal", agents, fastBackoff())
	require.NoError(t, e.AddStep(step("only", "bad", nil)))

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	st, _ := e.Status().Step("only")
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, core.KindInvalidInput, st.ErrorKind)
}

func TestEngine_ConditionalSkip(t *testing.T) {
	var ran atomic.Bool
	agents := Agents{
		"worker": RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
			ran.Store(true)
			return map[string]any{"done": true}, nil
		}),
	}
	s := step("conditional", "worker", map[string]any{"run": false})
	s.Condition = InputTruthy("run")
	e := New("cond", agents)
	require.NoError(t, e.AddStep(s))

	outputs, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, ran.Load())
	assert.NotContains(t, outputs, "conditional")

	status := e.Status()
	assert.Equal(t, core.WorkflowCompleted, status.State)
	st, _ := status.Step("conditional")
	assert.Equal(t, core.StepSkipped, st.State)
	assert.Equal(t, 0, st.Attempts)
}

func TestEngine_LuaConditionRuns(t *testing.T) {
	cond, err := CompileCondition("inputs.run == true and #inputs.items > 1")
	require.NoError(t, err)

	s := step("gated", "worker", map[string]any{"run": true, "items": []any{"a", "b"}})
	s.Condition = cond
	e := New("lua", Agents{"worker": static(map[string]any{"ok": true})})
	require.NoError(t, e.AddStep(s))

	outputs, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, outputs["gated"]["ok"])
}

func TestEngine_CancelAfterFirstStep(t *testing.T) {
	agents := Agents{"a": static(map[string]any{"v": 1.0})}
	e := New("develop", agents)
	first := step("design", "a", nil)
	first.OnSuccess = func(context.Context, map[string]any) error {
		e.Cancel()
		return nil
	}
	require.NoError(t, e.AddStep(first))
	require.NoError(t, e.AddStep(step("implement", "a", map[string]any{"v": "$design.v"})))
	require.NoError(t, e.AddStep(step("review", "a", nil)))

	outputs, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindCancelled))
	assert.Contains(t, outputs, "design")

	status := e.Status()
	assert.Equal(t, core.WorkflowCancelled, status.State)
	assert.Equal(t, core.StepCompleted, status.Steps[0].State)
	assert.Equal(t, core.StepPending, status.Steps[1].State)
	assert.Equal(t, core.StepPending, status.Steps[2].State)

	e.Cancel()
	assert.Equal(t, status.State, e.Status().State)
	assert.Equal(t, status.Steps, e.Status().Steps)
}

func TestEngine_CancelBeforeExecute(t *testing.T) {
	e := New("early", Agents{"a": static(nil)})
	require.NoError(t, e.AddStep(step("one", "a", nil)))
	e.Cancel()
	e.Cancel()

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	status := e.Status()
	assert.Equal(t, core.WorkflowCancelled, status.State)
	assert.Equal(t, core.StepPending, status.Steps[0].State)
}

func TestEngine_CancelInterruptsCooperativeAgent(t *testing.T) {
	started := make(chan struct{})
	agents := Agents{
		"slow": RunnerFunc(func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}
	e := New("interrupt", agents)
	require.NoError(t, e.AddStep(step("wait", "slow", nil)))

	go func() {
		<-started
		e.Cancel()
	}()
	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindCancelled))
	status := e.Status()
	assert.Equal(t, core.WorkflowCancelled, status.State)
	assert.Equal(t, core.StepCancelled, status.Steps[0].State)
}

func TestEngine_TimeoutFailsStep(t *testing.T) {
	agents := Agents{
		"stuck": RunnerFunc(func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}
	s := step("hang", "stuck", nil)
	s.Timeout = 20 * time.Millisecond
	s.MaxRetries = 0
	e := New("timeout", agents)
	require.NoError(t, e.AddStep(s))

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindTimeout))
	assert.Equal(t, core.WorkflowFailed, e.Status().State)
}

func TestEngine_TimeoutEnforcedWhenAgentIgnoresContext(t *testing.T) {
	agents := Agents{
		"deaf": RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
			time.Sleep(300 * time.Millisecond)
			return map[string]any{}, nil
		}),
	}
	s := step("hang", "deaf", nil)
	s.Timeout = 20 * time.Millisecond
	s.MaxRetries = 0
	e := New("deadline", agents)
	require.NoError(t, e.AddStep(s))

	start := time.Now()
	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindTimeout))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestEngine_SuccessHookFailureIsWarning(t *testing.T) {
	s := step("one", "a", nil)
	s.OnSuccess = func(context.Context, map[string]any) error {
		return errors.New("notify failed")
	}
	e := New("hook", Agents{"a": static(map[string]any{"x": 1})})
	require.NoError(t, e.AddStep(s))

	_, err := e.Execute(context.Background())
	require.NoError(t, err)
	st, _ := e.Status().Step("one")
	assert.Equal(t, core.StepCompleted, st.State)
	assert.Contains(t, st.HookWarning, "notify failed")
}

func TestEngine_Validation(t *testing.T) {
	agents := Agents{"a": static(nil)}

	t.Run("duplicate step", func(t *testing.T) {
		e := New("dup", agents)
		require.NoError(t, e.AddStep(step("x", "a", nil)))
		err := e.AddStep(step("x", "a", nil))
		assert.True(t, core.IsKind(err, core.KindInvalidInput))
	})

	t.Run("reserved name", func(t *testing.T) {
		e := New("reserved", agents)
		assert.Error(t, e.AddStep(step(core.InputStep, "a", nil)))
	})

	t.Run("bad grammar", func(t *testing.T) {
		e := New("grammar", agents)
		err := e.AddStep(step("x", "a", map[string]any{"v": "$nokey"}))
		assert.True(t, core.IsKind(err, core.KindInvalidInput))
	})

	t.Run("unknown step", func(t *testing.T) {
		e := New("unknown", agents)
		require.NoError(t, e.AddStep(step("x", "a", map[string]any{"v": "$ghost.out"})))
		_, err := e.Execute(context.Background())
		assert.True(t, core.IsKind(err, core.KindReference))
		assert.Equal(t, core.WorkflowPending, e.Status().State)
	})

	t.Run("forward reference", func(t *testing.T) {
		e := New("forward", agents)
		require.NoError(t, e.AddStep(step("x", "a", map[string]any{"v": "$y.out"})))
		require.NoError(t, e.AddStep(step("y", "a", nil)))
		err := e.Validate()
		assert.True(t, core.IsKind(err, core.KindWorkflow))
	})

	t.Run("no steps", func(t *testing.T) {
		_, err := New("empty", agents).Execute(context.Background())
		assert.True(t, core.IsKind(err, core.KindWorkflow))
	})

	t.Run("unbound role", func(t *testing.T) {
		e := New("unbound", agents)
		require.NoError(t, e.AddStep(step("x", "nobody", nil)))
		_, err := e.Execute(context.Background())
		assert.True(t, core.IsKind(err, core.KindConfig))
	})

	t.Run("role binding", func(t *testing.T) {
		e := New("bound", agents, WithRoles(map[string]string{"writer": "a"}))
		require.NoError(t, e.AddStep(step("x", "writer", nil)))
		_, err := e.Execute(context.Background())
		assert.NoError(t, err)
	})

	t.Run("runs once", func(t *testing.T) {
		e := New("once", agents)
		require.NoError(t, e.AddStep(step("x", "a", nil)))
		_, err := e.Execute(context.Background())
		require.NoError(t, err)
		_, err = e.Execute(context.Background())
		assert.True(t, core.IsKind(err, core.KindWorkflow))
		assert.Error(t, e.AddStep(step("late", "a", nil)))
	})
}

func TestEngine_MissingOutputKeyFailsWithReferenceError(t *testing.T) {
	agents := Agents{"a": static(map[string]any{"present": 1})}
	e := New("missing", agents, fastBackoff())
	require.NoError(t, e.AddStep(step("first", "a", nil)))
	require.NoError(t, e.AddStep(step("second", "a", map[string]any{"v": "$first.absent"})))
	require.NoError(t, e.AddStep(step("third", "a", nil)))

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindReference))

	status := e.Status()
	assert.Equal(t, core.WorkflowFailed, status.State)
	assert.Equal(t, "second", status.FirstFailure.Step)
	assert.Equal(t, core.StepPending, status.Steps[2].State)
}

func TestEngine_ParallelRunsIndependentStepsConcurrently(t *testing.T) {
	var running, peak int32
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(name string) RunnerFunc {
		return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			wg.Done()
			wg.Wait()
			atomic.AddInt32(&running, -1)
			return map[string]any{"name": name}, nil
		}
	}
	agents := Agents{"left": barrier("left"), "right": barrier("right"), "join": echo()}

	e := New("fanout", agents, WithStrategy(core.StrategyParallel), WithMaxParallel(2))
	require.NoError(t, e.AddStep(step("a", "left", nil)))
	require.NoError(t, e.AddStep(step("b", "right", nil)))
	require.NoError(t, e.AddStep(step("c", "join", map[string]any{"l": "$a.name", "r": "$b.name"})))

	done := make(chan struct{})
	var outputs map[string]map[string]any
	var err error
	go func() {
		outputs, err = e.Execute(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("parallel steps did not run concurrently")
	}
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
	assert.Equal(t, "left", outputs["c"]["l"])
	assert.Equal(t, "right", outputs["c"]["r"])
}

func TestEngine_ParallelFailureStopsScheduling(t *testing.T) {
	agents := Agents{
		"bad":  RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) { return nil, core.ErrAuth("denied") }),
		"good": static(map[string]any{"v": 1}),
	}
	e := New("atomic", agents, WithStrategy(core.StrategyParallel))
	require.NoError(t, e.AddStep(step("a", "bad", nil)))
	require.NoError(t, e.AddStep(step("b", "good", nil)))
	require.NoError(t, e.AddStep(step("c", "good", map[string]any{"v": "$a.v"})))

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindAuth))

	status := e.Status()
	assert.Equal(t, core.WorkflowFailed, status.State)
	assert.Equal(t, "a", status.FirstFailure.Step)
	c, _ := status.Step("c")
	assert.Equal(t, core.StepPending, c.State)
}

func TestEngine_ParallelConcurrentFailuresLeaveOneFailedStep(t *testing.T) {
	var entered sync.WaitGroup
	entered.Add(2)
	both := make(chan struct{})
	go func() {
		entered.Wait()
		close(both)
	}()
	breaking := RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
		entered.Done()
		select {
		case <-both:
		case <-time.After(2 * time.Second):
		}
		return nil, core.ErrExecutionEnvironment("interpreter crashed")
	})
	agents := Agents{"broken": breaking, "good": static(map[string]any{"v": 1})}
	e := New("twin-failure", agents, WithStrategy(core.StrategyParallel), WithMaxParallel(2), fastBackoff())
	for _, name := range []string{"x", "y"} {
		s := step(name, "broken", nil)
		s.MaxRetries = 0
		require.NoError(t, e.AddStep(s))
	}
	require.NoError(t, e.AddStep(step("z", "good", map[string]any{"v": "$x.v"})))

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindExecutionEnvironmentError))

	status := e.Status()
	assert.Equal(t, core.WorkflowFailed, status.State)
	require.NotNil(t, status.FirstFailure)

	failed := 0
	for _, s := range status.Steps {
		switch s.Name {
		case status.FirstFailure.Step:
			assert.Equal(t, core.StepFailed, s.State)
		default:
			assert.Equal(t, core.StepPending, s.State, "step %s", s.Name)
		}
		if s.State == core.StepFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestEngine_ParallelSiblingStopsRetryingAfterFailure(t *testing.T) {
	var calls atomic.Int32
	agents := Agents{
		"fatal": RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
			return nil, core.ErrAuth("denied")
		}),
		"flaky": RunnerFunc(func(context.Context, map[string]any) (map[string]any, error) {
			calls.Add(1)
			time.Sleep(20 * time.Millisecond)
			return nil, core.ErrRateLimited("slow down")
		}),
	}
	e := New("sibling", agents, WithStrategy(core.StrategyParallel), fastBackoff())
	require.NoError(t, e.AddStep(step("a", "fatal", nil)))
	flaky := step("b", "flaky", nil)
	flaky.MaxRetries = 5
	require.NoError(t, e.AddStep(flaky))

	_, err := e.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindAuth))
	assert.Equal(t, int32(1), calls.Load())

	b, _ := e.Status().Step("b")
	assert.Equal(t, core.StepPending, b.State)
}

func TestEngine_ParallelRejectsCycles(t *testing.T) {
	agents := Agents{"a": static(nil)}
	e := New("cycle", agents, WithStrategy(core.StrategyParallel))
	require.NoError(t, e.AddStep(step("x", "a", map[string]any{"v": "$y.out"})))
	require.NoError(t, e.AddStep(step("y", "a", map[string]any{"v": "$x.out"})))

	err := e.Validate()
	require.Error(t, err)
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.CodeDependencyCycle, domErr.Code)
}

func TestEngine_PublishesEvents(t *testing.T) {
	bus := events.New(100)
	defer bus.Close()
	terminal := bus.SubscribePriority()
	steps := bus.Subscribe(events.TypeStepState)

	e := New("observed", Agents{"a": static(map[string]any{})}, WithBus(bus))
	require.NoError(t, e.AddStep(step("one", "a", nil)))
	_, err := e.Execute(context.Background())
	require.NoError(t, err)

	ev := <-terminal
	assert.Equal(t, events.TypeWorkflowCompleted, ev.EventType())
	assert.Equal(t, string(e.ID()), ev.WorkflowID())

	var states []string
	for len(steps) > 0 {
		states = append(states, (<-steps).(events.StepEvent).State)
	}
	assert.Equal(t, []string{"running", "completed"}, states)
}

func TestFromSpec(t *testing.T) {
	spec := core.WorkflowSpec{
		Name:   "spec",
		Inputs: map[string]any{"q": "hello"},
		Roles:  map[string]string{"analyst": "a"},
		Steps:  []core.StepSpec{step("ask", "analyst", map[string]any{"q": "$input.q"})},
	}
	e, err := FromSpec(spec, Agents{"a": echo()})
	require.NoError(t, err)
	outputs, err := e.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", outputs["ask"]["q"])
	assert.Equal(t, core.StrategySequential, e.spec.Strategy)
}
