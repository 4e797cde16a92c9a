package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func TestFactory_Builtins(t *testing.T) {
	f := DefaultFactory()
	for _, typ := range []string{"architect", "developer", "reviewer", "judge", "crew", "analyst", "integrator", "writer"} {
		assert.True(t, f.Has(typ), typ)
	}
	assert.Len(t, f.Types(), 5+len(GenericRoles))
}

func TestFactory_CreateCachesByName(t *testing.T) {
	f := DefaultFactory()
	a, err := f.Create("architect", core.DefaultAgentConfig("", ""), Deps{})
	require.NoError(t, err)
	assert.Equal(t, "architect", a.Name())
	assert.Equal(t, "architect", a.Role())
	assert.True(t, a.IsActive())
	assert.IsType(t, &Architect{}, a)

	again, err := f.Create("architect", core.DefaultAgentConfig("architect", ""), Deps{})
	require.NoError(t, err)
	assert.Same(t, a, again)

	cached, ok := f.Get("architect")
	require.True(t, ok)
	assert.Same(t, a, cached)

	// Same name, different type: the cache entry is replaced.
	judge, err := f.Create("judge", core.DefaultAgentConfig("architect", ""), Deps{})
	require.NoError(t, err)
	assert.IsType(t, &Judge{}, judge)
}

func TestFactory_GenericRole(t *testing.T) {
	f := DefaultFactory()
	a, err := f.Create("tester", core.DefaultAgentConfig("qa", ""), Deps{})
	require.NoError(t, err)
	assert.IsType(t, &RoleAgent{}, a)
	assert.Equal(t, "tester", a.Role())
}

func TestFactory_UnknownType(t *testing.T) {
	f := DefaultFactory()
	_, err := f.Create("archtect", core.DefaultAgentConfig("x", ""), Deps{})

	var derr *core.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, core.KindConfig, derr.Kind)
	assert.Equal(t, core.CodeUnknownAgentType, derr.Code)
	assert.Contains(t, derr.Message, `did you mean "architect"`)
	assert.Contains(t, derr.Details["available"], "judge")
}

func TestFactory_RegisterUnregister(t *testing.T) {
	f := NewFactory()
	ctor := func(cfg core.AgentConfig, deps Deps) (Agent, error) {
		return NewJudge(cfg, deps)
	}
	require.NoError(t, f.Register("gate", ctor))
	first, err := f.Create("gate", core.DefaultAgentConfig("g1", ""), Deps{})
	require.NoError(t, err)

	f.Unregister("gate")
	assert.False(t, f.Has("gate"))
	_, err = f.Create("gate", core.DefaultAgentConfig("g2", ""), Deps{})
	assert.True(t, core.IsKind(err, core.KindConfig))

	require.NoError(t, f.Register("gate", ctor))
	second, err := f.Create("gate", core.DefaultAgentConfig("g2", ""), Deps{})
	require.NoError(t, err)
	assert.Equal(t, first.Role(), second.Role())
	assert.IsType(t, first, second)
}

func TestFactory_RejectsBadConstructors(t *testing.T) {
	f := NewFactory()
	tests := map[string]Constructor{
		"nil": nil,
		"panics": func(core.AgentConfig, Deps) (Agent, error) {
			panic("boom")
		},
		"errors": func(core.AgentConfig, Deps) (Agent, error) {
			return nil, errors.New("needs credentials")
		},
		"returns nil": func(core.AgentConfig, Deps) (Agent, error) {
			return nil, nil
		},
	}
	for name, ctor := range tests {
		t.Run(name, func(t *testing.T) {
			err := f.Register("bad", ctor)
			var derr *core.DomainError
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, core.CodeInvalidConstructor, derr.Code)
			assert.False(t, f.Has("bad"))
		})
	}
	assert.Error(t, f.Register(" ", func(cfg core.AgentConfig, deps Deps) (Agent, error) {
		return NewJudge(cfg, deps)
	}))
}

func TestFactory_Available(t *testing.T) {
	f := DefaultFactory()
	av := f.Available()
	require.Contains(t, av, "developer")
	assert.True(t, av["developer"].Available)
	assert.Equal(t, "developer", av["developer"].Metadata.Role)
	assert.NotEmpty(t, av["crew"].Metadata.Description)
}

func TestFactory_CreateMany(t *testing.T) {
	f := DefaultFactory()
	agents, err := f.CreateMany([]string{"architect", "analyst", "judge"}, core.DefaultAgentConfig("", ""), Deps{})
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "analyst", agents["analyst"].Role())
	assert.Equal(t, "judge", agents["judge"].Name())

	_, err = f.CreateMany([]string{"architect", "nope"}, core.DefaultAgentConfig("", ""), Deps{})
	assert.True(t, core.IsKind(err, core.KindConfig))
}

func TestFactory_Reset(t *testing.T) {
	f := DefaultFactory()
	_, err := f.Create("judge", core.DefaultAgentConfig("", ""), Deps{})
	require.NoError(t, err)
	f.Unregister("architect")
	require.NoError(t, f.Register("extra", func(cfg core.AgentConfig, deps Deps) (Agent, error) {
		return NewJudge(cfg, deps)
	}))

	f.Reset()

	_, ok := f.Get("judge")
	assert.False(t, ok)
	assert.True(t, f.Has("architect"))
	assert.False(t, f.Has("extra"))
}

func TestFactory_Release(t *testing.T) {
	f := DefaultFactory()
	first, err := f.Create("judge", core.DefaultAgentConfig("gate", ""), Deps{})
	require.NoError(t, err)

	f.Release("gate")
	_, ok := f.Get("gate")
	assert.False(t, ok)

	second, err := f.Create("judge", core.DefaultAgentConfig("gate", ""), Deps{})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestShared(t *testing.T) {
	assert.Same(t, Shared(), Shared())
	assert.True(t, Shared().Has("crew"))
}
