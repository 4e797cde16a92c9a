package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// conditionTimeout bounds a single condition evaluation.
const conditionTimeout = time.Second

// LuaCondition is a step condition written as a Lua expression over the
// step's resolved inputs, e.g. `inputs.run == true`. Each evaluation runs in
// a fresh sandboxed state.
type LuaCondition struct {
	expr  string
	proto *lua.FunctionProto
}

// CompileCondition parses expr so syntax errors surface when a workflow is
// loaded rather than when the step runs.
func CompileCondition(expr string) (*LuaCondition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, core.ErrInvalidInput(core.CodeConditionFailed, "condition is empty")
	}
	chunk, err := parse.Parse(strings.NewReader("return ("+expr+")"), "condition")
	if err != nil {
		return nil, core.ErrInvalidInput(core.CodeConditionFailed,
			fmt.Sprintf("condition %q does not parse", expr)).WithCause(err)
	}
	proto, err := lua.Compile(chunk, "condition")
	if err != nil {
		return nil, core.ErrInvalidInput(core.CodeConditionFailed,
			fmt.Sprintf("condition %q does not compile", expr)).WithCause(err)
	}
	return &LuaCondition{expr: expr, proto: proto}, nil
}

// String returns the source expression.
func (c *LuaCondition) String() string {
	return c.expr
}

// Evaluate runs the expression with `inputs` bound to the resolved inputs.
func (c *LuaCondition) Evaluate(inputs map[string]any) (bool, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibs(L)

	ctx, cancel := context.WithTimeout(context.Background(), conditionTimeout)
	defer cancel()
	L.SetContext(ctx)

	L.SetGlobal("inputs", toLua(L, inputs))
	L.Push(L.NewFunctionFromProto(c.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return false, core.ErrWorkflow(core.CodeConditionFailed,
			fmt.Sprintf("condition %q failed", c.expr)).WithCause(err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

// openSafeLibs loads the side-effect free subset of the standard library.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	for _, name := range []string{"loadfile", "dofile", "load", "loadstring", "print", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

// toLua converts a Go value to a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), lua.LString(item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// InputTruthy is a condition that holds when inputs[key] is truthy: true, a
// non-zero number, or a non-empty string or collection other than "false".
func InputTruthy(key string) core.Condition {
	return core.ConditionFunc(func(inputs map[string]any) (bool, error) {
		return truthy(inputs[key]), nil
	})
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		s := strings.TrimSpace(strings.ToLower(val))
		return s != "" && s != "false" && s != "0"
	case float64:
		return val != 0
	case int:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return true
}
