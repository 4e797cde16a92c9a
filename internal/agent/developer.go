package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/validation"
)

// TestHarness drives a test run. The script sent to the executor binds
// _IMPLEMENTATION and _TESTS to the generated sources and appends the
// harness, which runs every test_ function and reports the line coverage of
// the implementation as "coverage: NN.N%". It exits non-zero when a test
// fails or the sources do not load.
const TestHarness = `

import dis as _dis
import sys as _sys
import traceback as _traceback
import types as _types

_IMPL_FILE = "implementation.py"


def _line_starts(code):
    lines = set()
    for _, line in _dis.findlinestarts(code):
        if line is not None and line > 0:
            lines.add(line)
    for const in code.co_consts:
        if isinstance(const, _types.CodeType):
            lines |= _line_starts(const)
    return lines


def _main():
    executed = set()

    def _trace(frame, event, arg):
        if frame.f_code.co_filename != _IMPL_FILE:
            return None
        if event in ("call", "line"):
            executed.add(frame.f_lineno)
        return _trace

    module = _types.ModuleType("implementation")
    _sys.modules["implementation"] = module
    failed = 0
    executable = set()
    _sys.settrace(_trace)
    try:
        impl = compile(_IMPLEMENTATION, _IMPL_FILE, "exec")
        executable = _line_starts(impl)
        exec(impl, module.__dict__)
        exec(compile(_TESTS, "tests.py", "exec"), module.__dict__)
        for name, fn in sorted(list(module.__dict__.items())):
            if name.startswith("test_") and callable(fn):
                try:
                    fn()
                    print("PASS " + name)
                except Exception:
                    failed += 1
                    print("FAIL " + name)
                    _traceback.print_exc()
    except Exception:
        failed += 1
        print("FAIL <load>")
        _traceback.print_exc()
    finally:
        _sys.settrace(None)

    covered = len(executed & executable)
    pct = 100.0 * covered / len(executable) if executable else 0.0
    print("coverage: %.1f%%" % pct)
    return failed


if __name__ == "__main__":
    _sys.exit(1 if _main() else 0)
`

// harnessScript embeds the sources as string literals ahead of the
// harness. JSON string syntax is valid Python string syntax.
func harnessScript(implementation, tests string) (string, error) {
	impl, err := json.Marshal(implementation)
	if err != nil {
		return "", err
	}
	t, err := json.Marshal(tests)
	if err != nil {
		return "", err
	}
	return "_IMPLEMENTATION = " + string(impl) + "\n_TESTS = " + string(t) + "\n" + TestHarness, nil
}

// Developer writes tests first, then an implementation, runs the tests and
// optionally repairs a failing implementation.
type Developer struct {
	*Base
	model *ModelCaller
}

// NewDeveloper creates a developer agent.
func NewDeveloper(cfg core.AgentConfig, deps Deps) (*Developer, error) {
	d := &Developer{}
	base, err := NewBase(cfg, d, deps)
	if err != nil {
		return nil, err
	}
	d.Base = base
	d.model = NewModelCaller(base.Deps())
	return d, nil
}

func (d *Developer) DefaultRole() string { return "developer" }

// Messages states the task. The prompts for each phase are rendered in Run.
func (d *Developer) Messages(inputs map[string]any) ([]core.Message, error) {
	task := taskOf(inputs)
	if task == "" {
		return nil, core.ErrInvalidInput(core.CodeMissingInput, "developer needs a task or requirements")
	}
	return []core.Message{systemPrompt(d.Config()), core.UserMessage(task)}, nil
}

type testRun struct {
	Success bool
	Output  string
	Error   string
}

func (t testRun) toMap() map[string]any {
	return map[string]any{
		"success": t.Success,
		"output":  t.Output,
		"error":   t.Error,
	}
}

// Run executes the test-first flow.
func (d *Developer) Run(ctx context.Context, run *Run) (map[string]any, error) {
	cfg := d.Config()
	inputs := run.Inputs
	task := taskOf(inputs)
	if task == "" {
		task = lastUserContent(run.Messages)
	}
	params := map[string]any{
		"task":         task,
		"requirements": stringList(inputs["requirements"]),
		"constraints":  stringList(inputs["constraints"]),
		"design":       inputs["design"],
	}

	if err := run.Transition(core.AgentPlanning); err != nil {
		return nil, err
	}
	tests := ExtractCode(stringValue(inputs["tests"]))
	if tests == "" {
		var err error
		if tests, err = d.generate(ctx, "tests", params); err != nil {
			return nil, err
		}
	}
	params["tests"] = tests

	if err := run.Transition(core.AgentAnalyzing); err != nil {
		return nil, err
	}
	if err := run.Transition(core.AgentImplementing); err != nil {
		return nil, err
	}
	implementation, err := d.generate(ctx, "implementation", params)
	if err != nil {
		return nil, err
	}

	if err := run.Transition(core.AgentTesting); err != nil {
		return nil, err
	}
	result, err := d.runTests(ctx, implementation, tests)
	if err != nil {
		return nil, err
	}

	fixAttempts := 0
	if !result.Success && cfg.AutoFix {
		for fixAttempts < cfg.MaxFixAttempts {
			fixAttempts++
			if err := run.Transition(core.AgentImplementing); err != nil {
				return nil, err
			}
			repaired, err := d.generate(ctx, "fix", map[string]any{
				"task":           task,
				"implementation": implementation,
				"tests":          tests,
				"test_output":    result.Output + "\n" + result.Error,
			})
			if err != nil {
				return nil, err
			}
			if err := run.Transition(core.AgentTesting); err != nil {
				return nil, err
			}
			retry, err := d.runTests(ctx, repaired, tests)
			if err != nil {
				return nil, err
			}
			d.logger.Info("auto-fix attempt finished", "attempt", fixAttempts, "success", retry.Success)
			if retry.Success {
				implementation, result = repaired, retry
				break
			}
		}
	}

	if err := run.Transition(core.AgentValidating); err != nil {
		return nil, err
	}
	coverage, _ := validation.ParseCoverage(result.Output)
	return map[string]any{
		"task":           task,
		"tests":          tests,
		"implementation": implementation,
		"code":           implementation,
		"test_results":   result.toMap(),
		"coverage":       coverage,
		"fix_attempts":   fixAttempts,
	}, nil
}

func (d *Developer) generate(ctx context.Context, step string, params map[string]any) (string, error) {
	prompt, err := d.Deps().Prompts.Render("developer", step, params)
	if err != nil {
		return "", err
	}
	messages := []core.Message{systemPrompt(d.Config()), core.UserMessage(prompt)}
	reply, err := d.model.Call(ctx, messages, d.Config().Model)
	if err != nil {
		return "", err
	}
	code := ExtractCode(reply)
	if code == "" {
		return "", core.ErrOutputFormat("model returned no code for " + step)
	}
	return code, nil
}

func (d *Developer) runTests(ctx context.Context, implementation, tests string) (testRun, error) {
	executor := d.Deps().Executor
	if executor == nil {
		return testRun{}, core.ErrSandboxUnavailable("no executor configured")
	}
	code, err := harnessScript(implementation, tests)
	if err != nil {
		return testRun{}, core.ErrInternal("encoding test script: " + err.Error())
	}
	res, err := executor.Execute(ctx, code, core.ExecOptions{Timeout: d.Deps().ExecTimeout})
	if err != nil {
		var domErr *core.DomainError
		if errors.As(err, &domErr) {
			return testRun{}, err
		}
		if ctx.Err() != nil {
			return testRun{}, core.ErrCancelled("test run cancelled").WithCause(err)
		}
		return testRun{}, core.ErrExecutionEnvironment(err.Error()).WithCause(err)
	}
	return testRun{Success: res.Success, Output: res.Output, Error: res.Error}, nil
}

// taskOf reads the task, falling back to joined requirements.
func taskOf(inputs map[string]any) string {
	if task := strings.TrimSpace(stringValue(inputs["task"])); task != "" {
		return task
	}
	if reqs := stringList(inputs["requirements"]); len(reqs) > 0 {
		return strings.Join(reqs, "\n")
	}
	return strings.TrimSpace(stringValue(inputs["content"]))
}

func lastUserContent(messages []core.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
