//go:build !windows

package executor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

func shell(t *testing.T) *Local {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return New(Config{Interpreter: "sh", FileName: "main.sh", Timeout: 5 * time.Second}, nil)
}

func TestLocal_Success(t *testing.T) {
	res, err := shell(t).Execute(context.Background(), "echo hello\necho warn >&2\n", core.ExecOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "hello\n", res.Output)
	assert.Equal(t, "warn\n", res.Error)
	assert.GreaterOrEqual(t, res.ExecutionTimeSeconds, 0.0)
	assert.GreaterOrEqual(t, res.MemoryUsageMB, 0.0)
}

func TestLocal_NonZeroExitIsAResult(t *testing.T) {
	res, err := shell(t).Execute(context.Background(), "echo failing\nexit 3\n", core.ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ReturnCode)
	assert.Equal(t, "failing\n", res.Output)
}

func TestLocal_Timeout(t *testing.T) {
	start := time.Now()
	_, err := shell(t).Execute(context.Background(), "sleep 10\n", core.ExecOptions{Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindExecutionTimeout), "error: %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLocal_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := shell(t).Execute(ctx, "sleep 10\n", core.ExecOptions{})
	assert.True(t, core.IsKind(err, core.KindCancelled), "error: %v", err)
}

func TestLocal_FilesAndEnvironment(t *testing.T) {
	l := shell(t)
	code := "cat data/input.txt\necho \"$GREETING\"\n"
	res, err := l.Execute(context.Background(), code, core.ExecOptions{
		Files:       map[string]string{"data/input.txt": "from file\n"},
		Environment: map[string]string{"GREETING": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from file\nhi\n", res.Output)
}

func TestLocal_RejectsEscapingFiles(t *testing.T) {
	_, err := shell(t).Execute(context.Background(), "true\n", core.ExecOptions{
		Files: map[string]string{"../escape.txt": "x"},
	})
	assert.True(t, core.IsKind(err, core.KindInvalidInput), "error: %v", err)
}

func TestLocal_MissingInterpreter(t *testing.T) {
	l := New(Config{Interpreter: "crewflow-no-such-interpreter"}, nil)
	_, err := l.Execute(context.Background(), "print(1)", core.ExecOptions{})
	assert.True(t, core.IsKind(err, core.KindSandboxUnavailable), "error: %v", err)
	assert.True(t, strings.Contains(l.Available().Error(), "not found"))
}
