// Package executor binds core.ExecutorPort to a local interpreter run in a
// throwaway working directory.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/logging"
)

// Config configures the local executor.
type Config struct {
	// Interpreter is the command the code file is passed to, e.g. "python3".
	Interpreter string
	// Args are placed before the code file path.
	Args []string
	// FileName is the name the code is written to inside the work dir.
	FileName string
	// Workdir is the parent for per-run temp dirs. Empty means os.TempDir.
	Workdir     string
	Timeout     time.Duration
	Environment map[string]string
	// SampleInterval controls how often memory is sampled.
	SampleInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interpreter:    "python3",
		FileName:       "main.py",
		Timeout:        60 * time.Second,
		SampleInterval: 20 * time.Millisecond,
	}
}

// Local runs code with a local interpreter.
type Local struct {
	cfg    Config
	logger *logging.Logger
}

// New creates a local executor. Zero fields fall back to DefaultConfig.
func New(cfg Config, logger *logging.Logger) *Local {
	def := DefaultConfig()
	if cfg.Interpreter == "" {
		cfg.Interpreter = def.Interpreter
	}
	if cfg.FileName == "" {
		cfg.FileName = def.FileName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Local{cfg: cfg, logger: logger}
}

// Available reports whether the interpreter can be found.
func (l *Local) Available() error {
	if _, err := exec.LookPath(l.cfg.Interpreter); err != nil {
		return core.ErrSandboxUnavailable(fmt.Sprintf("interpreter %q not found", l.cfg.Interpreter)).WithCause(err)
	}
	return nil
}

// Execute writes code and any extra files to a fresh directory and runs the
// interpreter on it. A non-zero exit is reported in the result, not as an error.
func (l *Local) Execute(ctx context.Context, code string, opts core.ExecOptions) (*core.ExecutionResult, error) {
	interpreter, err := exec.LookPath(l.cfg.Interpreter)
	if err != nil {
		return nil, core.ErrSandboxUnavailable(fmt.Sprintf("interpreter %q not found", l.cfg.Interpreter)).WithCause(err)
	}

	dir, err := os.MkdirTemp(l.cfg.Workdir, "crewflow-exec-")
	if err != nil {
		return nil, core.ErrExecutionEnvironment("creating work dir").WithCause(err)
	}
	defer os.RemoveAll(dir)

	if err := writeFiles(dir, l.cfg.FileName, code, opts.Files); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = l.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, l.cfg.Args...), l.cfg.FileName)
	// #nosec G204 -- interpreter comes from validated config
	cmd := exec.CommandContext(runCtx, interpreter, args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(l.cfg.Environment, opts.Environment)
	configureProcAttr(cmd)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, core.ErrExecutionEnvironment("starting interpreter").WithCause(err)
	}
	l.logger.Debug("executor: process started", "pid", cmd.Process.Pid, "timeout", timeout)

	sampler := newMemorySampler(int32(cmd.Process.Pid), l.cfg.SampleInterval)
	waitErr := cmd.Wait()
	peak := sampler.stop()
	elapsed := time.Since(start)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, core.ErrExecutionTimeout(fmt.Sprintf("execution exceeded %s", timeout)).
			WithDetail("output", truncate(stdout.String(), 2000))
	case ctx.Err() != nil:
		return nil, core.ErrCancelled("execution cancelled").WithCause(ctx.Err())
	}

	result := &core.ExecutionResult{
		Output:               stdout.String(),
		Error:                stderr.String(),
		ExecutionTimeSeconds: elapsed.Seconds(),
		MemoryUsageMB:        float64(peak) / (1024 * 1024),
	}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.Success = true
	case errors.As(waitErr, &exitErr):
		result.ReturnCode = exitErr.ExitCode()
	default:
		return nil, core.ErrExecutionEnvironment("waiting for interpreter").WithCause(waitErr)
	}

	l.logger.Debug("executor: process finished",
		"return_code", result.ReturnCode,
		"duration", elapsed,
		"memory_mb", result.MemoryUsageMB,
	)
	return result, nil
}

func writeFiles(dir, main, code string, extra map[string]string) error {
	files := map[string]string{main: code}
	for name, content := range extra {
		files[name] = content
	}
	for name, content := range files {
		clean := filepath.Clean(name)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return core.ErrInvalidInput(core.CodeInvalidConfig, fmt.Sprintf("file %q escapes the work dir", name))
		}
		path := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return core.ErrExecutionEnvironment("creating file dir").WithCause(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return core.ErrExecutionEnvironment("writing " + name).WithCause(err)
		}
	}
	return nil
}

func buildEnv(layers ...map[string]string) []string {
	env := os.Environ()
	env = append(env, "CREWFLOW_MANAGED=true")
	for _, layer := range layers {
		for k, v := range layer {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}

// memorySampler polls the resident set size of a process until stopped.
type memorySampler struct {
	done chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
	peak uint64
}

func newMemorySampler(pid int32, interval time.Duration) *memorySampler {
	s := &memorySampler{done: make(chan struct{})}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return s
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			s.sample(proc)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

func (s *memorySampler) sample(proc *process.Process) {
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return
	}
	s.mu.Lock()
	if info.RSS > s.peak {
		s.peak = info.RSS
	}
	s.mu.Unlock()
}

func (s *memorySampler) stop() uint64 {
	close(s.done)
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

var _ core.ExecutorPort = (*Local)(nil)
