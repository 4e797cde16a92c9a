package cmd

import (
	"errors"
	"strings"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitInvalid   = 1 // validation or configuration error
	ExitFailed    = 2 // the workflow ran and failed
	ExitCancelled = 3
	ExitUsage     = 64
)

// exitError carries an exit code through cobra. Silent errors have already
// been reported to the user.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: ExitUsage, err: err}
}

// ExitCode maps an error returned by Execute onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch core.KindOf(err) {
	case core.KindCancelled:
		return ExitCancelled
	case core.KindWorkflow:
		return ExitFailed
	}
	// cobra reports unknown commands and bad arguments as plain errors.
	msg := err.Error()
	if strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "accepts ") ||
		strings.HasPrefix(msg, "requires ") {
		return ExitUsage
	}
	return ExitInvalid
}

// IsSilent reports whether err was already shown to the user.
func IsSilent(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.silent
}

// runExitCode classifies the outcome of a finished run.
func runExitCode(state core.WorkflowState, err error) int {
	switch {
	case state == core.WorkflowCompleted && err == nil:
		return ExitOK
	case state == core.WorkflowCancelled || core.IsKind(err, core.KindCancelled):
		return ExitCancelled
	default:
		return ExitFailed
	}
}
