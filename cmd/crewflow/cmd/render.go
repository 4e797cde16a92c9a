package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/tui"
)

// renderer prints human readable output. With color disabled every style
// renders its input unchanged.
type renderer struct {
	w     io.Writer
	color bool
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w, color: !noColor}
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

func (r *renderer) header(text string) {
	fmt.Fprintln(r.w, r.style(tui.HeaderStyle, text))
}

// state pads before styling so escape codes do not break the columns.
func (r *renderer) state(state string, width int) string {
	return r.style(tui.StateStyle(state), fmt.Sprintf("%-*s", width, state))
}

// status prints a workflow snapshot followed by one row per step.
func (r *renderer) status(st core.WorkflowStatus) {
	r.header(fmt.Sprintf("Workflow %s (%s)", st.Name, st.ID))
	fmt.Fprintf(r.w, "State:    %s\n", r.state(string(st.State), 0))
	if d := duration(st.StartedAt, st.FinishedAt); d != "" {
		fmt.Fprintf(r.w, "Duration: %s\n", d)
	}
	fmt.Fprintln(r.w)

	width := len("STEP")
	for _, s := range st.Steps {
		if len(s.Name) > width {
			width = len(s.Name)
		}
	}
	fmt.Fprintf(r.w, "%-*s  %-10s  %-8s  %s\n", width, "STEP", "STATE", "ATTEMPTS", "ERROR")
	for _, s := range st.Steps {
		msg := s.Error
		if s.ErrorKind != "" {
			msg = fmt.Sprintf("[%s] %s", s.ErrorKind, s.Error)
		}
		if s.HookWarning != "" {
			msg = strings.TrimSpace(msg + " hook: " + s.HookWarning)
		}
		fmt.Fprintf(r.w, "%-*s  %s  %-8d  %s\n", width, s.Name, r.state(string(s.State), 10), s.Attempts, msg)
	}

	if f := st.FirstFailure; f != nil {
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, r.style(tui.FailedStyle, fmt.Sprintf("First failure: step %q (%s): %s", f.Step, f.Kind, f.Error)))
	}
}

func duration(start, end *time.Time) string {
	if start == nil || end == nil {
		return ""
	}
	return end.Sub(*start).Round(time.Millisecond).String()
}
