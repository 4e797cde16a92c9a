package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/events"
)

// eventMsg carries one bus event into the program.
type eventMsg struct{ event events.Event }

// doneMsg reports that the run finished or the subscription closed.
type doneMsg struct{}

type stepView struct {
	name    string
	state   string
	attempt int
	note    string
}

// Progress is a live view of one workflow run fed by the event bus.
type Progress struct {
	id    string
	name  string
	steps []stepView
	index map[string]int

	spinner spinner.Model
	bar     progress.Model
	width   int

	events <-chan events.Event
	done   <-chan struct{}
	cancel func()

	cancelling bool
	finished   bool
	final      string
	finalErr   string
	started    time.Time
}

// NewProgress builds the view from the initial status of a run. sub should
// be a subscription to the run's events, done is closed when the run ends
// and cancel is called when the user asks to stop.
func NewProgress(status core.WorkflowStatus, sub <-chan events.Event, done <-chan struct{}, cancel func()) Progress {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = RunningStyle

	m := Progress{
		id:      string(status.ID),
		name:    status.Name,
		index:   make(map[string]int, len(status.Steps)),
		spinner: sp,
		bar: progress.New(
			progress.WithScaledGradient(string(ColorPrimary), "#3B82F6"),
			progress.WithoutPercentage(),
		),
		width:   80,
		events:  sub,
		done:    done,
		cancel:  cancel,
		started: time.Now(),
	}
	for _, st := range status.Steps {
		m.index[st.Name] = len(m.steps)
		m.steps = append(m.steps, stepView{name: st.Name, state: string(st.State), attempt: st.Attempts})
	}
	return m
}

func waitForEvent(sub <-chan events.Event, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev, ok := <-sub:
			if !ok {
				return doneMsg{}
			}
			return eventMsg{event: ev}
		case <-done:
			return doneMsg{}
		}
	}
}

// Init starts the spinner and the event pump.
func (m Progress) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events, m.done))
}

// Update handles messages.
func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(msg.event)
		if m.finished {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events, m.done)

	case doneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Progress) step(name string) *stepView {
	i, ok := m.index[name]
	if !ok {
		i = len(m.steps)
		m.index[name] = i
		m.steps = append(m.steps, stepView{name: name, state: string(core.StepPending)})
	}
	return &m.steps[i]
}

func (m *Progress) apply(ev events.Event) {
	switch e := ev.(type) {
	case events.StepEvent:
		s := m.step(e.Step)
		switch e.Type {
		case events.TypeStepState:
			s.state = e.State
			s.attempt = e.Attempt
			s.note = ""
			if e.Error != "" {
				s.note = e.Error
			}
		case events.TypeStepRetry:
			s.state = string(core.StepPending)
			s.note = fmt.Sprintf("retry %d in %s: %s", e.Attempt+1, e.Delay.Round(time.Millisecond), e.Error)
		case events.TypeHookWarning:
			s.note = "hook: " + e.Error
		}
	case events.WorkflowEvent:
		if e.IsTerminal() {
			m.finished = true
			m.final = e.State
			m.finalErr = e.Error
		}
	}
}

// Finished reports whether the run ended while the view was open.
func (m Progress) Finished() bool { return m.finished }

func (m Progress) completed() int {
	n := 0
	for _, s := range m.steps {
		if core.StepState(s.state).Done() {
			n++
		}
	}
	return n
}

// View renders the run.
func (m Progress) View() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Workflow " + m.name))
	b.WriteString(" ")
	b.WriteString(PendingStyle.Render(m.id))
	b.WriteString("\n\n")

	total := len(m.steps)
	done := m.completed()
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total)
	}
	bar := m.bar
	bar.Width = max(10, min(m.width-20, 60))
	fmt.Fprintf(&b, "%s %d/%d\n\n", bar.ViewAs(pct), done, total)

	width := 4
	for _, s := range m.steps {
		width = max(width, len(s.name))
	}
	for _, s := range m.steps {
		icon := StateStyle(s.state).Render(StateIcon(s.state))
		if s.state == string(core.StepRunning) {
			icon = m.spinner.View()
		}
		line := fmt.Sprintf("%s %-*s  %s", icon, width, s.name, StateStyle(s.state).Render(fmt.Sprintf("%-9s", s.state)))
		if s.attempt > 1 {
			line += fmt.Sprintf("  attempt %d", s.attempt)
		}
		if s.note != "" {
			line += "  " + PendingStyle.Render(s.note)
		}
		b.WriteString(line + "\n")
	}

	var footer string
	switch {
	case m.finished && m.final != "":
		footer = StateStyle(m.final).Render(m.final)
		if m.finalErr != "" {
			footer += "  " + m.finalErr
		}
	case m.cancelling:
		footer = CancelledStyle.Render("cancelling, waiting for the running step to finish...")
	default:
		footer = fmt.Sprintf("%s  q to cancel", time.Since(m.started).Round(time.Second))
	}
	b.WriteString(FooterStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

// Run shows m until the run finishes or ctx is done.
func Run(ctx context.Context, m Progress, out io.Writer) (Progress, error) {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithOutput(out))
	final, err := p.Run()
	if pm, ok := final.(Progress); ok {
		m = pm
	}
	return m, err
}
