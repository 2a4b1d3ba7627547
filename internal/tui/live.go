// Package tui shows a run while it integrates: a bubbletea program fed by
// the outputs of the driver.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/viz"
)

const (
	barWidth     = 40
	historyLen   = 60
	maxStateRows = 8
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// OutputMsg carries one recorded output.
type OutputMsg struct {
	Index int
	Time  float64
	State dynamo.State
}

// DoneMsg ends the view.
type DoneMsg struct {
	Result *dynamo.Result
	Err    error
}

// Feed forwards driver outputs to a program. It satisfies sim.Observer.
type Feed struct {
	send func(tea.Msg)
}

func NewFeed(send func(tea.Msg)) *Feed { return &Feed{send: send} }

func (f *Feed) OnOutput(i int, t float64, x dynamo.State) {
	f.send(OutputMsg{Index: i, Time: t, State: x.Clone()})
}

// Live is the progress model of a single run.
type Live struct {
	title   string
	states  []string
	outputs int

	seen    int
	t       float64
	x       dynamo.State
	history [][]float64

	done   bool
	quit   bool
	result *dynamo.Result
	err    error
	width  int
}

// NewLive expects outputs values, one per output time of the request.
func NewLive(title string, states []string, outputs int) Live {
	return Live{
		title:   title,
		states:  states,
		outputs: outputs,
		width:   80,
	}
}

func (m Live) Init() tea.Cmd { return nil }

func (m Live) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case OutputMsg:
		m.seen = max(m.seen, msg.Index+1)
		m.t = msg.Time
		m.x = msg.State
		if m.history == nil {
			m.history = make([][]float64, len(msg.State))
		}
		for i, v := range msg.State {
			if i >= len(m.history) {
				break
			}
			h := append(m.history[i], v)
			if len(h) > historyLen {
				h = h[1:]
			}
			m.history[i] = h
		}
	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

// Progress is the fraction of outputs recorded so far.
func (m Live) Progress() float64 {
	if m.outputs <= 0 {
		return 0
	}
	return math.Min(1, float64(m.seen)/float64(m.outputs))
}

// Quit reports whether the user left before the run ended.
func (m Live) Quit() bool { return m.quit && !m.done }

func (m Live) View() string {
	var b strings.Builder
	b.WriteString(cyan.Render("  "+m.title) + "  " + dim.Render(fmt.Sprintf("t=%.4g", m.t)) + "\n\n")

	bw := min(barWidth, max(10, m.width-20))
	filled := int(m.Progress() * float64(bw))
	bar := green.Render(strings.Repeat("█", filled)) + dimmer.Render(strings.Repeat("░", bw-filled))
	b.WriteString(fmt.Sprintf("  %s %s\n\n", bar, white.Render(fmt.Sprintf("%d/%d", m.seen, m.outputs))))

	for i, v := range m.x {
		if i >= maxStateRows {
			b.WriteString(dim.Render(fmt.Sprintf("  ... %d more\n", len(m.x)-maxStateRows)))
			break
		}
		name := fmt.Sprintf("x%d", i)
		if i < len(m.states) {
			name = m.states[i]
		}
		b.WriteString(fmt.Sprintf("  %-10s %12.5g  %s\n", name, v, cyan.Render(viz.Sparkline(m.history[i]))))
	}

	b.WriteString("\n")
	switch {
	case m.done:
		if m.result != nil {
			b.WriteString("  " + viz.StatusText(m.result))
			if n := len(m.result.Events); n > 0 {
				b.WriteString(dim.Render(fmt.Sprintf("  %d events", n)))
			}
		} else {
			b.WriteString("  " + viz.StatusFailed.Render("failed"))
		}
		if m.err != nil {
			b.WriteString("\n  " + viz.StatusFailed.Render(m.err.Error()))
		}
		b.WriteString("\n")
	case m.quit:
		b.WriteString(dim.Render("  cancelled") + "\n")
	default:
		b.WriteString(dimmer.Render("  q to cancel") + "\n")
	}
	return b.String()
}

// Watch runs fn under the live view. fn gets a feed to attach to its driver
// and a context that is cancelled when the user quits.
func Watch(ctx context.Context, m Live, fn func(ctx context.Context, feed *Feed) (*dynamo.Result, error), opts ...tea.ProgramOption) (*dynamo.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, opts...)

	type outcome struct {
		res *dynamo.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(ctx, NewFeed(p.Send))
		p.Send(DoneMsg{Result: res, Err: err})
		done <- outcome{res, err}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, err
	}
	cancel()
	out := <-done
	return out.res, out.err
}
