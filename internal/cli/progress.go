package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/shadowops/internal/client"
	"github.com/raphaelgruber/shadowops/internal/models"
	"golang.org/x/term"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run status
type tickMsg time.Time

// runUpdateMsg carries the polled run state
type runUpdateMsg struct {
	state *models.RunState
	err   error
}

// progressModel is the bubbletea model for run progress.
type progressModel struct {
	client    *client.Client
	sessionID string
	runID     string
	state     *models.RunState
	started   time.Time
	maxWait   time.Duration
	progress  progress.Model
	theme     Theme
	done      bool
	quitting  bool
	timedOut  bool
	err       error
}

func newProgressModel(c *client.Client, sessionID, runID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:    c,
		sessionID: sessionID,
		runID:     runID,
		started:   time.Now(),
		maxWait:   maxRunWait,
		progress:  prog,
		theme:     defaultTheme,
	}
}

// Init polls immediately, then on every tick.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchRun(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		if time.Since(m.started) > m.maxWait {
			m.timedOut = true
			m.done = true
			return m, tea.Quit
		}
		return m, m.fetchRun()

	case runUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch run status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.state = msg.state
		if m.state.Terminal() {
			m.done = true
			if m.state.Status == models.StatusFailed {
				m.err = fmt.Errorf("run %s failed", m.runID)
			}
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.state == nil {
		return "Waiting for run status...\n"
	}

	var pct float64
	counts := "starting"
	if m.state.StepsDone != nil && m.state.StepsTotal != nil && *m.state.StepsTotal > 0 {
		pct = float64(*m.state.StepsDone) / float64(*m.state.StepsTotal)
		counts = fmt.Sprintf("%d/%d steps", *m.state.StepsDone, *m.state.StepsTotal)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.state.Status))
	elapsed := time.Since(m.started).Round(time.Second)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s (%s)\n%s\n", status, m.progress.ViewAs(pct), counts, elapsed, hint)
}

func (m progressModel) finalView() string {
	if m.quitting || m.timedOut {
		var b strings.Builder
		if m.timedOut {
			fmt.Fprintf(&b, "\nRun %s is still running after %s.\n", m.runID, m.maxWait)
		} else {
			fmt.Fprintf(&b, "\nRun %s continues in background.\n", m.runID)
		}
		fmt.Fprintf(&b, "Use 'shadowops status %s %s' to check status.\n", m.sessionID, m.runID)
		return m.theme.hintStyle().Render(b.String())
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n"
}

// fetchRun polls the server in a command so Update never blocks.
func (m progressModel) fetchRun() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		state, err := m.client.RunStatus(ctx, m.sessionID, m.runID)
		return runUpdateMsg{state: state, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunProgress shows the interactive progress UI until the run finishes.
// Ctrl+C leaves the run going and returns (nil, nil).
func RunProgress(c *client.Client, sessionID, runID string) (*models.RunState, error) {
	p := tea.NewProgram(newProgressModel(c, sessionID, runID))

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok || m.quitting {
		return nil, nil
	}
	if m.timedOut {
		return nil, fmt.Errorf("run %s still running after %s", runID, m.maxWait)
	}
	if m.err != nil && m.state == nil {
		return nil, m.err
	}
	return m.state, nil
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
