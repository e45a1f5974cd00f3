// Package ui renders a live progress view of a relay run with bubbletea.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/franksops/gorelay/orchestrator"
)

// TUIModel implements the tea.Model interface
type TUIModel struct {
	state    *UIState
	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	streamStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg carries a fresh state snapshot.
type TUIUpdateMsg struct {
	State *UIState
}

func NewTUIModel(initialState *UIState) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if initialState == nil {
		initialState = &UIState{}
	}

	return TUIModel{
		state:        initialState,
		spinner:      s,
		progress:     progress.New(progress.WithDefaultGradient()),
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		streamStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(msg.Width-14, 10)

		headerHeight := 6
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, max(msg.Height-headerHeight-footerHeight, 1))

	case TUIUpdateMsg:
		m.state = msg.State
		if m.state.Done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder
	st := m.state

	title := st.Operation
	if st.Host != "" {
		title += " @ " + st.Host
	}
	sb.WriteString(fmt.Sprintf("%s grelay %s\n", m.spinner.View(), m.titleStyle.Render(title)))

	info := fmt.Sprintf("Files: %d ok, %d failed | %s | %s",
		st.CompletedFiles, st.FailedFiles,
		formatBytes(st.CompletedBytes), formatSpeed(st.ThroughputBPms*1000))
	sb.WriteString(m.infoStyle.Render(info) + "\n\n")

	// Current transfer
	if a := st.Active; a != nil {
		name := a.FilePath
		if len(name) > 40 {
			name = "..." + name[len(name)-37:]
		}
		sb.WriteString(name + "\n")
		if a.Progress >= 0 {
			sb.WriteString(m.progress.ViewAs(a.Progress))
		} else {
			sb.WriteString(m.infoStyle.Render(formatBytes(a.Transferred)))
		}
		sb.WriteString(" | " + m.streamStyle.Render(formatSpeed(a.BytesSec)) + "\n\n")
	} else {
		sb.WriteString(m.infoStyle.Render("Waiting for transfer...") + "\n\n")
	}

	// Finished files
	var list strings.Builder
	for _, f := range st.Finished {
		mark := m.successStyle.Render("ok  ")
		if !f.OK {
			mark = m.errorStyle.Render("FAIL")
		}
		line := fmt.Sprintf("%s %s (%s)", mark, f.Name, formatBytes(f.Bytes))
		if f.RouteFallback {
			line += m.infoStyle.Render(" [fallback dir]")
		}
		list.WriteString(line + "\n")
	}
	m.viewport.SetContent(list.String())
	m.viewport.GotoBottom()
	sb.WriteString(m.viewport.View())

	// Footer
	help := m.helpStyle.Render("q/ctrl+c: cancel run")
	if st.Done {
		if st.Success {
			help = m.successStyle.Render("Run complete")
		} else {
			help = m.errorStyle.Render("Run failed: " + st.Cause)
		}
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

// Run shows the progress view while work runs and returns work's report.
// Quitting the view cancels the context handed to work.
func Run(ctx context.Context, obs *StateObserver, work func(context.Context) *orchestrator.Report, opts ...tea.ProgramOption) (*orchestrator.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(NewTUIModel(obs.Snapshot()), opts...)

	var rep *orchestrator.Report
	done := make(chan struct{})
	go func() {
		defer close(done)
		rep = work(ctx)
		program.Send(TUIUpdateMsg{State: obs.Snapshot()})
	}()

	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				program.Send(TUIUpdateMsg{State: obs.Snapshot()})
			}
		}
	}()

	_, err := program.Run()
	cancel()
	<-done
	return rep, err
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec >= 1024*1024*1024 {
		return fmt.Sprintf("%.2f GB/s", bytesPerSec/(1024*1024*1024))
	} else if bytesPerSec >= 1024*1024 {
		return fmt.Sprintf("%.2f MB/s", bytesPerSec/(1024*1024))
	} else if bytesPerSec >= 1024 {
		return fmt.Sprintf("%.2f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}
