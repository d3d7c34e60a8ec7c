package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// updateProgressMsg is one event from the update walk.
type updateProgressMsg struct {
	Type    string // "check", "fetched", "current", "error", "summary", "done"
	Name    string
	Version string
	Message string
}

// updateModel controls the UI for the update command.
type updateModel struct {
	spinner      spinner.Model
	progressChan chan updateProgressMsg
	ctx          context.Context
	app          *app
	profileName  string

	status  string
	fetched []string
	current []string
	errors  []string
	summary string
	done    bool
}

func initialUpdateModel(ctx context.Context, a *app, profileName string) updateModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return updateModel{
		spinner:      s,
		progressChan: make(chan updateProgressMsg, 100),
		ctx:          ctx,
		app:          a,
		profileName:  profileName,
		status:       "Checking for updates...",
	}
}

func (m updateModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startUpdate(),
		m.waitForActivity(),
	)
}

func (m updateModel) startUpdate() tea.Cmd {
	return func() tea.Msg {
		go runUpdate(m.ctx, m.app, m.profileName, m.progressChan)
		return nil
	}
}

func (m updateModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.progressChan
		if !ok {
			return updateProgressMsg{Type: "done"}
		}
		return msg
	}
}

func (m updateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case updateProgressMsg:
		switch msg.Type {
		case "done":
			m.done = true
			m.status = "Finished"
			return m, tea.Quit
		case "check":
			m.status = fmt.Sprintf("Checking %s...", msg.Name)
		case "fetched":
			m.fetched = append(m.fetched, fmt.Sprintf("%s → %s", msg.Name, msg.Version))
		case "current":
			m.current = append(m.current, msg.Name)
		case "error":
			m.errors = append(m.errors, fmt.Sprintf("%s: %s", msg.Name, msg.Message))
		case "summary":
			m.summary = msg.Message
		}
		return m, m.waitForActivity()
	}

	return m, nil
}

func (m updateModel) View() string {
	var symbol string
	if m.done {
		symbol = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	} else {
		symbol = m.spinner.View()
	}

	s := fmt.Sprintf("\n %s %s\n\n", symbol, m.status)

	if len(m.fetched) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("Updated:") + "\n"
		for _, f := range m.fetched {
			s += fmt.Sprintf("  • %s\n", f)
		}
		s += "\n"
	}

	if len(m.errors) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Errors:") + "\n"
		for _, e := range m.errors {
			s += fmt.Sprintf("  • %s\n", e)
		}
		s += "\n"
	}

	if m.done {
		if len(m.current) > 0 {
			s += fmt.Sprintf("%d mods already current\n", len(m.current))
		}
		s += lipgloss.NewStyle().Bold(true).Render(m.summary) + "\n"
	}

	return s
}
