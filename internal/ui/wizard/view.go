package wizard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/setup"
	"github.com/nhle/mailsetup/internal/theme"
)

const maxTriedShown = 8

// View renders the wizard based on the current mode.
func (m Model) View() string {
	if m.cancelled {
		return theme.MutedStyle.Render("Setup cancelled.") + "\n"
	}

	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("Add mail account"))
	b.WriteString("\n\n")
	b.WriteString(m.viewProgress())
	b.WriteString("\n\n")

	var body string
	switch m.mode {
	case ModeLoading:
		body = m.viewLoading()
	case ModeManual:
		body = m.viewManual()
	case ModeAuth:
		body = m.viewAuth()
	case ModeTestFailed:
		body = m.viewTestFailed()
	case ModeConfirm:
		body = m.viewConfirm()
	case ModeDone:
		body = m.viewDone()
	default:
		body = m.viewForm()
	}
	b.WriteString(theme.PanelStyle.Width(m.formWidth() + 6).Render(body))

	if m.statusMsg != "" {
		b.WriteString("\n")
		b.WriteString(theme.ErrorStyle.Render(m.statusMsg))
	}
	b.WriteString("\n")
	return b.String()
}

// viewProgress renders the step line using the workflow's gating rules.
func (m Model) viewProgress() string {
	view := setup.NewView(m.state)

	parts := make([]string, 0, len(setup.Steps))
	for _, step := range setup.Steps {
		state := theme.StepPending
		switch {
		case step == setup.StepManual && !view.ManualVisible:
			state = theme.StepHidden
		case step == m.state.Step && m.mode != ModeDone:
			state = theme.StepCurrent
		case view.Completed[step] || m.mode == ModeDone:
			state = theme.StepDone
		}
		parts = append(parts, theme.StepStyle(state).Render(stepLabel(step)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func stepLabel(s setup.Step) string {
	switch s {
	case setup.StepEmail:
		return "Email"
	case setup.StepDiscovery:
		return "Discover"
	case setup.StepManual:
		return "Server"
	case setup.StepAuth:
		return "Sign in"
	case setup.StepTesting:
		return "Test"
	case setup.StepSuccess:
		return "Done"
	}
	return s.String()
}

func (m Model) viewForm() string {
	if m.form == nil {
		return ""
	}
	return m.form.View()
}

func (m Model) viewLoading() string {
	s := m.state
	var label string
	switch s.Pending {
	case setup.OpDiscover:
		label = fmt.Sprintf("Looking up the mail server for %s...", s.EmailAddress)
	case setup.OpManualDiscover:
		label = "Checking the server..."
	case setup.OpTest:
		label = fmt.Sprintf("Signing in to %s...", serverURL(s.ServerConfig))
	case setup.OpCreate:
		label = "Saving the account..."
	default:
		label = "Working..."
	}
	return m.spinner.View() + " " + label + "\n\n" + m.help.ShortHelpView(m.keys.LoadingHelp())
}

func (m Model) viewManual() string {
	var b strings.Builder
	s := m.state

	if r := s.DiscoveryResult; r != nil && !r.Success {
		if r.ErrorMessage != "" {
			b.WriteString(theme.ErrorStyle.Render(r.ErrorMessage))
			b.WriteString("\n")
		}
		if r.Suggestion != "" {
			b.WriteString(r.Suggestion)
			b.WriteString("\n")
		}
		if tried := r.TriedEndpoints; len(tried) > 0 {
			b.WriteString(theme.MutedStyle.Render(formatTried(tried)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if s.Error != "" {
		b.WriteString(theme.ErrorStyle.Render(s.Error))
		b.WriteString("\n\n")
	}

	b.WriteString(m.viewForm())
	return b.String()
}

func formatTried(tried []string) string {
	shown := tried
	if len(shown) > maxTriedShown {
		shown = shown[:maxTriedShown]
	}
	lines := make([]string, 0, len(shown)+2)
	lines = append(lines, "Tried:")
	for _, t := range shown {
		lines = append(lines, "  "+t)
	}
	if extra := len(tried) - len(shown); extra > 0 {
		lines = append(lines, fmt.Sprintf("  and %d more", extra))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewAuth() string {
	var b strings.Builder
	if cfg := m.state.ServerConfig; cfg != nil {
		b.WriteString(theme.SuccessStyle.Render("Server found"))
		b.WriteString(" ")
		b.WriteString(serverURL(cfg))
		b.WriteString(theme.MutedStyle.Render(" (" + cfg.DiscoveryMethod + ")"))
		b.WriteString("\n\n")
	}
	b.WriteString(m.viewForm())
	return b.String()
}

func (m Model) viewTestFailed() string {
	s := m.state
	msg := s.Error
	if msg == "" && s.TestResult != nil {
		msg = s.TestResult.Message
	}

	return theme.ErrorStyle.Render("Connection failed") + "\n\n" +
		msg + "\n\n" +
		m.help.ShortHelpView(m.keys.TestFailedHelp())
}

func (m Model) viewConfirm() string {
	s := m.state
	var b strings.Builder

	if s.TestResult != nil {
		b.WriteString(theme.ResultStyle(s.TestResult.Success).Render(s.TestResult.Message))
		b.WriteString("\n\n")
	}

	preview := model.Account{EmailAddress: s.EmailAddress}
	if d := s.AccountDetails; d != nil {
		preview.Name = d.AccountName
		preview.DisplayName = d.DisplayName
	}
	fmt.Fprintf(&b, "Account: %s\n", preview.Name)
	fmt.Fprintf(&b, "From:    %s\n", preview.FromHeader())
	fmt.Fprintf(&b, "Server:  %s\n", serverURL(s.ServerConfig))

	if s.Error != "" {
		b.WriteString("\n")
		b.WriteString(theme.ErrorStyle.Render(s.Error))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.ConfirmHelp()))
	return b.String()
}

func (m Model) viewDone() string {
	if m.account == nil {
		return ""
	}
	return theme.SuccessStyle.Render(fmt.Sprintf("Account %q saved.", m.account.Name)) + "\n\n" +
		m.account.FromHeader()
}

func serverURL(cfg *model.ServerConfig) string {
	if cfg == nil {
		return "the server"
	}
	if cfg.ProtocolURL != "" {
		return cfg.ProtocolURL
	}
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}
