package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the wizard title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// PanelStyle wraps the content of a wizard step.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// ErrorStyle renders failures.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// SuccessStyle renders completed operations.
var SuccessStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGreen)

// MutedStyle renders secondary detail such as tried endpoints.
var MutedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// StepState is how a step appears in the progress line.
type StepState int

const (
	StepPending StepState = iota
	StepCurrent
	StepDone
	StepHidden
)

// StepStyle returns a color-coded style for a step in the progress line.
func StepStyle(state StepState) lipgloss.Style {
	base := lipgloss.NewStyle().Padding(0, 1)

	switch state {
	case StepCurrent:
		return base.Bold(true).Foreground(ColorWhite).Background(ColorBlue)
	case StepDone:
		return base.Foreground(ColorGreen)
	case StepHidden:
		return base.Foreground(ColorSubtle).Strikethrough(true)
	default:
		return base.Foreground(ColorGray)
	}
}

// ResultStyle colors a status line by outcome.
func ResultStyle(ok bool) lipgloss.Style {
	if ok {
		return SuccessStyle
	}
	return lipgloss.NewStyle().Foreground(ColorYellow)
}
