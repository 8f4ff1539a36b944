package presentation

import "github.com/charmbracelet/lipgloss"

var (
	successColor   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warningColor   = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	errorColor     = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	secondaryColor = lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#BBBBBB"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	headingStyle = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(secondaryColor).Width(18)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	okStyle      = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	expectStyle  = lipgloss.NewStyle().Foreground(warningColor)
	seqStyle     = lipgloss.NewStyle().Foreground(secondaryColor).Width(6).Align(lipgloss.Right)
	typeStyle    = lipgloss.NewStyle().Bold(true).Width(24)
)

// statusStyle colors an asset status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "verified", "unlocked":
		return lipgloss.NewStyle().Foreground(successColor)
	case "locked":
		return lipgloss.NewStyle().Foreground(warningColor)
	case "disputed":
		return lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	default:
		return mutedStyle
	}
}
