package cmd

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#A78BFA") // violet-400
	secondaryColor = lipgloss.Color("#10B981") // green
	warningColor   = lipgloss.Color("#F59E0B") // amber
	errorColor     = lipgloss.Color("#F87171") // red-400
	mutedColor     = lipgloss.Color("#9CA3AF")
	borderColor    = lipgloss.Color("#6B7280")
)

// palette holds the styles used by human-readable command output. The
// plain palette renders text unchanged for pipes and files.
type palette struct {
	title   lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	good    lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	section lipgloss.Style
}

func newPalette(styled bool) palette {
	if !styled {
		plain := lipgloss.NewStyle()
		return palette{plain, plain, plain, plain, plain, plain, plain}
	}
	return palette{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor),
		label: lipgloss.NewStyle().Foreground(mutedColor),
		value: lipgloss.NewStyle().Bold(true),
		good:  lipgloss.NewStyle().Foreground(secondaryColor),
		warn:  lipgloss.NewStyle().Foreground(warningColor),
		bad:   lipgloss.NewStyle().Foreground(errorColor),
		section: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1),
	}
}
