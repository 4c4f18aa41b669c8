package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	err     lipgloss.Style
	notice  lipgloss.Style
	help    lipgloss.Style
	mine    lipgloss.Style
	theirs  lipgloss.Style
	meta    lipgloss.Style
	unread  lipgloss.Style
	divider lipgloss.Style
}

// newStyles builds the palette against r so colours match the client's
// terminal rather than the server's.
func newStyles(r *lipgloss.Renderer) styles {
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		header:  r.NewStyle().Bold(true),
		err:     r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		notice:  r.NewStyle().Foreground(lipgloss.Color("11")),
		help:    r.NewStyle().Foreground(lipgloss.Color("8")),
		mine:    r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		theirs:  r.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		meta:    r.NewStyle().Foreground(lipgloss.Color("8")),
		unread:  r.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		divider: r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}
