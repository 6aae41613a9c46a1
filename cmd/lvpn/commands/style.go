package commands

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/session"
)

var (
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	connectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	closedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	payloadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

func renderState(s session.State) string {
	label := "[" + s.String() + "]"
	switch s {
	case session.StateConnected:
		return connectedStyle.Render(label)
	case session.StateFailed:
		return errorStyle.Render(label)
	case session.StateClosing, session.StateClosed, session.StateIdle:
		return closedStyle.Render(label)
	default:
		return pendingStyle.Render(label)
	}
}
