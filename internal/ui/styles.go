package ui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#004643")
	colorAccent  = lipgloss.Color("#007AFF")
	colorIdle    = lipgloss.Color("#8bbff7")
	colorMuted   = lipgloss.Color("241")
	colorError   = lipgloss.Color("#ef4444")
	colorBorder  = lipgloss.Color("238")
)

// Styles groups every style the screens use.
type Styles struct {
	Title        lipgloss.Style
	UserLabel    lipgloss.Style
	ModelLabel   lipgloss.Style
	UserText     lipgloss.Style
	Pending      lipgloss.Style
	Selected     lipgloss.Style
	Speaking     lipgloss.Style
	Error        lipgloss.Style
	Help         lipgloss.Style
	Muted        lipgloss.Style
	Drawer       lipgloss.Style
	DrawerItem   lipgloss.Style
	DrawerCursor lipgloss.Style
	SendEnabled  lipgloss.Style
	SendDisabled lipgloss.Style
	Box          lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:        lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).MarginBottom(1),
		UserLabel:    lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		ModelLabel:   lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		UserText:     lipgloss.NewStyle().PaddingLeft(2),
		Pending:      lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		Selected:     lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		Speaking:     lipgloss.NewStyle().Foreground(colorAccent),
		Error:        lipgloss.NewStyle().Foreground(colorError),
		Help:         lipgloss.NewStyle().Foreground(colorMuted),
		Muted:        lipgloss.NewStyle().Foreground(colorMuted),
		Drawer:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1).MarginRight(1),
		DrawerItem:   lipgloss.NewStyle().PaddingLeft(2),
		DrawerCursor: lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		SendEnabled:  lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		SendDisabled: lipgloss.NewStyle().Foreground(colorIdle),
		Box:          lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(1, 2),
	}
}
