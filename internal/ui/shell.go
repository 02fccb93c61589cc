package ui

import (
	"context"
	"strings"

	"pasta/chat/internal/models"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type itemKind int

const (
	itemFeature itemKind = iota
	itemUnavailable
	itemLogout
)

type drawerItem struct {
	label   string
	kind    itemKind
	feature models.Feature
}

// shellModel is the signed-in navigation shell: a drawer of screens and the mounted chat.
type shellModel struct {
	ctx      context.Context
	deps     Deps
	styles   Styles
	identity *models.Identity

	items      []drawerItem
	cursor     int
	drawerOpen bool
	active     string
	chat       *chatModel
	notice     string

	width  int
	height int
}

func drawerItems(deps Deps) []drawerItem {
	items := []drawerItem{{label: deps.Text.GetString(deps.Lang, "drawer.personality_test"), kind: itemUnavailable}}
	for _, f := range deps.Features {
		items = append(items, drawerItem{label: f.Title, kind: itemFeature, feature: f})
	}
	items = append(items,
		drawerItem{label: deps.Text.GetString(deps.Lang, "drawer.task_manager"), kind: itemUnavailable},
		drawerItem{label: deps.Text.GetString(deps.Lang, "drawer.logout"), kind: itemLogout},
	)
	return items
}

// newShell opens the first feature of the drawer.
func newShell(ctx context.Context, deps Deps, styles Styles, identity *models.Identity, width, height int) (shellModel, tea.Cmd) {
	m := shellModel{
		ctx:      ctx,
		deps:     deps,
		styles:   styles,
		identity: identity,
		items:    drawerItems(deps),
		width:    width,
		height:   height,
	}
	for i, it := range m.items {
		if it.kind == itemFeature {
			m.cursor = i
			return m, m.open(it.feature)
		}
	}
	return m, nil
}

// open unmounts the current chat screen and mounts feature.
func (m *shellModel) open(feature models.Feature) tea.Cmd {
	if m.active == feature.Name && m.chat != nil {
		return nil
	}
	if m.active != "" {
		m.deps.Sessions.Unmount(m.active)
	}
	m.active = feature.Name
	session := m.deps.Sessions.Mount(m.ctx, feature)
	chat := newChatModel(session, m.styles, m.deps.Text, m.deps.Lang, m.chatWidth(), m.height)
	m.chat = &chat
	return chat.Init()
}

func (m shellModel) chatWidth() int {
	if m.drawerOpen {
		return max(m.width-m.drawerWidth(), 20)
	}
	return m.width
}

func (m shellModel) drawerWidth() int {
	return 28
}

func (m shellModel) Update(msg tea.Msg) (shellModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, m.resizeChat()

	case tea.KeyMsg:
		if msg.String() == "tab" {
			m.drawerOpen = !m.drawerOpen
			m.notice = ""
			return m, m.resizeChat()
		}
		if m.drawerOpen {
			return m.updateDrawer(msg)
		}
	}

	if m.chat == nil {
		return m, nil
	}
	chat, cmd := m.chat.Update(msg)
	m.chat = &chat
	return m, cmd
}

func (m *shellModel) resizeChat() tea.Cmd {
	if m.chat == nil {
		return nil
	}
	chat, cmd := m.chat.Update(tea.WindowSizeMsg{Width: m.chatWidth(), Height: m.height})
	m.chat = &chat
	return cmd
}

func (m shellModel) updateDrawer(msg tea.KeyMsg) (shellModel, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "esc":
		m.drawerOpen = false
		return m, m.resizeChat()
	case "enter":
		item := m.items[m.cursor]
		switch item.kind {
		case itemFeature:
			m.drawerOpen = false
			m.notice = ""
			return m, m.open(item.feature)
		case itemUnavailable:
			m.notice = m.deps.Text.Format(m.deps.Lang, "drawer.not_available", item.label)
		case itemLogout:
			// the identity notification switches the screen
			m.deps.Auth.SignOut()
		}
	}
	return m, nil
}

func (m shellModel) viewDrawer() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.deps.Text.GetString(m.deps.Lang, "drawer.title")))
	b.WriteString("\n")
	for i, it := range m.items {
		line := it.label
		if it.kind == itemFeature && it.feature.Name == m.active {
			line += " •"
		}
		if i == m.cursor {
			b.WriteString(m.styles.DrawerCursor.Render("> " + line))
		} else {
			b.WriteString(m.styles.DrawerItem.Render(line))
		}
		b.WriteString("\n")
	}
	if m.identity != nil {
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render(m.deps.Text.Format(m.deps.Lang, "drawer.signed_in_as", m.identity.Email)))
	}
	if m.notice != "" {
		b.WriteString("\n\n")
		b.WriteString(m.styles.Error.Render(m.notice))
	}
	b.WriteString("\n\n")
	b.WriteString(m.styles.Help.Render(m.deps.Text.GetString(m.deps.Lang, "help.drawer")))
	return m.styles.Drawer.Width(m.drawerWidth() - 4).Render(b.String())
}

func (m shellModel) View() string {
	content := ""
	if m.chat != nil {
		content = m.chat.View()
	}
	if !m.drawerOpen {
		return content
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.viewDrawer(), content)
}
