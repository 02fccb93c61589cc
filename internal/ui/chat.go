package ui

import (
	"strings"

	"pasta/chat/internal/chathub"
	"pasta/chat/internal/localization"
	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// stateMsg carries a session state to the screen showing it.
type stateMsg struct {
	session *chathub.Session
	state   chathub.State
}

// waitForState blocks until the session publishes a new state.
func waitForState(s *chathub.Session) tea.Cmd {
	return func() tea.Msg {
		select {
		case st := <-s.Updates():
			return stateMsg{session: s, state: st}
		case <-s.Done():
			return nil
		}
	}
}

type cachedRow struct {
	text string
	out  string
}

// rowCache keeps rendered message bodies by message ID. Rows are only re-rendered when
// their text or the width changes.
type rowCache struct {
	width   int
	rows    map[string]cachedRow
	renders int
}

func newRowCache() *rowCache {
	return &rowCache{rows: make(map[string]cachedRow)}
}

func (c *rowCache) get(width int, m models.ChatMessage, render func() string) string {
	if width != c.width {
		c.width = width
		c.rows = make(map[string]cachedRow)
	}
	if row, ok := c.rows[m.ID]; ok && row.text == m.Text() {
		return row.out
	}
	out := render()
	c.renders++
	c.rows[m.ID] = cachedRow{text: m.Text(), out: out}
	return out
}

// chatModel renders one session: the transcript, the input line, the loading indicator
// and the error line.
type chatModel struct {
	session *chathub.Session
	state   chathub.State

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	rows     *rowCache
	// selected is the ID of the highlighted row; empty follows the newest message.
	selected string

	styles Styles
	text   *localization.Localizer
	lang   string
	width  int
	height int
}

func newChatModel(session *chathub.Session, styles Styles, text *localization.Localizer, lang string, width, height int) chatModel {
	feature := session.Feature()

	ti := textinput.New()
	ti.Placeholder = feature.Placeholder
	if ti.Placeholder == "" {
		ti.Placeholder = text.GetString(lang, "chat.placeholder")
	}
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	m := chatModel{
		session: session,
		state:   session.State(),
		input:   ti,
		spinner: sp,
		rows:    newRowCache(),
		styles:  styles,
		text:    text,
		lang:    lang,
	}
	m.resize(width, height)
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(waitForState(m.session), m.spinner.Tick, textinput.Blink)
}

// chrome is the number of lines around the transcript: title, input, status, error, help.
const chrome = 7

func (m *chatModel) resize(width, height int) {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	m.width, m.height = width, height
	m.input.Width = max(width-6, 10)

	vh := max(height-chrome, 3)
	if m.viewport.Width == 0 {
		m.viewport = viewport.New(width, vh)
	} else {
		m.viewport.Width = width
		m.viewport.Height = vh
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		logging.Error("failed to create markdown renderer", err)
		renderer = nil
	}
	m.renderer = renderer
	m.refresh()
}

func (m chatModel) canSend() bool {
	return strings.TrimSpace(m.input.Value()) != "" && !m.state.Loading
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.state = msg.state
		m.refresh()
		return m, waitForState(m.session)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if !m.canSend() {
				return m, nil
			}
			m.session.SetInput(m.input.Value())
			m.session.Submit()
			m.input.SetValue("")
			m.selected = ""
			return m, nil
		case "ctrl+s":
			if id := m.speechTarget(); id != "" {
				m.session.ToggleSpeech(id)
			}
			return m, nil
		case "up":
			m.moveSelection(-1)
			return m, nil
		case "down":
			m.moveSelection(1)
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if after := m.input.Value(); after != before {
			m.session.SetInput(after)
		}
		return m, cmd
	}
	return m, nil
}

// speechTarget is the highlighted row, or the newest one.
func (m chatModel) speechTarget() string {
	if m.selected != "" {
		return m.selected
	}
	if n := len(m.state.Transcript); n > 0 {
		return m.state.Transcript[n-1].ID
	}
	return ""
}

func (m *chatModel) moveSelection(delta int) {
	t := m.state.Transcript
	if len(t) == 0 {
		return
	}
	idx := len(t) - 1
	for i, msg := range t {
		if msg.ID == m.selected {
			idx = i
		}
	}
	idx += delta
	switch {
	case idx < 0:
		idx = 0
	case idx >= len(t)-1:
		m.selected = ""
		m.refresh()
		return
	}
	m.selected = t[idx].ID
	m.refresh()
}

func (m *chatModel) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	if m.selected == "" {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) renderTranscript() string {
	if len(m.state.Transcript) == 0 {
		return m.styles.Muted.Render(m.text.GetString(m.lang, "chat.empty"))
	}

	var b strings.Builder
	for _, msg := range m.state.Transcript {
		b.WriteString(m.renderHeader(msg))
		b.WriteString("\n")
		b.WriteString(m.rows.get(m.width, msg, func() string { return m.renderBody(msg) }))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *chatModel) renderHeader(msg models.ChatMessage) string {
	cursor := "  "
	if msg.ID == m.speechTarget() {
		cursor = m.styles.Selected.Render("▸ ")
	}

	label := m.styles.ModelLabel.Render(m.state.Feature.Title)
	if msg.Role == models.RoleUser {
		label = m.styles.UserLabel.Render("You")
	}

	parts := []string{cursor + label}
	if msg.Pending {
		parts = append(parts, m.styles.Pending.Render("(sending)"))
	}
	if m.state.Speaking && m.state.SpeakingID == msg.ID {
		parts = append(parts, m.styles.Speaking.Render("🔊 "+m.text.GetString(m.lang, "chat.speaking")))
	}
	return strings.Join(parts, " ")
}

func (m *chatModel) renderBody(msg models.ChatMessage) string {
	if msg.Role == models.RoleModel && m.renderer != nil {
		out, err := m.renderer.Render(msg.Text())
		if err == nil {
			return strings.TrimRight(out, "\n")
		}
		logging.Warnw("markdown render failed", "id", msg.ID, "error", err)
	}
	return m.styles.UserText.Width(max(m.width-2, 10)).Render(msg.Text())
}

func (m chatModel) View() string {
	if m.state.ScreenLoading {
		loading := m.spinner.View() + " " + m.text.GetString(m.lang, "chat.loading")
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, loading)
	}

	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.state.Feature.Title))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")

	send := m.styles.SendDisabled.Render("[send]")
	if m.canSend() {
		send = m.styles.SendEnabled.Render("[send]")
	}
	b.WriteString(m.input.View() + " " + send)
	b.WriteString("\n")

	if m.state.Loading {
		b.WriteString(m.spinner.View() + " " + m.styles.Muted.Render(m.text.GetString(m.lang, "chat.thinking")))
	}
	b.WriteString("\n")
	if m.state.Error != "" {
		b.WriteString(m.styles.Error.Render(m.state.Error))
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render(m.text.GetString(m.lang, "help.chat")))
	return b.String()
}
