package ui

import (
	"context"
	"errors"
	"strings"

	"pasta/chat/internal/auth"
	"pasta/chat/internal/localization"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type signInResultMsg struct {
	err error
}

func signIn(ctx context.Context, provider auth.Provider, email, password string) tea.Cmd {
	return func() tea.Msg {
		_, err := provider.SignIn(ctx, email, password)
		return signInResultMsg{err: err}
	}
}

type loginModel struct {
	ctx      context.Context
	provider auth.Provider
	inputs   []textinput.Model
	focus    int
	busy     bool
	err      string
	spinner  spinner.Model

	styles Styles
	text   *localization.Localizer
	lang   string
	width  int
	height int
}

func newLoginModel(ctx context.Context, provider auth.Provider, styles Styles, text *localization.Localizer, lang string) loginModel {
	email := textinput.New()
	email.Placeholder = text.GetString(lang, "login.email")
	email.Prompt = "  "
	email.CharLimit = 254
	email.Focus()

	password := textinput.New()
	password.Placeholder = text.GetString(lang, "login.password")
	password.Prompt = "  "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return loginModel{
		ctx:      ctx,
		provider: provider,
		inputs:   []textinput.Model{email, password},
		spinner:  sp,
		styles:   styles,
		text:     text,
		lang:     lang,
	}
}

func (m loginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *loginModel) setFocus(i int) {
	m.focus = (i + len(m.inputs)) % len(m.inputs)
	for j := range m.inputs {
		if j == m.focus {
			m.inputs[j].Focus()
		} else {
			m.inputs[j].Blur()
		}
	}
}

func (m loginModel) describe(err error) string {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return m.text.GetString(m.lang, "login.invalid_credentials")
	}
	return m.text.Format(m.lang, "login.failed", err.Error())
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case signInResultMsg:
		m.busy = false
		if msg.err != nil {
			m.err = m.describe(msg.err)
			m.inputs[1].SetValue("")
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.busy {
			return m, nil
		}
		switch msg.String() {
		case "tab", "down":
			m.setFocus(m.focus + 1)
			return m, nil
		case "shift+tab", "up":
			m.setFocus(m.focus - 1)
			return m, nil
		case "enter":
			email := strings.TrimSpace(m.inputs[0].Value())
			password := m.inputs[1].Value()
			if email == "" || password == "" {
				m.err = m.text.GetString(m.lang, "login.invalid_credentials")
				return m, nil
			}
			m.busy = true
			m.err = ""
			return m, tea.Batch(m.spinner.Tick, signIn(m.ctx, m.provider, email, password))
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render(m.text.GetString(m.lang, "app.title") + " · " + m.text.GetString(m.lang, "login.title")))
	b.WriteString("\n")
	b.WriteString(m.inputs[0].View())
	b.WriteString("\n")
	b.WriteString(m.inputs[1].View())
	b.WriteString("\n\n")

	switch {
	case m.busy:
		b.WriteString(m.spinner.View() + " " + m.text.GetString(m.lang, "login.signing_in"))
	case m.err != "":
		b.WriteString(m.styles.Error.Render(m.err))
	default:
		b.WriteString(m.styles.Muted.Render(m.text.GetString(m.lang, "login.submit")))
	}
	b.WriteString("\n\n")
	b.WriteString(m.styles.Help.Render(m.text.GetString(m.lang, "help.login")))

	box := m.styles.Box.Render(b.String())
	if m.width == 0 || m.height == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
