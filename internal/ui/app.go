// Package ui is the terminal front end: a login screen, and once signed in, a navigation
// shell with one chat screen per chatbot feature.
package ui

import (
	"context"
	"sync"

	"pasta/chat/internal/auth"
	"pasta/chat/internal/chathub"
	"pasta/chat/internal/localization"
	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"

	tea "github.com/charmbracelet/bubbletea"
)

// Deps are the collaborators of the UI.
type Deps struct {
	Auth     auth.Provider
	Sessions *chathub.ManagerService
	Features []models.Feature
	Text     *localization.Localizer
	Lang     string
	// Restore, when set, runs at startup to bring back a saved session.
	Restore func(ctx context.Context) error
}

// identityMsg is one identity notification.
type identityMsg struct {
	identity *models.Identity
}

type restoreResultMsg struct {
	err error
}

// App is the root model. It shows the login screen while nobody is signed in and the
// shell otherwise, switching on every identity notification.
type App struct {
	ctx    context.Context
	deps   Deps
	styles Styles

	authCh      chan *models.Identity
	quit        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()

	identity *models.Identity
	login    loginModel
	shell    *shellModel

	width  int
	height int
}

// NewApp creates the root model and starts observing identity changes.
func NewApp(ctx context.Context, deps Deps) *App {
	a := &App{
		ctx:    ctx,
		deps:   deps,
		styles: DefaultStyles(),
		authCh: make(chan *models.Identity, 16),
		quit:   make(chan struct{}),
	}
	a.login = newLoginModel(ctx, deps.Auth, a.styles, deps.Text, deps.Lang)
	a.unsubscribe = deps.Auth.OnAuthStateChanged(func(identity *models.Identity) {
		select {
		case a.authCh <- identity:
		case <-a.quit:
		}
	})
	return a
}

func waitForIdentity(ch <-chan *models.Identity, quit <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case identity := <-ch:
			return identityMsg{identity: identity}
		case <-quit:
			return nil
		}
	}
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForIdentity(a.authCh, a.quit), a.login.Init()}
	if current := a.deps.Auth.CurrentUser(); current != nil {
		cmds = append(cmds, func() tea.Msg { return identityMsg{identity: current} })
	}
	if a.deps.Restore != nil {
		restore := a.deps.Restore
		cmds = append(cmds, func() tea.Msg { return restoreResultMsg{err: restore(a.ctx)} })
	}
	return tea.Batch(cmds...)
}

// Close stops observing identity changes and unmounts every chat session.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		close(a.quit)
		a.deps.Sessions.UnmountAll()
	})
}

// SignedIn reports whether the shell is showing.
func (a *App) SignedIn() bool {
	return a.shell != nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.Close()
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height

	case identityMsg:
		cmd := a.switchIdentity(msg.identity)
		return a, tea.Batch(cmd, waitForIdentity(a.authCh, a.quit))

	case restoreResultMsg:
		if msg.err != nil {
			logging.Warnw("saved session not restored", "error", msg.err)
		}
		return a, nil
	}

	if a.shell != nil {
		shell, cmd := a.shell.Update(msg)
		a.shell = &shell
		return a, cmd
	}
	var cmd tea.Cmd
	a.login, cmd = a.login.Update(msg)
	return a, cmd
}

// switchIdentity replaces the top-level screen. No debouncing: every notification switches.
func (a *App) switchIdentity(identity *models.Identity) tea.Cmd {
	a.identity = identity
	if identity == nil {
		if a.shell != nil {
			a.deps.Sessions.UnmountAll()
			a.shell = nil
		}
		a.login = newLoginModel(a.ctx, a.deps.Auth, a.styles, a.deps.Text, a.deps.Lang)
		a.login, _ = a.login.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
		return a.login.Init()
	}

	if a.shell != nil && a.shell.identity != nil && a.shell.identity.UID == identity.UID {
		a.shell.identity = identity
		return nil
	}
	if a.shell != nil {
		a.deps.Sessions.UnmountAll()
	}
	shell, cmd := newShell(a.ctx, a.deps, a.styles, identity, a.width, a.height)
	a.shell = &shell
	return cmd
}

func (a *App) View() string {
	if a.shell != nil {
		return a.shell.View()
	}
	return a.login.View()
}
