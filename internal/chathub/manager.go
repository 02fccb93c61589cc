package chathub

import (
	"context"
	"sync"

	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"
	"pasta/chat/internal/speech"
	"pasta/chat/internal/storage"
)

type mounted struct {
	session *Session
	cancel  context.CancelFunc
}

// ManagerService mounts chat sessions, one per feature, and tears them down when their
// screen goes away.
type ManagerService struct {
	Identity Identity
	Watcher  storage.Watcher
	Chat     Dispatcher
	Speaker  speech.Speaker
	Options  Options

	mu       sync.Mutex
	sessions map[string]*mounted
}

// NewManagerService creates a manager sharing its collaborators with every session.
func NewManagerService(identity Identity, watcher storage.Watcher, chat Dispatcher, speaker speech.Speaker, opts Options) *ManagerService {
	return &ManagerService{
		Identity: identity,
		Watcher:  watcher,
		Chat:     chat,
		Speaker:  speaker,
		Options:  opts,
		sessions: make(map[string]*mounted),
	}
}

// Mount starts a session for feature, or returns the one already mounted.
func (m *ManagerService) Mount(ctx context.Context, feature models.Feature) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[feature.Name]; ok {
		return cur.session
	}

	ctx, cancel := context.WithCancel(ctx)
	s := NewSession(feature, m.Identity, m.Watcher, m.Chat, m.Speaker, m.Options)
	m.sessions[feature.Name] = &mounted{session: s, cancel: cancel}
	go func() {
		if err := s.Run(ctx); err != nil {
			logging.Error("chat session stopped", err)
		}
	}()

	logging.Debugw("chat session mounted", "feature", feature.Name)
	return s
}

// Unmount stops the session of the named feature and waits for it to release its
// subscription.
func (m *ManagerService) Unmount(name string) {
	m.mu.Lock()
	cur, ok := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if !ok {
		return
	}
	cur.cancel()
	<-cur.session.Done()
	logging.Debugw("chat session unmounted", "feature", name)
}

// UnmountAll stops every session, e.g. on sign-out.
func (m *ManagerService) UnmountAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Unmount(name)
	}
}

// Mounted returns the session of the named feature, if any.
func (m *ManagerService) Mounted(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[name]
	if !ok {
		return nil, false
	}
	return cur.session, true
}
