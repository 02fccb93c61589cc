package handler_test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"pasta/chat/internal/models"
	"pasta/chat/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockResponder is a mock type for the Responder interface.
type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) Reply(ctx context.Context, feature models.Feature, history []models.ChatMessage, text string) (string, error) {
	args := m.Called(ctx, feature, history, text)
	return args.String(0), args.Error(1)
}

// memStore is an in-memory MessageStore with live queries.
type memStore struct {
	mu       sync.Mutex
	rows     map[string][]models.StoredMessage
	watchers map[string]map[int]chan struct{}
	nextID   int
	clock    time.Time

	// failSender makes SaveMessage fail for turns from that sender.
	failSender models.Role
}

func newMemStore() *memStore {
	return &memStore{
		rows:     make(map[string][]models.StoredMessage),
		watchers: make(map[string]map[int]chan struct{}),
		clock:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func key(uid, collection string) string { return uid + "/" + collection }

func (s *memStore) SaveMessage(_ context.Context, uid, collection string, msg *models.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSender != "" && msg.Sender == s.failSender {
		return errors.New("store unavailable")
	}
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	msg.ID = "doc-" + strconv.Itoa(s.nextID)
	msg.Timestamp = s.clock
	k := key(uid, collection)
	s.rows[k] = append(s.rows[k], *msg)
	for _, ch := range s.watchers[k] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *memStore) window(q storage.Query) []models.StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := append([]models.StoredMessage(nil), s.rows[key(q.UserID, q.Collection)]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows
}

func (s *memStore) RecentMessages(_ context.Context, q storage.Query) ([]models.StoredMessage, error) {
	return s.window(q), nil
}

func (s *memStore) Purge(_ context.Context, uid, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rows[key(uid, collection)])
	delete(s.rows, key(uid, collection))
	return n, nil
}

func (s *memStore) Watch(ctx context.Context, q storage.Query, fn func(storage.Snapshot)) (*storage.Subscription, error) {
	k := key(q.UserID, q.Collection)
	notify := make(chan struct{}, 1)

	s.mu.Lock()
	if s.watchers[k] == nil {
		s.watchers[k] = make(map[int]chan struct{})
	}
	s.nextID++
	id := s.nextID
	s.watchers[k][id] = notify
	s.mu.Unlock()

	return storage.NewSubscription(ctx, func(ctx context.Context) {
		defer func() {
			s.mu.Lock()
			delete(s.watchers[k], id)
			s.mu.Unlock()
		}()
		fn(storage.Snapshot{Messages: s.window(q)})
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				fn(storage.Snapshot{Messages: s.window(q)})
			}
		}
	}), nil
}

func (s *memStore) activeWatchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.watchers {
		n += len(w)
	}
	return n
}

func (s *memStore) stored(uid, collection string) []models.StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StoredMessage(nil), s.rows[key(uid, collection)]...)
}

// memUsers is an in-memory UserStore.
type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]*models.User)}
}

func (u *memUsers) SaveUserIfNotExists(_ context.Context, email, hash string) (*models.User, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if existing, ok := u.byEmail[email]; ok {
		cp := *existing
		return &cp, false, nil
	}
	user := &models.User{Email: email, PasswordHash: hash}
	_ = user.BeforeCreate(nil)
	u.byEmail[email] = user
	cp := *user
	return &cp, true, nil
}

func (u *memUsers) FindUserByID(_ context.Context, id string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.byEmail {
		if user.ID == id {
			cp := *user
			return &cp, nil
		}
	}
	return nil, storage.ErrUserNotFound
}
