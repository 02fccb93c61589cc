package chathub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"pasta/chat/internal/chatapi"
	"pasta/chat/internal/models"
	"pasta/chat/internal/speech"
	"pasta/chat/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockIdentity is a testify mock of the identity provider.
type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) CurrentUser() *models.Identity {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.Identity)
}

func (m *MockIdentity) IDToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockDispatcher is a testify mock of the chat endpoint client.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, endpoint, idToken, text string) (*chatapi.Reply, error) {
	args := m.Called(ctx, endpoint, idToken, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chatapi.Reply), args.Error(1)
}

// fakeWatcher hands snapshots pushed by the test to the subscriber.
type fakeWatcher struct {
	mu      sync.Mutex
	queries []storage.Query
	feeds   []chan storage.Snapshot
	closed  int
}

func (w *fakeWatcher) Watch(ctx context.Context, q storage.Query, fn func(storage.Snapshot)) (*storage.Subscription, error) {
	feed := make(chan storage.Snapshot)
	w.mu.Lock()
	w.queries = append(w.queries, q)
	w.feeds = append(w.feeds, feed)
	w.mu.Unlock()

	return storage.NewSubscription(ctx, func(ctx context.Context) {
		defer func() {
			w.mu.Lock()
			w.closed++
			w.mu.Unlock()
		}()
		for {
			select {
			case snap := <-feed:
				fn(snap)
			case <-ctx.Done():
				return
			}
		}
	}), nil
}

func (w *fakeWatcher) push(t *testing.T, snap storage.Snapshot) {
	t.Helper()
	w.mu.Lock()
	if len(w.feeds) == 0 {
		w.mu.Unlock()
		t.Fatal("no subscription opened")
	}
	feed := w.feeds[len(w.feeds)-1]
	w.mu.Unlock()

	select {
	case feed <- snap:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not take the snapshot")
	}
}

func (w *fakeWatcher) opened() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queries)
}

func (w *fakeWatcher) closedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *fakeWatcher) lastQuery() storage.Query {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queries[len(w.queries)-1]
}

// fakeSpeaker records utterances and counts attempts to speak over a running one.
type fakeSpeaker struct {
	mu       sync.Mutex
	speaking bool
	done     func()
	spoken   []string
	stops    int
	overlaps int
	// elsewhere simulates speech started by another screen.
	elsewhere bool
}

func (s *fakeSpeaker) Speak(text string, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking {
		s.overlaps++
		return speech.ErrBusy
	}
	s.speaking = true
	s.done = done
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *fakeSpeaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if !s.speaking {
		return nil
	}
	s.speaking = false
	if d := s.done; d != nil {
		s.done = nil
		go d()
	}
	return nil
}

func (s *fakeSpeaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking || s.elsewhere
}

// finish ends the current utterance as if it had been read to the end.
func (s *fakeSpeaker) finish() {
	s.mu.Lock()
	d := s.done
	s.done = nil
	s.speaking = false
	s.mu.Unlock()
	if d != nil {
		d()
	}
}

func (s *fakeSpeaker) snapshot() (spoken []string, stops, overlaps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...), s.stops, s.overlaps
}
