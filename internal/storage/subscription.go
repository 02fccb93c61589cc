package storage

import (
	"context"
	"sync"

	"pasta/chat/internal/models"
)

// Query selects the most recent Limit messages of one user's collection.
type Query struct {
	UserID     string
	Collection string
	Limit      int
}

// Snapshot is one delivery of a live query: the full window, newest first, or an error.
type Snapshot struct {
	Messages []models.StoredMessage
	Err      error
}

// Watcher opens live queries.
type Watcher interface {
	// Watch delivers the current window and then the full window again on every change,
	// until the returned Subscription is closed or ctx is cancelled. fn is called from a
	// single goroutine.
	Watch(ctx context.Context, q Query, fn func(Snapshot)) (*Subscription, error)
}

// Subscription is a scoped live query. Its owner must Close it when done.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSubscription runs loop in its own goroutine with a context cancelled by Close. Watcher
// implementations use it to hand out their delivery loops.
func NewSubscription(ctx context.Context, loop func(ctx context.Context)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer cancel()
		loop(ctx)
	}()
	return s
}

// Close stops deliveries and waits for the delivery goroutine to exit. It is safe to call
// more than once.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// Done is closed once no more snapshots will be delivered.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// ToTranscript turns a newest-first window into the oldest-first order the transcript shows.
func ToTranscript(stored []models.StoredMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(stored))
	for i, m := range stored {
		out[len(stored)-1-i] = m.ToChat()
	}
	return out
}

// watchNotifications delivers the window once, then again after every notification,
// coalescing notifications that pile up while a load is in flight.
func watchNotifications(ctx context.Context, notify <-chan struct{}, load func(context.Context) ([]models.StoredMessage, error), fn func(Snapshot)) {
	deliver := func() {
		msgs, err := load(ctx)
		if ctx.Err() != nil {
			return
		}
		fn(Snapshot{Messages: msgs, Err: err})
	}

	deliver()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case _, ok := <-notify:
					if !ok {
						break drain
					}
				default:
					break drain
				}
			}
			deliver()
		}
	}
}
