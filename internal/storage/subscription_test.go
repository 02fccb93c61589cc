package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pasta/chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func stored(id string, sender models.Role, content string, ts time.Time) models.StoredMessage {
	return models.StoredMessage{ID: id, Sender: sender, Content: content, Timestamp: ts}
}

func TestToTranscript_ReversesDescendingWindow(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t1, t2, t3 := base, base.Add(time.Second), base.Add(2*time.Second)
	window := []models.StoredMessage{
		stored("d3", models.RoleModel, "About 95 calories.", t3),
		stored("d2", models.RoleUser, "how many calories in an apple", t2),
		stored("d1", models.RoleModel, "Welcome back!", t1),
	}

	transcript := ToTranscript(window)

	require.Len(t, transcript, 3)
	assert.Equal(t, []string{"d1", "d2", "d3"}, []string{transcript[0].ID, transcript[1].ID, transcript[2].ID})
	for i := 1; i < len(transcript); i++ {
		assert.False(t, transcript[i].CreatedAt.Before(transcript[i-1].CreatedAt), "transcript must be non-decreasing by time")
	}
	assert.Equal(t, "d3", window[0].ID, "input window is left untouched")
}

func TestToTranscript_Empty(t *testing.T) {
	assert.Empty(t, ToTranscript(nil))
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "messages:uid-1:fitnessMessages", ChannelName("uid-1", "fitnessMessages"))
}

func TestSubscription_CloseIsIdempotentAndWaits(t *testing.T) {
	var exited atomic.Bool
	sub := NewSubscription(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		exited.Store(true)
	})

	require.NoError(t, sub.Close())
	assert.True(t, exited.Load(), "Close returns only after the loop exits")
	require.NoError(t, sub.Close())

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
}

func TestSubscription_ParentCancelTearsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := NewSubscription(ctx, func(ctx context.Context) { <-ctx.Done() })

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop with its parent context")
	}
	assert.NoError(t, sub.Close())
}

func TestWatchNotifications_DeliversInitialWindowThenOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notify := make(chan struct{})
	var loads atomic.Int32
	got := make(chan Snapshot, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		watchNotifications(ctx, notify, func(context.Context) ([]models.StoredMessage, error) {
			n := loads.Add(1)
			if n == 3 {
				return nil, errors.New("db unavailable")
			}
			return []models.StoredMessage{{ID: "m", Content: "v"}}, nil
		}, func(s Snapshot) { got <- s })
	}()

	first := <-got
	require.NoError(t, first.Err)
	assert.Len(t, first.Messages, 1)

	notify <- struct{}{}
	second := <-got
	require.NoError(t, second.Err)

	notify <- struct{}{}
	third := <-got
	assert.EqualError(t, third.Err, "db unavailable")

	close(notify)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not exit when notifications stopped")
	}
}

func TestWatchNotifications_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	notify := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		watchNotifications(ctx, notify, func(context.Context) ([]models.StoredMessage, error) {
			return nil, nil
		}, func(Snapshot) {})
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not exit on cancel")
	}
}
