package chathub_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pasta/chat/internal/auth"
	"pasta/chat/internal/chatapi"
	"pasta/chat/internal/chathub"
	"pasta/chat/internal/models"
	"pasta/chat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var user = &models.Identity{UID: "uid-1", Email: "ada@example.com", IDToken: "tok-1"}

type harness struct {
	session  *chathub.Session
	identity *MockIdentity
	watcher  *fakeWatcher
	speaker  *fakeSpeaker
}

func signedIn() *MockIdentity {
	identity := new(MockIdentity)
	identity.On("CurrentUser").Return(user)
	identity.On("IDToken", mock.Anything).Return("tok-1", nil)
	return identity
}

// start runs a session until the test ends.
func start(t *testing.T, identity *MockIdentity, chat chathub.Dispatcher, feature models.Feature, opts chathub.Options) *harness {
	t.Helper()
	h := &harness{identity: identity, watcher: &fakeWatcher{}, speaker: &fakeSpeaker{}}
	h.session = chathub.NewSession(feature, identity, h.watcher, chat, h.speaker, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.session.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.session.Done()
	})
	return h
}

func (h *harness) eventually(t *testing.T, cond func(chathub.State) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.session.State()) }, waitFor, tick, msg)
}

func (h *harness) submit(text string) {
	h.session.SetInput(text)
	h.session.Submit()
}

// botServer answers chat requests the way the bot endpoint does.
func botServer(t *testing.T, status int, body any) (*httptest.Server, chan *http.Request) {
	t.Helper()
	requests := make(chan *http.Request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestSession_OpensWindowQueryForFeature(t *testing.T) {
	h := start(t, signedIn(), new(MockDispatcher), fitness, chathub.Options{})

	require.Eventually(t, func() bool { return h.watcher.opened() == 1 }, waitFor, tick)
	assert.Equal(t, storage.Query{UserID: "uid-1", Collection: "fitnessMessages", Limit: 10}, h.watcher.lastQuery())
	assert.True(t, h.session.State().ScreenLoading, "loading until the first window arrives")
}

func TestSession_SnapshotIsShownOldestFirst(t *testing.T) {
	h := start(t, signedIn(), new(MockDispatcher), fitness, chathub.Options{})
	base := time.Now()

	h.watcher.push(t, storage.Snapshot{Messages: []models.StoredMessage{
		{ID: "t3", Sender: models.RoleModel, Content: "three", Timestamp: base.Add(2 * time.Second)},
		{ID: "t2", Sender: models.RoleUser, Content: "two", Timestamp: base.Add(time.Second)},
		{ID: "t1", Sender: models.RoleModel, Content: "one", Timestamp: base},
	}})

	h.eventually(t, func(s chathub.State) bool { return len(s.Transcript) == 3 }, "window applied")
	st := h.session.State()
	assert.False(t, st.ScreenLoading)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{st.Transcript[0].ID, st.Transcript[1].ID, st.Transcript[2].ID})
}

func TestSession_SuccessfulTurn(t *testing.T) {
	srv, requests := botServer(t, http.StatusOK, map[string]string{"response": "About 95 calories.", "episode_id": "ep-1"})
	feature := fitness
	feature.Endpoint = srv.URL + "/fitness"

	release := make(chan struct{})
	var calls atomic.Int32
	client := chatapi.NewClient(srv.Client())
	h := start(t, signedIn(), dispatcherFunc(func(ctx context.Context, endpoint, token, text string) (*chatapi.Reply, error) {
		calls.Add(1)
		<-release
		return client.Send(ctx, endpoint, token, text)
	}), feature, chathub.Options{})

	assert.False(t, h.session.State().Loading)
	h.submit("how many calories in an apple")

	h.eventually(t, func(s chathub.State) bool { return s.Loading }, "loading while the request is in flight")
	st := h.session.State()
	require.Len(t, st.Transcript, 1, "echo is shown before the response")
	assert.Equal(t, models.RoleUser, st.Transcript[0].Role)
	assert.True(t, st.Transcript[0].Pending)
	assert.Empty(t, st.Input, "input cleared immediately")

	close(release)
	h.eventually(t, func(s chathub.State) bool { return !s.Loading }, "loading ends")
	assert.Empty(t, h.session.State().Error)

	r := <-requests
	assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
	assert.Equal(t, "/fitness/how%20many%20calories%20in%20an%20apple", r.URL.EscapedPath())

	now := time.Now()
	h.watcher.push(t, storage.Snapshot{Messages: []models.StoredMessage{
		{ID: "d2", Sender: models.RoleModel, Content: "About 95 calories.", Timestamp: now.Add(time.Second), RLEpisodeID: "ep-1"},
		{ID: "d1", Sender: models.RoleUser, Content: "how many calories in an apple", Timestamp: now},
	}})
	h.eventually(t, func(s chathub.State) bool { return len(s.Transcript) == 2 && s.PendingEchoes() == 0 }, "echo replaced by durable turns")
	st = h.session.State()
	assert.Equal(t, models.RoleUser, st.Transcript[0].Role)
	assert.Equal(t, models.RoleModel, st.Transcript[1].Role)
	assert.Equal(t, "ep-1", st.Transcript[1].RLEpisodeID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSession_ForbiddenMeansAuthExpired(t *testing.T) {
	srv, _ := botServer(t, http.StatusForbidden, map[string]string{"error": "token revoked"})
	feature := fitness
	feature.Endpoint = srv.URL + "/fitness"
	h := start(t, signedIn(), chatapi.NewClient(srv.Client()), feature, chathub.Options{})

	h.submit("test")

	h.eventually(t, func(s chathub.State) bool { return s.Error != "" }, "error surfaced")
	st := h.session.State()
	assert.Equal(t, chatapi.MsgAuthExpired, st.Error)
	assert.False(t, st.Loading)
	assert.Equal(t, 0, st.PendingEchoes())
}

func TestSession_ReplyOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		reply *chatapi.Reply
		want  string
	}{
		{"logging failed", &chatapi.Reply{Response: "About 95 calories.", ErrorLoggingRL: "quota exceeded"}, "Bot responded, but RL logging failed: quota exceeded"},
		{"only logging error", &chatapi.Reply{ErrorLoggingRL: "quota exceeded"}, "Bot responded, but RL logging failed: quota exceeded"},
		{"empty", &chatapi.Reply{}, chatapi.MsgUnexpectedResponse},
		{"response without episode", &chatapi.Reply{Response: "hi"}, chatapi.MsgUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := new(MockDispatcher)
			chat.On("Send", mock.Anything, fitness.Endpoint, "tok-1", "hello").Return(tt.reply, nil)
			h := start(t, signedIn(), chat, fitness, chathub.Options{})

			h.submit("hello")

			h.eventually(t, func(s chathub.State) bool { return s.Error != "" && !s.Loading }, "request settled")
			st := h.session.State()
			assert.Equal(t, tt.want, st.Error)
			require.Len(t, st.Transcript, 1, "no reply is fabricated locally")
			assert.Equal(t, models.RoleUser, st.Transcript[0].Role)
		})
	}
}

func TestSession_BlankInputIsNoOp(t *testing.T) {
	chat := new(MockDispatcher)
	h := start(t, signedIn(), chat, fitness, chathub.Options{})

	for _, in := range []string{"", "   ", "\n\t"} {
		h.submit(in)
	}
	h.session.SetInput("marker")

	h.eventually(t, func(s chathub.State) bool { return s.Input == "marker" }, "later intent processed")
	st := h.session.State()
	assert.Empty(t, st.Transcript)
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	chat.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_SubmitWhileLoadingIsIgnored(t *testing.T) {
	release := make(chan struct{})
	chat := new(MockDispatcher)
	chat.On("Send", mock.Anything, fitness.Endpoint, "tok-1", "first").
		Run(func(mock.Arguments) { <-release }).
		Return(&chatapi.Reply{Response: "ok", EpisodeID: "ep"}, nil)
	h := start(t, signedIn(), chat, fitness, chathub.Options{})

	h.submit("first")
	h.eventually(t, func(s chathub.State) bool { return s.Loading }, "in flight")
	h.submit("second")
	h.session.SetInput("second")

	h.eventually(t, func(s chathub.State) bool { return s.Input == "second" }, "intents processed")
	assert.Len(t, h.session.State().Transcript, 1)

	close(release)
	h.eventually(t, func(s chathub.State) bool { return !s.Loading }, "settled")
	chat.AssertNumberOfCalls(t, "Send", 1)
}

func TestSession_NoIdentity(t *testing.T) {
	identity := new(MockIdentity)
	identity.On("CurrentUser").Return(nil)
	chat := new(MockDispatcher)
	h := start(t, identity, chat, fitness, chathub.Options{})

	h.eventually(t, func(s chathub.State) bool { return !s.ScreenLoading }, "screen does not wait forever")
	assert.Equal(t, chatapi.MsgNotAuthenticated, h.session.State().Error)
	assert.Equal(t, 0, h.watcher.opened())

	h.submit("hello")
	h.session.SetInput("marker")
	h.eventually(t, func(s chathub.State) bool { return s.Input == "marker" }, "processed")

	st := h.session.State()
	assert.Empty(t, st.Transcript, "no echo without identity")
	assert.False(t, st.Loading)
	assert.Equal(t, chatapi.MsgNotAuthenticated, st.Error)
	chat.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_TokenFailures(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{auth.ErrTokenRejected, chatapi.MsgAuthExpired},
		{auth.ErrNotSignedIn, chatapi.MsgNotAuthenticated},
		{errors.New("dial tcp: connection refused"), "dial tcp: connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			identity := new(MockIdentity)
			identity.On("CurrentUser").Return(user)
			identity.On("IDToken", mock.Anything).Return("", tt.err)
			chat := new(MockDispatcher)
			h := start(t, identity, chat, fitness, chathub.Options{})

			h.submit("hello")

			h.eventually(t, func(s chathub.State) bool { return s.Error != "" && !s.Loading }, "settled")
			assert.Equal(t, tt.want, h.session.State().Error)
			chat.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSession_RequestTimeout(t *testing.T) {
	chat := new(MockDispatcher)
	chat.On("Send", mock.Anything, fitness.Endpoint, "tok-1", "slow").
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)
	h := start(t, signedIn(), chat, fitness, chathub.Options{RequestTimeout: 30 * time.Millisecond})

	h.submit("slow")

	h.eventually(t, func(s chathub.State) bool { return s.Error != "" && !s.Loading }, "timed out")
	assert.Equal(t, chatapi.MsgTimeout, h.session.State().Error)
}

func TestSession_UnmountCancelsInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	chat := new(MockDispatcher)
	chat.On("Send", mock.Anything, fitness.Endpoint, "tok-1", "hang").
		Run(func(args mock.Arguments) {
			close(entered)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	identity := signedIn()
	w := &fakeWatcher{}
	s := chathub.NewSession(fitness, identity, w, chat, &fakeSpeaker{}, chathub.Options{RequestTimeout: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()

	s.SetInput("hang")
	s.Submit()
	<-entered

	cancel()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, 1, w.closedCount(), "subscription released")

	// intents after teardown do not block
	s.Submit()
	s.ToggleSpeech("x")
}

func TestSession_SpeechIsSingleFlight(t *testing.T) {
	h := start(t, signedIn(), new(MockDispatcher), fitness, chathub.Options{})
	now := time.Now()
	h.watcher.push(t, storage.Snapshot{Messages: []models.StoredMessage{
		{ID: "b", Sender: models.RoleModel, Content: "second answer", Timestamp: now.Add(time.Second)},
		{ID: "a", Sender: models.RoleModel, Content: "first answer", Timestamp: now},
	}})
	h.eventually(t, func(s chathub.State) bool { return len(s.Transcript) == 2 }, "window applied")

	h.session.ToggleSpeech("a")
	h.eventually(t, func(s chathub.State) bool { return s.Speaking && s.SpeakingID == "a" }, "speaking a")

	h.session.ToggleSpeech("b")
	h.eventually(t, func(s chathub.State) bool { return !s.Speaking }, "second press stops the first")

	spoken, stops, overlaps := h.speaker.snapshot()
	assert.Equal(t, []string{"first answer"}, spoken, "b did not start")
	assert.Equal(t, 1, stops)
	assert.Zero(t, overlaps)

	h.session.ToggleSpeech("b")
	h.eventually(t, func(s chathub.State) bool { return s.Speaking && s.SpeakingID == "b" }, "speaking b")

	h.speaker.finish()
	h.eventually(t, func(s chathub.State) bool { return !s.Speaking }, "end of utterance resets the toggle")

	_, _, overlaps = h.speaker.snapshot()
	assert.Zero(t, overlaps)
}

func TestSession_SpeechWaitsForOtherSpeaker(t *testing.T) {
	h := start(t, signedIn(), new(MockDispatcher), fitness, chathub.Options{})
	h.watcher.push(t, storage.Snapshot{Messages: []models.StoredMessage{{ID: "a", Sender: models.RoleModel, Content: "hi", Timestamp: time.Now()}}})
	h.eventually(t, func(s chathub.State) bool { return len(s.Transcript) == 1 }, "window applied")

	h.speaker.mu.Lock()
	h.speaker.elsewhere = true
	h.speaker.mu.Unlock()

	h.session.ToggleSpeech("a")
	h.session.SetInput("marker")
	h.eventually(t, func(s chathub.State) bool { return s.Input == "marker" }, "processed")

	assert.False(t, h.session.State().Speaking)
	spoken, _, _ := h.speaker.snapshot()
	assert.Empty(t, spoken)
}

func TestSession_UpdatesDeliversLatestState(t *testing.T) {
	h := start(t, signedIn(), new(MockDispatcher), fitness, chathub.Options{})

	h.session.SetInput("a")
	h.session.SetInput("ab")
	h.session.SetInput("abc")

	require.Eventually(t, func() bool {
		select {
		case st := <-h.session.Updates():
			return st.Input == "abc"
		default:
			return false
		}
	}, waitFor, tick)
}

type dispatcherFunc func(ctx context.Context, endpoint, idToken, text string) (*chatapi.Reply, error)

func (f dispatcherFunc) Send(ctx context.Context, endpoint, idToken, text string) (*chatapi.Reply, error) {
	return f(ctx, endpoint, idToken, text)
}
