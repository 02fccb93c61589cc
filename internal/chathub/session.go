package chathub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"pasta/chat/internal/auth"
	"pasta/chat/internal/chatapi"
	"pasta/chat/internal/config"
	"pasta/chat/internal/logging"
	"pasta/chat/internal/models"
	"pasta/chat/internal/speech"
	"pasta/chat/internal/storage"
)

// Options bound one session.
type Options struct {
	HistoryLimit   int
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = config.DefaultHistoryLimit
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = config.DefaultRequestTimeout
	}
	return o
}

type settled struct {
	echoID string
	errMsg string
	failed bool
}

// Session is one mounted chat screen. All state changes happen on the goroutine running
// Run; intents, snapshots, request completions and speech completions reach it over
// channels and are applied through Reduce.
type Session struct {
	feature  models.Feature
	opts     Options
	identity Identity
	watcher  storage.Watcher
	chat     Dispatcher
	speaker  speech.Speaker
	now      func() time.Time

	inputCh    chan string
	submitCh   chan struct{}
	speechCh   chan string
	snapshotCh chan storage.Snapshot
	settledCh  chan settled
	spokenCh   chan int

	updates chan State
	done    chan struct{}

	mu       sync.RWMutex
	snapshot State

	// loop-owned
	state      State
	speechTurn int
	requests   sync.WaitGroup
}

// NewSession creates a session for feature. Nothing happens until Run is called.
func NewSession(feature models.Feature, identity Identity, watcher storage.Watcher, chat Dispatcher, speaker speech.Speaker, opts Options) *Session {
	if speaker == nil {
		speaker = speech.Nop{}
	}
	st := NewState(feature)
	return &Session{
		feature:    feature,
		opts:       opts.withDefaults(),
		identity:   identity,
		watcher:    watcher,
		chat:       chat,
		speaker:    speaker,
		now:        time.Now,
		inputCh:    make(chan string),
		submitCh:   make(chan struct{}),
		speechCh:   make(chan string),
		snapshotCh: make(chan storage.Snapshot),
		settledCh:  make(chan settled),
		spokenCh:   make(chan int),
		updates:    make(chan State, 1),
		done:       make(chan struct{}),
		snapshot:   st,
		state:      st,
	}
}

// Feature is the chatbot variant this session talks to.
func (s *Session) Feature() models.Feature { return s.feature }

// State returns the latest state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Updates delivers the latest state after every change. Only the newest state is kept
// for a slow reader.
func (s *Session) Updates() <-chan State { return s.updates }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// SetInput replaces the input field.
func (s *Session) SetInput(text string) {
	select {
	case s.inputCh <- text:
	case <-s.done:
	}
}

// Submit sends the current input. Blank input or an in-flight request make it a no-op.
func (s *Session) Submit() {
	select {
	case s.submitCh <- struct{}{}:
	case <-s.done:
	}
}

// ToggleSpeech starts reading the message with the given ID aloud, or stops the current
// utterance if one is playing.
func (s *Session) ToggleSpeech(messageID string) {
	select {
	case s.speechCh <- messageID:
	case <-s.done:
	}
}

type opened struct {
	sub *storage.Subscription
	ev  Event
}

// Run opens the history subscription and processes events until ctx is cancelled. It
// closes the subscription, waits for in-flight requests and stops speech before returning.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Opening may dial the network; intents are served meanwhile.
	openedCh := make(chan opened, 1)
	go func() {
		sub, ev := s.open(ctx)
		openedCh <- opened{sub: sub, ev: ev}
	}()
	var sub *storage.Subscription
	waitingForOpen := true

	defer func() {
		cancel()
		if waitingForOpen {
			sub = (<-openedCh).sub
		}
		if sub != nil {
			_ = sub.Close()
		}
		s.requests.Wait()
		if s.state.Speaking {
			_ = s.speaker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case o := <-openedCh:
			waitingForOpen = false
			sub = o.sub
			if o.ev != nil {
				s.apply(o.ev)
			}

		case text := <-s.inputCh:
			s.apply(InputChanged{Text: text})

		case <-s.submitCh:
			s.handleSubmit(ctx)

		case id := <-s.speechCh:
			s.handleSpeech(ctx, id)

		case snap := <-s.snapshotCh:
			if snap.Err != nil {
				logging.Error("history subscription failed", snap.Err)
				s.apply(SnapshotReceived{Err: snap.Err})
				continue
			}
			s.apply(SnapshotReceived{Transcript: storage.ToTranscript(snap.Messages)})

		case r := <-s.settledCh:
			s.apply(RequestSettled{EchoID: r.echoID, Error: r.errMsg, Failed: r.failed})

		case turn := <-s.spokenCh:
			if turn == s.speechTurn && s.state.Speaking {
				s.apply(SpeechStopped{})
			}
		}
	}
}

// open starts the live window query. It runs off the loop and reports the outcome as an
// event for the loop to apply.
func (s *Session) open(ctx context.Context) (*storage.Subscription, Event) {
	user := s.identity.CurrentUser()
	if user == nil {
		return nil, IdentityMissing{}
	}

	q := storage.Query{UserID: user.UID, Collection: s.feature.Collection, Limit: s.opts.HistoryLimit}
	sub, err := s.watcher.Watch(ctx, q, func(snap storage.Snapshot) {
		select {
		case s.snapshotCh <- snap:
		case <-ctx.Done():
		}
	})
	if err != nil {
		if ctx.Err() == nil {
			logging.Error("failed to open history subscription", err)
		}
		return nil, SnapshotReceived{Err: err}
	}
	return sub, nil
}

func (s *Session) handleSubmit(ctx context.Context) {
	text := s.state.Input
	if strings.TrimSpace(text) == "" || s.state.Loading {
		return
	}
	if s.identity.CurrentUser() == nil {
		s.apply(ErrorSet{Text: chatapi.MsgNotAuthenticated})
		s.apply(LoadingSet{Loading: false})
		return
	}

	// The echo is on screen before the request goroutine exists.
	echo := models.NewOptimisticEcho(text, s.now())
	s.apply(Submitted{Echo: echo})

	s.requests.Add(1)
	go func() {
		defer s.requests.Done()
		r := s.request(ctx, text)
		r.echoID = echo.ID
		select {
		case s.settledCh <- r:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) request(ctx context.Context, text string) settled {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	token, err := s.identity.IDToken(ctx)
	if err != nil {
		logging.Warnw("could not obtain id token", "feature", s.feature.Name, "error", err)
		return settled{errMsg: describeTokenError(err), failed: true}
	}

	reply, err := s.chat.Send(ctx, s.feature.Endpoint, token, text)
	if err != nil {
		logging.Warnw("chat request failed", "feature", s.feature.Name, "error", err)
		return settled{errMsg: chatapi.Describe(err), failed: true}
	}
	return settled{errMsg: chatapi.Classify(reply)}
}

func describeTokenError(err error) string {
	switch {
	case errors.Is(err, auth.ErrNotSignedIn):
		return chatapi.MsgNotAuthenticated
	case errors.Is(err, auth.ErrTokenRejected):
		return chatapi.MsgAuthExpired
	default:
		return chatapi.Describe(err)
	}
}

func (s *Session) handleSpeech(ctx context.Context, id string) {
	if s.state.Speaking {
		if err := s.speaker.Stop(); err != nil {
			logging.Error("failed to stop speech", err)
		}
		s.apply(SpeechStopped{})
		return
	}
	if s.speaker.IsSpeaking() {
		return
	}
	msg, ok := s.state.Message(id)
	if !ok || msg.Text() == "" {
		return
	}

	s.speechTurn++
	turn := s.speechTurn
	err := s.speaker.Speak(msg.Text(), func() {
		select {
		case s.spokenCh <- turn:
		case <-ctx.Done():
		}
	})
	if err != nil {
		logging.Error("failed to start speech", err)
		return
	}
	s.apply(SpeechStarted{ID: id})
}

func (s *Session) apply(e Event) {
	s.state = Reduce(s.state, e)

	s.mu.Lock()
	s.snapshot = s.state
	s.mu.Unlock()

	select {
	case <-s.updates:
	default:
	}
	s.updates <- s.state
}
