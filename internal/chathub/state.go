package chathub

import (
	"fmt"
	"strings"

	"pasta/chat/internal/chatapi"
	"pasta/chat/internal/models"
)

// MsgHistoryFailedFmt is shown when the live history query fails.
const MsgHistoryFailedFmt = "Could not load messages: %v"

// State is everything one chat screen renders.
type State struct {
	Feature    models.Feature
	Transcript []models.ChatMessage
	Input      string
	Loading    bool
	Error      string
	// ScreenLoading is true until the first history window arrives.
	ScreenLoading bool
	Speaking      bool
	SpeakingID    string

	// echoes are optimistic user turns not yet confirmed by a snapshot.
	echoes []echo
}

// echo is an optimistic user turn. known holds the durable IDs on screen when it was
// submitted; only a turn outside that set can confirm it. Once its request has been
// accepted, the next snapshot retires it whether or not a turn matched.
type echo struct {
	msg      models.ChatMessage
	known    map[string]bool
	accepted bool
}

// NewState is the state of a freshly mounted screen.
func NewState(feature models.Feature) State {
	return State{Feature: feature, ScreenLoading: true}
}

// CanSend reports whether the send control is enabled.
func (s State) CanSend() bool {
	return strings.TrimSpace(s.Input) != "" && !s.Loading
}

// Message returns the transcript entry with the given ID.
func (s State) Message(id string) (models.ChatMessage, bool) {
	for _, m := range s.Transcript {
		if m.ID == id {
			return m, true
		}
	}
	return models.ChatMessage{}, false
}

// PendingEchoes is the number of optimistic turns still waiting for the store.
func (s State) PendingEchoes() int {
	return len(s.echoes)
}

// Event is a state transition.
type Event interface {
	isEvent()
}

type (
	// InputChanged replaces the input field.
	InputChanged struct{ Text string }
	// Submitted clears the input, appends Echo and starts loading.
	Submitted struct{ Echo models.ChatMessage }
	// SnapshotReceived replaces the transcript with an ascending window, or reports a
	// failed history query.
	SnapshotReceived struct {
		Transcript []models.ChatMessage
		Err        error
	}
	// RequestSettled ends loading. Error is the inline error line, empty on success.
	// Failed means the turn was never accepted and its echo is dropped; otherwise the next
	// snapshot retires the echo.
	RequestSettled struct {
		EchoID string
		Error  string
		Failed bool
	}
	ErrorSet        struct{ Text string }
	LoadingSet      struct{ Loading bool }
	IdentityMissing struct{}
	SpeechStarted   struct{ ID string }
	SpeechStopped   struct{}
)

func (InputChanged) isEvent()     {}
func (Submitted) isEvent()        {}
func (SnapshotReceived) isEvent() {}
func (RequestSettled) isEvent()   {}
func (ErrorSet) isEvent()         {}
func (LoadingSet) isEvent()       {}
func (IdentityMissing) isEvent()  {}
func (SpeechStarted) isEvent()    {}
func (SpeechStopped) isEvent()    {}

// Reduce applies e to s. It never mutates slices reachable from s.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case InputChanged:
		s.Input = e.Text

	case Submitted:
		s.Input = ""
		known := make(map[string]bool, len(s.Transcript))
		for _, m := range s.Transcript {
			if !m.Pending {
				known[m.ID] = true
			}
		}
		s.Transcript = appendCopy(s.Transcript, e.Echo)
		s.echoes = append(append([]echo(nil), s.echoes...), echo{msg: e.Echo, known: known})
		s.Loading = true
		s.Error = ""

	case SnapshotReceived:
		s.ScreenLoading = false
		if e.Err != nil {
			s.Error = fmt.Sprintf(MsgHistoryFailedFmt, e.Err)
			break
		}
		s.Transcript, s.echoes = reconcile(e.Transcript, s.echoes)
		if s.Speaking {
			if _, ok := s.Message(s.SpeakingID); !ok {
				// the row went away; the utterance keeps going until it ends or is stopped
				s.SpeakingID = ""
			}
		}

	case RequestSettled:
		s.Loading = false
		if e.Error != "" {
			s.Error = e.Error
		}
		if e.EchoID != "" {
			s.echoes = settleEcho(s.echoes, e.EchoID, e.Failed)
		}

	case ErrorSet:
		s.Error = e.Text

	case LoadingSet:
		s.Loading = e.Loading

	case IdentityMissing:
		s.ScreenLoading = false
		s.Loading = false
		s.Error = chatapi.MsgNotAuthenticated

	case SpeechStarted:
		s.Speaking = true
		s.SpeakingID = e.ID

	case SpeechStopped:
		s.Speaking = false
		s.SpeakingID = ""
	}
	return s
}

// reconcile takes the authoritative transcript and re-appends every echo that is still in
// flight and that no new durable user turn confirms. Each durable turn confirms at most one
// echo. Accepted echoes are retired by the first snapshot after their request settled.
func reconcile(durable []models.ChatMessage, echoes []echo) (transcript []models.ChatMessage, pending []echo) {
	transcript = make([]models.ChatMessage, len(durable), len(durable)+len(echoes))
	copy(transcript, durable)

	used := make(map[string]bool)
	for _, e := range echoes {
		id, ok := confirmation(durable, e, used)
		if ok {
			used[id] = true
		}
		if ok || e.accepted {
			continue
		}
		pending = append(pending, e)
		transcript = append(transcript, e.msg)
	}
	return transcript, pending
}

func confirmation(durable []models.ChatMessage, e echo, used map[string]bool) (string, bool) {
	text := strings.TrimSpace(e.msg.Text())
	for _, m := range durable {
		if used[m.ID] || e.known[m.ID] || m.Role != models.RoleUser {
			continue
		}
		if strings.TrimSpace(m.Text()) == text {
			return m.ID, true
		}
	}
	return "", false
}

// settleEcho drops a failed echo and marks an accepted one.
func settleEcho(echoes []echo, id string, failed bool) []echo {
	var out []echo
	for _, e := range echoes {
		if e.msg.ID == id {
			if failed {
				continue
			}
			e.accepted = true
		}
		out = append(out, e)
	}
	return out
}

func appendCopy(s []models.ChatMessage, m models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(s), len(s)+1)
	copy(out, s)
	return append(out, m)
}
