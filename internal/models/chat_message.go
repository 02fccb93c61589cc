package models

import (
	"fmt"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one text segment of a turn. In practice a turn carries exactly one.
type Part struct {
	Text string `json:"text"`
}

// ChatMessage is one turn as the transcript renders it.
type ChatMessage struct {
	// ID is the store document ID for durable turns, or "user-<unix millis>" for optimistic echoes.
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
	// RLEpisodeID links a model turn to a server-side feedback episode.
	RLEpisodeID string `json:"rl_episode_id,omitempty"`
	// ModelMessageFirestoreID is the store ID used as the feedback target.
	ModelMessageFirestoreID string `json:"model_message_firestore_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	// Pending is true for optimistic echoes that the store has not confirmed yet.
	Pending bool `json:"-"`
}

// Text returns the first part's text.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 0 {
		return ""
	}
	return m.Parts[0].Text
}

// EchoIDPrefix prefixes the client-assigned IDs of optimistic echoes.
const EchoIDPrefix = "user-"

// NewOptimisticEcho builds the local, never persisted copy of an outgoing user turn.
func NewOptimisticEcho(text string, now time.Time) ChatMessage {
	return ChatMessage{
		ID:        fmt.Sprintf("%s%d", EchoIDPrefix, now.UnixMilli()),
		Role:      RoleUser,
		Parts:     []Part{{Text: text}},
		CreatedAt: now,
		Pending:   true,
	}
}

// StoredMessage is a message document as the store holds it.
type StoredMessage struct {
	ID          string    `json:"id" firestore:"-"`
	Sender      Role      `json:"sender" firestore:"sender"`
	Content     string    `json:"content" firestore:"content"`
	Timestamp   time.Time `json:"timestamp" firestore:"timestamp"`
	RLEpisodeID string    `json:"rl_episode_id,omitempty" firestore:"rl_episode_id,omitempty"`
}

// ToChat maps a stored document onto a transcript turn. The document's own ID doubles as
// the feedback target.
func (s StoredMessage) ToChat() ChatMessage {
	return ChatMessage{
		ID:                      s.ID,
		Role:                    s.Sender,
		Parts:                   []Part{{Text: s.Content}},
		RLEpisodeID:             s.RLEpisodeID,
		ModelMessageFirestoreID: s.ID,
		CreatedAt:               s.Timestamp,
	}
}
