package models

import (
	"strconv"
	"time"

	"gorm.io/gorm"
)

// ChatHistory represents a stored chat turn in the self-hosted (PostgreSQL) message store.
// The embedded gorm.Model provides ID, CreatedAt, UpdatedAt, and DeletedAt fields;
// ordering uses Timestamp, which the backend assigns.
type ChatHistory struct {
	gorm.Model

	// UserID is the owner of the collection this turn belongs to.
	UserID string `gorm:"type:text;not null;index:idx_user_collection_ts"`
	// Collection is the per-feature collection name (e.g. "fitnessMessages").
	Collection string `gorm:"type:text;not null;index:idx_user_collection_ts"`
	// Sender is the role of the author ("user" or "model").
	Sender string `gorm:"type:text;not null"`
	// Content is the full text of the turn.
	Content string `gorm:"type:text;not null"`
	// Timestamp is the server-assigned ordering key.
	Timestamp time.Time `gorm:"not null;index:idx_user_collection_ts"`
	// RLEpisodeID is set on model turns that went through the feedback-eligible path.
	RLEpisodeID string `gorm:"type:text"`
}

// ToStored converts the row into the store-neutral document shape.
func (h ChatHistory) ToStored() StoredMessage {
	return StoredMessage{
		ID:          strconv.FormatUint(uint64(h.ID), 10),
		Sender:      Role(h.Sender),
		Content:     h.Content,
		Timestamp:   h.Timestamp,
		RLEpisodeID: h.RLEpisodeID,
	}
}
