package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessageView is one append-only message in a request's room with the
// sender's display name resolved, the shape persisted history and live
// broadcasts share. Messages are never edited or deleted; ordering is by
// creation time.
type ChatMessageView struct {
	ID         uuid.UUID `json:"id"`
	RequestID  uuid.UUID `json:"request_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
