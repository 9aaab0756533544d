package events

import (
	"time"

	"github.com/google/uuid"
)

// Moderation event types published to the event feed.
const (
	TypeItemSubmitted = "ItemSubmitted"
	TypeItemApproved  = "ItemApproved"
	TypeItemDenied    = "ItemDenied"
	TypeItemDeleted   = "ItemDeleted"
)

// Event is a moderation lifecycle event. Payload carries the typed body for
// the event's type (Item*Payload below).
type Event struct {
	ID         uuid.UUID   `json:"eventId"`
	Type       string      `json:"eventType"`
	ItemID     string      `json:"itemId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event with a fresh ID.
func NewEvent(eventType, itemID string, occurredAt time.Time, payload interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		ItemID:     itemID,
		OccurredAt: occurredAt,
		Payload:    payload,
	}
}

// ItemSubmittedPayload describes a new submission entering the pending pool.
type ItemSubmittedPayload struct {
	ItemID      string    `json:"item_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ItemApprovedPayload describes a promotion into the public collection.
type ItemApprovedPayload struct {
	ItemID     string    `json:"item_id"`
	PublicURL  string    `json:"public_url"`
	ApprovedAt time.Time `json:"approved_at"`
}

// ItemDeniedPayload describes a discarded submission.
type ItemDeniedPayload struct {
	ItemID   string    `json:"item_id"`
	DeniedAt time.Time `json:"denied_at"`
}

// ItemDeletedPayload describes an admin deletion from the public collection.
type ItemDeletedPayload struct {
	ItemID    string    `json:"item_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
