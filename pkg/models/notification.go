package models

import (
	"encoding/json"
	"time"
)

type NotificationKind string

const (
	KindChat       NotificationKind = "chat"
	KindOrderEvent NotificationKind = "order_event"
)

// Notification is a directed message from sender to receiver. Content holds the
// rendered text; Payload carries the structured event for order_event records.
type Notification struct {
	ID         string           `json:"id" db:"id"`
	SenderID   string           `json:"sender_id" db:"sender_id"`
	ReceiverID string           `json:"receiver_id" db:"receiver_id"`
	Kind       NotificationKind `json:"kind" db:"kind"`
	Content    string           `json:"content" db:"content"`
	Payload    json.RawMessage  `json:"payload,omitempty" db:"payload"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}
