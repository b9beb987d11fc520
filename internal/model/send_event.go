// internal/model/send_event.go
package model

import "time"

// Send event outcomes.
const (
    EventStatusSent   = "sent"
    EventStatusFailed = "failed"
)

// SendEvent is the immutable audit record of one delivery attempt outcome,
// one-to-one with a recipient item. Transport identifiers are nullable since
// not every transport exposes them.
type SendEvent struct {
    ID              int       `db:"id" json:"id"`
    RecipientItemID int       `db:"recipient_item_id" json:"recipient_item_id"`
    Status          string    `db:"status" json:"status"`
    MessageID       string    `db:"message_id" json:"message_id,omitempty"`
    ThreadID        string    `db:"thread_id" json:"thread_id,omitempty"`
    Permalink       string    `db:"permalink" json:"permalink,omitempty"`
    ErrorText       string    `db:"error_text" json:"error_text,omitempty"`
    CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
