// internal/model/recipient_item.go
package model

import "time"

// Recipient item states. An item normally moves pending -> sending -> sent or
// failed, exactly once. pending <-> excluded is operator-reversible.
const (
    ItemStatePending  = "pending"
    ItemStateSending  = "sending"
    ItemStateSent     = "sent"
    ItemStateFailed   = "failed"
    ItemStateExcluded = "excluded"
)

// RecipientItem is one planned send: one row per (campaign, recipient
// address). Subject and body are rendered once at materialization and are
// immutable afterwards.
type RecipientItem struct {
    ID               int       `db:"id" json:"id"`
    CampaignID       int       `db:"campaign_id" json:"campaign_id"`
    Recipient        string    `db:"recipient" json:"recipient"`
    Subject          string    `db:"subject" json:"subject"`
    Body             string    `db:"body" json:"body"`
    State            string    `db:"state" json:"state"`
    IncludedManually bool      `db:"included_manually" json:"included_manually"`
    ExcludedManually bool      `db:"excluded_manually" json:"excluded_manually"`
    LastError        string    `db:"last_error" json:"last_error,omitempty"`
    CreatedAt        time.Time `db:"created_at" json:"created_at"`
    UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
