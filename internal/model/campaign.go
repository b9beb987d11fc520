// internal/model/campaign.go
package model

import "time"

// Campaign lifecycle statuses.
const (
    CampaignStatusDraft     = "draft"
    CampaignStatusReady     = "ready"
    CampaignStatusSending   = "sending"
    CampaignStatusPaused    = "paused"
    CampaignStatusCompleted = "completed"
    CampaignStatusCancelled = "cancelled"
)

type Campaign struct {
    ID              int    `db:"id" json:"id"`
    Name            string `db:"name" json:"name"`
    Status          string `db:"status" json:"status"`
    SubjectTemplate string `db:"subject_template" json:"subject_template"`
    BodyTemplate    string `db:"body_template" json:"body_template"`
    SenderAlias     string `db:"sender_alias" json:"sender_alias,omitempty"`
    // ActiveLock is true iff this campaign holds the system-wide send lock.
    // At most one row may have it set; the schema enforces that with a
    // partial unique index.
    ActiveLock bool       `db:"active_lock" json:"active_lock"`
    CreatedAt  time.Time  `db:"created_at" json:"created_at"`
    UpdatedAt  *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
