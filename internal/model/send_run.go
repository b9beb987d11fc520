// internal/model/send_run.go
package model

import "time"

// Send run statuses.
const (
    RunStatusRunning   = "running"
    RunStatusPaused    = "paused"
    RunStatusCompleted = "completed"
    RunStatusCancelled = "cancelled"
)

// SendRun is one attempt at draining a campaign's pending recipients. At most
// one run per campaign is running at a time. NextTickAt is advisory, kept for
// observability and recovery; the external scheduler is the authority on when
// ticks actually arrive.
type SendRun struct {
    ID         int        `db:"id" json:"id"`
    CampaignID int        `db:"campaign_id" json:"campaign_id"`
    Status     string     `db:"status" json:"status"`
    StartedAt  time.Time  `db:"started_at" json:"started_at"`
    EndedAt    *time.Time `db:"ended_at" json:"ended_at,omitempty"`
    NextTickAt *time.Time `db:"next_tick_at" json:"next_tick_at,omitempty"`
}
