// Package scheduler delivers future tick callbacks. The dispatcher never
// blocks waiting between sends; it asks for a tick after a delay or at a
// timestamp and returns. Delivery is fire-and-forget and at-least-once.
package scheduler

import "time"

// TickMessage identifies one tick callback.
type TickMessage struct {
	CampaignID int `json:"campaign_id"`
	SendRunID  int `json:"send_run_id"`
}

type TickScheduler interface {
	ScheduleAfter(campaignID, sendRunID int, delay time.Duration) error
	ScheduleAt(campaignID, sendRunID int, at time.Time) error
}

func delayUntil(at, now time.Time) time.Duration {
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
