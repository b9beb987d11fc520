package scheduler

import (
	"sync"
	"time"
)

// InMemoryScheduler runs ticks inside the current process with timers. It
// backs local single-binary runs and tests; production uses AMQPScheduler.
type InMemoryScheduler struct {
	mu      sync.Mutex
	handler func(TickMessage)
}

// NewInMemoryScheduler wires the handler invoked when a scheduled tick
// fires. A nil handler makes scheduling a no-op.
func NewInMemoryScheduler(handler func(TickMessage)) *InMemoryScheduler {
	return &InMemoryScheduler{handler: handler}
}

func (s *InMemoryScheduler) ScheduleAfter(campaignID, sendRunID int, delay time.Duration) error {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return nil
	}

	msg := TickMessage{CampaignID: campaignID, SendRunID: sendRunID}
	if delay <= 0 {
		go handler(msg)
		return nil
	}
	time.AfterFunc(delay, func() { handler(msg) })
	return nil
}

func (s *InMemoryScheduler) ScheduleAt(campaignID, sendRunID int, at time.Time) error {
	return s.ScheduleAfter(campaignID, sendRunID, delayUntil(at, time.Now()))
}

var _ TickScheduler = (*InMemoryScheduler)(nil)
