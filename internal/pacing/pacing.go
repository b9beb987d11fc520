// Package pacing implements the pure send-or-wait decision the tick
// processor consults before claiming work. It has no side effects: the same
// (config, pendingCount, sentToday, now) always yields the same decision.
package pacing

import (
	"fmt"
	"strings"
	"time"

	"github.com/nthuku/mailpacer-backend/internal/model"
)

type Kind int

const (
	// Immediate means it is safe to send right now; Delay is the minimum
	// wait before the next tick after sending.
	Immediate Kind = iota
	// WaitUntilWindow means now falls outside every send window for the
	// current day; NotBefore is the start of the next open window.
	WaitUntilWindow
	// WaitUntilQuotaReset means the daily quota is exhausted; NotBefore is
	// the next local midnight.
	WaitUntilQuotaReset
)

func (k Kind) String() string {
	switch k {
	case Immediate:
		return "immediate"
	case WaitUntilWindow:
		return "wait_until_window"
	case WaitUntilQuotaReset:
		return "wait_until_quota_reset"
	}
	return "unknown"
}

type Decision struct {
	Kind      Kind
	Delay     time.Duration
	NotBefore time.Time
}

// weekdayKeys maps time.Weekday onto the lowercase names used in the
// send-window configuration.
var weekdayKeys = map[time.Weekday]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// Decide evaluates quota first, then send windows. Callers must not invoke
// it with zero pending work; absence of work is a completion condition, not
// a pacing decision.
func Decide(cfg model.PacingConfig, pendingCount, sentToday int, now time.Time) (Decision, error) {
	loc, err := location(cfg.Timezone)
	if err != nil {
		return Decision{}, err
	}
	local := now.In(loc)

	if cfg.DailyQuota > 0 && sentToday >= cfg.DailyQuota {
		return Decision{Kind: WaitUntilQuotaReset, NotBefore: nextMidnight(local)}, nil
	}

	open, next, err := windowState(cfg.SendWindows, local)
	if err != nil {
		return Decision{}, err
	}
	if !open {
		return Decision{Kind: WaitUntilWindow, NotBefore: next}, nil
	}

	delay := time.Duration(cfg.MinDelaySeconds) * time.Second
	return Decision{Kind: Immediate, Delay: delay}, nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func nextMidnight(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, local.Location())
}

// windowState reports whether local falls inside any window for its weekday
// and, if not, the earliest coming window start. A wholly empty window map
// means sending is always allowed. When a non-empty map yields no window in
// the next week (every listed day closed), the next local midnight is
// returned as a re-check point.
func windowState(windows map[string][]model.SendWindow, local time.Time) (bool, time.Time, error) {
	if len(windows) == 0 {
		return true, time.Time{}, nil
	}

	minute := local.Hour()*60 + local.Minute()
	for _, w := range windows[weekdayKeys[local.Weekday()]] {
		start, err := parseClock(w.Start)
		if err != nil {
			return false, time.Time{}, err
		}
		end, err := parseClock(w.End)
		if err != nil {
			return false, time.Time{}, err
		}
		// Half-open [start, end): a tick landing exactly at end is outside.
		if minute >= start && minute < end {
			return true, time.Time{}, nil
		}
	}

	// Scan today and the following seven days for the earliest window start
	// still ahead of us.
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		earliest := time.Time{}
		for _, w := range windows[weekdayKeys[day.Weekday()]] {
			start, err := parseClock(w.Start)
			if err != nil {
				return false, time.Time{}, err
			}
			end, err := parseClock(w.End)
			if err != nil {
				return false, time.Time{}, err
			}
			if end <= start {
				// Zero or negative length, closed.
				continue
			}
			y, m, d := day.Date()
			at := time.Date(y, m, d, start/60, start%60, 0, 0, local.Location())
			if !at.After(local) {
				continue
			}
			if earliest.IsZero() || at.Before(earliest) {
				earliest = at
			}
		}
		if !earliest.IsZero() {
			return false, earliest, nil
		}
	}

	return false, nextMidnight(local), nil
}

// parseClock converts an "HH:MM" time-of-day into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	// "24:00" is accepted as an end-of-day upper bound.
	if s == "24:00" {
		return 24 * 60, nil
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}
