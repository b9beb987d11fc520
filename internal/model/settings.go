// internal/model/settings.go
package model

// SendWindow is one half-open [Start, End) local time-of-day interval during
// which sending is permitted. Times are "HH:MM" strings in the configured
// timezone. Start == End means a zero-length window, i.e. closed.
type SendWindow struct {
    Start string `json:"start"`
    End   string `json:"end"`
}

// PacingConfig governs how fast the dispatcher may send. SendWindows is keyed
// by lowercase weekday name ("monday" ... "sunday"); a missing or empty entry
// means that day is closed. An entirely empty map means sending is allowed at
// any time.
type PacingConfig struct {
    DailyQuota      int                     `json:"daily_quota"`
    MinDelaySeconds int                     `json:"min_delay_seconds"`
    SendWindows     map[string][]SendWindow `json:"send_windows"`
    Timezone        string                  `json:"timezone"`
}

// Settings is the single-row operator configuration the dispatcher reads.
// The scheduler never writes it.
type Settings struct {
    SenderAddress string       `json:"sender_address"`
    SenderAlias   string       `json:"sender_alias"`
    Pacing        PacingConfig `json:"pacing"`
}
