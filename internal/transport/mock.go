package transport

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"
)

// MockTransport simulates delivery for local runs. FailRate is the
// probability in [0, 1) that a send fails.
type MockTransport struct {
	FailRate float64
	Log      zerolog.Logger

	counter int
}

func (t *MockTransport) Send(to, subject, body, senderAlias string) (*SendResult, error) {
	if rand.Float64() < t.FailRate {
		t.Log.Warn().Str("to", to).Msg("mock send failed")
		return nil, fmt.Errorf("mock send to %s failed", to)
	}

	t.counter++
	t.Log.Info().Str("to", to).Str("subject", subject).Msg("mock send delivered")
	return &SendResult{MessageID: fmt.Sprintf("mock-%d", t.counter)}, nil
}

var _ Transport = (*MockTransport)(nil)
