// Package transport abstracts the outbound delivery channel. The tick
// processor treats any send failure uniformly regardless of cause.
package transport

// SendResult carries the identifiers a transport exposes for a delivered
// message. All fields are optional.
type SendResult struct {
	MessageID string
	ThreadID  string
	Permalink string
}

type Transport interface {
	Send(to, subject, body, senderAlias string) (*SendResult, error)
}
