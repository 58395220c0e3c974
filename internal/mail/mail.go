// Package mail renders and submits outreach messages.
//
// The engine treats the transport as a black box: Send either delivers
// the message or returns an error, and any error is recoverable
// per-recipient (the batch keeps going).
package mail

import "context"

// Message is one fully rendered outgoing email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Transport submits a message. Implementations must be safe for
// sequential reuse across a run; the engine never calls Send
// concurrently.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
