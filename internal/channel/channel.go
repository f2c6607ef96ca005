package channel

import "context"

// Message is a rendered email ready for delivery to a single recipient.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Channel is the outbound delivery port.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}
