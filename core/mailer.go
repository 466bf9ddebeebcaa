package core

import "context"

// Email is the message handed to the delivery collaborator. The core only
// produces the recipient, subject, and action link; rendering and transport
// live outside.
type Email struct {
	To         string
	Subject    string
	ActionLink string
}

// Mailer delivers account emails. Implementations must not be retried by the
// core; a failed send surfaces to the caller.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}
