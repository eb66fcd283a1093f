package dispatch

import "errors"

var (
	// ErrSend indicates a command could not be published to the bus.
	ErrSend = errors.New("dispatch: send failed")

	// ErrCommandTimeout indicates no acknowledgement arrived within the
	// caller's deadline.
	ErrCommandTimeout = errors.New("dispatch: command timed out")

	// ErrClosed indicates the dispatcher has been closed.
	ErrClosed = errors.New("dispatch: closed")
)
