package session

import "errors"

var (
	// ErrNotRegistered indicates Start was called before Register.
	ErrNotRegistered = errors.New("session: device not registered")

	// ErrAlreadyRegistered indicates Register was called twice.
	ErrAlreadyRegistered = errors.New("session: device already registered")

	// ErrAlreadyRunning indicates Start was called twice.
	ErrAlreadyRunning = errors.New("session: already running")

	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("session: closed")
)
