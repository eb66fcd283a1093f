package scheduler

import "errors"

var (
	// ErrPublisherExists indicates a publisher is already attached to the
	// device/channel pair.
	ErrPublisherExists = errors.New("scheduler: publisher already exists")

	// ErrPublisherNotFound indicates no publisher is attached to the
	// device/channel pair.
	ErrPublisherNotFound = errors.New("scheduler: publisher not found")

	// ErrInvalidChannel indicates the channel name cannot appear in a topic.
	ErrInvalidChannel = errors.New("scheduler: invalid channel name")

	// ErrInvalidInterval indicates a non-positive publish interval.
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")

	// ErrClosed indicates the scheduler has been closed.
	ErrClosed = errors.New("scheduler: closed")
)
