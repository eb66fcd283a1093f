package routing

import "errors"

// Sentinel errors for routing operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrPublish is returned when the bus rejects a publish locally.
	ErrPublish = errors.New("routing: publish failed")

	// ErrSubscribe is returned when a subscription cannot be established
	// or removed.
	ErrSubscribe = errors.New("routing: subscribe failed")

	// ErrClosed is returned when operating on a closed router.
	ErrClosed = errors.New("routing: router closed")
)
