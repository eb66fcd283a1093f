package wire

import "errors"

// Sentinel errors for wire encoding and decoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBadPayload is returned when payload bytes cannot be decoded or
	// are missing required type tags.
	ErrBadPayload = errors.New("wire: bad payload")
)
