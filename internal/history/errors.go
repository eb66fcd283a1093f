package history

import "errors"

// Sentinel errors for measurement history operations.
var (
	// ErrNotConnected indicates the writer is not connected to InfluxDB.
	ErrNotConnected = errors.New("history: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("history: connection failed")

	// ErrDisabled indicates measurement history is disabled in config.
	ErrDisabled = errors.New("history: disabled in configuration")
)
