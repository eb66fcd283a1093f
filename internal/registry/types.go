package registry

import "time"

// Descriptor is the registry's record of one device. It is owned by the
// Registry: callers receive copies and never mutate the registry's view
// directly.
type Descriptor struct {
	// DeviceID is the opaque identifier assigned by the navisd id service
	// at registration time. Immutable for the session's lifetime.
	DeviceID string `json:"device_id"`

	// Category is the device's declared category, e.g. "robot".
	Category string `json:"category"`

	// TypeName is the device's declared type, e.g. "DifferentialDriveRobot".
	TypeName string `json:"type_name"`

	// RegisteredAt is when the device registered.
	RegisteredAt time.Time `json:"registered_at"`

	// LastSeen is when this process last observed an announcement or
	// heartbeat from the device.
	LastSeen time.Time `json:"last_seen"`
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
