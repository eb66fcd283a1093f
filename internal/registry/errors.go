package registry

import "errors"

var (
	// ErrRegistration indicates registration failed, either because the bus
	// rejected the request or because the id service did not reply in time.
	ErrRegistration = errors.New("registry: registration failed")

	// ErrUnknownDevice indicates an operation referenced a device id that
	// was not registered through this registry instance.
	ErrUnknownDevice = errors.New("registry: unknown device")

	// ErrClosed indicates the registry has been closed.
	ErrClosed = errors.New("registry: closed")
)
