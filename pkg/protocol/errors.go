package protocol

// Error is a simple error type for protocol errors. It allows defining
// sentinel errors as constants.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// Sentinel errors for registry and server operations.
var (
	// ErrNilFactory is returned when registering a nil factory.
	ErrNilFactory = Error("factory cannot be nil")

	// ErrEmptyProtocol is returned when a factory reports an empty
	// protocol name.
	ErrEmptyProtocol = Error("protocol name cannot be empty")

	// ErrFactoryExists is returned when registering a factory for a
	// protocol that already has one.
	ErrFactoryExists = Error("factory for this protocol already exists")

	// ErrUnknownProtocol is returned when looking up a factory for a
	// protocol nothing registered.
	ErrUnknownProtocol = Error("unknown protocol")
)
