package cnst

import "errors"

var (
	// ErrUnauthorized is returned when a private or presence subscription carries
	// a malformed auth token, an unknown application key or a wrong signature
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAppNotFound is returned when an application id or key is unknown
	ErrAppNotFound = errors.New("application not found")
	// ErrInvalidChannelName is returned when a channel name fails validation
	ErrInvalidChannelName = errors.New("invalid channel name")
	// ErrDuplicateConnection is returned when a connection id is already held by another live connection
	ErrDuplicateConnection = errors.New("connection id already in use")
	// ErrNotSubscribed is returned when a connection acts on a channel it has not joined
	ErrNotSubscribed = errors.New("connection is not subscribed to channel")
	// ErrBridgeClosed is returned when publishing through a closed bridge
	ErrBridgeClosed = errors.New("bridge closed")
	// ErrBridgeTimeout is pushed on the bridge fatal channel once reconnecting gave up
	ErrBridgeTimeout = errors.New("bridge reconnect timeout elapsed")
)
