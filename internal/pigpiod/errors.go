package pigpiod

import "errors"

// Sentinel errors for pigpiod operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, pigpiod.ErrNotConnected) {
//	    // Handle disconnected state
//	}
var (
	// ErrNotConnected indicates the client is not connected to pigpiod.
	ErrNotConnected = errors.New("pigpiod: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("pigpiod: connection failed")

	// ErrCommandFailed indicates pigpiod rejected a command.
	// The daemon reports failures as negative status values.
	ErrCommandFailed = errors.New("pigpiod: command failed")

	// ErrStreamClosed indicates the notification stream has been closed.
	ErrStreamClosed = errors.New("pigpiod: notification stream closed")
)
