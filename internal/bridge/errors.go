package bridge

import "errors"

// Sentinel errors for bridge operations.
var (
	// ErrInvalidAddress indicates a light address outside broadcast/0-63.
	ErrInvalidAddress = errors.New("bridge: invalid light address")

	// ErrInvalidPayload indicates a command payload that could not be parsed.
	ErrInvalidPayload = errors.New("bridge: invalid command payload")

	// ErrSendFailed indicates a frame could not be put on the bus after retries.
	ErrSendFailed = errors.New("bridge: send failed")
)
