package dali

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for the dali package.
var (
	// ErrBusBusy is returned when a transmission is requested while the
	// bus is occupied or has not been quiet for a full settling period.
	ErrBusBusy = errors.New("dali: bus busy")

	// ErrTimeout is returned when the line driver fails to complete a
	// scheduled transmission within its deadline.
	ErrTimeout = errors.New("dali: transmit timed out")

	// ErrInvalidTiming is returned when timing parameters are rejected.
	ErrInvalidTiming = errors.New("dali: invalid timing parameters")

	// ErrInvalidFrame is returned when a frame fails validation.
	ErrInvalidFrame = errors.New("dali: invalid frame")
)

// ErrorKind identifies why a decode attempt was abandoned.
type ErrorKind int

const (
	// KindInvalidInterval: an edge interval fell outside both the
	// half-bit and full-bit tolerance bands.
	KindInvalidInterval ErrorKind = iota

	// KindStartSequence: the opening edges did not form a biphase
	// start bit.
	KindStartSequence

	// KindPhase: a manchester phase violation, either a full-bit
	// interval landing on a bit boundary or a non-alternating level.
	KindPhase

	// KindShortGap: activity resumed before the settling gap that must
	// follow a complete frame had elapsed.
	KindShortGap

	// KindTruncated: the line went quiet mid-frame.
	KindTruncated

	// KindOverrun: the edge source reported lost edges mid-frame.
	KindOverrun
)

// String returns a stable name for the kind, used in logs, MQTT payloads
// and the telegram log.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInterval:
		return "invalid_interval"
	case KindStartSequence:
		return "start_sequence"
	case KindPhase:
		return "phase_violation"
	case KindShortGap:
		return "short_gap"
	case KindTruncated:
		return "truncated"
	case KindOverrun:
		return "overrun"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// DecodeError describes a single abandoned decode attempt. The decoder
// recovers on its own; the error exists for diagnostics, not control flow.
type DecodeError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Position is the number of data bits that had been accumulated
	// when the failure was detected (the start bit is not counted).
	Position int

	// Symbols holds the classified intervals observed during the
	// attempt, including the offending one where applicable.
	Symbols []Symbol

	// At is the bus timestamp at which the failure was detected.
	At time.Time
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("dali: decode failed (%s) after %d bits", e.Kind, e.Position)
}
