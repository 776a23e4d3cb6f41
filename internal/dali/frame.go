package dali

import (
	"fmt"
	"time"
)

// FrameLength is the number of data bits in a frame (the start bit is
// implicit and never counted).
type FrameLength int

const (
	// BackwardLength is an 8-bit reply from a control gear.
	BackwardLength FrameLength = 8

	// ForwardLength is a 16-bit command from a control device.
	ForwardLength FrameLength = 16

	// ExtendedLength is a 24-bit command, used by control devices on
	// DALI-2 input buses.
	ExtendedLength FrameLength = 24
)

// Frame is a complete bus telegram. Code holds the data bits
// right-aligned; the most significant bit of the used width travels
// first on the wire.
type Frame struct {
	Length FrameLength
	Code   uint32

	// Start and End delimit the frame on the bus: the first falling
	// edge and the final edge before the settling gap. Zero on frames
	// built for transmission.
	Start time.Time
	End   time.Time
}

// NewBackwardFrame builds an 8-bit reply frame.
func NewBackwardFrame(data byte) Frame {
	return Frame{Length: BackwardLength, Code: uint32(data)}
}

// NewForwardFrame builds a 16-bit command frame from its address and
// opcode bytes.
func NewForwardFrame(address, opcode byte) Frame {
	return Frame{Length: ForwardLength, Code: uint32(address)<<8 | uint32(opcode)}
}

// NewExtendedFrame builds a 24-bit frame. Bits above the 24th are
// discarded.
func NewExtendedFrame(code uint32) Frame {
	return Frame{Length: ExtendedLength, Code: code & 0xFFFFFF}
}

// Validate checks the frame length and that the code fits within it.
func (f Frame) Validate() error {
	switch f.Length {
	case BackwardLength, ForwardLength, ExtendedLength:
	default:
		return fmt.Errorf("%w: unsupported length %d", ErrInvalidFrame, f.Length)
	}
	if f.Length < 32 && f.Code>>uint(f.Length) != 0 {
		return fmt.Errorf("%w: code 0x%X exceeds %d bits", ErrInvalidFrame, f.Code, f.Length)
	}
	return nil
}

// Bit returns data bit i in wire order: Bit(0) is the first data bit
// transmitted, the most significant of the frame's width.
func (f Frame) Bit(i int) bool {
	shift := uint(int(f.Length) - 1 - i)
	return f.Code>>shift&1 == 1
}

// String renders the frame for logs, e.g. "frame(16,0xFE00)".
func (f Frame) String() string {
	width := (int(f.Length) + 3) / 4
	return fmt.Sprintf("frame(%d,0x%0*X)", f.Length, width, f.Code)
}

// Event is what the decoder and monitor emit: exactly one of Frame or
// Err is set.
type Event struct {
	Frame *Frame
	Err   *DecodeError
}
