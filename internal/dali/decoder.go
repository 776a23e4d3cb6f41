package dali

import (
	"fmt"
	"time"
)

// decodeState enumerates the decoder's phases.
type decodeState int

const (
	// stateIdle: waiting for a falling edge preceded by a settling gap.
	stateIdle decodeState = iota

	// stateStartDetect: saw the opening falling edge, expecting the
	// rising mid-bit edge of the start bit one half-bit later.
	stateStartDetect

	// stateBitAccum: accumulating data bits.
	stateBitAccum

	// stateStopWait: all bits seen, waiting out the settling gap.
	stateStopWait
)

// Decoder assembles biphase-coded edges into frames. Feed it every edge
// in timestamp order and call Flush periodically (or once the line has
// been quiet for the settling gap) to complete trailing frames.
//
// The decoder is a pure state machine with no timers and no goroutines;
// Monitor provides the timer. It is not safe for concurrent use.
type Decoder struct {
	timing Timing

	// expect is the frame length being accumulated; next takes effect
	// when the following frame starts.
	expect FrameLength
	next   FrameLength

	state     decodeState
	hasEdge   bool
	lastEdge  time.Time
	lastLevel Level

	// halfPos counts half-bit positions since the start bit's mid-bit
	// edge. Odd positions are bit centres.
	halfPos int
	code    uint32
	bits    int
	symbols []Symbol
	start   time.Time
}

// NewDecoder builds a decoder for the given timing profile and expected
// frame length.
func NewDecoder(timing Timing, expect FrameLength) (*Decoder, error) {
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	switch expect {
	case BackwardLength, ForwardLength, ExtendedLength:
	default:
		return nil, fmt.Errorf("%w: unsupported length %d", ErrInvalidFrame, expect)
	}
	return &Decoder{timing: timing, expect: expect, next: expect}, nil
}

// SetExpected changes the frame length for subsequent frames. A frame
// already being accumulated finishes at its original length.
func (d *Decoder) SetExpected(length FrameLength) error {
	switch length {
	case BackwardLength, ForwardLength, ExtendedLength:
	default:
		return fmt.Errorf("%w: unsupported length %d", ErrInvalidFrame, length)
	}
	d.next = length
	return nil
}

// Idle reports whether no frame is currently being accumulated.
func (d *Decoder) Idle() bool {
	return d.state == stateIdle
}

// LastEdge returns the timestamp of the most recent edge seen, if any.
func (d *Decoder) LastEdge() (time.Time, bool) {
	return d.lastEdge, d.hasEdge
}

// Reset abandons any frame in progress without emitting an error and
// forgets the last edge, so the next falling edge may start a frame
// immediately.
func (d *Decoder) Reset() {
	d.clear()
	d.hasEdge = false
}

// Feed processes one edge. It returns a non-nil Event when the edge
// completes a frame or invalidates the attempt in progress; otherwise
// nil. Errors never wedge the decoder: after an Event with Err set the
// decoder is already re-armed for the next frame.
func (d *Decoder) Feed(e Edge) *Event {
	if e.Overrun && d.state != stateIdle {
		ev := d.fail(KindOverrun, e.Timestamp)
		d.noteEdge(e)
		return ev
	}

	switch d.state {
	case stateIdle:
		return d.feedIdle(e)
	case stateStartDetect:
		return d.feedStartDetect(e)
	case stateBitAccum:
		return d.feedBitAccum(e)
	case stateStopWait:
		return d.feedStopWait(e)
	}
	return nil
}

// Flush completes or abandons a pending frame once the line has been
// quiet for the settling gap. Returns nil when nothing is pending or the
// gap has not yet elapsed.
func (d *Decoder) Flush(now time.Time) *Event {
	if !d.hasEdge || now.Sub(d.lastEdge) < d.timing.Settle {
		return nil
	}
	switch d.state {
	case stateStopWait:
		return d.complete(d.lastEdge)
	case stateStartDetect, stateBitAccum:
		return d.fail(KindTruncated, now)
	}
	return nil
}

func (d *Decoder) feedIdle(e Edge) *Event {
	// A frame may only start after a full settling gap; edges closer
	// than that to prior activity are noise and push the quiet window
	// out further.
	if e.Level == Low && !e.Overrun && (!d.hasEdge || e.Timestamp.Sub(d.lastEdge) >= d.timing.Settle) {
		d.begin(e)
		return nil
	}
	d.noteEdge(e)
	return nil
}

func (d *Decoder) feedStartDetect(e Edge) *Event {
	sym := d.timing.Classify(e.Timestamp.Sub(d.lastEdge))
	d.symbols = append(d.symbols, sym)
	if e.Level == d.lastLevel {
		ev := d.fail(KindPhase, e.Timestamp)
		d.noteEdge(e)
		return ev
	}
	// The start bit encodes a logical 1: Low half then High half, so
	// its mid-bit edge is a rising edge one half-bit after the opener.
	if sym != SymbolShort || e.Level != High {
		ev := d.fail(KindStartSequence, e.Timestamp)
		d.noteEdge(e)
		return ev
	}
	d.halfPos = 1
	d.state = stateBitAccum
	d.noteEdge(e)
	return nil
}

func (d *Decoder) feedBitAccum(e Edge) *Event {
	sym := d.timing.Classify(e.Timestamp.Sub(d.lastEdge))
	d.symbols = append(d.symbols, sym)
	if e.Level == d.lastLevel {
		ev := d.fail(KindPhase, e.Timestamp)
		d.noteEdge(e)
		return ev
	}
	switch sym {
	case SymbolShort:
		d.halfPos++
	case SymbolLong:
		if d.halfPos%2 == 0 {
			// A full-bit interval out of a bit boundary would skip
			// the mandatory mid-bit transition.
			ev := d.fail(KindPhase, e.Timestamp)
			d.noteEdge(e)
			return ev
		}
		d.halfPos += 2
	default:
		ev := d.fail(KindInvalidInterval, e.Timestamp)
		d.noteEdge(e)
		return ev
	}
	if d.halfPos%2 == 1 {
		// Bit centre: the level after the mid-bit edge is the bit.
		d.code <<= 1
		if e.Level == High {
			d.code |= 1
		}
		d.bits++
		if d.bits == int(d.expect) {
			d.state = stateStopWait
		}
	}
	d.noteEdge(e)
	return nil
}

func (d *Decoder) feedStopWait(e Edge) *Event {
	gap := e.Timestamp.Sub(d.lastEdge)
	if gap >= d.timing.Settle {
		// The gap completed the pending frame; this edge belongs to
		// whatever comes next.
		ev := d.complete(d.lastEdge)
		if e.Level == Low && !e.Overrun {
			d.begin(e)
		} else {
			d.noteEdge(e)
		}
		return ev
	}

	// A final 0 bit leaves the line Low at its centre; one short rising
	// edge returning the line to idle is part of the frame.
	if d.halfPos%2 == 1 && symIsClosing(d.timing, gap) && e.Level == High && d.lastLevel == Low {
		d.symbols = append(d.symbols, SymbolShort)
		d.halfPos++
		d.noteEdge(e)
		return nil
	}

	// Anything else this early invalidates the pending frame. A falling
	// edge doubles as the opener of a new attempt, so a transmitter
	// that jumped the gun is still decoded.
	d.symbols = append(d.symbols, d.timing.Classify(gap))
	ev := d.fail(KindShortGap, e.Timestamp)
	if e.Level == Low && !e.Overrun {
		d.begin(e)
	} else {
		d.noteEdge(e)
	}
	return ev
}

func symIsClosing(t Timing, gap time.Duration) bool {
	return t.Classify(gap) == SymbolShort
}

func (d *Decoder) begin(e Edge) {
	d.clear()
	d.expect = d.next
	d.state = stateStartDetect
	d.start = e.Timestamp
	d.noteEdge(e)
}

func (d *Decoder) noteEdge(e Edge) {
	d.hasEdge = true
	d.lastEdge = e.Timestamp
	d.lastLevel = e.Level
}

func (d *Decoder) clear() {
	d.state = stateIdle
	d.halfPos = 0
	d.code = 0
	d.bits = 0
	d.symbols = nil
}

func (d *Decoder) fail(kind ErrorKind, at time.Time) *Event {
	err := &DecodeError{
		Kind:     kind,
		Position: d.bits,
		Symbols:  d.symbols,
		At:       at,
	}
	d.clear()
	return &Event{Err: err}
}

func (d *Decoder) complete(end time.Time) *Event {
	frame := &Frame{
		Length: d.expect,
		Code:   d.code,
		Start:  d.start,
		End:    end,
	}
	d.clear()
	return &Event{Frame: frame}
}
