package dali

import "time"

// Transition is one scheduled line change. Offset is relative to the
// start of the schedule; Level is the line state from Offset onwards.
type Transition struct {
	Offset time.Duration
	Level  Level
}

// Schedule is an encoded frame ready for playback: an ordered list of
// transitions plus the total occupancy of the bus, including the
// trailing settling hold at idle level.
type Schedule struct {
	Transitions []Transition
	Duration    time.Duration
}

// Encode turns a frame into a transition schedule under the given
// timing. The line is assumed High (idle) on entry; the schedule always
// leaves it High. Offsets are exact multiples of the half-bit period so
// no rounding accumulates across the frame.
func Encode(f Frame, t Timing) (Schedule, error) {
	if err := f.Validate(); err != nil {
		return Schedule{}, err
	}
	if err := t.Validate(); err != nil {
		return Schedule{}, err
	}

	// Start bit plus data bits, two half-slots each.
	slots := 2 * (1 + int(f.Length))
	level := High
	transitions := make([]Transition, 0, slots+1)

	emit := func(slot int, want Level) {
		if want == level {
			return
		}
		transitions = append(transitions, Transition{
			Offset: time.Duration(slot) * t.HalfBit,
			Level:  want,
		})
		level = want
	}

	// Biphase: a 1 is Low then High, a 0 is High then Low. The start
	// bit encodes 1, which yields the opening falling edge.
	encodeBit := func(slot int, bit bool) {
		if bit {
			emit(slot, Low)
			emit(slot+1, High)
		} else {
			emit(slot, High)
			emit(slot+1, Low)
		}
	}

	encodeBit(0, true)
	for i := 0; i < int(f.Length); i++ {
		encodeBit(2*(1+i), f.Bit(i))
	}

	// A trailing 0 bit leaves the line Low; release it at the frame
	// boundary so the settling gap is spent at idle.
	emit(slots, High)

	return Schedule{
		Transitions: transitions,
		Duration:    time.Duration(slots)*t.HalfBit + t.Settle,
	}, nil
}
