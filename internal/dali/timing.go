package dali

import (
	"fmt"
	"time"
)

// Default timing profile for a 1200 baud DALI bus.
const (
	// DefaultHalfBit is the nominal half-bit period (Te).
	DefaultHalfBit = 417 * time.Microsecond

	// DefaultTolerancePct is the accepted deviation around the nominal
	// half-bit and full-bit periods.
	DefaultTolerancePct = 25

	// DefaultSettle is the quiet period that separates frames. A frame
	// is only complete once the line has idled this long, and a
	// transmission may only start after the same gap.
	DefaultSettle = 1800 * time.Microsecond

	// maxTolerancePct is the largest usable tolerance. At 33% the
	// half-bit band's upper edge meets the full-bit band's lower edge
	// and classification becomes ambiguous.
	maxTolerancePct = 33
)

// Level is the logical state of the bus line. The line idles High;
// an active transmitter pulls it Low.
type Level int

const (
	Low Level = iota
	High
)

// String returns "low" or "high".
func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Edge is a single observed line transition. Level is the line state
// after the transition. Overrun marks that the edge source lost edges
// before this one; any decode in progress cannot be trusted.
type Edge struct {
	Timestamp time.Time
	Level     Level
	Overrun   bool
}

// Symbol is the classification of the interval between two edges.
type Symbol int

const (
	// SymbolInvalid: the interval fits neither band.
	SymbolInvalid Symbol = iota

	// SymbolShort: one half-bit period within tolerance.
	SymbolShort

	// SymbolLong: two half-bit periods within tolerance.
	SymbolLong
)

// String returns a short name for the symbol.
func (s Symbol) String() string {
	switch s {
	case SymbolShort:
		return "short"
	case SymbolLong:
		return "long"
	default:
		return "invalid"
	}
}

// Timing holds the bus timing profile shared by the classifier, decoder
// and encoder.
type Timing struct {
	// HalfBit is the nominal half-bit period.
	HalfBit time.Duration

	// TolerancePct widens the classification bands either side of the
	// nominal periods. Must be below 33.
	TolerancePct int

	// Settle is the minimum quiet gap between frames.
	Settle time.Duration
}

// DefaultTiming returns the standard 1200 baud profile.
func DefaultTiming() Timing {
	return Timing{
		HalfBit:      DefaultHalfBit,
		TolerancePct: DefaultTolerancePct,
		Settle:       DefaultSettle,
	}
}

// Validate checks that the profile is internally consistent.
func (t Timing) Validate() error {
	if t.HalfBit <= 0 {
		return fmt.Errorf("%w: half-bit period must be positive", ErrInvalidTiming)
	}
	if t.TolerancePct <= 0 || t.TolerancePct >= maxTolerancePct {
		return fmt.Errorf("%w: tolerance %d%% outside (0, %d)", ErrInvalidTiming, t.TolerancePct, maxTolerancePct)
	}
	if t.Settle < 2*t.HalfBit {
		return fmt.Errorf("%w: settle %v shorter than one full bit", ErrInvalidTiming, t.Settle)
	}
	return nil
}

// Classify sorts an edge interval into a half-bit symbol, a full-bit
// symbol, or invalid. Band edges are inclusive.
func (t Timing) Classify(interval time.Duration) Symbol {
	if within(interval, t.HalfBit, t.TolerancePct) {
		return SymbolShort
	}
	if within(interval, 2*t.HalfBit, t.TolerancePct) {
		return SymbolLong
	}
	return SymbolInvalid
}

func within(interval, nominal time.Duration, tolerancePct int) bool {
	margin := nominal * time.Duration(tolerancePct) / 100
	return interval >= nominal-margin && interval <= nominal+margin
}
