package dali

import (
	"fmt"
	"sync"
	"time"
)

// BusState describes line occupancy as the transceiver understands it.
type BusState int

const (
	BusIdle BusState = iota
	BusReceiving
	BusTransmitting
)

// String returns a stable name for the state.
func (s BusState) String() string {
	switch s {
	case BusReceiving:
		return "receiving"
	case BusTransmitting:
		return "transmitting"
	default:
		return "idle"
	}
}

// Bus tracks shared line occupancy between the monitor (receive side)
// and the transmitter. Safe for concurrent use.
type Bus struct {
	mu           sync.Mutex
	state        BusState
	lastActivity time.Time
}

// NewBus returns a bus in the idle state with no recorded activity, so
// the first transmission needs no prior quiet period.
func NewBus() *Bus {
	return &Bus{state: BusIdle}
}

// Snapshot returns the current state and last-activity timestamp.
func (b *Bus) Snapshot() (BusState, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.lastActivity
}

// MarkReceiving records inbound line activity at t. It has no effect
// while our own transmission is in flight (the receive side sees the
// transmitted edges too).
func (b *Bus) MarkReceiving(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BusTransmitting {
		return
	}
	b.state = BusReceiving
	if t.After(b.lastActivity) {
		b.lastActivity = t
	}
}

// MarkIdle records that the line has gone quiet; t is the time of the
// final edge, not the moment quiet was observed, so settling-gap
// arithmetic stays anchored to real bus activity.
func (b *Bus) MarkIdle(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BusReceiving {
		return
	}
	b.state = BusIdle
	if t.After(b.lastActivity) {
		b.lastActivity = t
	}
}

// BeginTransmit claims the bus for a transmission. It fails with
// ErrBusBusy when the line is not idle or has not been quiet for the
// settling gap; on success the state is Transmitting until EndTransmit.
func (b *Bus) BeginTransmit(now time.Time, settle time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BusIdle {
		return fmt.Errorf("%w: bus is %s", ErrBusBusy, b.state)
	}
	if !b.lastActivity.IsZero() {
		if quiet := now.Sub(b.lastActivity); quiet < settle {
			return fmt.Errorf("%w: only %v of %v settling elapsed", ErrBusBusy, quiet, settle)
		}
	}
	b.state = BusTransmitting
	return nil
}

// EndTransmit releases the bus after a transmission attempt; end is the
// time the line was returned to idle.
func (b *Bus) EndTransmit(end time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BusTransmitting {
		return
	}
	b.state = BusIdle
	if end.After(b.lastActivity) {
		b.lastActivity = end
	}
}
