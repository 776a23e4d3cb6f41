package dali

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LineDriver plays a transition schedule onto the physical line. The
// implementation must honour ctx and return its error when cancelled or
// past deadline.
type LineDriver interface {
	Transmit(ctx context.Context, s Schedule) error
}

// transmitGrace is added to a schedule's duration when bounding the
// driver: wave setup and busy polling need headroom beyond pure airtime.
const transmitGrace = 500 * time.Millisecond

// Transmitter encodes frames and plays them through a LineDriver,
// enforcing the idle-bus precondition via the shared Bus. It never
// retries; callers own their retry policy.
type Transmitter struct {
	driver LineDriver
	bus    *Bus
	timing Timing
	logger Logger
}

// NewTransmitter builds a transmitter sharing bus occupancy with the
// monitor.
func NewTransmitter(driver LineDriver, bus *Bus, timing Timing) (*Transmitter, error) {
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	return &Transmitter{driver: driver, bus: bus, timing: timing, logger: nopLogger{}}, nil
}

// SetLogger attaches a logger.
func (t *Transmitter) SetLogger(l Logger) {
	if l != nil {
		t.logger = l
	}
}

// Send encodes and transmits one frame. It returns ErrBusBusy without
// touching the driver when the bus is occupied or insufficiently
// settled, and ErrTimeout when the driver misses its deadline. The bus
// is released with last-activity set to the end of the attempt either
// way, so the mandatory inter-frame gap follows failed attempts too.
func (t *Transmitter) Send(ctx context.Context, f Frame) error {
	sched, err := Encode(f, t.timing)
	if err != nil {
		return err
	}

	if err := t.bus.BeginTransmit(time.Now(), t.timing.Settle); err != nil {
		return err
	}
	defer func() {
		t.bus.EndTransmit(time.Now())
	}()

	dctx, cancel := context.WithTimeout(ctx, sched.Duration+transmitGrace)
	defer cancel()

	start := time.Now()
	if err := t.driver.Transmit(dctx, sched); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			t.logger.Error("transmit deadline exceeded", "frame", f.String())
			return fmt.Errorf("%w: %s", ErrTimeout, f)
		}
		return fmt.Errorf("transmitting %s: %w", f, err)
	}

	t.logger.Debug("frame transmitted",
		"frame", f.String(),
		"airtime_us", time.Since(start).Microseconds(),
	)
	return nil
}
