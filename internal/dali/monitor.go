package dali

import (
	"context"
	"sync/atomic"
	"time"
)

// EdgeSource delivers observed line edges in timestamp order. The
// channel closing means the source has shut down for good.
type EdgeSource interface {
	Edges() <-chan Edge
}

// Logger is the narrow logging interface this package needs.
// Implemented by infrastructure/logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything; used until SetLogger is called.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// eventBuffer absorbs bursts while the consumer publishes; a full DALI
// bus peaks well under 50 frames/s.
const eventBuffer = 64

// MonitorStats holds operational statistics for a Monitor.
type MonitorStats struct {
	Frames       uint64
	DecodeErrors uint64
	Dropped      uint64 // Events dropped due to full channel
}

// Monitor drives the decoder from an edge source. It owns the settle
// timer that completes trailing frames, keeps the shared Bus in step
// with observed activity, and emits decoded frames and decode errors on
// Events. Decode errors are reported and the loop carries on.
type Monitor struct {
	source EdgeSource
	bus    *Bus
	dec    *Decoder
	timing Timing
	events chan Event
	logger Logger

	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	dropped      atomic.Uint64
}

// NewMonitor builds a monitor. The bus may be shared with a Transmitter.
func NewMonitor(source EdgeSource, bus *Bus, timing Timing, expect FrameLength) (*Monitor, error) {
	dec, err := NewDecoder(timing, expect)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		source: source,
		bus:    bus,
		dec:    dec,
		timing: timing,
		events: make(chan Event, eventBuffer),
		logger: nopLogger{},
	}, nil
}

// SetLogger attaches a logger. Must be called before Run.
func (m *Monitor) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// Events returns the output channel. It is closed when Run returns.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Stats returns current operational statistics.
func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Frames:       m.frames.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Dropped:      m.dropped.Load(),
	}
}

// Run consumes edges until ctx is cancelled or the source closes. It
// returns nil on a clean stop.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.events)

	// The timer fires once the line has been quiet for a settling gap,
	// completing a frame parked in stop-wait. Armed only while edges
	// are pending in the decoder.
	timer := time.NewTimer(m.timing.Settle)
	stopTimer(timer)
	defer timer.Stop()

	m.logger.Info("bus monitor started",
		"half_bit_us", m.timing.HalfBit.Microseconds(),
		"settle_us", m.timing.Settle.Microseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			m.flush(time.Now())
			return nil

		case edge, ok := <-m.source.Edges():
			if !ok {
				// Force completion of anything pending; the source
				// is gone so no further edge can contradict it.
				if last, has := m.dec.LastEdge(); has {
					m.deliver(m.dec.Flush(last.Add(m.timing.Settle)))
				}
				m.logger.Info("edge source closed, bus monitor stopping")
				return nil
			}
			if edge.Overrun {
				m.logger.Warn("edge source reported overrun")
			}
			m.bus.MarkReceiving(edge.Timestamp)
			m.deliver(m.dec.Feed(edge))
			if m.dec.Idle() {
				m.bus.MarkIdle(edge.Timestamp)
			}
			stopTimer(timer)
			timer.Reset(m.timing.Settle)

		case <-timer.C:
			if !m.flush(time.Now()) && !m.dec.Idle() {
				// Edge timestamps can trail the wall clock; give the
				// gap another period before flushing again.
				timer.Reset(m.timing.Settle)
			}
		}
	}
}

// flush runs the decoder's gap completion and syncs the bus state.
// Reports whether an event was produced.
func (m *Monitor) flush(now time.Time) bool {
	ev := m.dec.Flush(now)
	m.deliver(ev)
	if m.dec.Idle() {
		if last, has := m.dec.LastEdge(); has {
			m.bus.MarkIdle(last)
		} else {
			m.bus.MarkIdle(now)
		}
	}
	return ev != nil
}

func (m *Monitor) deliver(ev *Event) {
	if ev == nil {
		return
	}
	switch {
	case ev.Frame != nil:
		m.frames.Add(1)
		m.logger.Debug("frame decoded",
			"code", ev.Frame.String(),
			"duration_us", ev.Frame.End.Sub(ev.Frame.Start).Microseconds(),
		)
	case ev.Err != nil:
		m.decodeErrors.Add(1)
		m.logger.Debug("decode error",
			"kind", ev.Err.Kind.String(),
			"position", ev.Err.Position,
		)
	}
	select {
	case m.events <- *ev:
	default:
		// Consumer stalled; dropping diagnostics beats wedging the
		// decode loop and corrupting timing for every later frame.
		m.dropped.Add(1)
		m.logger.Warn("event channel full, dropping event")
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
