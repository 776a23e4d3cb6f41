package dali

import (
	"errors"
	"testing"
	"time"
)

func TestBusBeginTransmit(t *testing.T) {
	settle := 1800 * time.Microsecond
	now := time.Unix(1700000000, 0)

	t.Run("fresh bus allows transmit", func(t *testing.T) {
		b := NewBus()
		if err := b.BeginTransmit(now, settle); err != nil {
			t.Fatalf("BeginTransmit on fresh bus: %v", err)
		}
		if state, _ := b.Snapshot(); state != BusTransmitting {
			t.Errorf("state = %v, want transmitting", state)
		}
	})

	t.Run("receiving bus refuses", func(t *testing.T) {
		b := NewBus()
		b.MarkReceiving(now)
		err := b.BeginTransmit(now.Add(time.Second), settle)
		if !errors.Is(err, ErrBusBusy) {
			t.Fatalf("BeginTransmit while receiving = %v, want ErrBusBusy", err)
		}
	})

	t.Run("unsettled bus refuses", func(t *testing.T) {
		b := NewBus()
		b.MarkReceiving(now)
		b.MarkIdle(now)
		err := b.BeginTransmit(now.Add(settle/2), settle)
		if !errors.Is(err, ErrBusBusy) {
			t.Fatalf("BeginTransmit inside settle = %v, want ErrBusBusy", err)
		}
	})

	t.Run("settled bus allows", func(t *testing.T) {
		b := NewBus()
		b.MarkReceiving(now)
		b.MarkIdle(now)
		if err := b.BeginTransmit(now.Add(settle), settle); err != nil {
			t.Fatalf("BeginTransmit after settle: %v", err)
		}
	})

	t.Run("double begin refuses", func(t *testing.T) {
		b := NewBus()
		if err := b.BeginTransmit(now, settle); err != nil {
			t.Fatalf("first BeginTransmit: %v", err)
		}
		if err := b.BeginTransmit(now, settle); !errors.Is(err, ErrBusBusy) {
			t.Fatalf("second BeginTransmit = %v, want ErrBusBusy", err)
		}
	})
}

func TestBusEndTransmitStartsNewSettleWindow(t *testing.T) {
	settle := 1800 * time.Microsecond
	now := time.Unix(1700000000, 0)

	b := NewBus()
	if err := b.BeginTransmit(now, settle); err != nil {
		t.Fatalf("BeginTransmit: %v", err)
	}
	end := now.Add(15 * time.Millisecond)
	b.EndTransmit(end)

	state, last := b.Snapshot()
	if state != BusIdle {
		t.Errorf("state = %v, want idle", state)
	}
	if !last.Equal(end) {
		t.Errorf("lastActivity = %v, want %v", last, end)
	}

	// Back to back transmissions must respect the gap.
	if err := b.BeginTransmit(end.Add(settle/2), settle); !errors.Is(err, ErrBusBusy) {
		t.Errorf("BeginTransmit inside post-tx settle = %v, want ErrBusBusy", err)
	}
	if err := b.BeginTransmit(end.Add(settle), settle); err != nil {
		t.Errorf("BeginTransmit after post-tx settle: %v", err)
	}
}

func TestBusMarkReceivingIgnoredWhileTransmitting(t *testing.T) {
	// Our own transmission echoes back through the receive path; it
	// must not flip the state out from under the transmitter.
	now := time.Unix(1700000000, 0)
	b := NewBus()
	if err := b.BeginTransmit(now, time.Millisecond); err != nil {
		t.Fatalf("BeginTransmit: %v", err)
	}
	b.MarkReceiving(now.Add(time.Millisecond))
	if state, _ := b.Snapshot(); state != BusTransmitting {
		t.Errorf("state = %v, want transmitting", state)
	}
}
