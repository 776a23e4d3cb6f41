package pigpiod_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/dali-core/internal/dali"
	"github.com/nerrad567/dali-core/internal/pigpiod"
)

const testTxGpio = 5

// testSchedule is a short hand-built pulse train: fall, rise after one
// half bit, fall after two more, final rise restoring idle.
func testSchedule() dali.Schedule {
	hb := 417 * time.Microsecond
	return dali.Schedule{
		Transitions: []dali.Transition{
			{Offset: 0, Level: dali.Low},
			{Offset: hb, Level: dali.High},
			{Offset: 3 * hb, Level: dali.Low},
			{Offset: 4 * hb, Level: dali.High},
		},
		Duration: 4*hb + 1800*time.Microsecond,
	}
}

func newDriver(t *testing.T, daemon *fakeDaemon, client *pigpiod.Client, invert bool) *pigpiod.WaveDriver {
	t.Helper()
	driver, err := pigpiod.NewWaveDriver(client, testTxGpio, invert)
	if err != nil {
		t.Fatalf("NewWaveDriver() error = %v", err)
	}

	// Construction must configure the pin and park it idle
	modes := daemon.waitForCommand(cmdModes)
	if modes.p1 != testTxGpio {
		t.Errorf("MODES gpio = %d, want %d", modes.p1, testTxGpio)
	}
	daemon.waitForCommand(cmdWrite)

	return driver
}

func TestWaveDriverTransmit(t *testing.T) {
	daemon := startFakeDaemon(t)
	daemon.mu.Lock()
	daemon.busyLeft = 2 // Busy for two polls, then done
	daemon.mu.Unlock()

	client := connectClient(t, daemon)
	driver := newDriver(t, daemon, client, false)

	if err := driver.Transmit(context.Background(), testSchedule()); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}

	// Full waveform lifecycle, in order
	want := []uint32{cmdWVClr, cmdWVAG, cmdWVCre, cmdWVTxm, cmdWVBsy, cmdWVDel}
	var got []uint32
	for _, c := range daemon.recorded() {
		for _, w := range want {
			if c.cmd == w {
				got = append(got, c.cmd)
				break
			}
		}
	}
	// WVBSY repeats while busy; collapse runs for comparison
	var collapsed []uint32
	for _, c := range got {
		if len(collapsed) > 0 && collapsed[len(collapsed)-1] == c {
			continue
		}
		collapsed = append(collapsed, c)
	}
	if len(collapsed) != len(want) {
		t.Fatalf("command sequence = %v, want %v", collapsed, want)
	}
	for i, w := range want {
		if collapsed[i] != w {
			t.Fatalf("command sequence = %v, want %v", collapsed, want)
		}
	}

	// WVTXM must play the id WVCRE returned, one-shot
	txm := daemon.waitForCommand(cmdWVTxm)
	if txm.p1 != 7 || txm.p2 != 0 {
		t.Errorf("WVTXM params = %d/%d, want 7/0", txm.p1, txm.p2)
	}
}

func TestWaveDriverPulseEncoding(t *testing.T) {
	tests := []struct {
		name   string
		invert bool
		// Expected gpio state for the first pulse (bus Low at offset 0)
		wantOnFirst bool
	}{
		// Non-inverted: bus Low drives the pin low
		{name: "direct", invert: false, wantOnFirst: false},
		// Inverted driver: bus Low drives the pin high
		{name: "inverted", invert: true, wantOnFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			daemon := startFakeDaemon(t)
			client := connectClient(t, daemon)
			driver := newDriver(t, daemon, client, tt.invert)

			sched := testSchedule()
			if err := driver.Transmit(context.Background(), sched); err != nil {
				t.Fatalf("Transmit() error = %v", err)
			}

			wvag := daemon.waitForCommand(cmdWVAG)
			const pulseSize = 12
			if len(wvag.ext) != len(sched.Transitions)*pulseSize {
				t.Fatalf("WVAG payload = %d bytes, want %d", len(wvag.ext), len(sched.Transitions)*pulseSize)
			}

			bit := uint32(1) << testTxGpio
			on := binary.LittleEndian.Uint32(wvag.ext[0:4])
			off := binary.LittleEndian.Uint32(wvag.ext[4:8])
			if tt.wantOnFirst {
				if on != bit || off != 0 {
					t.Errorf("first pulse on/off = %#x/%#x, want %#x/0", on, off, bit)
				}
			} else {
				if on != 0 || off != bit {
					t.Errorf("first pulse on/off = %#x/%#x, want 0/%#x", on, off, bit)
				}
			}

			// Delays come from offset differences: 417, 834, 417, then 0.
			wantDelays := []uint32{417, 834, 417, 0}
			for i, want := range wantDelays {
				delay := binary.LittleEndian.Uint32(wvag.ext[i*pulseSize+8 : i*pulseSize+12])
				if delay != want {
					t.Errorf("pulse %d delay = %d, want %d", i, delay, want)
				}
			}
		})
	}
}

func TestWaveDriverCancelledContextHalts(t *testing.T) {
	daemon := startFakeDaemon(t)
	daemon.mu.Lock()
	daemon.busyLeft = 1000 // Never finishes on its own
	daemon.mu.Unlock()

	client := connectClient(t, daemon)
	driver := newDriver(t, daemon, client, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := driver.Transmit(ctx, testSchedule())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Transmit() error = %v, want DeadlineExceeded", err)
	}

	// Cancellation must halt the waveform and still clean up
	daemon.waitForCommand(cmdWVHlt)
	daemon.waitForCommand(cmdWVDel)
}

func TestWaveDriverEmptySchedule(t *testing.T) {
	daemon := startFakeDaemon(t)
	client := connectClient(t, daemon)
	driver := newDriver(t, daemon, client, false)

	before := len(daemon.recorded())
	if err := driver.Transmit(context.Background(), dali.Schedule{}); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if after := len(daemon.recorded()); after != before {
		t.Errorf("empty schedule issued %d commands", after-before)
	}
}
