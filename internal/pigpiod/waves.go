package pigpiod

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nerrad567/dali-core/internal/dali"
)

const (
	// wavePollInterval is how often the driver checks whether the
	// waveform has finished playing. Frames last 10-20ms, so 2ms
	// polling adds little latency without hammering the daemon.
	wavePollInterval = 2 * time.Millisecond

	// pulseSize is the wire size of one WVAG pulse:
	// gpioOn(4) + gpioOff(4) + usDelay(4), little-endian.
	pulseSize = 12
)

// WaveDriver transmits encoded frames through pigpio's waveform engine.
//
// The schedule's transitions become a DMA-timed pulse train, so bit
// timing is exact regardless of network or scheduling latency between
// this process and the daemon. The driver satisfies the transmitter's
// line driver contract.
//
// Invert maps bus levels to GPIO levels for transistor-based transmit
// circuits that pull the bus low when the GPIO is high. With Invert set,
// bus High writes GPIO 0.
type WaveDriver struct {
	client *Client
	gpio   uint32
	invert bool
}

// NewWaveDriver creates a driver for the given transmit GPIO.
//
// The GPIO is configured as an output and parked at the bus-idle level
// immediately, so the bus is not held low while the process starts up.
func NewWaveDriver(client *Client, gpio uint32, invert bool) (*WaveDriver, error) {
	d := &WaveDriver{
		client: client,
		gpio:   gpio,
		invert: invert,
	}

	if err := client.SetMode(gpio, ModeOutput); err != nil {
		return nil, fmt.Errorf("configuring tx pin %d: %w", gpio, err)
	}
	if err := client.Write(gpio, d.gpioLevel(dali.High)); err != nil {
		return nil, fmt.Errorf("parking tx pin %d idle: %w", gpio, err)
	}

	return d, nil
}

// gpioLevel maps a bus level to the GPIO output level.
func (d *WaveDriver) gpioLevel(level dali.Level) uint32 {
	high := level == dali.High
	if d.invert {
		high = !high
	}
	if high {
		return 1
	}
	return 0
}

// buildPulses converts a transition schedule into WVAG pulse records.
//
// Each pulse sets the pin to the transition's level and holds it until
// the next transition. Delays come from offset differences, so any
// rounding stays local to one pulse instead of accumulating.
func (d *WaveDriver) buildPulses(sched dali.Schedule) []byte {
	ext := make([]byte, 0, len(sched.Transitions)*pulseSize)

	for i, tr := range sched.Transitions {
		var on, off uint32
		if d.gpioLevel(tr.Level) == 1 {
			on = 1 << d.gpio
		} else {
			off = 1 << d.gpio
		}

		var delay time.Duration
		if i+1 < len(sched.Transitions) {
			delay = sched.Transitions[i+1].Offset - tr.Offset
		}

		var pulse [pulseSize]byte
		binary.LittleEndian.PutUint32(pulse[0:4], on)
		binary.LittleEndian.PutUint32(pulse[4:8], off)
		binary.LittleEndian.PutUint32(pulse[8:12], uint32(delay.Microseconds())) //nolint:gosec // delays are a few ms
		ext = append(ext, pulse[:]...)
	}

	return ext
}

// Transmit plays the schedule on the transmit GPIO and returns once the
// waveform has finished.
//
// Steps:
//  1. Clear any prior waveform state (WVCLR)
//  2. Load the pulse train (WVAG) and build it (WVCRE)
//  3. Start one-shot playback (WVTXM)
//  4. Poll until the engine goes idle (WVBSY)
//  5. Delete the waveform and restore the idle level
//
// If ctx is cancelled mid-playback the waveform is halted (WVHLT) and
// the pin restored to idle before returning, so an aborted transmit
// never leaves the bus held low.
func (d *WaveDriver) Transmit(ctx context.Context, sched dali.Schedule) error {
	if len(sched.Transitions) == 0 {
		return nil
	}

	if err := d.client.waveClear(); err != nil {
		return fmt.Errorf("clearing waveforms: %w", err)
	}
	if err := d.client.waveAddGeneric(d.buildPulses(sched)); err != nil {
		return fmt.Errorf("loading pulses: %w", err)
	}

	waveID, err := d.client.waveCreate()
	if err != nil {
		return fmt.Errorf("creating waveform: %w", err)
	}
	defer d.cleanup(waveID)

	if err := d.client.waveSendOnce(waveID); err != nil {
		return fmt.Errorf("starting waveform: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if err := d.client.waveHalt(); err != nil {
				d.client.logWarn("wave halt failed", "error", err)
			}
			return ctx.Err()
		case <-time.After(wavePollInterval):
		}

		busy, err := d.client.waveBusy()
		if err != nil {
			return fmt.Errorf("polling waveform: %w", err)
		}
		if !busy {
			return nil
		}
	}
}

// cleanup deletes the waveform and restores the idle line level.
func (d *WaveDriver) cleanup(waveID uint32) {
	if err := d.client.waveDelete(waveID); err != nil {
		d.client.logWarn("wave delete failed", "wave_id", waveID, "error", err)
	}
	if err := d.client.Write(d.gpio, d.gpioLevel(dali.High)); err != nil {
		d.client.logWarn("restoring idle level failed", "gpio", d.gpio, "error", err)
	}
}
