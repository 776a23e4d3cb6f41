package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/dali-core/internal/dali"
	"github.com/nerrad567/dali-core/internal/infrastructure/config"
	"github.com/nerrad567/dali-core/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandQoS is the QoS for command subscriptions and state publishes.
	commandQoS = 1

	// sendAttempts is how many times a frame is tried against a busy bus.
	sendAttempts = 3

	// commandTimeout bounds the handling of one MQTT command, ramps included.
	commandTimeout = 10 * time.Second

	// interFrameDelay separates frames of a multi-frame command sequence,
	// giving gear time to latch each data transfer register write.
	interFrameDelay = 100 * time.Millisecond

	// rampStep is the arc power increment per ramp tick.
	rampStep = 16
)

// Sender puts a frame on the bus. Satisfied by the transmitter.
type Sender interface {
	Send(ctx context.Context, f dali.Frame) error
}

// MQTTClient is the broker surface the bridge needs.
// main adapts the infrastructure client to this interface.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

// FrameLog persists bus activity. Optional; satisfied by Recorder.
type FrameLog interface {
	RecordFrame(ctx context.Context, direction string, f dali.Frame, at time.Time) error
	RecordDecodeError(ctx context.Context, e *dali.DecodeError) error
}

// Metrics counts bus activity in the time-series store. Optional;
// satisfied by the InfluxDB client.
type Metrics interface {
	WriteBusFrame(direction string, bits int, code uint32)
	WriteDecodeError(kind string, position int)
	WriteTransmit(result string, airtime time.Duration)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// light tracks the last state the bridge commanded for one configured light.
// DALI gear does not report arc power unprompted, so this is the bridge's
// best knowledge of the bus state.
type light struct {
	id   string
	addr Address

	mu    sync.Mutex
	on    bool
	level uint8
}

// Options holds everything needed to create a bridge.
type Options struct {
	// Config is the bridge section of config.yaml.
	Config config.BridgeConfig

	// MQTT is the broker client.
	MQTT MQTTClient

	// Sender transmits frames on the bus.
	Sender Sender

	// Events is the monitor's output: decoded frames and decode errors.
	Events <-chan dali.Event

	// Settle is the bus settling time, used as the busy-retry wait.
	Settle time.Duration

	// RampDelay is the pause between brightness ramp steps.
	RampDelay time.Duration

	// Log is optional frame persistence.
	Log FrameLog

	// Metrics is optional telemetry.
	Metrics Metrics

	// Logger is optional structured logging.
	Logger Logger
}

// Bridge wires MQTT light commands to the bus and bus events to MQTT.
//
// Thread Safety: all methods are safe for concurrent use. Command
// handlers run on the MQTT client's goroutines; per-light state has its
// own lock so commands for different lights do not serialise.
type Bridge struct {
	cfg     config.BridgeConfig
	mqtt    MQTTClient
	sender  Sender
	events  <-chan dali.Event
	log     FrameLog
	metrics Metrics
	topics  mqtt.Topics

	settle    time.Duration
	rampDelay time.Duration

	lights map[string]*light

	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("event source is required")
	}

	lights := make(map[string]*light, len(opts.Config.Lights))
	for _, lc := range opts.Config.Lights {
		addr, err := ParseAddress(lc.Address)
		if err != nil {
			return nil, fmt.Errorf("light %q: %w", lc.ID, err)
		}
		lights[lc.ID] = &light{id: lc.ID, addr: addr}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTT,
		sender:    opts.Sender,
		events:    opts.Events,
		log:       opts.Log,
		metrics:   opts.Metrics,
		settle:    opts.Settle,
		rampDelay: opts.RampDelay,
		lights:    lights,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}, nil
}

// Start subscribes to the command topics and begins pumping bus events
// to MQTT. Initial OFF states are published retained so controllers see
// a defined state before the first command.
func (b *Bridge) Start() error {
	for _, l := range b.lights {
		l := l
		if err := b.mqtt.Subscribe(b.topics.LightSet(l.id), commandQoS,
			func(_ string, payload []byte) error { return b.handleSet(l, payload) },
		); err != nil {
			return fmt.Errorf("subscribe %s: %w", l.id, err)
		}
		if err := b.mqtt.Subscribe(b.topics.LightBrightnessSet(l.id), commandQoS,
			func(_ string, payload []byte) error { return b.handleBrightness(l, payload) },
		); err != nil {
			return fmt.Errorf("subscribe %s brightness: %w", l.id, err)
		}
		if err := b.mqtt.Subscribe(b.topics.LightColorTempSet(l.id), commandQoS,
			func(_ string, payload []byte) error { return b.handleColorTemp(l, payload) },
		); err != nil {
			return fmt.Errorf("subscribe %s color temperature: %w", l.id, err)
		}

		b.publishLightState(l)
	}

	b.wg.Add(1)
	go b.pumpEvents()

	b.logInfo("bridge started", "lights", len(b.lights))
	return nil
}

// Stop shuts the bridge down and waits for in-flight work.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// handleSet processes an ON/OFF command.
func (b *Bridge) handleSet(l *light, payload []byte) error {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON":
		l.mu.Lock()
		alreadyOn := l.on
		l.mu.Unlock()
		if alreadyOn {
			return nil
		}
		if err := b.sendWithRetry(ctx, l.addr.DirectArcPower(levelFull)); err != nil {
			return err
		}
		l.mu.Lock()
		l.on = true
		l.level = levelFull
		l.mu.Unlock()

	case "OFF":
		if err := b.sendWithRetry(ctx, l.addr.DirectArcPower(levelOff)); err != nil {
			return err
		}
		l.mu.Lock()
		l.on = false
		l.level = levelOff
		l.mu.Unlock()

	default:
		return fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}

	b.publishLightState(l)
	return nil
}

// handleBrightness ramps the light to the requested arc power level.
func (b *Bridge) handleBrightness(l *light, payload []byte) error {
	target, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil || target < 0 || target > 255 {
		return fmt.Errorf("%w: brightness %q", ErrInvalidPayload, payload)
	}
	if target > levelFull {
		target = levelFull // 255 is reserved on the bus
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	l.mu.Lock()
	current := int(l.level)
	l.mu.Unlock()

	for current != target {
		switch {
		case current < target:
			current += rampStep
			if current > target {
				current = target
			}
		default:
			current -= rampStep
			if current < target {
				current = target
			}
		}

		if err := b.sendWithRetry(ctx, l.addr.DirectArcPower(uint8(current))); err != nil {
			return err
		}

		if current != target {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.rampDelay):
			}
		}
	}

	l.mu.Lock()
	l.level = uint8(target)
	l.on = target > 0
	l.mu.Unlock()

	b.publishLightState(l)
	return nil
}

// handleColorTemp processes a colour temperature command in mireds.
func (b *Bridge) handleColorTemp(l *light, payload []byte) error {
	mired, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return fmt.Errorf("%w: color temperature %q", ErrInvalidPayload, payload)
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	frames := ColorTemperatureSequence(mired)
	for i, f := range frames {
		if err := b.sendWithRetry(ctx, f); err != nil {
			return err
		}
		if i+1 < len(frames) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interFrameDelay):
			}
		}
	}

	l.mu.Lock()
	l.on = true
	l.level = levelFull
	l.mu.Unlock()

	clamped := ClampMired(mired)
	b.publish(b.topics.LightColorTempState(l.id), []byte(strconv.Itoa(clamped)), true)
	b.publishLightState(l)
	return nil
}

// sendWithRetry transmits a frame, waiting out a busy bus.
//
// A busy result means received traffic or another transmit holds the
// line; one settling period is the natural wait before the next look.
func (b *Bridge) sendWithRetry(ctx context.Context, f dali.Frame) error {
	var lastErr error

	for attempt := 0; attempt < sendAttempts; attempt++ {
		start := time.Now()
		err := b.sender.Send(ctx, f)
		if err == nil {
			b.recordTransmit(f, time.Since(start))
			return nil
		}
		lastErr = err

		switch {
		case errors.Is(err, dali.ErrBusBusy):
			b.countTransmit("busy", 0)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrSendFailed, f, ctx.Err())
			case <-time.After(b.settle):
			}
		case errors.Is(err, dali.ErrTimeout):
			b.countTransmit("timeout", time.Since(start))
			return fmt.Errorf("%w: %s: %w", ErrSendFailed, f, err)
		default:
			b.countTransmit("error", time.Since(start))
			return fmt.Errorf("%w: %s: %w", ErrSendFailed, f, err)
		}
	}

	b.logWarn("bus stayed busy, giving up", "frame", f.String(), "attempts", sendAttempts)
	return fmt.Errorf("%w: %s: %w", ErrSendFailed, f, lastErr)
}

// recordTransmit logs and counts a successful transmit.
func (b *Bridge) recordTransmit(f dali.Frame, airtime time.Duration) {
	b.countTransmit("ok", airtime)
	if b.log != nil {
		if err := b.log.RecordFrame(b.ctx, "tx", f, time.Now()); err != nil {
			b.logWarn("frame log write failed", "error", err)
		}
	}
	if b.metrics != nil {
		b.metrics.WriteBusFrame("tx", int(f.Length), f.Code)
	}
}

func (b *Bridge) countTransmit(result string, airtime time.Duration) {
	if b.metrics != nil {
		b.metrics.WriteTransmit(result, airtime)
	}
}

// busFrameMessage is the JSON shape published for decoded frames.
type busFrameMessage struct {
	Code string    `json:"code"`
	Bits int       `json:"bits"`
	At   time.Time `json:"at"`
}

// busErrorMessage is the JSON shape published for decode errors.
type busErrorMessage struct {
	Kind     string    `json:"kind"`
	Position int       `json:"position"`
	At       time.Time `json:"at"`
}

// pumpEvents forwards monitor output to MQTT, SQLite, and InfluxDB.
func (b *Bridge) pumpEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			switch {
			case ev.Frame != nil:
				b.handleBusFrame(ev.Frame)
			case ev.Err != nil:
				b.handleBusError(ev.Err)
			}
		}
	}
}

// handleBusFrame publishes and records one decoded frame.
func (b *Bridge) handleBusFrame(f *dali.Frame) {
	msg, err := json.Marshal(busFrameMessage{
		Code: fmt.Sprintf("0x%0*X", (int(f.Length)+3)/4, f.Code),
		Bits: int(f.Length),
		At:   f.Start,
	})
	if err == nil {
		b.publish(b.topics.BusRx(), msg, false)
	}

	if b.log != nil {
		if err := b.log.RecordFrame(b.ctx, "rx", *f, f.Start); err != nil {
			b.logWarn("frame log write failed", "error", err)
		}
	}
	if b.metrics != nil {
		b.metrics.WriteBusFrame("rx", int(f.Length), f.Code)
	}

	b.logDebug("frame received", "frame", f.String())
}

// handleBusError publishes and records one decode failure.
func (b *Bridge) handleBusError(e *dali.DecodeError) {
	msg, err := json.Marshal(busErrorMessage{
		Kind:     e.Kind.String(),
		Position: e.Position,
		At:       e.At,
	})
	if err == nil {
		b.publish(b.topics.BusDecodeError(), msg, false)
	}

	if b.log != nil {
		if err := b.log.RecordDecodeError(b.ctx, e); err != nil {
			b.logWarn("decode error log write failed", "error", err)
		}
	}
	if b.metrics != nil {
		b.metrics.WriteDecodeError(e.Kind.String(), e.Position)
	}

	b.logWarn("decode error", "kind", e.Kind.String(), "position", e.Position)
}

// publishLightState publishes the retained ON/OFF and brightness state.
func (b *Bridge) publishLightState(l *light) {
	l.mu.Lock()
	on, level := l.on, l.level
	l.mu.Unlock()

	state := "OFF"
	if on {
		state = "ON"
	}
	b.publish(b.topics.LightState(l.id), []byte(state), true)
	b.publish(b.topics.LightBrightnessState(l.id), []byte(strconv.Itoa(int(level))), true)
}

// publish sends a message, logging failures rather than propagating them.
func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, commandQoS, retained); err != nil {
		b.logWarn("publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}
