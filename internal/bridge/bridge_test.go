package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/dali-core/internal/dali"
	"github.com/nerrad567/dali-core/internal/infrastructure/config"
)

// fakeSender records sent frames and plays back scripted errors.
type fakeSender struct {
	mu     sync.Mutex
	frames []dali.Frame
	script []error // Consumed per call; nil entries mean success
}

func (s *fakeSender) Send(_ context.Context, f dali.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if len(s.script) > 0 {
		err = s.script[0]
		s.script = s.script[1:]
	}
	if err == nil {
		s.frames = append(s.frames, f)
	}
	return err
}

func (s *fakeSender) sent() []dali.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dali.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// fakeMQTT captures publishes and lets tests invoke subscription handlers.
type fakeMQTT struct {
	mu        sync.Mutex
	handlers  map[string]func(topic string, payload []byte) error
	published map[string][][]byte
	retained  map[string][]byte
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		handlers:  make(map[string]func(topic string, payload []byte) error),
		published: make(map[string][][]byte),
		retained:  make(map[string][]byte),
	}
}

func (m *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic] = append(m.published[topic], payload)
	if retained {
		m.retained[topic] = payload
	}
	return nil
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler func(topic string, payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// command invokes the handler registered for a topic, as the broker would.
func (m *fakeMQTT) command(t *testing.T, topic string, payload string) error {
	t.Helper()
	m.mu.Lock()
	handler := m.handlers[topic]
	m.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler subscribed for %s", topic)
	}
	return handler(topic, []byte(payload))
}

// lastRetained returns the retained payload on a topic, if any.
func (m *fakeMQTT) lastRetained(topic string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.retained[topic]
	return string(p), ok
}

// waitPublished polls until at least one message lands on a topic.
func (m *fakeMQTT) waitPublished(t *testing.T, topic string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		msgs := m.published[topic]
		m.mu.Unlock()
		if len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nothing published on %s", topic)
	return nil
}

type testHarness struct {
	bridge *Bridge
	mqtt   *fakeMQTT
	sender *fakeSender
	events chan dali.Event
}

func newTestBridge(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		mqtt:   newFakeMQTT(),
		sender: &fakeSender{},
		events: make(chan dali.Event, 8),
	}

	b, err := NewBridge(Options{
		Config: config.BridgeConfig{
			Enabled: true,
			Lights: []config.LightConfig{
				{ID: "hall", Address: "broadcast"},
				{ID: "desk", Address: "5"},
			},
		},
		MQTT:      h.mqtt,
		Sender:    h.sender,
		Events:    h.events,
		Settle:    time.Millisecond,
		RampDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	h.bridge = b
	return h
}

func TestBridgeRejectsBadLightAddress(t *testing.T) {
	_, err := NewBridge(Options{
		Config: config.BridgeConfig{
			Lights: []config.LightConfig{{ID: "bad", Address: "junk"}},
		},
		MQTT:   newFakeMQTT(),
		Sender: &fakeSender{},
		Events: make(chan dali.Event),
	})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("NewBridge() error = %v, want ErrInvalidAddress", err)
	}
}

func TestBridgeTurnOn(t *testing.T) {
	h := newTestBridge(t)

	if err := h.mqtt.command(t, "dalicore/light/hall/set", "ON"); err != nil {
		t.Fatalf("ON command error = %v", err)
	}

	sent := h.sender.sent()
	if len(sent) != 1 || sent[0].Code != 0xFEFE {
		t.Fatalf("sent = %v, want one 0xFEFE frame", sent)
	}

	if state, _ := h.mqtt.lastRetained("dalicore/light/hall/state"); state != "ON" {
		t.Errorf("retained state = %q, want ON", state)
	}
	if level, _ := h.mqtt.lastRetained("dalicore/light/hall/brightness/state"); level != "254" {
		t.Errorf("retained brightness = %q, want 254", level)
	}

	// A second ON while already on must not touch the bus
	if err := h.mqtt.command(t, "dalicore/light/hall/set", "ON"); err != nil {
		t.Fatalf("repeat ON error = %v", err)
	}
	if got := len(h.sender.sent()); got != 1 {
		t.Errorf("frames after repeat ON = %d, want 1", got)
	}
}

func TestBridgeTurnOff(t *testing.T) {
	h := newTestBridge(t)

	if err := h.mqtt.command(t, "dalicore/light/hall/set", "OFF"); err != nil {
		t.Fatalf("OFF command error = %v", err)
	}

	sent := h.sender.sent()
	if len(sent) != 1 || sent[0].Code != 0xFE00 {
		t.Fatalf("sent = %v, want one 0xFE00 frame", sent)
	}
	if state, _ := h.mqtt.lastRetained("dalicore/light/hall/state"); state != "OFF" {
		t.Errorf("retained state = %q, want OFF", state)
	}
}

func TestBridgeShortAddressCommands(t *testing.T) {
	h := newTestBridge(t)

	if err := h.mqtt.command(t, "dalicore/light/desk/set", "ON"); err != nil {
		t.Fatalf("ON command error = %v", err)
	}

	sent := h.sender.sent()
	// Short address 5 shifts into bits 6-1: 0x0A, then full level
	if len(sent) != 1 || sent[0].Code != 0x0AFE {
		t.Fatalf("sent = %v, want one 0x0AFE frame", sent)
	}
}

func TestBridgeInvalidPayload(t *testing.T) {
	h := newTestBridge(t)

	if err := h.mqtt.command(t, "dalicore/light/hall/set", "TOGGLE"); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("TOGGLE error = %v, want ErrInvalidPayload", err)
	}
	if err := h.mqtt.command(t, "dalicore/light/hall/brightness/set", "bright"); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("brightness error = %v, want ErrInvalidPayload", err)
	}
	if got := len(h.sender.sent()); got != 0 {
		t.Errorf("frames sent for invalid payloads = %d, want 0", got)
	}
}

func TestBridgeBrightnessRamp(t *testing.T) {
	h := newTestBridge(t)

	if err := h.mqtt.command(t, "dalicore/light/hall/brightness/set", "64"); err != nil {
		t.Fatalf("brightness command error = %v", err)
	}

	// From 0 in steps of 16: 16, 32, 48, 64
	sent := h.sender.sent()
	wantLevels := []uint32{16, 32, 48, 64}
	if len(sent) != len(wantLevels) {
		t.Fatalf("ramp sent %d frames, want %d", len(sent), len(wantLevels))
	}
	for i, want := range wantLevels {
		if got := sent[i].Code & 0xFF; got != want {
			t.Errorf("ramp step %d level = %d, want %d", i, got, want)
		}
		if addr := sent[i].Code >> 8; addr != 0xFE {
			t.Errorf("ramp step %d address byte = %#02X, want 0xFE", i, addr)
		}
	}

	if level, _ := h.mqtt.lastRetained("dalicore/light/hall/brightness/state"); level != "64" {
		t.Errorf("retained brightness = %q, want 64", level)
	}
	if state, _ := h.mqtt.lastRetained("dalicore/light/hall/state"); state != "ON" {
		t.Errorf("retained state = %q, want ON", state)
	}
}

func TestBridgeBrightnessZeroTurnsOff(t *testing.T) {
	h := newTestBridge(t)

	if err := h.mqtt.command(t, "dalicore/light/hall/set", "ON"); err != nil {
		t.Fatalf("ON error = %v", err)
	}
	if err := h.mqtt.command(t, "dalicore/light/hall/brightness/set", "0"); err != nil {
		t.Fatalf("brightness 0 error = %v", err)
	}

	if state, _ := h.mqtt.lastRetained("dalicore/light/hall/state"); state != "OFF" {
		t.Errorf("retained state = %q, want OFF", state)
	}
}

func TestBridgeBusyRetrySucceeds(t *testing.T) {
	h := newTestBridge(t)
	h.sender.script = []error{dali.ErrBusBusy, nil}

	if err := h.mqtt.command(t, "dalicore/light/hall/set", "ON"); err != nil {
		t.Fatalf("ON with one busy = %v, want success", err)
	}
	if got := len(h.sender.sent()); got != 1 {
		t.Errorf("frames delivered = %d, want 1", got)
	}
}

func TestBridgeBusyGivesUp(t *testing.T) {
	h := newTestBridge(t)
	h.sender.script = []error{dali.ErrBusBusy, dali.ErrBusBusy, dali.ErrBusBusy}

	err := h.mqtt.command(t, "dalicore/light/hall/set", "ON")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("error = %v, want ErrSendFailed", err)
	}
	if !errors.Is(err, dali.ErrBusBusy) {
		t.Errorf("error = %v, want wrapped ErrBusBusy", err)
	}
}

func TestBridgeTimeoutDoesNotRetry(t *testing.T) {
	h := newTestBridge(t)
	h.sender.script = []error{fmt.Errorf("transmitting frame(16,0xFEFE): %w", dali.ErrTimeout), nil}

	err := h.mqtt.command(t, "dalicore/light/hall/set", "ON")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("error = %v, want ErrSendFailed", err)
	}
	// The scripted nil was never consumed: no retry happened
	if got := len(h.sender.sent()); got != 0 {
		t.Errorf("frames delivered = %d, want 0", got)
	}
}

func TestBridgeColorTemperature(t *testing.T) {
	h := newTestBridge(t)

	if err := h.mqtt.command(t, "dalicore/light/hall/color_temperature/set", "200"); err != nil {
		t.Fatalf("color temperature command error = %v", err)
	}

	sent := h.sender.sent()
	want := []uint32{0xFEFE, 0xA3C6, 0xC301, 0xC108, 0xFFE7, 0xC108, 0xFFE2}
	if len(sent) != len(want) {
		t.Fatalf("sent %d frames, want %d", len(sent), len(want))
	}
	for i, w := range want {
		if sent[i].Code != w {
			t.Errorf("frame %d = %#04X, want %#04X", i, sent[i].Code, w)
		}
	}

	if ct, _ := h.mqtt.lastRetained("dalicore/light/hall/color_temperature/state"); ct != "200" {
		t.Errorf("retained color temperature = %q, want 200", ct)
	}
}

func TestBridgePublishesDecodedFrames(t *testing.T) {
	h := newTestBridge(t)

	frame := dali.NewForwardFrame(0xFE, 0x00)
	frame.Start = time.Now()
	h.events <- dali.Event{Frame: &frame}

	msg := string(h.mqtt.waitPublished(t, "dalicore/bus/rx"))
	if want := `"code":"0xFE00"`; !strings.Contains(msg, want) {
		t.Errorf("bus rx message %s missing %s", msg, want)
	}
	if want := `"bits":16`; !strings.Contains(msg, want) {
		t.Errorf("bus rx message %s missing %s", msg, want)
	}
}

func TestBridgePublishesDecodeErrors(t *testing.T) {
	h := newTestBridge(t)

	h.events <- dali.Event{Err: &dali.DecodeError{
		Kind:     dali.KindPhase,
		Position: 7,
		At:       time.Now(),
	}}

	msg := string(h.mqtt.waitPublished(t, "dalicore/bus/error"))
	if want := `"kind":"phase_violation"`; !strings.Contains(msg, want) {
		t.Errorf("bus error message %s missing %s", msg, want)
	}
	if want := `"position":7`; !strings.Contains(msg, want) {
		t.Errorf("bus error message %s missing %s", msg, want)
	}
}
