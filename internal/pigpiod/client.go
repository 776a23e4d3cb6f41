package pigpiod

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// pigpiod socket command codes.
// See http://abyz.me.uk/rpi/pigpio/sif.html for the full protocol.
const (
	cmdModes  = 0   // Set GPIO mode
	cmdWrite  = 4   // Write GPIO level
	cmdTick   = 16  // Current tick (microseconds since boot)
	cmdHWVer  = 17  // Hardware revision
	cmdNB     = 19  // Notify begin
	cmdNP     = 20  // Notify pause
	cmdNC     = 21  // Notify close
	cmdWVClr  = 27  // Clear waveform
	cmdWVAG   = 28  // Add generic pulses to waveform
	cmdWVBsy  = 32  // Waveform busy?
	cmdWVHlt  = 33  // Halt waveform
	cmdWVCre  = 49  // Create waveform
	cmdWVDel  = 50  // Delete waveform
	cmdFG     = 97  // Glitch filter
	cmdWVTxm  = 100 // Transmit waveform with mode
	cmdNOIB   = 99  // Notify open in-band
)

// GPIO modes for cmdModes.
const (
	ModeInput  = 0
	ModeOutput = 1
)

// Waveform transmit modes for cmdWVTxm.
const (
	wvModeOneShot = 0
)

// Default timeouts for pigpiod communication.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 5 * time.Second

	// commandFrameSize is the fixed size of a pigpiod command/response frame:
	// cmd(4) + p1(4) + p2(4) + p3/res(4), all little-endian.
	commandFrameSize = 16
)

// Config holds pigpiod connection configuration.
type Config struct {
	// Host is the pigpiod hostname or IP. Default: localhost.
	Host string

	// Port is the pigpiod TCP port. Default: 8888.
	Port int

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// CommandTimeout is the per-command round-trip timeout.
	// Default: 5 seconds.
	CommandTimeout time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Client provides the command connection to pigpiod.
//
// All commands share one TCP connection; the daemon answers each 16-byte
// request with a 16-byte response, so a mutex serialises round trips.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	cfg  Config
	conn net.Conn

	// mu serialises command round trips on the shared connection.
	mu        sync.Mutex
	connected bool

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect establishes the command connection to pigpiod.
//
// After dialling it issues a HWVER command to verify the daemon is
// actually pigpiod and not some other service on the port.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If connection or verification fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8888
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		connected: true,
	}

	// Verify we are talking to pigpiod
	if _, err := c.HardwareRevision(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: verification failed: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// command performs a single 16-byte command round trip.
// The returned value is pigpiod's res field, which is negative on error.
func (c *Client) command(cmd, p1, p2 uint32) (int32, error) {
	return c.commandExt(cmd, p1, p2, nil)
}

// commandExt performs a command round trip with an extension payload.
// For extended commands p3 carries the extension length.
func (c *Client) commandExt(cmd, p1, p2 uint32, ext []byte) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return 0, ErrNotConnected
	}

	frame := make([]byte, commandFrameSize, commandFrameSize+len(ext))
	binary.LittleEndian.PutUint32(frame[0:4], cmd)
	binary.LittleEndian.PutUint32(frame[4:8], p1)
	binary.LittleEndian.PutUint32(frame[8:12], p2)
	binary.LittleEndian.PutUint32(frame[12:16], uint32(len(ext))) //nolint:gosec // extension sizes are small
	frame = append(frame, ext...)

	deadline := time.Now().Add(c.cfg.CommandTimeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := c.conn.Write(frame); err != nil {
		c.connected = false
		return 0, fmt.Errorf("write command %d: %w", cmd, err)
	}

	var resp [commandFrameSize]byte
	if _, err := io.ReadFull(c.conn, resp[:]); err != nil {
		c.connected = false
		return 0, fmt.Errorf("read response to command %d: %w", cmd, err)
	}

	res := int32(binary.LittleEndian.Uint32(resp[12:16])) //nolint:gosec // res is a signed field per protocol
	return res, nil
}

// checkResult converts a negative pigpiod status into an error.
func checkResult(name string, res int32, err error) error {
	if err != nil {
		return err
	}
	if res < 0 {
		return fmt.Errorf("%w: %s returned %d", ErrCommandFailed, name, res)
	}
	return nil
}

// SetMode configures a GPIO as input or output.
func (c *Client) SetMode(gpio uint32, mode uint32) error {
	res, err := c.command(cmdModes, gpio, mode)
	return checkResult("MODES", res, err)
}

// Write sets the output level of a GPIO (0 or 1).
func (c *Client) Write(gpio uint32, level uint32) error {
	res, err := c.command(cmdWrite, gpio, level)
	return checkResult("WRITE", res, err)
}

// SetGlitchFilter requires a GPIO level to be stable for steady
// microseconds before a level change is reported. This suppresses
// sub-microsecond noise spikes that would otherwise reach the decoder.
func (c *Client) SetGlitchFilter(gpio uint32, steady uint32) error {
	res, err := c.command(cmdFG, gpio, steady)
	return checkResult("FG", res, err)
}

// CurrentTick returns pigpiod's microsecond tick counter.
// The tick is a uint32 that wraps roughly every 72 minutes.
func (c *Client) CurrentTick() (uint32, error) {
	res, err := c.command(cmdTick, 0, 0)
	if err != nil {
		return 0, err
	}
	// TICK's result is an unsigned tick even when the top bit is set.
	return uint32(res), nil
}

// HardwareRevision returns the Pi's hardware revision as reported by pigpiod.
func (c *Client) HardwareRevision() (uint32, error) {
	res, err := c.command(cmdHWVer, 0, 0)
	if err != nil {
		return 0, err
	}
	return uint32(res), nil
}

// notifyBegin starts notifications for the GPIO set in bits on the
// given notification handle.
func (c *Client) notifyBegin(handle uint32, bits uint32) error {
	res, err := c.command(cmdNB, handle, bits)
	return checkResult("NB", res, err)
}

// notifyClose releases a notification handle.
func (c *Client) notifyClose(handle uint32) error {
	res, err := c.command(cmdNC, handle, 0)
	return checkResult("NC", res, err)
}

// waveClear deletes all waveforms and pulse data.
func (c *Client) waveClear() error {
	res, err := c.command(cmdWVClr, 0, 0)
	return checkResult("WVCLR", res, err)
}

// waveAddGeneric appends pulses to the waveform under construction.
func (c *Client) waveAddGeneric(ext []byte) error {
	res, err := c.commandExt(cmdWVAG, 0, 0, ext)
	return checkResult("WVAG", res, err)
}

// waveCreate builds a waveform from the added pulses and returns its id.
func (c *Client) waveCreate() (uint32, error) {
	res, err := c.command(cmdWVCre, 0, 0)
	if err := checkResult("WVCRE", res, err); err != nil {
		return 0, err
	}
	return uint32(res), nil
}

// waveSendOnce transmits a waveform a single time.
func (c *Client) waveSendOnce(waveID uint32) error {
	res, err := c.command(cmdWVTxm, waveID, wvModeOneShot)
	return checkResult("WVTXM", res, err)
}

// waveBusy reports whether a waveform is still being transmitted.
func (c *Client) waveBusy() (bool, error) {
	res, err := c.command(cmdWVBsy, 0, 0)
	if err := checkResult("WVBSY", res, err); err != nil {
		return false, err
	}
	return res != 0, nil
}

// waveHalt aborts the waveform currently being transmitted.
func (c *Client) waveHalt() error {
	res, err := c.command(cmdWVHlt, 0, 0)
	return checkResult("WVHLT", res, err)
}

// waveDelete releases a waveform's resources.
func (c *Client) waveDelete(waveID uint32) error {
	res, err := c.command(cmdWVDel, waveID, 0)
	return checkResult("WVDEL", res, err)
}

// HealthCheck verifies the daemon still answers commands.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if _, err := c.HardwareRevision(); err != nil {
		return fmt.Errorf("pigpiod health check failed: %w", err)
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Close shuts down the command connection.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("closing pigpiod connection: %w", err)
		}
	}
	return nil
}

// logWarn logs a warning if a logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
