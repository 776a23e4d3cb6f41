package pigpiod

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/dali-core/internal/dali"
)

// Notification report flags.
const (
	// flagWatchdog marks a watchdog timeout report rather than a level change.
	flagWatchdog = 1 << 5

	// flagAlive marks a keepalive report sent during quiet periods.
	flagAlive = 1 << 6

	// flagEvent marks an event report (unused here).
	flagEvent = 1 << 7
)

const (
	// reportSize is the size of one notification report:
	// seqno(2) + flags(2) + tick(4) + level(4), little-endian.
	reportSize = 12

	// edgeBufferSize is the edge channel capacity. At 1200 baud a frame
	// is at most 50 edges, so this holds several frames of backlog.
	edgeBufferSize = 256
)

// EdgeStreamStats holds operational statistics for an EdgeStream.
type EdgeStreamStats struct {
	EdgesRx  uint64
	Dropped  uint64 // Edges dropped due to full channel
	SeqGaps  uint64 // Sequence number gaps (daemon-side loss)
}

// EdgeStream delivers timestamped level changes for a single GPIO.
//
// It owns a dedicated TCP connection to pigpiod: after a NOIB handshake
// the daemon streams 12-byte reports in-band on that connection. The
// stream converts reports into edges and delivers them on a buffered
// channel, satisfying the monitor's edge source contract.
//
// Loss is never silent: a sequence number gap in the report stream or a
// full edge channel marks the next delivered edge as an overrun, so the
// decoder can discard the frame in progress instead of mis-assembling it.
type EdgeStream struct {
	client *Client
	conn   net.Conn
	handle uint32
	gpio   uint32

	edges chan dali.Edge

	// Tick-to-wall-clock anchoring. Ticks are uint32 microseconds and
	// wrap every ~72 minutes; advancing from the previous tick with
	// unsigned subtraction keeps timestamps monotonic across wraps.
	lastTick uint32
	lastTime time.Time
	anchored bool

	// Report stream state.
	lastSeq        uint16
	haveSeq        bool
	lastLevel      int8 // -1 until the first report establishes a level
	pendingOverrun bool

	done     chan struct{}
	onceDone sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	edgesRx atomic.Uint64
	dropped atomic.Uint64
	seqGaps atomic.Uint64
}

// OpenEdgeStream starts watching a GPIO for level changes.
//
// It dials a second connection to pigpiod, opens an in-band notification
// handle on it (NOIB), and enables reports for the given GPIO via the
// command connection (NB). The returned stream's Edges channel closes
// when the stream is closed or the connection drops.
//
// Parameters:
//   - ctx: Context for cancellation (used for the dial and handshake)
//   - gpio: The GPIO number to watch (the DALI receive pin)
//
// Returns:
//   - *EdgeStream: Running stream delivering edges
//   - error: If the dial, NOIB, or NB step fails
func (c *Client) OpenEdgeStream(ctx context.Context, gpio uint32) (*EdgeStream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	// NOIB must be issued on the connection that will carry the reports.
	handle, err := openNotifyHandle(conn, c.cfg.CommandTimeout)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: NOIB: %w", ErrConnectionFailed, err)
	}

	// Enable reports for our GPIO via the command connection.
	if err := c.notifyBegin(handle, 1<<gpio); err != nil {
		conn.Close()
		return nil, err
	}

	s := &EdgeStream{
		client:    c,
		conn:      conn,
		handle:    handle,
		gpio:      gpio,
		edges:     make(chan dali.Edge, edgeBufferSize),
		lastLevel: -1,
		done:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// openNotifyHandle performs the NOIB round trip on a fresh connection.
func openNotifyHandle(conn net.Conn, timeout time.Duration) (uint32, error) {
	var frame [commandFrameSize]byte
	binary.LittleEndian.PutUint32(frame[0:4], cmdNOIB)

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(frame[:]); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}

	var resp [commandFrameSize]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}

	res := int32(binary.LittleEndian.Uint32(resp[12:16])) //nolint:gosec // res is a signed field per protocol
	if res < 0 {
		return 0, fmt.Errorf("%w: NOIB returned %d", ErrCommandFailed, res)
	}

	// Clear the handshake deadline; reports arrive whenever the line moves.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return 0, fmt.Errorf("clear deadline: %w", err)
	}

	return uint32(res), nil
}

// Edges returns the channel of observed level changes.
// The channel is closed when the stream stops.
func (s *EdgeStream) Edges() <-chan dali.Edge {
	return s.edges
}

// readLoop reads reports until the stream is closed or the connection drops.
func (s *EdgeStream) readLoop() {
	defer s.wg.Done()
	defer close(s.edges)

	buf := make([]byte, reportSize)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if _, err := io.ReadFull(s.conn, buf); err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logWarn("notification stream read failed", "error", err)
			return
		}

		s.handleReport(
			binary.LittleEndian.Uint16(buf[0:2]),
			binary.LittleEndian.Uint16(buf[2:4]),
			binary.LittleEndian.Uint32(buf[4:8]),
			binary.LittleEndian.Uint32(buf[8:12]),
		)
	}
}

// handleReport processes one notification report.
func (s *EdgeStream) handleReport(seqno, flags uint16, tick, level uint32) {
	// Sequence numbers increment on every report, keepalives included.
	// A gap means the daemon dropped reports: the edge record is
	// incomplete and whatever frame is in flight cannot be trusted.
	if s.haveSeq && seqno != s.lastSeq+1 {
		s.seqGaps.Add(1)
		s.pendingOverrun = true
	}
	s.lastSeq = seqno
	s.haveSeq = true

	s.advanceClock(tick)

	if flags&(flagWatchdog|flagAlive|flagEvent) != 0 {
		return // Keepalive or watchdog, not a level change
	}

	bit := int8(0)
	if level&(1<<s.gpio) != 0 {
		bit = 1
	}

	// The first report is pigpiod's snapshot of current levels, not a
	// transition. Later reports with an unchanged bit are changes on
	// other GPIOs that happen to share the notification handle.
	if s.lastLevel == bit {
		return
	}
	first := s.lastLevel < 0
	s.lastLevel = bit
	if first {
		return
	}

	lvl := dali.Low
	if bit == 1 {
		lvl = dali.High
	}

	s.deliver(dali.Edge{
		Timestamp: s.lastTime,
		Level:     lvl,
		Overrun:   s.pendingOverrun,
	})
}

// advanceClock moves the wall-clock anchor forward by the tick delta.
func (s *EdgeStream) advanceClock(tick uint32) {
	if !s.anchored {
		s.lastTick = tick
		s.lastTime = time.Now()
		s.anchored = true
		return
	}
	dt := tick - s.lastTick // uint32 arithmetic survives the 72-minute wrap
	s.lastTick = tick
	s.lastTime = s.lastTime.Add(time.Duration(dt) * time.Microsecond)
}

// deliver sends an edge without blocking the read loop.
// A full channel drops the edge and flags the next one as an overrun.
func (s *EdgeStream) deliver(e dali.Edge) {
	select {
	case s.edges <- e:
		s.edgesRx.Add(1)
		s.pendingOverrun = false
	default:
		s.dropped.Add(1)
		s.pendingOverrun = true
		s.logWarn("edge channel full, dropping edge", "gpio", s.gpio)
	}
}

// isClosed returns true once Close has been called.
func (s *EdgeStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// SetLogger sets the logger for this stream.
func (s *EdgeStream) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Stats returns current operational statistics.
func (s *EdgeStream) Stats() EdgeStreamStats {
	return EdgeStreamStats{
		EdgesRx: s.edgesRx.Load(),
		Dropped: s.dropped.Load(),
		SeqGaps: s.seqGaps.Load(),
	}
}

// Close stops the stream and releases the notification handle.
// Safe to call multiple times.
func (s *EdgeStream) Close() error {
	s.onceDone.Do(func() { close(s.done) })

	// Best effort: the command connection may already be gone.
	if err := s.client.notifyClose(s.handle); err != nil {
		s.logWarn("notify close failed", "handle", s.handle, "error", err)
	}

	err := s.conn.Close()
	s.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing notification connection: %w", err)
	}
	return nil
}

// logWarn logs a warning if a logger is set.
func (s *EdgeStream) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
