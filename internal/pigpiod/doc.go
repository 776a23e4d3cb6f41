// Package pigpiod is a client for the pigpio daemon's socket interface.
//
// pigpiod runs as a system service on the Raspberry Pi and exposes GPIO
// control over TCP (default port 8888). This package speaks the binary
// socket protocol directly: 16-byte little-endian command frames on a
// command connection, plus an optional second connection that streams
// 12-byte level-change reports after a NOIB handshake.
//
// Three concerns live here:
//
//   - Client: command connection (pin modes, writes, glitch filter, waves)
//   - EdgeStream: notification connection turning level reports into
//     timestamped edges for the decoder
//   - WaveDriver: plays a transition schedule through pigpio's DMA
//     waveform engine for microsecond-accurate transmit timing
//
// # Timing
//
// pigpiod timestamps reports with its own microsecond tick, a uint32 that
// wraps roughly every 72 minutes. EdgeStream anchors the first report
// against the wall clock and derives subsequent timestamps from tick
// deltas, so edge-to-edge intervals carry pigpiod's precision rather
// than network jitter.
//
// # Thread Safety
//
// Client serialises commands over its single connection with a mutex.
// EdgeStream and WaveDriver are safe for use from one goroutine each.
package pigpiod
