package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteBusFrame records a decoded or transmitted frame on the DALI bus.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - direction: "rx" for frames observed on the bus, "tx" for frames we sent
//   - bits: Frame length in bits (8, 16 or 24)
//   - code: Frame payload, MSB-first
//
// Example:
//
//	client.WriteBusFrame("rx", 16, 0xFE00)
func (c *Client) WriteBusFrame(direction string, bits int, code uint32) {
	c.WritePoint(
		"bus_frames",
		map[string]string{
			"direction": direction,
		},
		map[string]interface{}{
			"bits": bits,
			"code": int64(code),
		},
	)
}

// WriteDecodeError records a decode failure observed on the bus.
//
// Used for spotting wiring faults and misbehaving ballasts: a burst of
// phase_violation or short_gap errors usually means electrical trouble.
//
// Parameters:
//   - kind: Error category (e.g. "phase_violation", "truncated")
//   - position: Number of data bits accepted before the failure
func (c *Client) WriteDecodeError(kind string, position int) {
	c.WritePoint(
		"decode_errors",
		map[string]string{
			"kind": kind,
		},
		map[string]interface{}{
			"position": position,
		},
	)
}

// WriteTransmit records the outcome of a transmit attempt.
//
// Parameters:
//   - result: Outcome category ("ok", "busy", "timeout", "error")
//   - airtime: Wall-clock time the bus was held, including settling
func (c *Client) WriteTransmit(result string, airtime time.Duration) {
	c.WritePoint(
		"transmits",
		map[string]string{
			"result": result,
		},
		map[string]interface{}{
			"airtime_us": airtime.Microseconds(),
		},
	)
}

// WritePoint writes a custom point stamped with the current time.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("bus_state",
//	    map[string]string{"state": "idle"},
//	    map[string]interface{}{"idle_seconds": 12.5})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
