// Package dali implements the bit-timing layer of a DALI (IEC 62386)
// two-wire lighting bus transceiver.
//
// The package is deliberately hardware-free. On the receive side it turns
// timestamped line edges into validated frames: a Timing classifier sorts
// edge intervals into half-bit and full-bit symbols, and a Decoder state
// machine assembles biphase-coded symbols into 8, 16 or 24 bit frames,
// surfacing structured DecodeErrors for anything malformed. On the
// transmit side an Encoder turns a frame into an absolute schedule of
// line transitions that any driver capable of timed GPIO output can play
// back.
//
// Monitor and Transmitter tie the pure pieces to the outside world
// through two small interfaces, EdgeSource and LineDriver, and share a
// Bus tracking line occupancy so transmissions never start into traffic.
//
// All timing is configurable; the defaults match the common 1200 baud
// DALI profile (417us half-bit, 1800us settling gap).
package dali
