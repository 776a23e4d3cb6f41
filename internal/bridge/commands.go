package bridge

import (
	"fmt"
	"strconv"

	"github.com/nerrad567/dali-core/internal/dali"
)

// DALI addressing constants.
const (
	// broadcastAddress is the address byte selecting every gear on the
	// bus, with bit 0 clear for direct arc power.
	broadcastAddress = 0xFE

	// maxShortAddress is the highest individual gear address.
	maxShortAddress = 63

	// Arc power levels. 254 is full output; 255 is reserved (MASK).
	levelOff  = 0
	levelFull = 254
)

// Colour temperature limits in mireds. These bound the tunable-white
// range of the installed gear (2000K-6500K).
const (
	minMired = 154
	maxMired = 500
)

// Address identifies a light on the bus: either every gear (broadcast)
// or one gear by its short address (0-63).
type Address struct {
	Broadcast bool
	Short     uint8
}

// ParseAddress parses a configured light address: "broadcast" or "0"-"63".
func ParseAddress(s string) (Address, error) {
	if s == "broadcast" {
		return Address{Broadcast: true}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxShortAddress {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address{Short: uint8(n)}, nil
}

// String renders the address for logs.
func (a Address) String() string {
	if a.Broadcast {
		return "broadcast"
	}
	return strconv.Itoa(int(a.Short))
}

// DirectArcPower builds the frame setting this address's output level.
//
// The address byte carries the short address in bits 6-1 with bit 0
// clear, which selects the direct-arc-power command rather than an
// opcode. Broadcast uses 0xFE.
func (a Address) DirectArcPower(level uint8) dali.Frame {
	if a.Broadcast {
		return dali.NewForwardFrame(broadcastAddress, level)
	}
	return dali.NewForwardFrame(a.Short<<1, level)
}

// MiredFromKelvin converts a colour temperature in Kelvin to mireds.
func MiredFromKelvin(kelvin int) int {
	if kelvin <= 0 {
		return maxMired
	}
	return 1_000_000 / kelvin
}

// ClampMired bounds a mired value to the gear's tunable range.
func ClampMired(mired int) int {
	if mired < minMired {
		return minMired
	}
	if mired > maxMired {
		return maxMired
	}
	return mired
}

// ColorTemperatureSequence builds the broadcast frame sequence that
// moves tunable-white gear to the given colour temperature.
//
// The gear's colour scale runs opposite to mireds, so the value is
// reversed across the range before being split into DTR0/DTR1. The
// trailing frames activate the loaded value and terminate the special
// mode; SET TEMPORARY COLOUR TEMPERATURE is sent twice because it is a
// repeated (send-twice) command.
func ColorTemperatureSequence(mired int) []dali.Frame {
	m := ClampMired(mired)
	reversed := maxMired - (m - minMired)
	lsb := uint8(reversed & 0xFF)
	msb := uint8(reversed >> 8)

	return []dali.Frame{
		dali.NewForwardFrame(broadcastAddress, levelFull), // Wake gear at full
		dali.NewForwardFrame(0xA3, lsb),                   // DTR0 = value low byte
		dali.NewForwardFrame(0xC3, msb),                   // DTR1 = value high byte
		dali.NewForwardFrame(0xC1, 0x08),                  // ENABLE DEVICE TYPE 8
		dali.NewForwardFrame(0xFF, 0xE7),                  // SET TEMP COLOUR TEMPERATURE
		dali.NewForwardFrame(0xC1, 0x08),                  // Repeat device type enable
		dali.NewForwardFrame(0xFF, 0xE2),                  // ACTIVATE
	}
}
