package vedirect

import (
	"bytes"
	"fmt"
	"math"

	"github.com/juju/errors"
)

// Max current representable in single byte of tenths.
const MaxSetCurrent = 25.5

// EncodeSetCurrent builds HEX protocol command setting charge current limit.
// p1 is amps in tenths truncated toward zero, p2 = (0x70 - p1) & 0xff.
// Charger rejects any deviation in case or digit count. Pure function.
func EncodeSetCurrent(amps float64) []byte {
	p1 := int(amps * 10)
	p2 := (0x70 - p1) & 0xff
	return []byte(fmt.Sprintf(":8F0ED00%02X00%02X\n", p1, p2))
}

// ValidateSetCurrent rejects values EncodeSetCurrent can not represent in one byte.
func ValidateSetCurrent(amps float64) error {
	if math.IsNaN(amps) || math.IsInf(amps, 0) {
		return errors.NotValidf("set current=%v", amps)
	}
	if amps < 0 || int(amps*10) > 0xff {
		return errors.NotValidf("set current=%v out of range 0..%v", amps, MaxSetCurrent)
	}
	return nil
}

// DecodeSetCurrentEcho extracts setpoint byte (amps) from ":A2" message charger sends back.
func DecodeSetCurrentEcho(line []byte) (byte, bool) {
	if !bytes.HasPrefix(line, []byte(":A2")) || len(line) < 10 {
		return 0, false
	}
	return line[7], true
}
