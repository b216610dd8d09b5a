package heartrate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// flagValueUint16 is bit 0 of the flags byte: set when the value is a little-endian uint16.
	flagValueUint16 = 0x01

	minLenUint8  = 2
	minLenUint16 = 3
)

// ErrMalformedMeasurement is matched by every DecodeError.
var ErrMalformedMeasurement = errors.New("malformed heart rate measurement")

// DecodeError reports a Heart Rate Measurement payload too short for the value width selected by its flags.
type DecodeError struct {
	Flags  byte
	Length int
	Need   int
}

func (e *DecodeError) Error() string {
	if e.Length == 0 {
		return fmt.Sprintf("%s: empty payload", ErrMalformedMeasurement)
	}
	width := "uint8"
	if e.Flags&flagValueUint16 != 0 {
		width = "uint16"
	}
	return fmt.Sprintf("%s: %d byte(s) with flags 0x%02x, need %d for a %s value",
		ErrMalformedMeasurement, e.Length, e.Flags, e.Need, width)
}

func (e *DecodeError) Unwrap() error {
	return ErrMalformedMeasurement
}

// Decode parses a Heart Rate Measurement (0x2A37) payload.
//
// Only the flags byte and the heart-rate value are consumed. Energy expended, RR intervals and
// sensor contact bits are left uninterpreted and any trailing bytes are ignored.
func Decode(payload []byte, at time.Time) (Sample, error) {
	if len(payload) == 0 {
		return Sample{}, &DecodeError{Need: minLenUint8}
	}

	flags := payload[0]
	if flags&flagValueUint16 != 0 {
		if len(payload) < minLenUint16 {
			return Sample{}, &DecodeError{Flags: flags, Length: len(payload), Need: minLenUint16}
		}
		return Sample{BPM: binary.LittleEndian.Uint16(payload[1:3]), CapturedAt: at}, nil
	}

	if len(payload) < minLenUint8 {
		return Sample{}, &DecodeError{Flags: flags, Length: len(payload), Need: minLenUint8}
	}
	return Sample{BPM: uint16(payload[1]), CapturedAt: at}, nil
}
