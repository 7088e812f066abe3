package profile

import (
	"fmt"

	"github.com/srg/blebattery/internal/battery"
)

// Encoding selects how a battery level is serialized into a read response.
type Encoding string

const (
	// EncodingSigned is the minimal big-endian two's complement form of the level.
	// 0 encodes as 0x00, 128..255 gain a leading 0x00, Unavailable encodes as 0xFF.
	EncodingSigned Encoding = "signed"

	// EncodingUint8 is the Battery Level format of the Battery Service: one unsigned byte.
	EncodingUint8 Encoding = "uint8"
)

// ParseEncoding validates an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case EncodingSigned, EncodingUint8:
		return e, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (must be %s or %s)", s, EncodingSigned, EncodingUint8)
	}
}

// EncodeLevel serializes l with enc.
func EncodeLevel(l battery.Level, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingSigned:
		return encodeSigned(int64(l)), nil
	case EncodingUint8:
		if l < 0 || l > 0xFF {
			return nil, fmt.Errorf("level %d does not fit in one unsigned byte", l)
		}
		return []byte{byte(l)}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// DecodeLevel is the inverse of EncodeLevel.
func DecodeLevel(b []byte, enc Encoding) (battery.Level, error) {
	switch enc {
	case EncodingSigned:
		if len(b) == 0 || len(b) > 8 {
			return 0, fmt.Errorf("signed level must be 1 to 8 bytes, got %d", len(b))
		}
		return battery.Level(decodeSigned(b)), nil
	case EncodingUint8:
		if len(b) != 1 {
			return 0, fmt.Errorf("uint8 level must be 1 byte, got %d", len(b))
		}
		return battery.Level(b[0]), nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", enc)
	}
}

// encodeSigned returns the shortest big-endian two's complement representation of v
// that still carries its sign bit.
func encodeSigned(v int64) []byte {
	n := 1
	for ; n < 8; n++ {
		limit := int64(1) << (8*n - 1)
		if v >= -limit && v < limit {
			break
		}
	}

	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func decodeSigned(b []byte) int64 {
	v := int64(int8(b[0]))
	for _, c := range b[1:] {
		v = v<<8 | int64(c)
	}
	return v
}
