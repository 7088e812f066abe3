package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blebattery/internal/battery"
)

func TestEncodeLevel_RoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingSigned, EncodingUint8} {
		for p := battery.Level(0); p <= 100; p++ {
			b, err := EncodeLevel(p, enc)
			require.NoError(t, err, "encoding %s level %d", enc, p)
			require.NotEmpty(t, b)

			got, err := DecodeLevel(b, enc)
			require.NoError(t, err)
			assert.Equal(t, p, got, "encoding %s", enc)
		}
	}
}

func TestEncodeLevel_Signed(t *testing.T) {
	tests := []struct {
		name     string
		level    battery.Level
		expected []byte
	}{
		{"zero is a single zero byte", 0, []byte{0x00}},
		{"full charge", 100, []byte{0x64}},
		{"largest single byte", 127, []byte{0x7F}},
		{"sign bit forces a leading zero", 128, []byte{0x00, 0x80}},
		{"255", 255, []byte{0x00, 0xFF}},
		{"unavailable sentinel", battery.Unavailable, []byte{0xFF}},
		{"-128", -128, []byte{0x80}},
		{"-129", -129, []byte{0xFF, 0x7F}},
		{"two bytes", 0x1234, []byte{0x12, 0x34}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeLevel(tt.level, EncodingSigned)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, b)

			back, err := DecodeLevel(b, EncodingSigned)
			require.NoError(t, err)
			assert.Equal(t, tt.level, back)
		})
	}
}

func TestEncodeLevel_Uint8(t *testing.T) {
	b, err := EncodeLevel(100, EncodingUint8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x64}, b)

	_, err = EncodeLevel(battery.Unavailable, EncodingUint8)
	assert.Error(t, err)

	_, err = EncodeLevel(256, EncodingUint8)
	assert.Error(t, err)
}

func TestDecodeLevel_Errors(t *testing.T) {
	_, err := DecodeLevel(nil, EncodingSigned)
	assert.Error(t, err)

	_, err = DecodeLevel(make([]byte, 9), EncodingSigned)
	assert.Error(t, err)

	_, err = DecodeLevel([]byte{0x00, 0x64}, EncodingUint8)
	assert.Error(t, err)

	_, err = DecodeLevel([]byte{0x64}, Encoding("bcd"))
	assert.Error(t, err)
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("signed")
	require.NoError(t, err)
	assert.Equal(t, EncodingSigned, enc)

	enc, err = ParseEncoding("uint8")
	require.NoError(t, err)
	assert.Equal(t, EncodingUint8, enc)

	_, err = ParseEncoding("utf8")
	assert.ErrorContains(t, err, "unknown encoding")
}
