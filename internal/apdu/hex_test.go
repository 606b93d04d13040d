package apdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidHex(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"empty", "", false},
		{"odd length", "abc", false},
		{"lowercase", "deadbeef", true},
		{"uppercase", "DEADBEEF", true},
		{"mixed case", "DeadBeef", true},
		{"x prefix not hex", "0x00", false},
		{"non hex letter", "zz00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidHex(tt.input))
		})
	}
}

func TestHexToBytesIsTotal(t *testing.T) {
	tests := []string{"", "a", "zz", "0x00", "deadbeef", "DEADBEEF"}
	for _, in := range tests {
		assert.NotPanics(t, func() {
			_, _ = HexToBytes(in)
		})
	}
}

func TestHexToBytesValid(t *testing.T) {
	b, err := HexToBytes("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)
}

func TestHexToBytesInvalid(t *testing.T) {
	b, err := HexToBytes("abc")
	assert.ErrorIs(t, err, ErrInvalidHex)
	assert.Empty(t, b)

	b, err = HexToBytes("0xFF")
	assert.ErrorIs(t, err, ErrInvalidHex)
	assert.Empty(t, b)
}

func TestIsValidHexRoundTripsLength(t *testing.T) {
	inputs := []string{"deadbeef", "00", "a1b2c3d4e5f6"}
	for _, s := range inputs {
		require.True(t, IsValidHex(s))
		b, err := HexToBytes(s)
		require.NoError(t, err)
		assert.Equal(t, len(s)/2, len(b))
	}
}

func TestBytesToHex(t *testing.T) {
	b := []byte{0xde, 0xad, 0xbe, 0xef}
	assert.Equal(t, "deadbeef", BytesToHex(b, false))
	assert.Equal(t, "DEADBEEF", BytesToHex(b, true))
	assert.Equal(t, "de:ad:be:ef", BytesToHexSeparated(b, ":", false))
}

func TestHexRoundTrip(t *testing.T) {
	b := []byte{0x00, 0x01, 0xff, 0x7f, 0x80}
	s := BytesToHex(b, false)
	back, err := HexToBytes(s)
	require.NoError(t, err)
	assert.Equal(t, b, back)
}
