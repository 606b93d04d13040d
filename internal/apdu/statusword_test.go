package apdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractStatusWord(t *testing.T) {
	word, ok := ExtractStatusWord([]byte{0x90, 0x00})
	assert.True(t, ok)
	assert.Equal(t, StatusSuccess, word)

	_, ok = ExtractStatusWord([]byte{0x90})
	assert.False(t, ok)

	_, ok = ExtractStatusWord(nil)
	assert.False(t, ok)
}

func TestClassifyStatusWord(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		kind    StatusKind
	}{
		{"success", []byte{0x90, 0x00}, KindSuccess},
		{"success with body", []byte{0x01, 0x02, 0x90, 0x00}, KindSuccess},
		{"user rejected", []byte{0x69, 0x85}, KindUserRejected},
		{"app not available", []byte{0x69, 0x84}, KindAppNotAvailableInDevice},
		{"unknown", []byte{0x6a, 0x82}, KindUnknown},
		{"too short", []byte{0x90}, KindNoStatus},
		{"empty", nil, KindNoStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyStatusWord(tt.payload)
			assert.Equal(t, tt.kind, c.Kind)
		})
	}
}
