package bleadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifyBufferPreservesOrderAndBoundaries(t *testing.T) {
	b := newNotifyBuffer(1024)

	b.push([]byte{0x05, 0x00, 0x00, 0x00, 0x02, 0x90, 0x00})
	b.push([]byte{0x05, 0x00, 0x01, 0xAA})
	b.push([]byte{})

	first, ok := b.pop()
	assert.True(t, ok)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00, 0x02, 0x90, 0x00}, first)

	second, ok := b.pop()
	assert.True(t, ok)
	assert.Equal(t, []byte{0x05, 0x00, 0x01, 0xAA}, second)

	third, ok := b.pop()
	assert.True(t, ok)
	assert.Equal(t, []byte{}, third)

	_, ok = b.pop()
	assert.False(t, ok, "pop on an empty buffer must report ok=false")
}

func TestNotifyBufferPopOnEmptyBuffer(t *testing.T) {
	b := newNotifyBuffer(64)
	_, ok := b.pop()
	assert.False(t, ok)
}
