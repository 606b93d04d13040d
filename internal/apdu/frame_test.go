package apdu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func framesToByteSlices(frames []Frame) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = f
	}
	return out
}

func TestChunkEmptyPayload(t *testing.T) {
	assert.Empty(t, Chunk(nil, 153))
	assert.Empty(t, Chunk([]byte{}, 153))
}

func TestChunkFrameTagAndMTU(t *testing.T) {
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := Chunk(payload, 153)
	for _, f := range frames {
		assert.Equal(t, FrameTag, f[0])
		assert.LessOrEqual(t, len(f), 153)
	}
}

func TestChunkFrameIndicesAreContiguous(t *testing.T) {
	payload := make([]byte, 500)
	frames := Chunk(payload, 153)
	for i, f := range frames {
		assert.Equal(t, uint16(i), f.Index())
	}
}

func TestChunkFirstFrameEncodesLength(t *testing.T) {
	payload := []byte("E0D8000007426974636F696E")
	frames := Chunk(payload, 153)
	require.NotEmpty(t, frames)
	declared := int(frames[0][3])<<8 | int(frames[0][4])
	assert.Equal(t, len(payload), declared)
}

func TestChunkSaturatesLengthAbove0xFFFF(t *testing.T) {
	payload := make([]byte, 70000)
	frames := Chunk(payload, 153)
	declared := int(frames[0][3])<<8 | int(frames[0][4])
	assert.Equal(t, 0xFFFF, declared)
}

func TestChunkMultiFrameScenario(t *testing.T) {
	// From scenario 3: 500 byte payload at MTU 153 -> 4 frames.
	payload := make([]byte, 500)
	frames := Chunk(payload, 153)
	assert.Len(t, frames, 4)
	declared := int(frames[0][3])<<8 | int(frames[0][4])
	assert.Equal(t, 0x01F4, declared)
}

func TestChunkSimpleExchangeScenario(t *testing.T) {
	payload, err := HexToBytes("E0D8000007426974636F696E")
	require.NoError(t, err)
	frames := Chunk(payload, 153)
	require.Len(t, frames, 1)
	assert.Equal(t, "0500000CE0D8000007426974636F696E", BytesToHex(frames[0], true))
}

func TestDechunkRoundTrip(t *testing.T) {
	mtus := []int{8, 20, 64, 153, 512}
	payloadSizes := []int{1, 5, 20, 150, 500, 2000}
	for _, mtu := range mtus {
		for _, size := range payloadSizes {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(rand.Intn(256))
			}
			frames := Chunk(payload, mtu)
			got, err := Dechunk(framesToByteSlices(frames))
			require.NoError(t, err, "mtu=%d size=%d", mtu, size)
			assert.Equal(t, payload, got, "mtu=%d size=%d", mtu, size)
		}
	}
}

func TestDechunkRejectsBadTag(t *testing.T) {
	payload := make([]byte, 10)
	frames := framesToByteSlices(Chunk(payload, 20))
	frames[0][0] = 0x06
	_, err := Dechunk(frames)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestDechunkRejectsIndexGap(t *testing.T) {
	payload := make([]byte, 500)
	frames := framesToByteSlices(Chunk(payload, 20))
	require.Greater(t, len(frames), 2)
	frames = append(frames[:1], frames[2:]...) // drop frame 1, leaving a gap
	_, err := Dechunk(frames)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestDechunkRejectsShortFrame(t *testing.T) {
	_, err := Dechunk([][]byte{{0x05, 0x00}})
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestDechunkDiscardsSurplusInLastFrame(t *testing.T) {
	// Declares a shorter payload than the bytes actually carried.
	frame := []byte{0x05, 0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB, 0xCC, 0xDD}
	got, err := Dechunk([][]byte{frame})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, got)
}

func TestReassemblerIncrementalFeed(t *testing.T) {
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := Chunk(payload, 153)

	r := NewReassembler()
	var done bool
	var err error
	for i, f := range frames {
		done, err = r.Feed(f)
		require.NoError(t, err)
		if i < len(frames)-1 {
			assert.False(t, done)
		}
	}
	assert.True(t, done)
	assert.Equal(t, payload, r.Bytes())
}

func TestReassemblerRejectsFeedAfterDone(t *testing.T) {
	frames := Chunk([]byte("hi"), 153)
	r := NewReassembler()
	done, err := r.Feed(frames[0])
	require.NoError(t, err)
	require.True(t, done)

	_, err = r.Feed(frames[0])
	assert.Error(t, err)
}

func TestBoundaryMTUs(t *testing.T) {
	payload := make([]byte, 1000)
	for _, mtu := range []int{20, 512} {
		frames := Chunk(payload, mtu)
		for _, f := range frames {
			assert.LessOrEqual(t, len(f), mtu)
		}
		got, err := Dechunk(framesToByteSlices(frames))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}
