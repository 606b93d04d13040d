package bleadapter

import (
	"encoding/binary"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// notifyBuffer stages raw notification payloads on a byte-oriented ring
// buffer (github.com/smallnest/ringbuffer), the way ptyio.go stages raw
// serial bytes, so the go-ble notification goroutine can hand data off
// and return immediately instead of blocking on whatever the
// connection's single notify-drain goroutine is doing. Each payload is
// framed with a 2-byte big-endian length prefix since the underlying
// buffer is a plain byte stream with no message boundaries of its own.
type notifyBuffer struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer
}

func newNotifyBuffer(capacity int) *notifyBuffer {
	return &notifyBuffer{rb: ringbuffer.New(capacity)}
}

func (b *notifyBuffer) push(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(data)))
	_, _ = b.rb.Write(hdr[:])
	_, _ = b.rb.Write(data)
}

func (b *notifyBuffer) pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rb.IsEmpty() {
		return nil, false
	}
	var hdr [2]byte
	if n, err := b.rb.TryRead(hdr[:]); err != nil || n < len(hdr) {
		return nil, false
	}
	length := binary.BigEndian.Uint16(hdr[:])
	payload := make([]byte, length)
	if _, err := b.rb.TryRead(payload); err != nil {
		return nil, false
	}
	return payload, true
}
