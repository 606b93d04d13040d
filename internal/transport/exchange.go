package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleapdu/internal/apdu"
)

// inboundCapacity bounds how many not-yet-reassembled notify frames an
// exchange will hold before the ring buffer starts overwriting the
// oldest one. Reassembly failing because of an eviction here surfaces as
// a ReadError — inbound frames can in principle accumulate faster than
// an exchange drains them if the device free-runs notifications across a
// subscription renewal.
const inboundCapacity = 16

// exchangeTask is the live state of one outstanding exchange.
type exchangeTask struct {
	outbound     apdu.APDU
	reassembler  *apdu.Reassembler
	inbound      mpmc.RichOverlappedRingBuffer[[]byte]
	signal       chan struct{}
	disconnected chan struct{}
	closeOnce    sync.Once
}

func newExchangeTask(outbound apdu.APDU) *exchangeTask {
	return &exchangeTask{
		outbound:     outbound,
		reassembler:  apdu.NewReassembler(),
		inbound:      mpmc.NewOverlappedRingBuffer[[]byte](inboundCapacity),
		signal:       make(chan struct{}, 1),
		disconnected: make(chan struct{}),
	}
}

// deliver hands one inbound notify frame to the task. Called from the
// Connection Manager's notify callback; safe to call from any goroutine.
func (t *exchangeTask) deliver(frame []byte) {
	_, _ = t.inbound.EnqueueM(frame)
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// abortDisconnected unblocks a waiting exchange after an unexpected
// peripheral disconnection. Safe to call more than once or concurrently.
func (t *exchangeTask) abortDisconnected() {
	t.closeOnce.Do(func() { close(t.disconnected) })
}

// drain feeds every buffered frame into the reassembler, stopping as soon
// as it reports completion or an error.
func (t *exchangeTask) drain() (done bool, err error) {
	for !t.inbound.IsEmpty() {
		frame, derr := t.inbound.Dequeue()
		if derr != nil {
			return false, derr
		}
		done, err = t.reassembler.Feed(frame)
		if err != nil || done {
			return done, err
		}
	}
	return false, nil
}

// Engine is the Exchange Engine: a single-in-flight, ordered
// write/notify pipeline over one connected session.
type Engine struct {
	logger *logrus.Logger
}

// NewEngine builds an Engine. A nil logger defaults to logrus.New(), as
// every constructor in this module does.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{logger: logger}
}

// Exchange sends apdu and returns the reassembled response payload,
// including its trailing two-byte status word.
func (e *Engine) Exchange(ctx context.Context, s *session, a apdu.APDU) ([]byte, error) {
	payload, err := e.run(ctx, s, a, true)
	return payload, err
}

// Send writes apdu without awaiting a response.
func (e *Engine) Send(ctx context.Context, s *session, a apdu.APDU) error {
	_, err := e.run(ctx, s, a, false)
	return err
}

func (e *Engine) run(ctx context.Context, s *session, a apdu.APDU, awaitResponse bool) ([]byte, error) {
	if s.getState() != StateConnected {
		return nil, errConnect(fmt.Sprintf("session is %s, not connected", s.getState()), nil)
	}

	task := newExchangeTask(a)
	if !s.tryAcquire(task) {
		return nil, ErrPendingActionOnDevice
	}
	defer s.release()

	mtu := s.mtuSize()
	entry := s.entry()
	withoutResponse := s.canWriteWithoutResponseSnapshot()
	charUUID := entry.WriteCharacteristic(withoutResponse)
	writeWithResponse := !withoutResponse

	frames := a.Frames(mtu)
	for i, f := range frames {
		select {
		case <-ctx.Done():
			return nil, wrapCancellation(ctx.Err())
		default:
		}
		if err := s.conn.Write(ctx, charUUID, f, writeWithResponse); err != nil {
			return nil, errWrite(fmt.Sprintf("frame %d of %d", i, len(frames)), err)
		}
	}

	if !awaitResponse {
		return nil, nil
	}

	for {
		done, derr := task.drain()
		if derr != nil {
			return nil, errRead(derr.Error(), derr)
		}
		if done {
			return task.reassembler.Bytes(), nil
		}
		select {
		case <-ctx.Done():
			return nil, wrapCancellation(ctx.Err())
		case <-task.disconnected:
			return nil, errLowerLevel("peripheral disconnected while awaiting response", nil)
		case <-task.signal:
		}
	}
}

func wrapCancellation(cause error) *Error {
	return newError(KindCancelled, "exchange cancelled", cause)
}
