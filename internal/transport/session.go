package transport

import (
	"sync"

	"github.com/srg/bleapdu/internal/catalogue"
)

// State is one point in the Connection Manager's lifecycle.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateDiscoveringServices
	StateSubscribingNotify
	StateNegotiatingMTU
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateSubscribingNotify:
		return "subscribing_notify"
	case StateNegotiatingMTU:
		return "negotiating_mtu"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// minMTU and maxMTU bound the value negotiated during MTU negotiation;
// anything the device reports outside this range is a protocol violation.
const (
	minMTU = 20
	maxMTU = 512
)

// session holds everything the Connection Manager and Exchange Engine
// share about one connected peripheral. All mutation happens with mu
// held — this is the single-slot lock the concurrency model calls for;
// the busy flag for exchanges lives in the same struct precisely so no
// nested locking is ever needed.
type session struct {
	mu sync.Mutex

	id     PeripheralIdentifier
	family catalogue.Family
	conn   PeripheralConn

	state                   State
	mtu                     int
	canWriteWithoutResponse bool

	pendingDisconnect bool
	disconnectDone    chan struct{}
	busy              bool
	exchange          *exchangeTask
}

func newSession(id PeripheralIdentifier, family catalogue.Family, conn PeripheralConn) *session {
	return &session{id: id, family: family, conn: conn, state: StateConnecting}
}

func (s *session) entry() catalogue.Entry {
	return catalogue.Lookup(s.family)
}

func (s *session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// tryAcquire claims the single busy slot, returning false if an exchange
// is already in flight.
func (s *session) tryAcquire(task *exchangeTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	s.exchange = task
	return true
}

func (s *session) release() {
	s.mu.Lock()
	s.busy = false
	s.exchange = nil
	deferred := s.pendingDisconnect
	done := s.disconnectDone
	s.mu.Unlock()
	if deferred {
		_ = s.conn.Disconnect()
		if done != nil {
			close(done)
		}
	}
}

func (s *session) currentExchange() *exchangeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchange
}

// requestDisconnect implements the deferred-disconnect policy: if no
// exchange is in flight it reports immediate=true and the caller tears
// down right away; otherwise it arms the flag and hands back a channel
// that closes once the in-flight exchange's release() has torn the
// connection down.
func (s *session) requestDisconnect() (immediate bool, done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy {
		return true, nil
	}
	s.pendingDisconnect = true
	if s.disconnectDone == nil {
		s.disconnectDone = make(chan struct{})
	}
	return false, s.disconnectDone
}

func (s *session) mtuSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mtu
}

func (s *session) canWriteWithoutResponseSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canWriteWithoutResponse
}

// deliverNotification routes one inbound notify payload to whichever
// exchange is currently in flight, if any. Frames that arrive with no
// exchange active are discarded.
func (s *session) deliverNotification(data []byte) {
	s.mu.Lock()
	task := s.exchange
	s.mu.Unlock()
	if task != nil {
		task.deliver(data)
	}
}

// notifyDisconnected aborts any exchange in flight when the peripheral
// disconnects unexpectedly.
func (s *session) notifyDisconnected() {
	s.mu.Lock()
	task := s.exchange
	s.mu.Unlock()
	if task != nil {
		task.abortDisconnected()
	}
}
