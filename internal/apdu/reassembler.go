package apdu

import "encoding/binary"

// Reassembler de-frames an inbound stream of BLE notify frames one at a
// time, exactly as the Exchange Engine receives them: it doesn't need the
// whole frame list up front the way Dechunk does.
type Reassembler struct {
	started     bool
	declaredLen int
	prevIndex   uint16
	buf         []byte
}

// NewReassembler returns a reassembler ready to accept frame 0.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed consumes one inbound frame. It returns done=true once the
// declared payload length has been reached; further calls after done is
// true are a programmer error and return a FramingError rather than
// silently corrupting state — callers (the Exchange Engine) must stop
// feeding a reassembler once it reports done.
func (r *Reassembler) Feed(frame []byte) (done bool, err error) {
	if r.started && len(r.buf) >= r.declaredLen {
		return true, &FramingError{Reason: "feed called after reassembly already complete"}
	}

	if !r.started {
		if len(frame) < headerSizeFirst {
			return false, &FramingError{Reason: "first frame shorter than header"}
		}
		if frame[0] != FrameTag {
			return false, &FramingError{Reason: "first frame: bad tag"}
		}
		if idx := binary.BigEndian.Uint16(frame[1:3]); idx != 0 {
			return false, &FramingError{Reason: "first frame: index must be 0"}
		}
		r.declaredLen = int(binary.BigEndian.Uint16(frame[3:5]))
		r.buf = make([]byte, 0, r.declaredLen)
		r.started = true
		r.appendCapped(frame[headerSizeFirst:])
		return len(r.buf) >= r.declaredLen, nil
	}

	if len(frame) < headerSizeRest {
		return false, &FramingError{Reason: "frame shorter than header"}
	}
	if frame[0] != FrameTag {
		return false, &FramingError{Reason: "frame: bad tag"}
	}
	idx := binary.BigEndian.Uint16(frame[1:3])
	if idx != r.prevIndex+1 {
		return false, &FramingError{Reason: "frame index does not follow previous"}
	}
	r.prevIndex = idx
	r.appendCapped(frame[headerSizeRest:])
	return len(r.buf) >= r.declaredLen, nil
}

func (r *Reassembler) appendCapped(payload []byte) {
	remaining := r.declaredLen - len(r.buf)
	if remaining <= 0 {
		return
	}
	if len(payload) > remaining {
		payload = payload[:remaining]
	}
	r.buf = append(r.buf, payload...)
}

// Bytes returns the reassembled payload. Only meaningful once Feed has
// reported done.
func (r *Reassembler) Bytes() []byte {
	return r.buf
}
