package apdu

// APDU is an immutable outbound or inbound application protocol data
// unit: payload bytes plus the framing policy used to chunk them.
type APDU struct {
	payload         []byte
	preventChunking bool
}

// New wraps payload as an APDU. preventChunking forces Frames to emit a
// single frame carrying only the tag+index header — no length field, even
// though its index is 0 — used for the MTU-negotiation probe, which the
// device expects without the usual first-frame length prefix.
func New(payload []byte, preventChunking bool) APDU {
	return APDU{payload: payload, preventChunking: preventChunking}
}

// FromHex builds an APDU from a hex string. Odd-length or non-hex input
// produces an APDU with an empty payload and, consequently, an empty
// frame list — HexToBytes is total, so this constructor never panics.
func FromHex(s string) APDU {
	b, err := HexToBytes(s)
	if err != nil {
		return APDU{}
	}
	return APDU{payload: b}
}

// Payload returns the raw, unframed bytes.
func (a APDU) Payload() []byte {
	return a.payload
}

// String renders the payload as lowercase hex, for log fields only; it
// must never be parsed back or used to drive protocol decisions.
func (a APDU) String() string {
	return BytesToHex(a.payload, false)
}

// Frames computes this APDU's ordered transmission frames at the given
// MTU. Frames are non-empty iff the payload is non-empty. With
// preventChunking a non-empty payload always yields exactly one frame,
// whatever its size and whatever mtu is.
func (a APDU) Frames(mtu int) []Frame {
	if a.preventChunking {
		if len(a.payload) == 0 {
			return nil
		}
		frame := make(Frame, 0, headerSizeRest+len(a.payload))
		frame = append(frame, FrameTag)
		frame = appendUint16(frame, 0)
		frame = append(frame, a.payload...)
		return []Frame{frame}
	}
	return Chunk(a.payload, mtu)
}

// InferMTU is the fixed MTU-negotiation probe command: sent as a single
// raw frame (prevent_chunking) on the write characteristic immediately
// after GATT discovery.
var InferMTU = New([]byte{0x08, 0x00, 0x00, 0x00, 0x00}, true)
