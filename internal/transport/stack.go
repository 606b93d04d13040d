package transport

import "context"

// Advertisement is one observed BLE advertisement, as delivered by the
// underlying BLE stack during a scan.
type Advertisement interface {
	Identifier() string   // stable per-peripheral id (address or platform handle)
	LocalName() string    // may be empty; callers fall back to a placeholder
	ServiceUUIDs() []string
	RSSI() int
}

// PeripheralConn is a live GATT connection to one peripheral, as the
// underlying BLE stack exposes it. The Connection Manager drives this
// interface through discovery, subscription and MTU negotiation; the
// Exchange Engine drives it through writes.
type PeripheralConn interface {
	DiscoverService(ctx context.Context, serviceUUID string) error
	DiscoverCharacteristics(ctx context.Context, serviceUUID string, charUUIDs []string) error
	EnableNotify(ctx context.Context, charUUID string, onNotify func([]byte)) error
	Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error
	SupportsWriteWithoutResponse(charUUID string) bool
	Disconnect() error
	// OnDisconnect registers a callback invoked at most once, the first
	// time the peripheral disconnects unexpectedly (not as a result of
	// this side calling Disconnect).
	OnDisconnect(func(error))
}

// AvailabilityState mirrors the underlying BLE stack's power/permission
// state.
type AvailabilityState int

const (
	AvailabilityUnknown AvailabilityState = iota
	AvailabilityPoweredOn
	AvailabilityPoweredOff
	AvailabilityUnauthorized
	AvailabilityUnsupported
	AvailabilityResetting
)

func (a AvailabilityState) String() string {
	switch a {
	case AvailabilityPoweredOn:
		return "powered_on"
	case AvailabilityPoweredOff:
		return "powered_off"
	case AvailabilityUnauthorized:
		return "unauthorized"
	case AvailabilityUnsupported:
		return "unsupported"
	case AvailabilityResetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// StackEventKind discriminates the closed set of asynchronous events the
// BLE stack can raise outside of a direct method call's return value, as
// a tagged sum type. The Connection Manager acts only on
// EventAvailabilityChanged; it ignores EventPeripheralDisconnected, which
// names no peripheral, and learns of unexpected disconnections through
// PeripheralConn.OnDisconnect and of advertisements through StartScan's
// callback.
type StackEventKind int

const (
	EventAvailabilityChanged StackEventKind = iota
	EventPeripheralDisconnected
)

// StackEvent is the closed tagged union of asynchronous BLE-stack
// notifications.
type StackEvent struct {
	Kind         StackEventKind
	Availability AvailabilityState // valid when Kind == EventAvailabilityChanged
	Err          error             // valid when Kind == EventPeripheralDisconnected; nil for a clean disconnect
}

// Stack is the BLE stack this package consumes: scan, connect,
// availability. It is an external collaborator — this package never
// implements it; pkg/bleadapter does, against github.com/go-ble/ble.
type Stack interface {
	// StartScan begins scanning for advertisements whose service UUIDs
	// intersect serviceUUIDs, invoking onAdvertisement for each one
	// observed until ctx is cancelled or StopScan is called.
	StartScan(ctx context.Context, serviceUUIDs []string, onAdvertisement func(Advertisement)) error
	StopScan() error

	// Connect dials the peripheral identified by peripheralID (as
	// returned by Advertisement.Identifier) and returns a live
	// connection once the GATT link is up. Service/characteristic
	// discovery is driven separately through the returned PeripheralConn.
	Connect(ctx context.Context, peripheralID string) (PeripheralConn, error)

	// Events delivers availability transitions. Implementations must not
	// block sending on it; the Connection Manager drains it continuously.
	Events() <-chan StackEvent
}
