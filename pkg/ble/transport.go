// Package ble is the public, consumer-facing surface of the transport:
// a Transport value exposing the full capability list (scan, connect,
// exchange, send, disconnect, availability, app-layer helpers). Each
// blocking operation (scan, connect, create, exchange, send, disconnect,
// app-layer helpers) has both a blocking awaitable form and a callback
// form that spawns the awaitable; StopScan, Availability,
// SubscribeAvailability and OnDisconnect have only their direct form.
package ble

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleapdu/internal/apdu"
	"github.com/srg/bleapdu/internal/app"
	"github.com/srg/bleapdu/internal/executor"
	"github.com/srg/bleapdu/internal/transport"
	"github.com/srg/bleapdu/pkg/bleadapter"
)

// Re-exported core vocabulary: pkg/ble is a thin API layer over
// internal/transport, not a second copy of its types.
type (
	PeripheralIdentifier = transport.PeripheralIdentifier
	DiscoveredPeripheral = transport.DiscoveredPeripheral
	AvailabilityState    = transport.AvailabilityState
	AppInfo              = app.Info
)

// Option configures a Transport at construction.
type Option func(*options)

type options struct {
	stack  transport.Stack
	logger *logrus.Logger
}

// WithStack overrides the BLE stack a Transport drives. Tests inject a
// fake transport.Stack this way instead of the real bleadapter one.
func WithStack(stack transport.Stack) Option {
	return func(o *options) { o.stack = stack }
}

// WithLogger overrides the logger threaded through the Manager and the
// default adapter.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Transport is an explicit handle, usable in place of the package-level
// Default singleton wherever a caller wants its own independently
// configured instance.
type Transport struct {
	mgr         *transport.Manager
	logger      *logrus.Logger
	scanTimeout time.Duration
}

// New builds a Transport from cfg. Without WithStack, it wires a real
// github.com/go-ble/ble-backed adapter (pkg/bleadapter).
func New(cfg *Config, opts ...Option) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = cfg.NewLogger()
	}
	if o.stack == nil {
		o.stack = bleadapter.New(o.logger)
	}
	return &Transport{
		mgr: transport.NewManager(o.logger, o.stack, cfg.catalogueConfig(),
			transport.WithConnectScanTimeout(cfg.ConnectScanTimeout)),
		logger:      o.logger,
		scanTimeout: cfg.ScanTimeout,
	}
}

// Close stops the Transport's background watchers. It does not
// disconnect any live session.
func (t *Transport) Close() { t.mgr.Close() }

// Scan blocks, invoking onUpdate with a growing, deduplicated snapshot of
// discovered peripherals. duration <= 0 falls back to the Transport's
// configured ScanTimeout.
func (t *Transport) Scan(ctx context.Context, duration time.Duration, onUpdate func([]DiscoveredPeripheral)) error {
	if duration <= 0 {
		duration = t.scanTimeout
	}
	return t.mgr.Scan(ctx, duration, onUpdate)
}

// ScanAsync spawns Scan and reports its terminal error to done.
func (t *Transport) ScanAsync(ctx context.Context, duration time.Duration, onUpdate func([]DiscoveredPeripheral), done func(error)) {
	executor.Spawn(ctx, "scan-async", func(ctx context.Context) {
		done(t.Scan(ctx, duration, onUpdate))
	})
}

// StopScan stops any scan in progress.
func (t *Transport) StopScan() error { return t.mgr.StopScan() }

// ConnectByID connects to a previously discovered peripheral by its
// stable identifier.
func (t *Transport) ConnectByID(ctx context.Context, id PeripheralIdentifier) (PeripheralIdentifier, error) {
	return t.mgr.Connect(ctx, transport.ConnectTargetByID(id))
}

// ConnectByIDAsync spawns ConnectByID and delivers its result to done.
func (t *Transport) ConnectByIDAsync(ctx context.Context, id PeripheralIdentifier, done func(PeripheralIdentifier, error)) {
	executor.Spawn(ctx, "connect-by-id-async", func(ctx context.Context) {
		connected, err := t.ConnectByID(ctx, id)
		done(connected, err)
	})
}

// ConnectByName scans and connects to the first peripheral seen
// advertising name, resolving ambiguity by first-seen order.
func (t *Transport) ConnectByName(ctx context.Context, name string) (PeripheralIdentifier, error) {
	return t.mgr.Connect(ctx, transport.ConnectTargetByName(name))
}

// ConnectByNameAsync spawns ConnectByName and delivers its result to done.
func (t *Transport) ConnectByNameAsync(ctx context.Context, name string, done func(PeripheralIdentifier, error)) {
	executor.Spawn(ctx, "connect-by-name-async", func(ctx context.Context) {
		connected, err := t.ConnectByName(ctx, name)
		done(connected, err)
	})
}

// Create scans for up to duration and connects to the first peripheral
// discovered's "create (scan + connect-first)".
func (t *Transport) Create(ctx context.Context, duration time.Duration) (PeripheralIdentifier, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan DiscoveredPeripheral, 1)
	scanErr := t.mgr.Scan(scanCtx, duration, func(list []DiscoveredPeripheral) {
		if len(list) == 0 {
			return
		}
		select {
		case found <- list[0]:
			cancel()
		default:
		}
	})

	select {
	case dp := <-found:
		return t.ConnectByID(ctx, dp.ID)
	default:
	}
	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		return PeripheralIdentifier{}, scanErr
	}
	return PeripheralIdentifier{}, transport.ErrScanTimedOut
}

// CreateAsync spawns Create and delivers its result to done.
func (t *Transport) CreateAsync(ctx context.Context, duration time.Duration, done func(PeripheralIdentifier, error)) {
	executor.Spawn(ctx, "create-async", func(ctx context.Context) {
		connected, err := t.Create(ctx, duration)
		done(connected, err)
	})
}

// Exchange sends a to id's session and returns the reassembled response,
// including its trailing status word.
func (t *Transport) Exchange(ctx context.Context, id PeripheralIdentifier, a apdu.APDU) ([]byte, error) {
	return t.mgr.Exchange(ctx, id, a)
}

// ExchangeAsync spawns Exchange and delivers its result to done.
func (t *Transport) ExchangeAsync(ctx context.Context, id PeripheralIdentifier, a apdu.APDU, done func([]byte, error)) {
	executor.Spawn(ctx, "exchange-async", func(ctx context.Context) {
		resp, err := t.Exchange(ctx, id, a)
		done(resp, err)
	})
}

// Send writes a to id's session without awaiting a response.
func (t *Transport) Send(ctx context.Context, id PeripheralIdentifier, a apdu.APDU) error {
	return t.mgr.Send(ctx, id, a)
}

// SendAsync spawns Send and delivers its result to done.
func (t *Transport) SendAsync(ctx context.Context, id PeripheralIdentifier, a apdu.APDU, done func(error)) {
	executor.Spawn(ctx, "send-async", func(ctx context.Context) {
		done(t.Send(ctx, id, a))
	})
}

// Disconnect tears down id's session, honouring the deferred-disconnect
// policy if an exchange is in flight.
func (t *Transport) Disconnect(ctx context.Context, id PeripheralIdentifier) error {
	return t.mgr.Disconnect(ctx, id)
}

// DisconnectAsync spawns Disconnect and delivers its result to done.
func (t *Transport) DisconnectAsync(ctx context.Context, id PeripheralIdentifier, done func(error)) {
	executor.Spawn(ctx, "disconnect-async", func(ctx context.Context) {
		done(t.Disconnect(ctx, id))
	})
}

// Availability returns the last known BLE-stack power/permission state.
func (t *Transport) Availability() AvailabilityState {
	return t.mgr.Availability()
}

// SubscribeAvailability streams subsequent availability transitions.
func (t *Transport) SubscribeAvailability() <-chan AvailabilityState {
	return t.mgr.SubscribeAvailability()
}

// OnDisconnect registers a one-shot disconnection callback: it fires at
// most once, then all registrations are cleared.
func (t *Transport) OnDisconnect(cb func(PeripheralIdentifier, error)) {
	t.mgr.OnDisconnect(cb)
}

// sessionExchanger binds a Transport+PeripheralIdentifier pair into the
// narrow app.Exchanger capability the app-layer helpers need.
type sessionExchanger struct {
	t  *Transport
	id PeripheralIdentifier
}

func (s sessionExchanger) Exchange(ctx context.Context, a apdu.APDU) ([]byte, error) {
	return s.t.Exchange(ctx, s.id, a)
}

// GetAppAndVersion queries the app currently running on id's peripheral.
func (t *Transport) GetAppAndVersion(ctx context.Context, id PeripheralIdentifier) (AppInfo, error) {
	return app.GetAppAndVersion(ctx, sessionExchanger{t: t, id: id})
}

// GetAppAndVersionAsync spawns GetAppAndVersion and delivers its result
// to done.
func (t *Transport) GetAppAndVersionAsync(ctx context.Context, id PeripheralIdentifier, done func(AppInfo, error)) {
	executor.Spawn(ctx, "get-app-and-version-async", func(ctx context.Context) {
		info, err := t.GetAppAndVersion(ctx, id)
		done(info, err)
	})
}

// OpenAppIfNeeded ensures the named app is running on id's peripheral,
// closing whatever else is running first if necessary.
func (t *Transport) OpenAppIfNeeded(ctx context.Context, id PeripheralIdentifier, name string) error {
	return app.OpenAppIfNeeded(ctx, sessionExchanger{t: t, id: id}, name)
}

// OpenAppIfNeededAsync spawns OpenAppIfNeeded and delivers its result to
// done.
func (t *Transport) OpenAppIfNeededAsync(ctx context.Context, id PeripheralIdentifier, name string, done func(error)) {
	executor.Spawn(ctx, "open-app-if-needed-async", func(ctx context.Context) {
		done(t.OpenAppIfNeeded(ctx, id, name))
	})
}
