// Package bleadapter is the one concrete transport.Stack implementation
// this module ships: it drives github.com/go-ble/ble the way
// pkg/connection.Connection and internal/device/go-ble drove it,
// generalized from a single hardcoded service to whatever catalogue
// entry the Connection Manager asks for.
package bleadapter

import (
	"context"
	"fmt"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleapdu/internal/transport"
)

// DeviceFactory creates the platform ble.Device. It is a variable, as in
// internal/device/go-ble/connection.go, so tests can override it with a
// fake.
var DeviceFactory = func() (blelib.Device, error) {
	return darwin.NewDevice()
}

// Adapter is the default transport.Stack backing a pkg/ble.Transport.
type Adapter struct {
	logger *logrus.Logger

	mu     sync.Mutex
	device blelib.Device

	events chan transport.StackEvent
}

// New builds an Adapter. The platform device is created lazily, on the
// first Scan or Connect call, standing up ble.SetDefaultDevice just
// before it's first needed.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger: logger,
		events: make(chan transport.StackEvent, 8),
	}
}

func (a *Adapter) ensureDevice() (blelib.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device != nil {
		return a.device, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		a.emitAvailability(transport.AvailabilityUnsupported)
		return nil, fmt.Errorf("create ble device: %w", err)
	}
	blelib.SetDefaultDevice(dev)
	a.device = dev
	a.emitAvailability(transport.AvailabilityPoweredOn)
	return dev, nil
}

func (a *Adapter) emitAvailability(state transport.AvailabilityState) {
	select {
	case a.events <- transport.StackEvent{Kind: transport.EventAvailabilityChanged, Availability: state}:
	default:
	}
}

// StartScan implements transport.Stack.
func (a *Adapter) StartScan(ctx context.Context, serviceUUIDs []string, onAdvertisement func(transport.Advertisement)) error {
	if _, err := a.ensureDevice(); err != nil {
		return err
	}

	wanted := make([]blelib.UUID, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		u, ok := parseUUID(s)
		if !ok {
			a.logger.WithField("uuid", s).Warn("bleadapter: skipping unparsable service UUID filter")
			continue
		}
		wanted = append(wanted, u)
	}

	filter := func(adv blelib.Advertisement) bool {
		if len(wanted) == 0 {
			return true
		}
		for _, want := range wanted {
			for _, have := range adv.Services() {
				if want.Equal(have) {
					return true
				}
			}
		}
		return false
	}

	handler := func(adv blelib.Advertisement) {
		onAdvertisement(advertisement{adv: adv})
	}

	return blelib.Scan(ctx, true, handler, filter)
}

// StopScan implements transport.Stack.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	dev := a.device
	a.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Stop()
}

// Connect implements transport.Stack.
func (a *Adapter) Connect(ctx context.Context, peripheralID string) (transport.PeripheralConn, error) {
	if _, err := a.ensureDevice(); err != nil {
		return nil, err
	}
	client, err := blelib.Dial(ctx, blelib.NewAddr(peripheralID))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peripheralID, err)
	}
	return newPeripheralConn(a.logger, client), nil
}

// Events implements transport.Stack.
func (a *Adapter) Events() <-chan transport.StackEvent {
	return a.events
}
