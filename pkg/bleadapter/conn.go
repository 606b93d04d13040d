package bleadapter

import (
	"context"
	"fmt"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleapdu/internal/executor"
)

// notifyBufferCapacity bounds the byte-oriented staging buffer each
// connection's notify path uses ahead of the reassembler.
const notifyBufferCapacity = 4096

// peripheralConn implements transport.PeripheralConn against a live
// github.com/go-ble/ble client, grounded on pkg/connection.Connection's
// dial/discover/subscribe/write flow.
type peripheralConn struct {
	logger *logrus.Logger
	client blelib.Client

	profile *blelib.Profile
	service *blelib.Service
	chars   map[string]*blelib.Characteristic

	notifyBuf    *notifyBuffer
	notifySignal chan struct{}
	drainCancel  context.CancelFunc

	onNotifyMu sync.Mutex
	onNotify   func([]byte)

	subscribed *blelib.Characteristic

	onDisconnectMu sync.Mutex
	onDisconnect   func(error)
}

func newPeripheralConn(logger *logrus.Logger, client blelib.Client) *peripheralConn {
	c := &peripheralConn{
		logger:       logger,
		client:       client,
		chars:        make(map[string]*blelib.Characteristic),
		notifyBuf:    newNotifyBuffer(notifyBufferCapacity),
		notifySignal: make(chan struct{}, 1),
	}
	c.watchDisconnect()
	return c
}

// watchDisconnect mirrors internal/device/go-ble/connection.go's
// CoreBluetooth-specific disconnect monitor: go-ble's darwin client
// exposes a Disconnected() channel that isn't part of the blelib.Client
// interface itself, so detection is a type assertion.
func (c *peripheralConn) watchDisconnect() {
	withDisconnect, ok := c.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		return
	}
	executor.Spawn(context.Background(), "bleadapter-disconnect-monitor", func(ctx context.Context) {
		<-withDisconnect.Disconnected()
		c.onDisconnectMu.Lock()
		cb := c.onDisconnect
		c.onDisconnectMu.Unlock()
		if cb != nil {
			cb(fmt.Errorf("peripheral disconnected"))
		}
	})
}

func (c *peripheralConn) DiscoverService(ctx context.Context, serviceUUID string) error {
	profile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return fmt.Errorf("discover profile: %w", err)
	}
	c.profile = profile

	for _, svc := range profile.Services {
		if normalizeUUID(svc.UUID.String()) == normalizeUUID(serviceUUID) {
			c.service = svc
			return nil
		}
	}
	return fmt.Errorf("service %s not found", serviceUUID)
}

func (c *peripheralConn) DiscoverCharacteristics(ctx context.Context, serviceUUID string, charUUIDs []string) error {
	if c.service == nil {
		return fmt.Errorf("no service discovered")
	}
	for _, want := range charUUIDs {
		key := normalizeUUID(want)
		found := false
		for _, ch := range c.service.Characteristics {
			if normalizeUUID(ch.UUID.String()) == key {
				c.chars[key] = ch
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("characteristic %s not found on service %s", want, serviceUUID)
		}
	}
	return nil
}

func (c *peripheralConn) EnableNotify(ctx context.Context, charUUID string, onNotify func([]byte)) error {
	ch, ok := c.chars[normalizeUUID(charUUID)]
	if !ok {
		return fmt.Errorf("characteristic %s not discovered", charUUID)
	}

	c.onNotifyMu.Lock()
	c.onNotify = onNotify
	c.onNotifyMu.Unlock()

	drainCtx, cancel := context.WithCancel(context.Background())
	c.drainCancel = cancel
	executor.Spawn(drainCtx, "bleadapter-notify-drain", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.notifySignal:
				for {
					msg, ok := c.notifyBuf.pop()
					if !ok {
						break
					}
					c.onNotifyMu.Lock()
					cb := c.onNotify
					c.onNotifyMu.Unlock()
					if cb != nil {
						cb(msg)
					}
				}
			}
		}
	})

	err := c.client.Subscribe(ch, false, func(data []byte) {
		c.notifyBuf.push(data)
		select {
		case c.notifySignal <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", charUUID, err)
	}
	c.subscribed = ch
	return nil
}

func (c *peripheralConn) Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error {
	ch, ok := c.chars[normalizeUUID(charUUID)]
	if !ok {
		return fmt.Errorf("characteristic %s not discovered", charUUID)
	}
	if err := c.client.WriteCharacteristic(ch, data, !withResponse); err != nil {
		return fmt.Errorf("write %s: %w", charUUID, err)
	}
	return nil
}

func (c *peripheralConn) SupportsWriteWithoutResponse(charUUID string) bool {
	ch, ok := c.chars[normalizeUUID(charUUID)]
	if !ok {
		return false
	}
	return ch.Property&blelib.CharWriteNR != 0
}

func (c *peripheralConn) Disconnect() error {
	// A disconnect this side asked for is not unexpected: disarm the
	// callback before the disconnect monitor can observe the link drop.
	c.onDisconnectMu.Lock()
	c.onDisconnect = nil
	c.onDisconnectMu.Unlock()
	if c.drainCancel != nil {
		c.drainCancel()
	}
	if c.subscribed != nil {
		_ = c.client.Unsubscribe(c.subscribed, false)
		c.subscribed = nil
	}
	return c.client.CancelConnection()
}

func (c *peripheralConn) OnDisconnect(cb func(error)) {
	c.onDisconnectMu.Lock()
	c.onDisconnect = cb
	c.onDisconnectMu.Unlock()
}
