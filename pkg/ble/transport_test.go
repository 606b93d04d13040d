package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleapdu/internal/apdu"
	"github.com/srg/bleapdu/internal/transport"
)

type fakeAdv struct {
	id, name string
	services []string
}

func (a fakeAdv) Identifier() string     { return a.id }
func (a fakeAdv) LocalName() string      { return a.name }
func (a fakeAdv) ServiceUUIDs() []string { return a.services }
func (a fakeAdv) RSSI() int              { return -50 }

type fakeConn struct {
	mu       sync.Mutex
	mtu      int
	notifyCb func([]byte)
}

func newFakeConn(mtu int) *fakeConn { return &fakeConn{mtu: mtu} }

func (c *fakeConn) DiscoverService(ctx context.Context, serviceUUID string) error { return nil }
func (c *fakeConn) DiscoverCharacteristics(ctx context.Context, serviceUUID string, charUUIDs []string) error {
	return nil
}

func (c *fakeConn) EnableNotify(ctx context.Context, charUUID string, onNotify func([]byte)) error {
	c.mu.Lock()
	c.notifyCb = onNotify
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Write(ctx context.Context, charUUID string, data []byte, withResponse bool) error {
	c.mu.Lock()
	cb := c.notifyCb
	mtu := c.mtu
	c.mu.Unlock()
	if len(data) == 8 && data[0] == apdu.FrameTag && data[3] == 0x08 {
		if cb != nil {
			cb([]byte{0x05, 0x00, 0x00, 0x00, 0x05, 0x08, 0x00, 0x00, 0x00, 0x00, byte(mtu)})
		}
		return nil
	}
	if cb != nil {
		cb([]byte{0x05, 0x00, 0x00, 0x00, 0x02, 0x90, 0x00})
	}
	return nil
}

func (c *fakeConn) SupportsWriteWithoutResponse(charUUID string) bool { return false }
func (c *fakeConn) Disconnect() error                                 { return nil }
func (c *fakeConn) OnDisconnect(func(error))                          {}

type fakeStack struct {
	adv []fakeAdv
}

func (s *fakeStack) StartScan(ctx context.Context, serviceUUIDs []string, onAdvertisement func(transport.Advertisement)) error {
	for _, a := range s.adv {
		onAdvertisement(a)
	}
	<-ctx.Done()
	return ctx.Err()
}
func (s *fakeStack) StopScan() error { return nil }
func (s *fakeStack) Connect(ctx context.Context, peripheralID string) (transport.PeripheralConn, error) {
	return newFakeConn(153), nil
}
func (s *fakeStack) Events() <-chan transport.StackEvent {
	return make(chan transport.StackEvent)
}

func testFamilyXServiceUUID() string {
	return "13D63400-2C97-0004-0000-4C6564676572"
}

func newTestTransport(t *testing.T, adv ...fakeAdv) *Transport {
	t.Helper()
	stack := &fakeStack{adv: adv}
	tr := New(DefaultConfig(), WithStack(stack))
	t.Cleanup(tr.Close)
	return tr
}

func TestTransportConnectByNameThenExchange(t *testing.T) {
	adv := fakeAdv{id: "aa:bb", name: "Wallet1", services: []string{testFamilyXServiceUUID()}}
	tr := newTestTransport(t, adv)

	id, err := tr.ConnectByName(context.Background(), "Wallet1")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb", id.UUID)

	resp, err := tr.Exchange(context.Background(), id, apdu.New([]byte{0x01}, false))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, resp)
}

func TestTransportAsyncVariantsDeliverResult(t *testing.T) {
	adv := fakeAdv{id: "aa:bb", name: "Wallet1", services: []string{testFamilyXServiceUUID()}}
	tr := newTestTransport(t, adv)

	connectDone := make(chan PeripheralIdentifier, 1)
	tr.ConnectByNameAsync(context.Background(), "Wallet1", func(id PeripheralIdentifier, err error) {
		require.NoError(t, err)
		connectDone <- id
	})

	var id PeripheralIdentifier
	select {
	case id = <-connectDone:
	case <-time.After(time.Second):
		t.Fatal("ConnectByNameAsync never delivered")
	}

	exchangeDone := make(chan []byte, 1)
	tr.ExchangeAsync(context.Background(), id, apdu.New([]byte{0x01}, false), func(resp []byte, err error) {
		require.NoError(t, err)
		exchangeDone <- resp
	})

	select {
	case resp := <-exchangeDone:
		assert.Equal(t, []byte{0x90, 0x00}, resp)
	case <-time.After(time.Second):
		t.Fatal("ExchangeAsync never delivered")
	}
}

func TestDefaultSingletonReturnsSameInstanceUntilOverridden(t *testing.T) {
	first := Default()
	second := Default()
	assert.Same(t, first, second)

	custom := newTestTransport(t)
	SetDefault(custom)
	assert.Same(t, custom, Default())
}
