package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleapdu/internal/apdu"
	"github.com/srg/bleapdu/internal/catalogue"
	"github.com/srg/bleapdu/internal/executor"
)

// defaultConnectScanTimeout bounds how long Connect will scan looking for
// the target peripheral before giving up with ScanTimedOut.
const defaultConnectScanTimeout = 30 * time.Second

// scanCache deduplicates advertisements seen during one scan. byID is a
// lock-free concurrent map (github.com/cornelk/hashmap) so the
// advertisement callback — which the underlying BLE stack may invoke from
// its own goroutine — never blocks behind a scan-wide mutex. order is a
// github.com/wk8/go-ordered-map/v2 index of the same keys in first-seen
// order, used to resolve connect-by-name ambiguity in favor of whichever
// match was seen first; OrderedMap itself isn't concurrent-safe, so
// mutations to it are serialized through mu.
type scanCache struct {
	byID  *hashmap.Map[string, *DiscoveredPeripheral]
	mu    sync.Mutex
	order *orderedmap.OrderedMap[string, struct{}]
}

func newScanCache() *scanCache {
	return &scanCache{
		byID:  hashmap.New[string, *DiscoveredPeripheral](),
		order: orderedmap.New[string, struct{}](),
	}
}

// upsert records p, returning true iff this is a new peripheral or an
// update to RSSI/name/family worth re-emitting to a scan subscriber.
func (c *scanCache) upsert(p DiscoveredPeripheral) bool {
	key := p.ID.Key()
	existing, ok := c.byID.Get(key)
	if ok && existing.RSSI == p.RSSI && existing.ID.Name == p.ID.Name && existing.Family == p.Family {
		return false
	}
	c.byID.Set(key, &p)
	if !ok {
		c.mu.Lock()
		c.order.Set(key, struct{}{})
		c.mu.Unlock()
	}
	return true
}

func (c *scanCache) snapshot() []DiscoveredPeripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DiscoveredPeripheral, 0, c.order.Len())
	for pair := c.order.Oldest(); pair != nil; pair = pair.Next() {
		if p, ok := c.byID.Get(pair.Key); ok {
			out = append(out, *p)
		}
	}
	return out
}

func (c *scanCache) len() int {
	return c.byID.Len()
}

// firstSeenByName returns the first-discovered peripheral advertising
// name, or ok=false if none has.
func (c *scanCache) firstSeenByName(name string) (DiscoveredPeripheral, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pair := c.order.Oldest(); pair != nil; pair = pair.Next() {
		if p, ok := c.byID.Get(pair.Key); ok && p.ID.Name == name {
			return *p, true
		}
	}
	return DiscoveredPeripheral{}, false
}

// connectTarget is how a caller identifies the peripheral Connect should
// dial: either a known PeripheralIdentifier or an advertised name.
type connectTarget struct {
	byID   *PeripheralIdentifier
	byName string
}

// ConnectTargetByID targets a previously discovered peripheral by its
// stable identifier.
func ConnectTargetByID(id PeripheralIdentifier) connectTarget {
	return connectTarget{byID: &id}
}

// ConnectTargetByName targets the first peripheral seen advertising name.
func ConnectTargetByName(name string) connectTarget {
	return connectTarget{byName: name}
}

func matchFamily(cfg catalogue.Config, adv Advertisement) (catalogue.Entry, bool) {
	for _, uuid := range adv.ServiceUUIDs() {
		if entry, ok := catalogue.MatchService(uuid); ok && cfg.Accepts(entry.Family) {
			return entry, true
		}
	}
	return catalogue.Entry{}, false
}

// notifyRouter lets the Connection Manager redirect the one permanent
// EnableNotify subscription's callback over a connection's lifetime: a
// short-lived collector during MTU negotiation, then the session's own
// dispatch once Connected. The underlying GATT subscription is only ever
// set up once ("must succeed before MTU negotiation").
type notifyRouter struct {
	mu     sync.Mutex
	target func([]byte)
}

func (r *notifyRouter) set(target func([]byte)) {
	r.mu.Lock()
	r.target = target
	r.mu.Unlock()
}

func (r *notifyRouter) dispatch(data []byte) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target != nil {
		target(data)
	}
}

// ManagerOption configures optional Manager behaviour at construction.
type ManagerOption func(*Manager)

// WithConnectScanTimeout overrides how long Connect will scan for its
// target before raising ScanTimedOut.
func WithConnectScanTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.connectScanTimeout = d }
}

// Manager is the Connection Manager: it owns the
// Scan → Connect → Discover → Subscribe → Negotiate-MTU lifecycle and the
// table of live sessions the Exchange Engine operates against.
type Manager struct {
	logger *logrus.Logger
	stack  Stack
	cfg    catalogue.Config
	engine *Engine

	connectScanTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session

	availMu      sync.RWMutex
	availability AvailabilityState
	availSubs    []chan AvailabilityState

	disconnectMu        sync.Mutex
	disconnectCallbacks []func(PeripheralIdentifier, error)
}

// NewManager builds a Manager bound to stack, scanning/connecting only to
// families accepted by cfg.
func NewManager(logger *logrus.Logger, stack Stack, cfg catalogue.Config, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:             logger,
		stack:              stack,
		cfg:                cfg,
		engine:             NewEngine(logger),
		connectScanTimeout: defaultConnectScanTimeout,
		ctx:                ctx,
		cancel:             cancel,
		sessions:           make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.watchAvailability(ctx)
	return m
}

// Close stops the Manager's availability watcher. It does not tear down
// live sessions; callers should Disconnect each one first.
func (m *Manager) Close() {
	m.cancel()
}

func (m *Manager) watchAvailability(ctx context.Context) {
	executor.Spawn(ctx, "availability-watcher", func(ctx context.Context) {
		events := m.stack.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind == EventAvailabilityChanged {
					m.setAvailability(ev.Availability)
				}
			}
		}
	})
}

func (m *Manager) setAvailability(a AvailabilityState) {
	m.availMu.Lock()
	m.availability = a
	subs := append([]chan AvailabilityState(nil), m.availSubs...)
	m.availMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- a:
		default:
		}
	}
}

// Availability returns the last known BLE-stack power/permission state.
func (m *Manager) Availability() AvailabilityState {
	m.availMu.RLock()
	defer m.availMu.RUnlock()
	return m.availability
}

// SubscribeAvailability returns a channel fed every subsequent
// availability transition. The channel is never closed by the Manager.
func (m *Manager) SubscribeAvailability() <-chan AvailabilityState {
	ch := make(chan AvailabilityState, 4)
	m.availMu.Lock()
	m.availSubs = append(m.availSubs, ch)
	m.availMu.Unlock()
	return ch
}

// OnDisconnect registers cb to run once the next time any session
// disconnects unexpectedly. After firing, all registrations (including
// cb) are cleared — callers must re-subscribe.
func (m *Manager) OnDisconnect(cb func(PeripheralIdentifier, error)) {
	m.disconnectMu.Lock()
	m.disconnectCallbacks = append(m.disconnectCallbacks, cb)
	m.disconnectMu.Unlock()
}

// Scan starts scanning for advertisements in the Manager's configured
// device families, invoking onUpdate with a growing deduplicated snapshot
// each time it changes. It blocks until ctx is cancelled or duration
// elapses; duration <= 0 means "until ctx is cancelled".
func (m *Manager) Scan(ctx context.Context, duration time.Duration, onUpdate func([]DiscoveredPeripheral)) error {
	if m.Availability() != AvailabilityPoweredOn && m.Availability() != AvailabilityUnknown {
		return ErrBluetoothNotAvailable
	}

	scanCtx := ctx
	var cancel context.CancelFunc
	if duration > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	cache := newScanCache()
	onAdv := func(adv Advertisement) {
		entry, ok := matchFamily(m.cfg, adv)
		if !ok {
			return
		}
		dp := DiscoveredPeripheral{
			ID:           PeripheralIdentifier{UUID: adv.Identifier(), Name: displayName(adv.LocalName())},
			Family:       entry.Family,
			RSSI:         adv.RSSI(),
			DiscoveredAt: time.Now(),
		}
		if cache.upsert(dp) {
			onUpdate(cache.snapshot())
		}
	}

	err := m.stack.StartScan(scanCtx, m.cfg.ServiceUUIDs(), onAdv)
	_ = m.stack.StopScan()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return errScan(err.Error(), err)
	}
	if errors.Is(scanCtx.Err(), context.DeadlineExceeded) && cache.len() == 0 {
		return ErrScanTimedOut
	}
	return nil
}

// StopScan stops any scan in progress.
func (m *Manager) StopScan() error {
	return m.stack.StopScan()
}

func (m *Manager) resolveTarget(ctx context.Context, target connectTarget) (DiscoveredPeripheral, error) {
	scanCtx, cancel := context.WithTimeout(ctx, m.connectScanTimeout)
	defer cancel()

	cache := newScanCache()
	found := make(chan DiscoveredPeripheral, 1)
	var once sync.Once

	onAdv := func(adv Advertisement) {
		entry, ok := matchFamily(m.cfg, adv)
		if !ok {
			return
		}
		dp := DiscoveredPeripheral{
			ID:           PeripheralIdentifier{UUID: adv.Identifier(), Name: displayName(adv.LocalName())},
			Family:       entry.Family,
			RSSI:         adv.RSSI(),
			DiscoveredAt: time.Now(),
		}
		if !cache.upsert(dp) {
			return
		}
		matches := (target.byID != nil && dp.ID.Equal(*target.byID)) ||
			(target.byName != "" && dp.ID.Name == target.byName)
		if matches {
			once.Do(func() { found <- dp })
		}
	}

	scanErr := make(chan error, 1)
	go func() { scanErr <- m.stack.StartScan(scanCtx, m.cfg.ServiceUUIDs(), onAdv) }()
	defer func() { _ = m.stack.StopScan() }()

	select {
	case dp := <-found:
		return dp, nil
	case <-scanCtx.Done():
		return DiscoveredPeripheral{}, ErrScanTimedOut
	case err := <-scanErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return DiscoveredPeripheral{}, errScan(err.Error(), err)
		}
		return DiscoveredPeripheral{}, ErrScanTimedOut
	}
}

// Connect resolves target, dials the peripheral, runs GATT discovery,
// subscribes to notifications and negotiates the MTU: the full
// Connecting → DiscoveringServices → SubscribingNotify →
// NegotiatingMTU → Connected sequence.
func (m *Manager) Connect(ctx context.Context, target connectTarget) (PeripheralIdentifier, error) {
	if m.Availability() != AvailabilityPoweredOn && m.Availability() != AvailabilityUnknown {
		return PeripheralIdentifier{}, ErrBluetoothNotAvailable
	}

	discovered, err := m.resolveTarget(ctx, target)
	if err != nil {
		return PeripheralIdentifier{}, err
	}

	sess := newSession(discovered.ID, discovered.Family, nil)
	sess.setState(StateConnecting)

	conn, err := m.stack.Connect(ctx, discovered.ID.UUID)
	if err != nil {
		return PeripheralIdentifier{}, errConnect("dial peripheral", err)
	}
	sess.mu.Lock()
	sess.conn = conn
	sess.mu.Unlock()

	entry := catalogue.Lookup(discovered.Family)

	sess.setState(StateDiscoveringServices)
	if err := conn.DiscoverService(ctx, entry.ServiceUUID); err != nil {
		_ = conn.Disconnect()
		return PeripheralIdentifier{}, errConnect("discover service", err)
	}
	charUUIDs := []string{entry.NotifyUUID, entry.WriteResponseUUID, entry.WriteNoResponseUUID}
	if err := conn.DiscoverCharacteristics(ctx, entry.ServiceUUID, charUUIDs); err != nil {
		_ = conn.Disconnect()
		return PeripheralIdentifier{}, errConnect("discover characteristics", err)
	}

	router := &notifyRouter{}
	mtuCh := make(chan []byte, 1)
	router.set(func(b []byte) {
		select {
		case mtuCh <- b:
		default:
		}
	})

	sess.setState(StateSubscribingNotify)
	if err := conn.EnableNotify(ctx, entry.NotifyUUID, router.dispatch); err != nil {
		_ = conn.Disconnect()
		return PeripheralIdentifier{}, errListen("enable notify", err)
	}

	sess.setState(StateNegotiatingMTU)
	mtu, err := negotiateMTU(ctx, conn, entry, mtuCh)
	if err != nil {
		_ = conn.Disconnect()
		return PeripheralIdentifier{}, err
	}

	sess.mu.Lock()
	sess.mtu = mtu
	sess.canWriteWithoutResponse = conn.SupportsWriteWithoutResponse(entry.WriteNoResponseUUID)
	sess.mu.Unlock()

	router.set(sess.deliverNotification)
	conn.OnDisconnect(func(cause error) { m.handleUnexpectedDisconnect(sess, cause) })

	sess.setState(StateConnected)

	m.mu.Lock()
	m.sessions[discovered.ID.Key()] = sess
	m.mu.Unlock()

	return discovered.ID, nil
}

// negotiateMTU writes the fixed MTU probe and parses the single notify
// frame the device responds with directly, bypassing the chunk
// reassembler: the first five bytes are the frame header (tag, index,
// declared length), the next five echo the probe payload, and the MTU
// value itself is the sixth payload byte, raw index 10.
func negotiateMTU(ctx context.Context, conn PeripheralConn, entry catalogue.Entry, resp <-chan []byte) (int, error) {
	probe := apdu.InferMTU.Frames(0)
	if len(probe) != 1 {
		return 0, errPairing("mtu probe produced no frame")
	}
	if err := conn.Write(ctx, entry.WriteResponseUUID, probe[0], true); err != nil {
		return 0, errPairing(fmt.Sprintf("write mtu probe: %v", err))
	}
	select {
	case <-ctx.Done():
		return 0, wrapCancellation(ctx.Err())
	case b := <-resp:
		if len(b) < 11 {
			return 0, errPairing(fmt.Sprintf("mtu response too short: %d bytes", len(b)))
		}
		mtu := int(b[10])
		if mtu < minMTU || mtu > maxMTU {
			return 0, errPairing(fmt.Sprintf("mtu %d outside [%d,%d]", mtu, minMTU, maxMTU))
		}
		return mtu, nil
	}
}

func (m *Manager) lookupSession(id PeripheralIdentifier) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id.Key()]
	return s, ok
}

func (m *Manager) removeSession(id PeripheralIdentifier) {
	m.mu.Lock()
	delete(m.sessions, id.Key())
	m.mu.Unlock()
}

// Exchange sends a through the session connected to id and returns the
// reassembled response.
func (m *Manager) Exchange(ctx context.Context, id PeripheralIdentifier, a apdu.APDU) ([]byte, error) {
	sess, ok := m.lookupSession(id)
	if !ok {
		return nil, errCurrentConnected(fmt.Sprintf("no session for %s", id.UUID))
	}
	return m.engine.Exchange(ctx, sess, a)
}

// Send writes a through the session connected to id without awaiting a
// response.
func (m *Manager) Send(ctx context.Context, id PeripheralIdentifier, a apdu.APDU) error {
	sess, ok := m.lookupSession(id)
	if !ok {
		return errCurrentConnected(fmt.Sprintf("no session for %s", id.UUID))
	}
	return m.engine.Send(ctx, sess, a)
}

// Disconnect implements the deferred-disconnect policy: if no exchange
// is in flight it tears down immediately, otherwise it blocks until the
// in-flight exchange resolves and releases the session.
func (m *Manager) Disconnect(ctx context.Context, id PeripheralIdentifier) error {
	sess, ok := m.lookupSession(id)
	if !ok {
		return errCurrentConnected(fmt.Sprintf("no session for %s", id.UUID))
	}

	sess.setState(StateDisconnecting)
	immediate, done := sess.requestDisconnect()
	if immediate {
		err := sess.conn.Disconnect()
		m.removeSession(id)
		sess.setState(StateIdle)
		if err != nil {
			return errLowerLevel("disconnect", err)
		}
		return nil
	}

	select {
	case <-done:
		m.removeSession(id)
		sess.setState(StateIdle)
		return nil
	case <-ctx.Done():
		return wrapCancellation(ctx.Err())
	}
}

func (m *Manager) handleUnexpectedDisconnect(sess *session, cause error) {
	sess.notifyDisconnected()
	sess.setState(StateIdle)
	m.removeSession(sess.id)

	m.disconnectMu.Lock()
	cbs := m.disconnectCallbacks
	m.disconnectCallbacks = nil
	m.disconnectMu.Unlock()

	for _, cb := range cbs {
		cb(sess.id, cause)
	}
}
