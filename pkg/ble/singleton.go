package ble

import "sync"

// Default/SetDefault offer a process-wide Transport as a thin
// convenience over the explicit handle — a generalization of the
// ble.SetDefaultDevice global-device pattern so the singleton is
// optional, not the primary seat of state.
var (
	defaultMu sync.RWMutex
	defaultT  *Transport
)

// SetDefault installs t as the process-wide default Transport.
func SetDefault(t *Transport) {
	defaultMu.Lock()
	defaultT = t
	defaultMu.Unlock()
}

// Default returns the process-wide default Transport, constructing one
// from DefaultConfig() on first use if none has been set.
func Default() *Transport {
	defaultMu.RLock()
	t := defaultT
	defaultMu.RUnlock()
	if t != nil {
		return t
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultT == nil {
		defaultT = New(DefaultConfig())
	}
	return defaultT
}
