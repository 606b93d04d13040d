package bleadapter

import (
	blelib "github.com/go-ble/ble"
)

// advertisement adapts blelib.Advertisement to transport.Advertisement,
// grounded on internal/device/go-ble/advertisement.go's same wrapping.
type advertisement struct {
	adv blelib.Advertisement
}

func (a advertisement) Identifier() string { return a.adv.Addr().String() }
func (a advertisement) LocalName() string  { return a.adv.LocalName() }
func (a advertisement) RSSI() int          { return a.adv.RSSI() }

func (a advertisement) ServiceUUIDs() []string {
	uuids := a.adv.Services()
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, u.String())
	}
	return out
}
