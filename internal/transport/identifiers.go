package transport

import (
	"time"

	"github.com/srg/bleapdu/internal/catalogue"
)

// PlaceholderName is used for a PeripheralIdentifier when the
// advertisement that produced it carried no local name.
const PlaceholderName = "Unknown Device"

// PeripheralIdentifier pairs a stable UUID (or platform address) with a
// human-readable, possibly-stale display name. Equality and hashing
// depend only on UUID — the name is display metadata that can change
// across advertisements without the identifier itself changing. Go has
// no operator overloading, so "equality" and "hashing" are expressed as
// the Equal and Key methods below; every map/set keyed on a
// PeripheralIdentifier in this codebase keys by Key(), never by the
// struct value itself, so that two identifiers differing only in Name
// always collide as intended.
type PeripheralIdentifier struct {
	UUID string
	Name string
}

// Equal reports whether p and o denote the same peripheral, ignoring Name.
func (p PeripheralIdentifier) Equal(o PeripheralIdentifier) bool {
	return p.UUID == o.UUID
}

// Key returns the canonical map/set key for this identifier.
func (p PeripheralIdentifier) Key() string {
	return p.UUID
}

func displayName(name string) string {
	if name == "" {
		return PlaceholderName
	}
	return name
}

// DiscoveredPeripheral is one entry in a scan's running result set.
type DiscoveredPeripheral struct {
	ID           PeripheralIdentifier
	Family       catalogue.Family
	RSSI         int
	DiscoveredAt time.Time
}
