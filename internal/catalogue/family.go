// Package catalogue holds the compile-time table of supported BLE hardware-wallet
// families: the service UUID each advertises and the three GATT characteristics
// (notify, write-with-response, write-without-response) that hang off it.
package catalogue

import (
	"fmt"
	"strings"
)

// Family identifies one of the four known hardware-wallet device families.
type Family int

const (
	// FamilyX is the first known family, template nibble 0004.
	FamilyX Family = iota
	// FamilyF is the second known family, template nibble 6004.
	FamilyF
	// FamilyS is the third known family, template nibble 3004.
	FamilyS
	// FamilyL is the fourth known family, template nibble 4004.
	FamilyL
)

// String renders the family as its catalogue letter, e.g. for log fields.
func (f Family) String() string {
	switch f {
	case FamilyX:
		return "X"
	case FamilyF:
		return "F"
	case FamilyS:
		return "S"
	case FamilyL:
		return "L"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

const uuidTemplate = "13D63400-2C97-%s-%s-4C6564676572"

const (
	roleService       = "0000"
	roleNotify        = "0001"
	roleWriteResponse = "0002"
	roleWriteNoResp   = "0003"
)

var familyNibble = map[Family]string{
	FamilyX: "0004",
	FamilyF: "6004",
	FamilyS: "3004",
	FamilyL: "4004",
}

// Entry is one catalogue row: a device family and the four UUIDs it owns.
type Entry struct {
	Family              Family
	ServiceUUID         string
	NotifyUUID          string
	WriteResponseUUID   string
	WriteNoResponseUUID string
}

func buildEntry(f Family) Entry {
	nibble := familyNibble[f]
	return Entry{
		Family:              f,
		ServiceUUID:         fmt.Sprintf(uuidTemplate, nibble, roleService),
		NotifyUUID:          fmt.Sprintf(uuidTemplate, nibble, roleNotify),
		WriteResponseUUID:   fmt.Sprintf(uuidTemplate, nibble, roleWriteResponse),
		WriteNoResponseUUID: fmt.Sprintf(uuidTemplate, nibble, roleWriteNoResp),
	}
}

// AllFamilies is the compile-time catalogue of every known device family.
// The order X, F, S, L has no runtime significance beyond determinism of
// iteration.
var AllFamilies = []Family{FamilyX, FamilyF, FamilyS, FamilyL}

// table is built once at init time and never mutated afterwards.
var table = func() map[Family]Entry {
	m := make(map[Family]Entry, len(AllFamilies))
	for _, f := range AllFamilies {
		m[f] = buildEntry(f)
	}
	return m
}()

// Lookup returns the catalogue entry for f. Every Family constant has one.
func Lookup(f Family) Entry {
	return table[f]
}

// normalizeUUID puts a UUID into a single comparable form: uppercase, no
// dashes. go-ble and most GATT stacks are case-insensitive on the wire but
// string comparisons in this package are not, so every lookup normalizes
// first.
func normalizeUUID(uuid string) string {
	return strings.ToUpper(strings.ReplaceAll(uuid, "-", ""))
}

var serviceIndex = func() map[string]Entry {
	m := make(map[string]Entry, len(AllFamilies))
	for _, f := range AllFamilies {
		e := table[f]
		m[normalizeUUID(e.ServiceUUID)] = e
	}
	return m
}()

// MatchService returns the catalogue entry whose service UUID matches the
// one observed in a BLE advertisement, or ok=false if it matches none of
// the known families.
func MatchService(serviceUUID string) (Entry, bool) {
	e, ok := serviceIndex[normalizeUUID(serviceUUID)]
	return e, ok
}

// WriteCharacteristic selects the characteristic a write should target:
// write-without-response when the peripheral advertised that capability,
// write-with-response otherwise.
func (e Entry) WriteCharacteristic(canWriteWithoutResponse bool) string {
	if canWriteWithoutResponse {
		return e.WriteNoResponseUUID
	}
	return e.WriteResponseUUID
}

// Config is the non-empty set of families a scan should filter on.
type Config struct {
	families map[Family]struct{}
}

// DefaultConfig accepts all four known families, the default.
func DefaultConfig() Config {
	return NewConfig(AllFamilies...)
}

// NewConfig builds a Config from an explicit, non-empty family list.
// An empty list falls back to DefaultConfig, since a Config scanning for
// nothing can never discover a peripheral.
func NewConfig(families ...Family) Config {
	if len(families) == 0 {
		return DefaultConfig()
	}
	m := make(map[Family]struct{}, len(families))
	for _, f := range families {
		m[f] = struct{}{}
	}
	return Config{families: m}
}

// Families returns the configured families in catalogue order.
func (c Config) Families() []Family {
	out := make([]Family, 0, len(c.families))
	for _, f := range AllFamilies {
		if _, ok := c.families[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Accepts reports whether f is part of this configuration.
func (c Config) Accepts(f Family) bool {
	_, ok := c.families[f]
	return ok
}

// ServiceUUIDs returns the union of service UUIDs this configuration
// should have the scanner filter advertisements on.
func (c Config) ServiceUUIDs() []string {
	families := c.Families()
	out := make([]string, 0, len(families))
	for _, f := range families {
		out = append(out, table[f].ServiceUUID)
	}
	return out
}
