package bleadapter

import (
	"strings"

	blelib "github.com/go-ble/ble"
)

// normalizeUUID matches internal/catalogue's comparison convention:
// uppercase, no dashes. go-ble's ble.UUID.String() renders 16-bit and
// 128-bit UUIDs in different dash conventions, so every comparison here
// goes through this first.
func normalizeUUID(uuid string) string {
	return strings.ToUpper(strings.ReplaceAll(uuid, "-", ""))
}

// parseUUID wraps blelib.MustParse, which panics on malformed input; the
// catalogue only ever hands this adapter its own compile-time-valid
// UUIDs, but this stays defensive since it's the one place an external
// string reaches it directly.
func parseUUID(s string) (u blelib.UUID, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return blelib.MustParse(s), true
}
