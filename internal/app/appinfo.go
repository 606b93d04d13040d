package app

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/srg/bleapdu/internal/apdu"
)

// Exchanger is the one capability app-layer helpers need: a bound
// request/response cycle against an already-connected peripheral. It is
// satisfied by an already-scoped view over transport.Manager.Exchange —
// this package has no notion of PeripheralIdentifier or sessions.
type Exchanger interface {
	Exchange(ctx context.Context, a apdu.APDU) ([]byte, error)
}

// Info is the parsed body of a get-app-and-version response.
type Info struct {
	Name    string
	Version string
}

var getAppAndVersionCommand = apdu.New([]byte{0xB0, 0x01, 0x00, 0x00}, false)

// GetAppAndVersion sends the fixed get-app-and-version APDU and parses a
// successful response body into an Info.
func GetAppAndVersion(ctx context.Context, x Exchanger) (Info, error) {
	resp, err := x.Exchange(ctx, getAppAndVersionCommand)
	if err != nil {
		return Info{}, err
	}

	class := apdu.ClassifyStatusWord(resp)
	if class.Kind != apdu.KindSuccess {
		return Info{}, errBleStatus(fmt.Sprintf("get-app-and-version: %s", class))
	}

	body := resp[:len(resp)-2]
	return parseAppInfo(body)
}

// parseAppInfo decodes: byte 0 = format version; byte 1 = name_len; next
// name_len bytes = name; next byte = version_len; next version_len bytes
// = version.
func parseAppInfo(body []byte) (Info, error) {
	if len(body) < 2 {
		return Info{}, errFormatNotSupported("response body too short for format+name_len")
	}
	nameLen := int(body[1])
	nameStart := 2
	nameEnd := nameStart + nameLen
	if nameEnd+1 > len(body) {
		return Info{}, errFormatNotSupported("response body too short for name")
	}
	nameBytes := body[nameStart:nameEnd]
	if !utf8.Valid(nameBytes) {
		return Info{}, errCouldNotParse(fmt.Errorf("app name is not valid UTF-8"))
	}

	versionLen := int(body[nameEnd])
	versionStart := nameEnd + 1
	versionEnd := versionStart + versionLen
	if versionEnd > len(body) {
		return Info{}, errFormatNotSupported("response body too short for version")
	}
	versionBytes := body[versionStart:versionEnd]
	if !utf8.Valid(versionBytes) {
		return Info{}, errCouldNotParse(fmt.Errorf("app version is not valid UTF-8"))
	}

	return Info{Name: string(nameBytes), Version: string(versionBytes)}, nil
}
