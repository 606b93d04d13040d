package app

import (
	"context"

	"github.com/srg/bleapdu/internal/apdu"
)

// bolosName is the canonical name of the device's launcher application;
// it is never itself closed before opening another app.
const bolosName = "BOLOS"

var closeAppCommand = apdu.New([]byte{0xB0, 0xA7, 0x00, 0x00}, false)

// OpenAppIfNeeded queries the running app, closes it first if it isn't
// the launcher, then opens the requested one. It returns success
// immediately if name is already running.
func OpenAppIfNeeded(ctx context.Context, x Exchanger, name string) error {
	for {
		info, err := GetAppAndVersion(ctx, x)
		if err != nil {
			return err
		}
		if info.Name == name {
			return nil
		}
		if info.Name != bolosName {
			if err := closeRunningApp(ctx, x); err != nil {
				return err
			}
			continue
		}
		return openApp(ctx, x, name)
	}
}

func closeRunningApp(ctx context.Context, x Exchanger) error {
	resp, err := x.Exchange(ctx, closeAppCommand)
	if err != nil {
		return err
	}
	class := apdu.ClassifyStatusWord(resp)
	if class.Kind != apdu.KindSuccess {
		return errBleStatus("close-app: " + class.String())
	}
	return nil
}

func openApp(ctx context.Context, x Exchanger, name string) error {
	payload := make([]byte, 0, 5+len(name))
	payload = append(payload, 0xE0, 0xD8, 0x00, 0x00, byte(len(name)))
	payload = append(payload, []byte(name)...)

	resp, err := x.Exchange(ctx, apdu.New(payload, false))
	if err != nil {
		return err
	}

	class := apdu.ClassifyStatusWord(resp)
	switch {
	case class.Kind == apdu.KindSuccess:
		return nil
	case class.Kind == apdu.KindUserRejected:
		return ErrUserRefusedOnDevice
	default:
		return errBleStatus("open-app: " + class.String())
	}
}
