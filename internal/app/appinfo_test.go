package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleapdu/internal/apdu"
)

type fakeExchanger struct {
	responses [][]byte
	calls     []apdu.APDU
	err       error
}

func (f *fakeExchanger) Exchange(_ context.Context, a apdu.APDU) ([]byte, error) {
	f.calls = append(f.calls, a)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func TestGetAppAndVersionParsesScenario4(t *testing.T) {
	// scenario 4.
	resp, err := apdu.HexToBytes("0107426974636F696E05322E312E309000")
	require.NoError(t, err)

	fx := &fakeExchanger{responses: [][]byte{resp}}
	info, err := GetAppAndVersion(context.Background(), fx)
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", info.Name)
	assert.Equal(t, "2.1.0", info.Version)
	assert.Len(t, fx.calls, 1)
	assert.Equal(t, []byte{0xB0, 0x01, 0x00, 0x00}, fx.calls[0].Payload())
}

func TestGetAppAndVersionNonSuccessStatus(t *testing.T) {
	fx := &fakeExchanger{responses: [][]byte{{0x69, 0x84}}}
	_, err := GetAppAndVersion(context.Background(), fx)
	require.Error(t, err)
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindBleStatusError, appErr.Kind)
}

func TestGetAppAndVersionShortBodyIsFormatNotSupported(t *testing.T) {
	fx := &fakeExchanger{responses: [][]byte{{0x01, 0x90, 0x00}}}
	_, err := GetAppAndVersion(context.Background(), fx)
	require.Error(t, err)
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindFormatNotSupported, appErr.Kind)
}

func TestParseAppInfoTruncatedVersion(t *testing.T) {
	body := []byte{0x01, 0x03, 'A', 'B', 'C', 0x05, '1', '.', '0'}
	_, err := parseAppInfo(body)
	require.Error(t, err)
	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindFormatNotSupported, appErr.Kind)
}
