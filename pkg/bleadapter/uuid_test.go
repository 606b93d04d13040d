package bleadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUIDUppercasesAndStripsDashes(t *testing.T) {
	assert.Equal(t,
		"13D634002C97000400004C6564676572",
		normalizeUUID("13D63400-2C97-0004-0000-4C6564676572"),
	)
	assert.Equal(t, "ABCD", normalizeUUID("abcd"))
}

func TestParseUUIDRecoversFromMalformedInput(t *testing.T) {
	_, ok := parseUUID("not a uuid")
	assert.False(t, ok)

	u, ok := parseUUID("180D")
	assert.True(t, ok)
	assert.NotEmpty(t, u.String())
}
