package blockid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsRandomAndFixedSize(t *testing.T) {
	a := New()
	b := New()
	assert.NotEqual(t, a, b)
	assert.Len(t, a.Bytes(), Size)
}

func TestHexRoundTrip(t *testing.T) {
	id := New()
	s := id.String()
	assert.Len(t, s, Size*2)

	parsed, err := ParseHex(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseHexRejectsBadLength(t *testing.T) {
	_, err := ParseHex("not-a-block-id")
	assert.Error(t, err)
}

func TestPrefixIsFirstTwoHexChars(t *testing.T) {
	id := New()
	assert.Equal(t, id.String()[:2], id.Prefix())
}

func TestZeroIsZero(t *testing.T) {
	assert.True(t, Zero.IsZero())
	assert.False(t, New().IsZero())
}
