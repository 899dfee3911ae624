package boltraw

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blockid"
)

func TestRoundTrip(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "blocks.bolt"), 4096)
	require.NoError(t, err)
	defer store.Close()

	id := blockid.New()
	data := make([]byte, 4096)
	data[10] = 0x42

	ok, err := store.TryCreate(id, data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryCreate(id, data)
	require.NoError(t, err)
	assert.False(t, ok, "second TryCreate for the same id must fail")

	got, found, err := store.Load(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, data, got)

	n, err := store.NumBlocks()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err := store.Remove(id)
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err = store.Load(id)
	require.NoError(t, err)
	assert.False(t, found)
}
