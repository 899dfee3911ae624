package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blockid"
)

func newKV(t *testing.T) *KnownBlockVersions {
	t.Helper()
	kv, err := LoadOrCreateKnownBlockVersions(filepath.Join(t.TempDir(), "integritydata"))
	require.NoError(t, err)
	return kv
}

func TestIncrementVersionIsStrictlyMonotonic(t *testing.T) {
	kv := newKV(t)
	id := blockid.New()

	v1, err := kv.IncrementVersion(id)
	require.NoError(t, err)
	v2, err := kv.IncrementVersion(id)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(2), v2)
}

func TestCheckAndUpdateVersionRejectsRollback(t *testing.T) {
	kv := newKV(t)
	id := blockid.New()

	ok, err := kv.CheckAndUpdateVersion(10, id, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.CheckAndUpdateVersion(10, id, 5)
	require.NoError(t, err)
	assert.False(t, ok, "equal version must be rejected")

	ok, err = kv.CheckAndUpdateVersion(10, id, 4)
	require.NoError(t, err)
	assert.False(t, ok, "lower version must be rejected")

	ok, err = kv.CheckAndUpdateVersion(10, id, 6)
	require.NoError(t, err)
	assert.True(t, ok, "strictly higher version must be accepted")
}

func TestMultiClientMaxRule(t *testing.T) {
	// Two clients independently writing the same block id; a later
	// writer's IncrementVersion must exceed any version observed from
	// any other client.
	kv := newKV(t)
	id := blockid.New()

	ok, err := kv.CheckAndUpdateVersion(10, id, 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = kv.CheckAndUpdateVersion(20, id, 7)
	require.NoError(t, err)
	require.True(t, ok)

	// Client A (myClientID) now writes: incrementVersion must return 8.
	kv.myClientID = 10
	v, err := kv.IncrementVersion(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), v)

	// Client B observes A's new write.
	ok, err = kv.CheckAndUpdateVersion(10, id, 8)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTombstoneBlocksReintroductionUntilNewerWriter(t *testing.T) {
	kv := newKV(t)
	id := blockid.New()

	_, err := kv.IncrementVersion(id)
	require.NoError(t, err)
	require.NoError(t, kv.MarkBlockAsDeleted(id))

	assert.False(t, kv.BlockShouldExist(id))

	// Replaying the old version must still be rejected outright.
	ok, err := kv.CheckAndUpdateVersion(kv.MyClientId(), id, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// A strictly newer version from a writer clears the tombstone.
	ok, err = kv.CheckAndUpdateVersion(kv.MyClientId(), id, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, kv.BlockShouldExist(id))
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "integritydata")

	kv, err := LoadOrCreateKnownBlockVersions(path)
	require.NoError(t, err)

	id := blockid.New()
	_, err = kv.IncrementVersion(id)
	require.NoError(t, err)
	other := blockid.New()
	require.NoError(t, kv.MarkBlockAsDeleted(other))

	reloaded, err := LoadOrCreateKnownBlockVersions(path)
	require.NoError(t, err)

	assert.Equal(t, kv.MyClientId(), reloaded.MyClientId())
	assert.True(t, reloaded.BlockShouldExist(id))
	assert.False(t, reloaded.BlockShouldExist(other))
}
