package blobstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore"
	"github.com/cuemby/cryptfs/internal/blockstore/cipher"
	"github.com/cuemby/cryptfs/internal/blockstore/memraw"
)

func newNodeStore(t *testing.T) *NodeStore {
	t.Helper()
	return NewNodeStore(memraw.New(1024))
}

func TestCreateLeafNodeRoundTrip(t *testing.T) {
	ns := newNodeStore(t)
	leaf, err := ns.CreateLeafNode([]byte("hello"))
	require.NoError(t, err)

	loaded, err := ns.LoadNode(leaf.id)
	require.NoError(t, err)
	assert.True(t, loaded.isLeaf())
	assert.Equal(t, []byte("hello"), loaded.data)
}

func TestCreateInnerNodeRoundTrip(t *testing.T) {
	ns := newNodeStore(t)
	leaf1, err := ns.CreateLeafNode([]byte("a"))
	require.NoError(t, err)
	leaf2, err := ns.CreateLeafNode([]byte("b"))
	require.NoError(t, err)

	inner, err := ns.CreateInnerNode([]blockid.BlockId{leaf1.id, leaf2.id})
	require.NoError(t, err)

	loaded, err := ns.LoadNode(inner.id)
	require.NoError(t, err)
	assert.True(t, loaded.isInner())
	assert.Equal(t, []blockid.BlockId{leaf1.id, leaf2.id}, loaded.children)
}

func TestCreateLeafNodeRejectsOversizedData(t *testing.T) {
	ns := newNodeStore(t)
	_, err := ns.CreateLeafNode(make([]byte, ns.L()+1))
	require.Error(t, err)
}

func TestOverwriteInPlacePreservesId(t *testing.T) {
	ns := newNodeStore(t)
	leaf, err := ns.CreateLeafNode([]byte("x"))
	require.NoError(t, err)
	id := leaf.id

	other, err := ns.CreateInnerNode([]blockid.BlockId{blockid.New()})
	require.NoError(t, err)

	require.NoError(t, ns.OverwriteInPlace(id, other))

	loaded, err := ns.LoadNode(id)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.id)
	assert.True(t, loaded.isInner())
}

func TestDecodeRejectsCorruptChildCount(t *testing.T) {
	ns := newNodeStore(t)
	leaf, err := ns.CreateLeafNode([]byte("a"))
	require.NoError(t, err)
	inner, err := ns.CreateInnerNode([]blockid.BlockId{leaf.id})
	require.NoError(t, err)

	raw := ns.encode(inner)
	raw[4] = 0xFF // corrupt the child-count field to an out-of-range value
	raw[5] = 0xFF
	raw[6] = 0xFF
	raw[7] = 0xFF

	_, err = ns.decode(inner.id, raw)
	require.Error(t, err)
}

// TestLoadNodeAfterWriteSurvivesIntegrityLayer exercises NodeStore on top
// of the full EncryptedBlockStore+IntegrityBlockStore chain rather than a
// bare memraw: writing a node hands out a version, and reading it back in
// the same process must not be treated as a rollback of that same
// version (see the NodeStore doc comment).
func TestLoadNodeAfterWriteSurvivesIntegrityLayer(t *testing.T) {
	base := memraw.New(1024)
	aead, err := cipher.New(cipher.AESGCM, make([]byte, 32))
	require.NoError(t, err)
	encrypted := blockstore.NewEncryptedBlockStore(base, aead)
	known, err := blockstore.LoadOrCreateKnownBlockVersions(filepath.Join(t.TempDir(), "integritydata"))
	require.NoError(t, err)
	integrity := blockstore.NewIntegrityBlockStore(encrypted, known, blockstore.IntegrityBlockStoreConfig{})

	ns := NewNodeStore(integrity)

	leaf, err := ns.CreateLeafNode([]byte("hello"))
	require.NoError(t, err)

	loaded, err := ns.LoadNode(leaf.id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), loaded.data)

	other, err := ns.CreateInnerNode([]blockid.BlockId{blockid.New()})
	require.NoError(t, err)
	require.NoError(t, ns.OverwriteInPlace(leaf.id, other))

	reloaded, err := ns.LoadNode(leaf.id)
	require.NoError(t, err)
	assert.True(t, reloaded.isInner())

	assert.False(t, integrity.IntegrityViolationDetected())
}
