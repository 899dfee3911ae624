package blobstore

import (
	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore"
	"github.com/cuemby/cryptfs/internal/metrics"
)

// BlobStoreOnBlocks is the blob layer's entry point: it turns a
// RawBlockStore of fixed-size blocks into a store of variable-length
// blobs, each addressed by the BlockId of its root node.
type BlobStoreOnBlocks struct {
	ns *NodeStore
}

// New builds a BlobStoreOnBlocks over blocks, normally the
// integrity-wrapped top of the block layer.
func New(blocks blockstore.RawBlockStore) *BlobStoreOnBlocks {
	return &BlobStoreOnBlocks{ns: NewNodeStore(blocks)}
}

// Create allocates a new, empty (zero-byte) blob with a single empty
// leaf as its root.
func (s *BlobStoreOnBlocks) Create() (*Blob, error) {
	leaf, err := s.ns.CreateLeafNode(nil)
	if err != nil {
		return nil, err
	}
	b := &Blob{ns: s.ns, rootID: leaf.id, depth: 0, numLeaves: 1, numBytes: 0}
	reportOpenBlobStats(b)
	return b, nil
}

// Load opens the blob whose root is rootID, recomputing its leaf count,
// depth, and size by walking only the rightmost root-to-leaf path.
func (s *BlobStoreOnBlocks) Load(rootID blockid.BlockId) (*Blob, error) {
	leaves, depth, rightSize, err := rightmostInfo(s.ns, rootID)
	if err != nil {
		return nil, err
	}
	numBytes := (leaves-1)*int64(s.ns.L()) + int64(rightSize)
	b := &Blob{ns: s.ns, rootID: rootID, depth: depth, numLeaves: leaves, numBytes: numBytes}
	reportOpenBlobStats(b)
	return b, nil
}

// Remove deletes every node in b's tree.
func (s *BlobStoreOnBlocks) Remove(b *Blob) error {
	if err := removeSubtree(s.ns, b.rootID); err != nil {
		return err
	}
	clearOpenBlobStats(b.rootID)
	return nil
}

func reportOpenBlobStats(b *Blob) {
	label := b.rootID.String()
	metrics.OpenBlobTreeDepth.WithLabelValues(label).Set(float64(b.depth))
	metrics.OpenBlobLeafCount.WithLabelValues(label).Set(float64(b.numLeaves))
}

func clearOpenBlobStats(id blockid.BlockId) {
	label := id.String()
	metrics.OpenBlobTreeDepth.DeleteLabelValues(label)
	metrics.OpenBlobLeafCount.DeleteLabelValues(label)
}

// K is the fanout of inner nodes in this store's trees.
func (s *BlobStoreOnBlocks) K() int { return s.ns.K() }

// L is the leaf payload capacity of this store's trees.
func (s *BlobStoreOnBlocks) L() int { return s.ns.L() }
