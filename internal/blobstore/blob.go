package blobstore

import (
	"fmt"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore"
)

// Blob is a handle onto one variable-length byte blob backed by an
// onblocks tree. Its root BlockId never changes for the lifetime of the
// blob, even across depth changes.
type Blob struct {
	ns        *NodeStore
	rootID    blockid.BlockId
	depth     int
	numLeaves int64
	numBytes  int64
}

// RootId is the blob's stable address.
func (b *Blob) RootId() blockid.BlockId { return b.rootID }

// NumBytes is the blob's current logical size.
func (b *Blob) NumBytes() int64 { return b.numBytes }

// Depth is the current tree depth (0 for a single-leaf blob).
func (b *Blob) Depth() int { return b.depth }

// CheckInvariants verifies the left-max-data invariant (I3/I4): every
// node off the rightmost root-to-leaf path is completely full. Intended
// for test assertions, not production use.
func (b *Blob) CheckInvariants() error {
	return checkInvariant(b.ns, b.rootID, b.depth)
}

// Flush is a no-op: every Write and Resize call in this implementation
// commits its node changes immediately, so there is no in-memory buffer
// to drain. The method exists so callers (and the fsblob layer, which
// does buffer its own metadata) have a uniform place to call before
// releasing a blob handle.
func (b *Blob) Flush() error { return nil }

// Read returns length bytes starting at off. off+length must not exceed
// NumBytes.
func (b *Blob) Read(off int64, length int) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, &blockstore.UsageError{Reason: "negative offset or length"}
	}
	if off+int64(length) > b.numBytes {
		return nil, &blockstore.UsageError{Reason: fmt.Sprintf("read [%d,%d) exceeds blob size %d", off, off+int64(length), b.numBytes)}
	}

	out := make([]byte, 0, length)
	pos := off
	remaining := length
	l := int64(b.ns.L())

	for remaining > 0 {
		leafIdx := pos / l
		within := int(pos % l)

		leaf, err := b.descendToLeaf(leafIdx)
		if err != nil {
			return nil, err
		}
		avail := len(leaf.data) - within
		if avail <= 0 {
			return nil, &blockstore.CorruptedStorageError{BlockId: leaf.id, Reason: "leaf shorter than expected by tree metadata"}
		}
		n := remaining
		if n > avail {
			n = avail
		}
		out = append(out, leaf.data[within:within+n]...)
		pos += int64(n)
		remaining -= n
	}
	return out, nil
}

// Write overwrites len(data) bytes starting at off, growing the blob via
// Resize first if the write extends past the current size.
func (b *Blob) Write(off int64, data []byte) error {
	if off < 0 {
		return &blockstore.UsageError{Reason: "negative offset"}
	}
	end := off + int64(len(data))
	if end > b.numBytes {
		if err := b.Resize(end); err != nil {
			return err
		}
	}

	pos := off
	remaining := data
	l := int64(b.ns.L())

	for len(remaining) > 0 {
		leafIdx := pos / l
		within := int(pos % l)

		leaf, err := b.descendToLeaf(leafIdx)
		if err != nil {
			return err
		}
		room := len(leaf.data) - within
		n := len(remaining)
		if n > room {
			n = room
		}
		if n <= 0 {
			return &blockstore.CorruptedStorageError{BlockId: leaf.id, Reason: "leaf shorter than expected by tree metadata"}
		}
		copy(leaf.data[within:within+n], remaining[:n])
		if err := b.ns.StoreNode(leaf); err != nil {
			return err
		}
		pos += int64(n)
		remaining = remaining[n:]
	}
	return nil
}

// Resize grows or shrinks the blob to exactly n bytes, zero-filling any
// newly exposed region. The root BlockId is preserved no matter how the
// tree's depth changes underneath it.
func (b *Blob) Resize(n int64) error {
	if n < 0 {
		return &blockstore.UsageError{Reason: "negative size"}
	}
	l := b.ns.L()
	targetLeaves := leavesForSize(n, l)
	rightSize := int(n - (targetLeaves-1)*int64(l))

	switch {
	case targetLeaves > b.numLeaves:
		if err := b.growTo(targetLeaves, make([]byte, rightSize)); err != nil {
			return err
		}
	case targetLeaves < b.numLeaves:
		if err := b.shrinkTo(targetLeaves, rightSize); err != nil {
			return err
		}
	default:
		if err := b.resizeRightmostLeaf(rightSize); err != nil {
			return err
		}
	}
	b.numBytes = n
	reportOpenBlobStats(b)
	return nil
}

// descendToLeaf walks the current rightmost-independent addressing path
// for leaf index i: at depth j counted down from the root, the child
// index is floor(i / K^j) mod K.
func (b *Blob) descendToLeaf(i int64) (*node, error) {
	id := b.rootID
	k := b.ns.K()
	for level := b.depth - 1; level >= 0; level-- {
		n, err := b.ns.LoadNode(id)
		if err != nil {
			return nil, err
		}
		if !n.isInner() {
			return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: "expected inner node while descending to leaf"}
		}
		childIdx := int((i / ipow(k, level)) % int64(k))
		if childIdx >= len(n.children) {
			return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: "leaf index out of bounds for this node's children"}
		}
		id = n.children[childIdx]
	}
	return b.ns.LoadNode(id)
}

func (b *Blob) resizeRightmostLeaf(newSize int) error {
	leaf, err := b.descendToLeaf(b.numLeaves - 1)
	if err != nil {
		return err
	}
	if len(leaf.data) == newSize {
		return nil
	}
	data := make([]byte, newSize)
	copy(data, leaf.data)
	leaf.data = data
	return b.ns.StoreNode(leaf)
}

// growTo extends the tree to hold target leaves, with rightmostData as
// the payload of the final (target-1'th) leaf. Every other newly created
// leaf is a full, zero-filled leaf of length L, satisfying invariant I4
// (every non-rightmost leaf is full).
func (b *Blob) growTo(target int64, rightmostData []byte) error {
	old := b.numLeaves
	l := b.ns.L()
	k := b.ns.K()

	if old >= 1 {
		// The previous rightmost leaf is about to stop being rightmost:
		// pad it up to a full leaf if it wasn't already.
		leaf, err := b.descendToLeaf(old - 1)
		if err != nil {
			return err
		}
		if len(leaf.data) < l {
			padded := make([]byte, l)
			copy(padded, leaf.data)
			leaf.data = padded
			if err := b.ns.StoreNode(leaf); err != nil {
				return err
			}
		}
	}

	for ipow(k, b.depth) < target {
		if err := b.increaseDepth(); err != nil {
			return err
		}
	}

	for idx := old; idx < target; idx++ {
		data := make([]byte, l)
		if idx == target-1 {
			data = rightmostData
		}
		if err := b.insertLeafAt(idx, data); err != nil {
			return err
		}
	}

	b.numLeaves = target
	return nil
}

// increaseDepth wraps the current root in one new inner node, moving the
// root's previous content to a freshly allocated block and overwriting
// the root block in place with a one-child inner node pointing at it.
// The root's BlockId is unchanged.
func (b *Blob) increaseDepth() error {
	old, err := b.ns.LoadNode(b.rootID)
	if err != nil {
		return err
	}

	var movedID blockid.BlockId
	if old.isLeaf() {
		moved, err := b.ns.CreateLeafNode(old.data)
		if err != nil {
			return err
		}
		movedID = moved.id
	} else {
		moved, err := b.ns.CreateInnerNode(old.children)
		if err != nil {
			return err
		}
		movedID = moved.id
	}

	newRoot := &node{kind: kindInner, children: []blockid.BlockId{movedID}}
	if err := b.ns.OverwriteInPlace(b.rootID, newRoot); err != nil {
		return err
	}
	b.depth++
	return nil
}

// insertLeafAt appends the leaf for index idx, which must be exactly the
// next leaf index in tree order (old leaf count at time of growTo's
// loop). It walks the path given by idx's base-K digits, descending into
// existing children and creating new ones exactly where the path first
// runs off the end of an existing children slice.
func (b *Blob) insertLeafAt(idx int64, data []byte) error {
	digits := digitsOf(idx, b.depth, b.ns.K())
	return b.insertAlongPath(b.rootID, digits, data)
}

func (b *Blob) insertAlongPath(id blockid.BlockId, digits []int, data []byte) error {
	n, err := b.ns.LoadNode(id)
	if err != nil {
		return err
	}
	childIdx := digits[0]

	if len(digits) == 1 {
		if childIdx != len(n.children) {
			return &blockstore.CorruptedStorageError{BlockId: id, Reason: "leaf insertion index out of order"}
		}
		leaf, err := b.ns.CreateLeafNode(data)
		if err != nil {
			return err
		}
		n.children = append(n.children, leaf.id)
		return b.ns.StoreNode(n)
	}

	switch {
	case childIdx == len(n.children):
		childID, err := b.createChain(len(digits)-1, data)
		if err != nil {
			return err
		}
		n.children = append(n.children, childID)
		return b.ns.StoreNode(n)
	case childIdx < len(n.children):
		return b.insertAlongPath(n.children[childIdx], digits[1:], data)
	default:
		return &blockstore.CorruptedStorageError{BlockId: id, Reason: "insertion index out of order"}
	}
}

// createChain builds a brand-new leftmost chain of depth inner nodes
// ending in one leaf holding data, for a subtree that didn't exist yet.
// It is only ever called for the very first leaf of a fresh subtree, so
// every level's child index within the chain is 0.
func (b *Blob) createChain(depth int, data []byte) (blockid.BlockId, error) {
	if depth == 0 {
		leaf, err := b.ns.CreateLeafNode(data)
		if err != nil {
			return blockid.BlockId{}, err
		}
		return leaf.id, nil
	}
	childID, err := b.createChain(depth-1, data)
	if err != nil {
		return blockid.BlockId{}, err
	}
	inner, err := b.ns.CreateInnerNode([]blockid.BlockId{childID})
	if err != nil {
		return blockid.BlockId{}, err
	}
	return inner.id, nil
}

// shrinkTo drops leaves from the right down to target leaves, pruning
// now-empty subtrees bottom-up, truncates the new rightmost leaf to
// rightSize, and collapses the root while it has exactly one child
// (shrinking depth), all while keeping the root BlockId fixed.
func (b *Blob) shrinkTo(target int64, rightSize int) error {
	for b.numLeaves > target {
		if err := b.removeRightmostLeaf(); err != nil {
			return err
		}
		b.numLeaves--
	}

	leaf, err := b.descendToLeaf(target - 1)
	if err != nil {
		return err
	}
	if len(leaf.data) != rightSize {
		data := make([]byte, rightSize)
		copy(data, leaf.data)
		leaf.data = data
		if err := b.ns.StoreNode(leaf); err != nil {
			return err
		}
	}

	for b.depth > 0 {
		root, err := b.ns.LoadNode(b.rootID)
		if err != nil {
			return err
		}
		if !root.isInner() || len(root.children) != 1 {
			break
		}
		onlyChild := root.children[0]
		child, err := b.ns.LoadNode(onlyChild)
		if err != nil {
			return err
		}
		if err := b.ns.OverwriteInPlace(b.rootID, child); err != nil {
			return err
		}
		if err := b.ns.RemoveNode(onlyChild); err != nil {
			return err
		}
		b.depth--
	}
	return nil
}

// removeRightmostLeaf removes the tree's current last leaf, pruning any
// inner node whose last child it was (and so on up), but never removes
// the root block itself.
func (b *Blob) removeRightmostLeaf() error {
	_, err := b.pruneRightmost(b.rootID, b.depth)
	return err
}

// pruneRightmost removes the rightmost leaf under id (a node at the
// given depth above the leaf level), returning whether id itself ended
// up with zero children and should be removed by its caller.
func (b *Blob) pruneRightmost(id blockid.BlockId, depth int) (emptied bool, err error) {
	n, err := b.ns.LoadNode(id)
	if err != nil {
		return false, err
	}
	if depth == 0 {
		return false, &blockstore.CorruptedStorageError{BlockId: id, Reason: "cannot prune the blob's only leaf"}
	}

	lastIdx := len(n.children) - 1
	childID := n.children[lastIdx]

	if depth == 1 {
		if err := b.ns.RemoveNode(childID); err != nil {
			return false, err
		}
		n.children = n.children[:lastIdx]
	} else {
		childEmptied, err := b.pruneRightmost(childID, depth-1)
		if err != nil {
			return false, err
		}
		if childEmptied {
			if err := b.ns.RemoveNode(childID); err != nil {
				return false, err
			}
			n.children = n.children[:lastIdx]
		}
	}

	if len(n.children) == 0 && id != b.rootID {
		return true, nil
	}
	if err := b.ns.StoreNode(n); err != nil {
		return false, err
	}
	return false, nil
}
