package blobstore

import (
	"fmt"

	"github.com/cuemby/cryptfs/internal/blockid"
)

func ipow(base, exp int) int64 {
	r := int64(1)
	for i := 0; i < exp; i++ {
		r *= int64(base)
	}
	return r
}

// leavesForSize is n = max(1, ceil(N/L)): a zero-byte blob has one empty
// leaf.
func leavesForSize(byteSize int64, l int) int64 {
	if byteSize == 0 {
		return 1
	}
	return (byteSize + int64(l) - 1) / int64(l)
}

// depthForLeaves is d = max(0, ceil(log_K(leaves))): the smallest depth
// whose K^d capacity can hold leaves leaf nodes.
func depthForLeaves(leaves int64, k int) int {
	d := 0
	cap := int64(1)
	for cap < leaves {
		cap *= int64(k)
		d++
	}
	return d
}

// digitsOf decomposes a leaf index into its base-K child-index path from
// root to the level just above the leaf, most-significant digit first:
// digits[0] is the child index chosen by the root, digits[len-1] is the
// index chosen by the leaf's immediate parent.
func digitsOf(index int64, depth, k int) []int {
	digits := make([]int, depth)
	for level := 0; level < depth; level++ {
		shift := depth - 1 - level
		digits[level] = int((index / ipow(k, shift)) % int64(k))
	}
	return digits
}

// rightmostInfo walks only the rightmost root-to-leaf path, computing the
// tree's total leaf count, depth, and the byte size of the rightmost leaf
// in O(depth) block accesses. It relies on invariants I3/I4 (every
// non-rightmost leaf is full, every non-rightmost-path inner node is
// full): a non-rightmost child of an inner node at depth j always holds
// exactly K^j leaves.
func rightmostInfo(ns *NodeStore, rootID blockid.BlockId) (leaves int64, depth int, rightSize int, err error) {
	n, err := ns.LoadNode(rootID)
	if err != nil {
		return 0, 0, 0, err
	}
	if n.isLeaf() {
		return 1, 0, len(n.data), nil
	}

	lastChild := n.children[len(n.children)-1]
	subLeaves, subDepth, subRight, err := rightmostInfo(ns, lastChild)
	if err != nil {
		return 0, 0, 0, err
	}

	leaves = int64(len(n.children)-1)*ipow(ns.K(), subDepth) + subLeaves
	depth = subDepth + 1
	rightSize = subRight
	return leaves, depth, rightSize, nil
}

// checkFull verifies that the subtree at id, depth levels above leaf
// level, is completely full: exactly K^depth leaves, every leaf at
// capacity L, every inner node with exactly K children. Used by tests to
// assert the left-max-data invariant.
func checkFull(ns *NodeStore, id blockid.BlockId, depth int) error {
	n, err := ns.LoadNode(id)
	if err != nil {
		return err
	}
	if depth == 0 {
		if !n.isLeaf() {
			return fmt.Errorf("expected leaf at full-subtree depth 0, block %s", id)
		}
		if len(n.data) != ns.L() {
			return fmt.Errorf("non-rightmost leaf %s has size %d, want %d", id, len(n.data), ns.L())
		}
		return nil
	}
	if !n.isInner() || len(n.children) != ns.K() {
		return fmt.Errorf("non-rightmost inner node %s has %d children, want %d", id, len(n.children), ns.K())
	}
	for _, c := range n.children {
		if err := checkFull(ns, c, depth-1); err != nil {
			return err
		}
	}
	return nil
}

// checkInvariant verifies the left-max-data invariant for the subtree at
// id: every child but the last must be a completely full subtree, the
// last child is recursively checked the same way.
func checkInvariant(ns *NodeStore, id blockid.BlockId, depth int) error {
	n, err := ns.LoadNode(id)
	if err != nil {
		return err
	}
	if depth == 0 {
		if !n.isLeaf() {
			return fmt.Errorf("expected leaf at depth 0, block %s", id)
		}
		return nil
	}
	if !n.isInner() || len(n.children) == 0 {
		return fmt.Errorf("expected non-empty inner node at block %s", id)
	}
	for _, c := range n.children[:len(n.children)-1] {
		if err := checkFull(ns, c, depth-1); err != nil {
			return err
		}
	}
	return checkInvariant(ns, n.children[len(n.children)-1], depth-1)
}

// removeSubtree recursively removes every node in the subtree rooted at
// id, children before parent.
func removeSubtree(ns *NodeStore, id blockid.BlockId) error {
	n, err := ns.LoadNode(id)
	if err != nil {
		return err
	}
	if n.isInner() {
		for _, c := range n.children {
			if err := removeSubtree(ns, c); err != nil {
				return err
			}
		}
	}
	return ns.RemoveNode(id)
}
