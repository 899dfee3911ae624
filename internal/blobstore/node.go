// Package blobstore implements the blob layer: a balanced, fixed-fanout,
// left-max-data tree ("onblocks" tree) that composes many fixed-size
// blocks into variable-length byte blobs with random-access read, write,
// resize, and efficient leaf traversal.
package blobstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore"
)

// nodeKind is the magic byte distinguishing a node's structural role. The
// root-* forms are retained only so blobs written before this rewrite
// (where the root node carried a distinct magic) still load correctly;
// new code never produces them.
type nodeKind byte

const (
	kindInner     nodeKind = 0x01
	kindLeaf      nodeKind = 0x02
	kindRootInner nodeKind = 0x03
	kindRootLeaf  nodeKind = 0x04
)

func (k nodeKind) isInner() bool {
	return k == kindInner || k == kindRootInner
}

func (k nodeKind) isLeaf() bool {
	return k == kindLeaf || k == kindRootLeaf
}

const (
	nodeHeaderSize = 8
	nodeLayoutTag  = 1
)

// node is a block viewed as [8-byte header | data], tagged by kind as
// either an inner node (an array of child ids) or a leaf node (raw
// payload bytes): a tagged variant ("Node = Inner | Leaf") discriminated
// by the magic byte, never by inheritance.
type node struct {
	id       blockid.BlockId
	kind     nodeKind
	children []blockid.BlockId // valid iff kind.isInner()
	data     []byte            // valid iff kind.isLeaf(); length == leaf size
}

func (n *node) isLeaf() bool  { return n.kind.isLeaf() }
func (n *node) isInner() bool { return n.kind.isInner() }

// NodeStore turns a RawBlockStore (normally the integrity-wrapped top of
// the block layer) into a store of tree nodes, fixing the fanout K and
// leaf capacity L implied by the underlying physical block size.
//
// It keeps a small write-through cache of nodes this process itself last
// wrote. Without it, a node this process just created or overwrote would
// have to round-trip through IntegrityBlockStore.Load to be read back
// within the same tree operation, and the integrity layer's own-version
// check (by design, see knownversions.go) rejects a version equal to the
// one it just handed out — legitimate same-process rereads would be
// misdiagnosed as a rollback. The cache pushes the filesystem-blob
// layer's in-memory caching down to where this store actually reads its
// own writes.
type NodeStore struct {
	blocks   blockstore.RawBlockStore
	nodeSize int
	k        int // child capacity of an inner node
	l        int // payload capacity of a leaf node

	mu    sync.Mutex
	cache map[blockid.BlockId]*node
}

// NewNodeStore derives K and L from blocks' physical block size:
// K = (BLOCKSIZE-8)/16, L = BLOCKSIZE-8.
func NewNodeStore(blocks blockstore.RawBlockStore) *NodeStore {
	size := blocks.PhysicalBlockSize()
	return &NodeStore{
		blocks:   blocks,
		nodeSize: size,
		k:        (size - nodeHeaderSize) / blockid.Size,
		l:        size - nodeHeaderSize,
		cache:    make(map[blockid.BlockId]*node),
	}
}

// K is the maximum number of children an inner node may hold.
func (ns *NodeStore) K() int { return ns.k }

// L is the maximum number of payload bytes a leaf node may hold.
func (ns *NodeStore) L() int { return ns.l }

func (ns *NodeStore) encode(n *node) []byte {
	buf := make([]byte, ns.nodeSize)
	buf[0] = byte(n.kind)
	binary.BigEndian.PutUint16(buf[2:4], nodeLayoutTag)

	if n.isInner() {
		binary.BigEndian.PutUint32(buf[4:8], uint32(len(n.children)))
		for i, c := range n.children {
			off := nodeHeaderSize + i*blockid.Size
			copy(buf[off:off+blockid.Size], c.Bytes())
		}
	} else {
		binary.BigEndian.PutUint32(buf[4:8], uint32(len(n.data)))
		copy(buf[nodeHeaderSize:nodeHeaderSize+len(n.data)], n.data)
	}
	return buf
}

func (ns *NodeStore) decode(id blockid.BlockId, buf []byte) (*node, error) {
	if len(buf) < nodeHeaderSize {
		return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: "node shorter than header"}
	}

	kind := nodeKind(buf[0])
	size := int(binary.BigEndian.Uint32(buf[4:8]))

	switch {
	case kind.isInner():
		if size < 1 || size > ns.k {
			return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: fmt.Sprintf("inner node child count %d out of range [1,%d]", size, ns.k)}
		}
		if len(buf) < nodeHeaderSize+size*blockid.Size {
			return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: "inner node truncated"}
		}
		children := make([]blockid.BlockId, size)
		for i := range children {
			off := nodeHeaderSize + i*blockid.Size
			children[i] = blockid.FromBytes(buf[off : off+blockid.Size])
		}
		return &node{id: id, kind: kind, children: children}, nil

	case kind.isLeaf():
		if size < 0 || size > ns.l {
			return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: fmt.Sprintf("leaf node size %d out of range [0,%d]", size, ns.l)}
		}
		if len(buf) < nodeHeaderSize+size {
			return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: "leaf node truncated"}
		}
		data := append([]byte(nil), buf[nodeHeaderSize:nodeHeaderSize+size]...)
		return &node{id: id, kind: kind, data: data}, nil

	default:
		return nil, &blockstore.CorruptedStorageError{BlockId: id, Reason: fmt.Sprintf("unknown node magic 0x%02x", kind)}
	}
}

// CreateInnerNode allocates a fresh block id and persists an inner node
// with the given children.
func (ns *NodeStore) CreateInnerNode(children []blockid.BlockId) (*node, error) {
	n := &node{kind: kindInner, children: children}
	return ns.create(n)
}

// CreateLeafNode allocates a fresh block id and persists a leaf node
// holding data (data must be at most L bytes).
func (ns *NodeStore) CreateLeafNode(data []byte) (*node, error) {
	if len(data) > ns.l {
		return nil, &blockstore.UsageError{Reason: fmt.Sprintf("leaf data length %d exceeds capacity %d", len(data), ns.l)}
	}
	n := &node{kind: kindLeaf, data: data}
	return ns.create(n)
}

func (ns *NodeStore) create(n *node) (*node, error) {
	for {
		id := blockid.New()
		n.id = id
		ok, err := ns.blocks.TryCreate(id, ns.encode(n))
		if err != nil {
			return nil, err
		}
		if ok {
			ns.cachePut(n)
			return n, nil
		}
	}
}

// LoadNode loads and parses the node at id, preferring this process's own
// cached copy of a node it created or last wrote over a round trip
// through the backend (see the NodeStore doc comment for why).
func (ns *NodeStore) LoadNode(id blockid.BlockId) (*node, error) {
	if n, ok := ns.cacheGet(id); ok {
		return n, nil
	}

	raw, ok, err := ns.blocks.Load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &blockstore.NotFoundError{BlockId: id}
	}
	n, err := ns.decode(id, raw)
	if err != nil {
		return nil, err
	}
	ns.cachePut(n)
	return n, nil
}

// StoreNode overwrites the block at n.id with n's current contents.
func (ns *NodeStore) StoreNode(n *node) error {
	if err := ns.blocks.Store(n.id, ns.encode(n)); err != nil {
		return err
	}
	ns.cachePut(n)
	return nil
}

// RemoveNode deletes the node's underlying block.
func (ns *NodeStore) RemoveNode(id blockid.BlockId) error {
	_, err := ns.blocks.Remove(id)
	ns.cacheDelete(id)
	return err
}

// OverwriteInPlace replaces the bytes stored under an existing id with
// the encoding of a different node shape, keeping the id unchanged: the
// in-place root-replacement primitive where the root block's address
// never changes, only what's written under it.
func (ns *NodeStore) OverwriteInPlace(id blockid.BlockId, replacement *node) error {
	replacement.id = id
	if err := ns.blocks.Store(id, ns.encode(replacement)); err != nil {
		return err
	}
	ns.cachePut(replacement)
	return nil
}

// cachePut stores a defensive copy of n: callers that loaded n from the
// cache go on to mutate its children/data slices in place before calling
// StoreNode, and must never be able to corrupt another caller's view of
// what is currently persisted.
func (ns *NodeStore) cachePut(n *node) {
	cp := &node{id: n.id, kind: n.kind}
	if n.isInner() {
		cp.children = append([]blockid.BlockId(nil), n.children...)
	} else {
		cp.data = append([]byte(nil), n.data...)
	}

	ns.mu.Lock()
	ns.cache[n.id] = cp
	ns.mu.Unlock()
}

func (ns *NodeStore) cacheGet(id blockid.BlockId) (*node, bool) {
	ns.mu.Lock()
	cached, ok := ns.cache[id]
	ns.mu.Unlock()
	if !ok {
		return nil, false
	}

	cp := &node{id: cached.id, kind: cached.kind}
	if cached.isInner() {
		cp.children = append([]blockid.BlockId(nil), cached.children...)
	} else {
		cp.data = append([]byte(nil), cached.data...)
	}
	return cp, true
}

func (ns *NodeStore) cacheDelete(id blockid.BlockId) {
	ns.mu.Lock()
	delete(ns.cache, id)
	ns.mu.Unlock()
}
