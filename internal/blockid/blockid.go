// Package blockid defines the 128-bit content-addressing identifier shared
// by every layer of the block store.
package blockid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the fixed length of a BlockId in bytes.
const Size = 16

// BlockId is a fixed 16-byte identifier. Equality is byte equality; it is
// never interpreted structurally beyond that.
type BlockId [Size]byte

// Zero is the all-zero id, used only as a sentinel for "no id" in callers
// that need one (the tree engine never produces it).
var Zero BlockId

// New generates a uniformly random BlockId.
func New() BlockId {
	var id BlockId
	copy(id[:], uuid.New()[:])
	return id
}

// FromBytes copies exactly Size bytes into a BlockId. It panics if b is not
// of length Size; callers are expected to validate lengths read off the
// wire before calling this.
func FromBytes(b []byte) BlockId {
	if len(b) != Size {
		panic(fmt.Sprintf("blockid: FromBytes requires %d bytes, got %d", Size, len(b)))
	}
	var id BlockId
	copy(id[:], b)
	return id
}

// ParseHex parses the 32-character uppercase hex representation produced by
// String.
func ParseHex(s string) (BlockId, error) {
	if len(s) != Size*2 {
		return BlockId{}, fmt.Errorf("blockid: wrong hex length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return BlockId{}, fmt.Errorf("blockid: invalid hex: %w", err)
	}
	return FromBytes(b), nil
}

// Bytes returns the id's raw bytes.
func (id BlockId) Bytes() []byte {
	return id[:]
}

// String renders the id as 32-character uppercase hex.
func (id BlockId) String() string {
	return fmt.Sprintf("%X", id[:])
}

// Prefix returns the first two hex characters of the id, used by
// directory-backed stores to fan blocks out across subdirectories.
func (id BlockId) Prefix() string {
	return id.String()[:2]
}

// IsZero reports whether id is the zero value.
func (id BlockId) IsZero() bool {
	return id == Zero
}
