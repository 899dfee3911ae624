package blockstore

import (
	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore/cipher"
	"github.com/cuemby/cryptfs/pkg/log"
)

// EncryptedBlockStore is a pure decorator over RawBlockStore that applies
// an AEAD cipher to every block's payload. On load, an authentication tag
// mismatch surfaces as an IntegrityViolationError rather than corrupt
// bytes.
type EncryptedBlockStore struct {
	base  RawBlockStore
	aead  cipher.AEAD
}

// NewEncryptedBlockStore wraps base, encrypting/decrypting payloads with
// aead.
func NewEncryptedBlockStore(base RawBlockStore, aead cipher.AEAD) *EncryptedBlockStore {
	return &EncryptedBlockStore{base: base, aead: aead}
}

var _ RawBlockStore = (*EncryptedBlockStore)(nil)

func (s *EncryptedBlockStore) TryCreate(id blockid.BlockId, plaintext []byte) (bool, error) {
	ciphertext, err := s.aead.Encrypt(plaintext)
	if err != nil {
		return false, &UsageError{Reason: "encrypt: " + err.Error()}
	}
	return s.base.TryCreate(id, ciphertext)
}

func (s *EncryptedBlockStore) Load(id blockid.BlockId) ([]byte, bool, error) {
	ciphertext, ok, err := s.base.Load(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	plaintext, err := s.aead.Decrypt(ciphertext)
	if err != nil {
		log.WithComponent("blockstore.encrypted").Warn().
			Str("block_id", id.String()).Err(err).
			Msg("authenticated decryption failed")
		return nil, false, &IntegrityViolationError{Reason: "block " + id.String() + " failed authenticated decryption: " + err.Error()}
	}
	return plaintext, true, nil
}

func (s *EncryptedBlockStore) Store(id blockid.BlockId, plaintext []byte) error {
	ciphertext, err := s.aead.Encrypt(plaintext)
	if err != nil {
		return &UsageError{Reason: "encrypt: " + err.Error()}
	}
	return s.base.Store(id, ciphertext)
}

func (s *EncryptedBlockStore) Remove(id blockid.BlockId) (bool, error) {
	return s.base.Remove(id)
}

func (s *EncryptedBlockStore) ForEachBlock(visit func(id blockid.BlockId) error) error {
	return s.base.ForEachBlock(visit)
}

func (s *EncryptedBlockStore) NumBlocks() (int, error) {
	return s.base.NumBlocks()
}

func (s *EncryptedBlockStore) EstimateFreeBytes() (uint64, error) {
	return s.base.EstimateFreeBytes()
}

// PhysicalBlockSize returns the size of a plaintext payload that fits in
// one physical block once the cipher's fixed overhead is subtracted.
func (s *EncryptedBlockStore) PhysicalBlockSize() int {
	return s.base.PhysicalBlockSize() - s.aead.CiphertextOverhead()
}
