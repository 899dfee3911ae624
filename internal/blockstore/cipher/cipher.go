// Package cipher exposes the narrow capability set the encrypted block
// store needs from an AEAD cipher, polymorphic over the concrete
// implementation chosen by configuration.
package cipher

import "fmt"

// AEAD is the capability set EncryptedBlockStore is polymorphic over:
// encrypt, decrypt, and knowing the fixed ciphertext overhead (nonce +
// authentication tag) it adds to every block.
type AEAD interface {
	// Encrypt authenticate-encrypts plaintext, returning a ciphertext
	// that embeds whatever nonce/tag material is needed to decrypt it.
	Encrypt(plaintext []byte) (ciphertext []byte, err error)

	// Decrypt authenticates and decrypts ciphertext produced by Encrypt.
	// It must fail (not silently truncate or zero-fill) on any tag
	// mismatch.
	Decrypt(ciphertext []byte) (plaintext []byte, err error)

	// CiphertextOverhead is the number of bytes Encrypt adds beyond the
	// plaintext length, constant for a given cipher instance.
	CiphertextOverhead() int
}

// Name identifies a cipher choice from configuration.
type Name string

const (
	AESGCM             Name = "aes-256-gcm"
	XChaCha20Poly1305  Name = "xchacha20-poly1305"
)

// New constructs the AEAD implementation named by name from a 32-byte key.
func New(name Name, key []byte) (AEAD, error) {
	switch name {
	case AESGCM:
		return newAESGCM(key)
	case XChaCha20Poly1305:
		return newXChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("cipher: unknown cipher %q", name)
	}
}
