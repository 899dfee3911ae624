// Package config loads the YAML configuration describing how to open a
// filesystem: cipher choice, key derivation parameters, block size, and
// the root blob id.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore/cipher"
)

// ScryptParams are the password-based key derivation parameters. The
// actual KDF is out of this module's scope; this struct only records
// what was used so the same key can be rederived on a later open.
type ScryptParams struct {
	SaltHex string `yaml:"salt"`
	N       int    `yaml:"n"`
	R       int    `yaml:"r"`
	P       int    `yaml:"p"`
}

// KeyDeriver turns whatever credential the caller holds (a password, a
// key file, a hardware token) into the raw encryption key. The actual KDF
// is intentionally left out of this module; callers plug in their own
// implementation and this package only records the scrypt parameters it
// was run with.
type KeyDeriver interface {
	DeriveKey(params *ScryptParams) ([]byte, error)
}

// Config is the on-disk, human-editable description of one filesystem.
type Config struct {
	FormatVersion uint16        `yaml:"formatVersion"`
	Cipher        cipher.Name   `yaml:"cipher"`
	BlockSizeByte int           `yaml:"blockSizeBytes"`
	RootBlobId    string        `yaml:"rootBlobId"`
	Scrypt        *ScryptParams `yaml:"scrypt,omitempty"`

	// Backend selects the RawBlockStore implementation: "dir" (one file
	// per block, the default) or "bolt" (a single embedded bbolt file).
	Backend string `yaml:"backend,omitempty"`

	// AllowIntegrityViolations and MissingBlockIsIntegrityViolation mirror
	// blockstore.IntegrityBlockStoreConfig so the behavior can be set
	// per-filesystem without a recompile.
	AllowIntegrityViolations        bool `yaml:"allowIntegrityViolations"`
	MissingBlockIsIntegrityViolation bool `yaml:"missingBlockIsIntegrityViolation"`
	AllowLegacyFormatRead            bool `yaml:"allowLegacyFormatRead"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Validate checks that every required field holds an acceptable value.
// Load calls this automatically; callers building a Config by hand (e.g.
// the init CLI command, before a root blob id exists) call it directly.
func (c *Config) Validate() error {
	if c.Cipher != cipher.AESGCM && c.Cipher != cipher.XChaCha20Poly1305 {
		return fmt.Errorf("unknown cipher %q", c.Cipher)
	}
	if c.BlockSizeByte <= 0 {
		return fmt.Errorf("blockSizeBytes must be positive, got %d", c.BlockSizeByte)
	}
	if c.Backend != "" && c.Backend != "dir" && c.Backend != "bolt" {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.RootBlobId != "" {
		if _, err := blockid.ParseHex(c.RootBlobId); err != nil {
			return fmt.Errorf("rootBlobId: %w", err)
		}
	}
	return nil
}

// RootId parses RootBlobId, which must be non-empty and valid (use
// validate/Load to check that ahead of time).
func (c *Config) RootId() (blockid.BlockId, error) {
	return blockid.ParseHex(c.RootBlobId)
}
