package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/cryptfs/internal/blockstore"
	"github.com/cuemby/cryptfs/internal/blockstore/cipher"
	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/fsblobstore"
	"github.com/cuemby/cryptfs/internal/localstate"
	"github.com/cuemby/cryptfs/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new filesystem: local state, config, and an empty root blob",
	Long: `init lays out a fresh filesystem under --data-dir: it writes the
config file, creates the local-state metadata recording this key's
fingerprint, picks a raw block backend, and stores a single empty
directory blob to serve as the root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		cipherName, _ := cmd.Flags().GetString("cipher")
		blockSize, _ := cmd.Flags().GetInt("block-size")
		backend, _ := cmd.Flags().GetString("backend")

		if _, err := os.Stat(configPath(dataDir)); err == nil {
			return fmt.Errorf("init: %s already has a config file", dataDir)
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("init: %w", err)
		}

		key, err := keyFromFlags(cmd)
		if err != nil {
			return err
		}
		defer key.Drop()

		localStateKey, err := key.Take()
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		_, err = localstate.LoadOrCreate(localStatePath(dataDir), localStateKey.Bytes())
		localStateKey.Drop()
		if err != nil {
			return fmt.Errorf("init: local state: %w", err)
		}

		cfg := &config.Config{
			FormatVersion: localstate.CurrentFormatVersion,
			Cipher:        cipher.Name(cipherName),
			BlockSizeByte: blockSize,
			Backend:       backend,
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("init: %w", err)
		}

		raw, err := openBackend(dataDir, cfg)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}

		known, err := blockstore.LoadOrCreateKnownBlockVersions(integrityStatePath(dataDir))
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}

		cipherKey, err := key.Take()
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		aead, err := cipher.New(cfg.Cipher, cipherKey.Bytes())
		cipherKey.Drop()
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		encrypted := blockstore.NewEncryptedBlockStore(raw, aead)
		integrity := blockstore.NewIntegrityBlockStore(encrypted, known, blockstore.IntegrityBlockStoreConfig{})

		blobs := blobstore.New(integrity)
		fsBlobs := fsblobstore.New(blobs)

		root, err := fsBlobs.CreateDirBlob()
		if err != nil {
			return fmt.Errorf("init: creating root: %w", err)
		}
		if err := root.Flush(); err != nil {
			return fmt.Errorf("init: flushing root: %w", err)
		}
		cfg.RootBlobId = root.Id().String()

		if err := config.Save(configPath(dataDir), cfg); err != nil {
			return fmt.Errorf("init: %w", err)
		}

		fmt.Printf("Initialized filesystem in %s\n", dataDir)
		fmt.Printf("  Cipher:    %s\n", cfg.Cipher)
		fmt.Printf("  Block size: %d bytes\n", cfg.BlockSizeByte)
		fmt.Printf("  Backend:   %s\n", backendLabel(cfg.Backend))
		fmt.Printf("  Root blob: %s\n", cfg.RootBlobId)
		return nil
	},
}

func init() {
	initCmd.Flags().String("cipher", string(cipher.AESGCM), "Cipher: aes-256-gcm or xchacha20-poly1305")
	initCmd.Flags().Int("block-size", 32*1024, "Physical block size in bytes")
	initCmd.Flags().String("backend", "dir", "Raw block backend: dir or bolt")
}

func backendLabel(b string) string {
	if b == "" {
		return "dir"
	}
	return b
}
