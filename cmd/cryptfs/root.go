package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/cryptfs/internal/blockstore"
	"github.com/cuemby/cryptfs/internal/blockstore/boltraw"
	"github.com/cuemby/cryptfs/internal/blockstore/cipher"
	"github.com/cuemby/cryptfs/internal/blockstore/dirraw"
	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/fsblobstore"
	"github.com/cuemby/cryptfs/internal/localstate"
	"github.com/cuemby/cryptfs/internal/parallelaccess"
	"github.com/cuemby/cryptfs/pkg/config"
	"github.com/cuemby/cryptfs/pkg/cryptkey"
	"github.com/cuemby/cryptfs/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cryptfs",
	Short: "cryptfs - an encrypted block filesystem core",
	Long: `cryptfs stores file data as a collection of fixed-size, individually
encrypted and authenticated blocks on an untrusted backend.

This binary exercises the block, blob, and filesystem-blob layers from
the command line: creating a fresh filesystem, checking it for integrity
violations, reporting basic statistics, and serving Prometheus metrics.
It does not mount anything; pair it with a FUSE adapter for that.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cryptfs version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "", "Filesystem data directory (required)")
	rootCmd.PersistentFlags().String("key-hex", "", "Hex-encoded encryption key (derive it externally; this tool does not prompt for a password)")
	rootCmd.MarkPersistentFlagRequired("data-dir")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(fsckCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func configPath(dataDir string) string {
	return filepath.Join(dataDir, "cryptfs.yaml")
}

func localStatePath(dataDir string) string {
	return filepath.Join(dataDir, "localstate")
}

func integrityStatePath(dataDir string) string {
	return filepath.Join(dataDir, "integrity.state")
}

// keyFromFlags decodes --key-hex into a cryptkey.Key. Deriving it from a
// password is explicitly out of this module's scope; operators are
// expected to supply the already-derived key (see pkg/config.KeyDeriver).
func keyFromFlags(cmd *cobra.Command) (*cryptkey.Key, error) {
	keyHex, _ := cmd.Flags().GetString("key-hex")
	if keyHex == "" {
		return nil, fmt.Errorf("--key-hex is required")
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("--key-hex: %w", err)
	}
	return cryptkey.New(raw), nil
}

// stack bundles the assembled layers for one open filesystem, grounded on
// the block/blob/fsblob/coordinator chain.
type stack struct {
	cfg         *config.Config
	localState  *localstate.Metadata
	key         *cryptkey.Key
	raw         blockstore.RawBlockStore
	known       *blockstore.KnownBlockVersions
	integrity   *blockstore.IntegrityBlockStore
	blobs       *blobstore.BlobStoreOnBlocks
	fsBlobs     *fsblobstore.FsBlobStore
	coordinator *parallelaccess.Store
}

// openStack assembles every layer for an existing filesystem at dataDir,
// validating the local-state key fingerprint before anything else.
func openStack(cmd *cobra.Command) (*stack, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		return nil, fmt.Errorf("--data-dir is required")
	}

	cfg, err := config.Load(configPath(dataDir))
	if err != nil {
		return nil, err
	}

	key, err := keyFromFlags(cmd)
	if err != nil {
		return nil, err
	}

	localStateKey, err := key.Take()
	if err != nil {
		key.Drop()
		return nil, err
	}
	localState, err := localstate.LoadOrCreate(localStatePath(dataDir), localStateKey.Bytes())
	localStateKey.Drop()
	if err != nil {
		key.Drop()
		return nil, fmt.Errorf("local state: %w", err)
	}

	raw, err := openBackend(dataDir, cfg)
	if err != nil {
		key.Drop()
		return nil, err
	}

	known, err := blockstore.LoadOrCreateKnownBlockVersions(integrityStatePath(dataDir))
	if err != nil {
		key.Drop()
		return nil, err
	}

	cipherKey, err := key.Take()
	if err != nil {
		key.Drop()
		return nil, err
	}
	aead, err := cipher.New(cfg.Cipher, cipherKey.Bytes())
	cipherKey.Drop()
	if err != nil {
		key.Drop()
		return nil, err
	}
	encrypted := blockstore.NewEncryptedBlockStore(raw, aead)
	integrity := blockstore.NewIntegrityBlockStore(encrypted, known, blockstore.IntegrityBlockStoreConfig{
		AllowIntegrityViolations:         cfg.AllowIntegrityViolations,
		MissingBlockIsIntegrityViolation: cfg.MissingBlockIsIntegrityViolation,
		AllowLegacyFormatRead:            cfg.AllowLegacyFormatRead,
	})

	blobs := blobstore.New(integrity)
	fsBlobs := fsblobstore.New(blobs)
	coordinator := parallelaccess.New(fsBlobs)

	return &stack{
		cfg:         cfg,
		localState:  localState,
		key:         key,
		raw:         raw,
		known:       known,
		integrity:   integrity,
		blobs:       blobs,
		fsBlobs:     fsBlobs,
		coordinator: coordinator,
	}, nil
}

func (s *stack) Close() {
	s.key.Drop()
}

func openBackend(dataDir string, cfg *config.Config) (blockstore.RawBlockStore, error) {
	switch cfg.Backend {
	case "bolt":
		return boltraw.New(filepath.Join(dataDir, "blocks.bolt"), cfg.BlockSizeByte)
	case "dir", "":
		return dirraw.New(filepath.Join(dataDir, "blocks"), cfg.BlockSizeByte)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
