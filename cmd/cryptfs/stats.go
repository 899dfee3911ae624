package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print local-state metadata and root blob statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		numBlocks, err := s.raw.NumBlocks()
		if err != nil {
			return err
		}
		freeBytes, err := s.raw.EstimateFreeBytes()
		if err != nil {
			return err
		}

		rootID, err := s.cfg.RootId()
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		root, err := s.blobs.Load(rootID)
		if err != nil {
			return fmt.Errorf("stats: loading root blob: %w", err)
		}

		handle, err := s.coordinator.Acquire(rootID)
		if err != nil {
			return fmt.Errorf("stats: acquiring root directory: %w", err)
		}
		defer handle.Release()
		rootDir, ok := handle.Dir()
		if !ok {
			return fmt.Errorf("stats: root blob %s is not a directory", rootID)
		}
		entries, err := rootDir.Entries()
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		fmt.Printf("Filesystem: %s\n", dataDir)
		fmt.Printf("  Created:       %s\n", s.localState.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		fmt.Printf("  Format version: %d\n", s.localState.FormatVersion)
		fmt.Printf("  Cipher:        %s\n", s.cfg.Cipher)
		fmt.Printf("  Block size:    %d bytes\n", s.cfg.BlockSizeByte)
		fmt.Printf("  Backend:       %s\n", backendLabel(s.cfg.Backend))
		fmt.Printf("  Client id:     %d\n", s.known.MyClientId())
		fmt.Printf("  Blocks:        %d\n", numBlocks)
		fmt.Printf("  Free bytes:    ~%d\n", freeBytes)
		fmt.Printf("Root blob: %s\n", rootID)
		fmt.Printf("  Tree depth:   %d\n", root.Depth())
		fmt.Printf("  Size:         %d bytes\n", root.NumBytes())
		fmt.Printf("  Root entries: %d\n", len(entries))
		return nil
	},
}
