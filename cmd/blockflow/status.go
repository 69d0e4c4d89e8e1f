package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockflow/blockflow/internal/block"
	"github.com/blockflow/blockflow/internal/cache"
	"github.com/blockflow/blockflow/internal/remote"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local cache and remote store status",
	Long: `Display the current state of the local snapshot cache and the remote
block store.

Shows:
  - Cache file location, snapshot age and block count
  - Remote location, reachability and block count`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		c, err := cache.Open(cfg.cachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()

		fmt.Printf("\nLocal cache: %s\n", cfg.cachePath)

		blob, err := c.Get()
		if err != nil {
			fmt.Printf("   Snapshot: unreadable (%v)\n", err)
		} else if len(blob) == 0 {
			fmt.Printf("   Snapshot: none (run 'blockflow sync')\n")
		} else if blocks, err := block.DecodeSet(blob); err != nil {
			fmt.Printf("   Snapshot: corrupt (%v)\n", err)
		} else {
			fmt.Printf("   Blocks: %d\n", len(blocks))
			if savedAt, err := c.SavedAt(); err == nil && !savedAt.IsZero() {
				fmt.Printf("   Saved: %v ago\n", time.Since(savedAt).Round(time.Second))
			}
		}

		if cfg.remotePath == "" {
			fmt.Printf("\nRemote: not configured (local-only)\n\n")
			return
		}

		fmt.Printf("\nRemote: %s\n", cfg.remotePath)

		r, err := remote.Open(cfg.remotePath)
		if err != nil {
			fmt.Printf("   Unreachable: %v\n\n", err)
			return
		}
		defer r.Close()

		if err := r.Probe(ctx); err != nil {
			fmt.Printf("   Unreachable: %v\n\n", err)
			return
		}

		count, err := r.Count(ctx)
		if err != nil {
			fmt.Printf("   Error counting blocks: %v\n\n", err)
			return
		}
		fmt.Printf("   Blocks: %d\n\n", count)
	},
}
