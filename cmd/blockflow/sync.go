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
	blocksync "github.com/blockflow/blockflow/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force a sync of the working set now",
	Long: `Load the working set and run one forced sync.

This bypasses the debounce window and the offline gate:
  1. Loads blocks from the remote when reachable, the local cache otherwise
  2. Persists the working set to the local cache
  3. Pushes the incremental diff to the remote (when configured)`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store, engine, _, cleanup, err := openEngine(nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		defer engine.Close()

		start := time.Now()
		store.Replace(engine.Load(ctx))
		engine.ForceSync(ctx)
		elapsed := time.Since(start)

		switch engine.Status() {
		case blocksync.StatusSynced:
			fmt.Printf("Sync complete in %v\n", elapsed.Round(time.Millisecond))
			fmt.Printf("   Blocks: %d\n", store.Len())
			if cfg.remotePath == "" {
				fmt.Printf("   Remote: not configured (local-only)\n")
			} else if !engine.IsRemoteConnected() {
				fmt.Printf("   Remote: unreachable, cached locally\n")
			} else {
				fmt.Printf("   Remote: %s\n", cfg.remotePath)
			}
		case blocksync.StatusError:
			fmt.Fprintf(os.Stderr, "Sync failed: %v\n", engine.LastError())
			os.Exit(1)
		default:
			fmt.Printf("Sync status: %s\n", engine.Status())
		}
	},
}

// openEngine builds the store/engine pair every command uses. The returned
// cleanup closes the cache and remote connections.
func openEngine(notify func(blocksync.Event)) (*block.Store, *blocksync.Engine, blocksync.RemoteStore, func(), error) {
	c, err := cache.Open(cfg.cachePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var rs blocksync.RemoteStore
	var r *remote.Store
	if cfg.remotePath != "" {
		r, err = remote.Open(cfg.remotePath)
		if err != nil {
			_ = c.Close()
			return nil, nil, nil, nil, fmt.Errorf("failed to open remote: %w", err)
		}
		rs = r
	}

	store := block.NewStore(nil)
	engine := blocksync.New(&blocksync.Config{
		Remote:           rs,
		Cache:            c,
		Source:           store.Blocks,
		DebounceInterval: cfg.debounce,
		Notify:           notify,
	})
	store.SetOnMutate(engine.ScheduleSync)

	cleanup := func() {
		if r != nil {
			_ = r.Close()
		}
		_ = c.Close()
	}
	return store, engine, rs, cleanup, nil
}
