package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/blockflow/blockflow/internal/block"
	"github.com/blockflow/blockflow/internal/daemon"
	"github.com/blockflow/blockflow/internal/dashboard"
	blocksync "github.com/blockflow/blockflow/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon with inbox watcher and dashboard",
	Long: `Run the headless sync host.

The daemon loads the working set, watches the inbox directory for block
files, probes remote reachability and serves a WebSocket dashboard that
broadcasts sync activity. It runs until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.New(os.Stderr, "[serve] ", log.LstdFlags)
		if cfg.logFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   cfg.logFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
			})
		}

		dash := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.dashboardPort,
			Logger: logger,
		})

		notify, adoptStore := newStatsNotifier(dash)

		store, engine, rs, cleanup, err := openEngine(notify)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		adoptStore(store)

		dcfg := daemon.DefaultConfig()
		dcfg.ProbeInterval = cfg.probeInterval
		dcfg.Logger = logger

		d, err := daemon.New(store, engine, rs, cfg.inboxDir, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := dash.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if err := dash.Stop(); err != nil {
				logger.Printf("Dashboard shutdown error: %v", err)
			}
		}()

		logger.Printf("Dashboard: http://localhost%s/", dash.GetAddr())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

// newStatsNotifier returns the engine's notify hook plus an adopt function
// for the store. The engine is constructed before the store is available to
// the hook, so the hook forwards sync events immediately but only reports
// working-set stats once a store has been adopted; the atomic holder keeps
// adoption safe against an already-firing engine.
func newStatsNotifier(dash *dashboard.Server) (func(blocksync.Event), func(*block.Store)) {
	var holder atomic.Pointer[block.Store]

	notify := func(ev blocksync.Event) {
		dash.OnSyncEvent(ev)
		if store := holder.Load(); store != nil {
			dash.BroadcastStats(collectStats(store))
		}
	}
	adopt := func(store *block.Store) {
		holder.Store(store)
	}
	return notify, adopt
}

// collectStats summarizes the working set for the dashboard.
func collectStats(store *block.Store) dashboard.StatsData {
	blocks := store.Blocks()

	stats := dashboard.StatsData{
		Total:    len(blocks),
		ByColumn: make(map[string]int),
	}
	for _, b := range blocks {
		stats.ByColumn[string(b.Column)]++
		if b.IsPinned {
			stats.Pinned++
		}
	}
	return stats
}
