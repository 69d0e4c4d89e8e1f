// Package daemon orchestrates the headless sync host: it performs the
// initial load, watches the inbox directory for externally edited block
// files, feeds connectivity probes to the sync engine and handles graceful
// shutdown.
//
// The inbox directory is a simple interchange surface: any *.json file
// dropped or edited there is ingested into the working set as a block
// (upsert by id), and removing a file removes the block. Every ingest goes
// through the store's mutation path, so it arms the engine's debounced sync
// like any other edit.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blockflow/blockflow/internal/block"
	blocksync "github.com/blockflow/blockflow/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before processing file changes.
	// This batches rapid updates together.
	DebounceInterval time.Duration

	// ProbeInterval is how often to probe remote reachability and feed the
	// result to the engine's connectivity signal.
	ProbeInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		ProbeInterval:    15 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the store, engine and inbox watcher together.
type Daemon struct {
	store    *block.Store
	engine   *blocksync.Engine
	remote   blocksync.RemoteStore // nil when no remote is configured
	inboxDir string
	config   *Config

	watcher       *InboxWatcher
	changeQueue   map[string]time.Time // filepath -> queued-at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance. The remote may be nil for local-only
// operation; the inbox directory is created if missing.
func New(store *block.Store, engine *blocksync.Engine, remote blocksync.RemoteStore, inboxDir string, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if inboxDir == "" {
		return nil, fmt.Errorf("inboxDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	if err := os.MkdirAll(inboxDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := NewInboxWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       store,
		engine:      engine,
		remote:      remote,
		inboxDir:    inboxDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Load the initial working set (remote when reachable, cache otherwise)
//  2. Ingest any block files already sitting in the inbox
//  3. Watch the inbox for changes, with debouncing
//  4. Periodically probe remote reachability
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Initial load seeds both the store and the engine's diff baseline.
	d.store.Replace(d.engine.Load(ctx))
	d.config.Logger.Printf("Loaded %d blocks", d.store.Len())

	if err := d.ingestExisting(); err != nil {
		return fmt.Errorf("initial inbox ingest failed: %w", err)
	}

	if err := d.watcher.Start(d.inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}
	d.config.Logger.Printf("Watching inbox: %s", d.inboxDir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.probeLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.engine.Close()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// ingestExisting processes block files already present in the inbox.
// Individual file failures are logged but don't stop the ingest.
func (d *Daemon) ingestExisting() error {
	entries, err := os.ReadDir(d.inboxDir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(d.inboxDir, entry.Name())
		if err := d.ingestFile(path); err != nil {
			d.config.Logger.Printf("Warning: failed to ingest %s: %v", entry.Name(), err)
		}
	}

	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Inbox event: %s %s", event.Op, event.Path)
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges ingests files that have been queued for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}

		if err := d.syncInboxFile(path); err != nil {
			d.config.Logger.Printf("Error ingesting %s: %v", path, err)
		}

		delete(d.changeQueue, path)
	}
}

// syncInboxFile applies a single inbox file change to the store: a missing
// file removes the block named by the filename, anything else is an upsert.
func (d *Daemon) syncInboxFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		id := blockIDFromPath(path)
		d.config.Logger.Printf("Removing block: %s", id)
		d.store.Delete(id)
		return nil
	}

	return d.ingestFile(path)
}

// ingestFile reads a block file and upserts it into the store. The block id
// defaults to the filename when the file doesn't carry one; missing column
// and timestamps are filled in. Anything still invalid after defaulting is
// rejected: a bad block admitted here would be resubmitted to the remote on
// every sync and poison the cached snapshot.
func (d *Daemon) ingestFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read block file: %w", err)
	}

	var b block.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("failed to parse block file: %w", err)
	}
	if b.ID == "" {
		b.ID = blockIDFromPath(path)
	}
	if b.Column == "" {
		b.Column = block.ColumnInbox
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid block file: %w", err)
	}

	d.store.Upsert(&b)
	d.config.Logger.Printf("Ingested block: %s (%s)", b.ID, b.Name)
	return nil
}

// probeLoop periodically checks remote reachability and feeds the result to
// the engine as its connectivity signal.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	if d.remote == nil {
		return
	}

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
			err := d.remote.Probe(ctx)
			cancel()

			wasOnline := d.engine.IsOnline()
			d.engine.SetOnline(err == nil)

			if err != nil && wasOnline {
				d.config.Logger.Printf("Remote went offline: %v", err)
			} else if err == nil && !wasOnline {
				d.config.Logger.Println("Remote back online, scheduling sync")
				d.engine.ScheduleSync()
			}
		}
	}
}

// blockIDFromPath derives a block id from an inbox filename.
func blockIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
