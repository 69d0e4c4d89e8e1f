package sync

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/blockflow/blockflow/internal/block"
)

// DefaultDebounceInterval is how long after the most recent mutation a
// scheduled sync actually executes.
const DefaultDebounceInterval = 500 * time.Millisecond

// Config holds the engine's injected collaborators.
type Config struct {
	// Remote is the remote store. Nil means no remote is configured: the
	// engine runs local-only and every sync reports synced.
	Remote RemoteStore

	// Cache is the local durable cache. Required.
	Cache LocalCache

	// Source returns the current working set. Called at sync execution time,
	// so a debounced sync reflects the state after the last mutation.
	Source func() []*block.Block

	// Clock supplies the current time. Defaults to time.Now.
	Clock func() time.Time

	// DebounceInterval overrides DefaultDebounceInterval.
	DebounceInterval time.Duration

	// Logger for engine activity. Defaults to stderr with a [sync] prefix.
	Logger *log.Logger

	// Notify, if set, receives an Event after every completed sync attempt.
	Notify func(Event)
}

// Engine synchronizes the working set to the local cache and the remote
// store with debouncing, incremental diffs and an explicit status machine.
//
// No error ever crosses the engine's public boundary: all failure is
// observable through Status and LastError, and edits keep working locally
// regardless of remote health.
//
// Construct one engine per store; collaborators are injected so independent
// instances (for example under test) share no state.
type Engine struct {
	remote   RemoteStore
	cache    LocalCache
	source   func() []*block.Block
	clock    func() time.Time
	debounce time.Duration
	logger   *log.Logger
	notify   func(Event)

	// mu guards the observable state and the debounce timer slot.
	mu              sync.Mutex
	status          Status
	lastErr         error
	online          bool
	remoteConnected bool
	timer           *time.Timer
	closed          bool

	// flight serializes the read-diff-write-baseline critical section so an
	// in-flight sync and a freshly scheduled one never race on the baseline.
	flight sync.Mutex

	// prev is the last working set successfully reconciled with the remote;
	// the diff baseline. Guarded by flight.
	prev []*block.Block
}

// New creates an Engine. The configuration must carry Cache and Source.
func New(cfg *Config) *Engine {
	e := &Engine{
		remote:   cfg.Remote,
		cache:    cfg.Cache,
		source:   cfg.Source,
		clock:    cfg.Clock,
		debounce: cfg.DebounceInterval,
		logger:   cfg.Logger,
		notify:   cfg.Notify,
		status:   StatusIdle,
		online:   true,
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.debounce <= 0 {
		e.debounce = DefaultDebounceInterval
	}
	if e.logger == nil {
		e.logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return e
}

// Status returns the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the error from the last failed remote exchange, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// IsOnline reports the connectivity signal last fed via SetOnline.
func (e *Engine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// IsRemoteConnected reports the result of the most recent reachability probe.
func (e *Engine) IsRemoteConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteConnected
}

// SetOnline feeds the host connectivity signal. Going online does not itself
// trigger a sync; the next triggered attempt picks up the new state.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
}

// Load fetches the initial working set: from the remote when it is
// configured, reachable and non-empty, otherwise from the local cache,
// otherwise empty. The adopted set seeds the diff baseline so the first
// subsequent mutation diffs correctly.
func (e *Engine) Load(ctx context.Context) []*block.Block {
	e.flight.Lock()
	defer e.flight.Unlock()

	if blocks, ok := e.loadRemote(ctx); ok {
		e.prev = block.CloneSet(blocks)
		return blocks
	}

	blocks := e.loadCache()
	e.prev = block.CloneSet(blocks)
	return blocks
}

// loadRemote tries to adopt the remote working set. Returns ok=false when
// the remote is unconfigured, unreachable or empty.
func (e *Engine) loadRemote(ctx context.Context) ([]*block.Block, bool) {
	if e.remote == nil {
		return nil, false
	}

	if err := e.remote.Probe(ctx); err != nil {
		e.logger.Printf("Remote unreachable during load, falling back to cache: %v", err)
		e.setRemoteConnected(false)
		return nil, false
	}
	e.setRemoteConnected(true)

	blocks, err := e.remote.FetchAll(ctx)
	if err != nil {
		e.logger.Printf("Remote fetch failed during load, falling back to cache: %v", err)
		return nil, false
	}
	if len(blocks) == 0 {
		return nil, false
	}

	e.logger.Printf("Loaded %d blocks from remote", len(blocks))
	return blocks, true
}

// loadCache reads the local snapshot. Any failure degrades to an empty set.
func (e *Engine) loadCache() []*block.Block {
	blob, err := e.cache.Get()
	if err != nil {
		e.logger.Printf("Local cache read failed: %v", err)
		return nil
	}
	if len(blob) == 0 {
		return nil
	}

	blocks, err := block.DecodeSet(blob)
	if err != nil {
		e.logger.Printf("Local cache snapshot is corrupt: %v", err)
		return nil
	}

	e.logger.Printf("Loaded %d blocks from local cache", len(blocks))
	return blocks
}

// ScheduleSync arms the debounce timer. There is a single timer slot: a new
// call before the timer fires cancels and rearms it, coalescing a burst of
// mutations into one sync execution.
func (e *Engine) ScheduleSync() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		e.Sync(context.Background(), false)
	})
}

// ForceSync runs a sync immediately, bypassing both the debounce timer and
// the offline gate. Used at startup and for explicit "sync now".
func (e *Engine) ForceSync(ctx context.Context) {
	e.Sync(ctx, true)
}

// Sync runs one sync attempt against the current working set.
//
// The working set is always persisted to the local cache first; that is what
// powers offline and restart recovery. Remote writes are incremental: only
// blocks that are new or newer than the baseline are upserted, only ids gone
// from the working set are deleted. On remote failure the baseline is left
// stale on purpose, so the next triggered sync recomputes and resubmits the
// same diff. That retriggering is the engine's only retry mechanism.
func (e *Engine) Sync(ctx context.Context, force bool) {
	e.flight.Lock()
	defer e.flight.Unlock()

	// Read the working set under the flight lock so an overlapping call can
	// never commit an older snapshot after a newer one.
	w := e.source()

	e.setStatus(StatusSyncing)

	e.persistLocal(w)

	if e.remote == nil {
		e.prev = block.CloneSet(w)
		e.finish(Event{Status: StatusSynced, Forced: force})
		return
	}

	if !force && !e.IsOnline() {
		// Local cache is authoritative while offline.
		e.finish(Event{Status: StatusSynced, Forced: force})
		return
	}

	if err := e.remote.Probe(ctx); err != nil {
		e.logger.Printf("Remote unreachable, staying local-only: %v", err)
		e.setRemoteConnected(false)
		e.finish(Event{Status: StatusSynced, Forced: force})
		return
	}
	e.setRemoteConnected(true)

	changed, deleted := e.diff(w)

	if len(changed) > 0 {
		if err := e.remote.UpsertBatch(ctx, changed); err != nil {
			e.fail("upsert", err, force)
			return
		}
	}

	if len(deleted) > 0 {
		if err := e.remote.DeleteBatch(ctx, deleted); err != nil {
			e.fail("delete", err, force)
			return
		}
	}

	e.prev = block.CloneSet(w)
	e.finish(Event{
		Status:   StatusSynced,
		Forced:   force,
		Upserted: len(changed),
		Deleted:  len(deleted),
	})
}

// Close clears any pending debounce timer. An in-flight sync is not
// cancelled; if it completes later it will still commit its baseline, which
// a disposed caller simply never observes.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// persistLocal writes the working set to the durable cache. Failures are
// logged and the tick continues in memory.
func (e *Engine) persistLocal(w []*block.Block) {
	blob, err := block.EncodeSet(w)
	if err != nil {
		e.logger.Printf("Failed to encode working set: %v", err)
		return
	}
	if err := e.cache.Set(blob); err != nil {
		e.logger.Printf("Local cache write failed, continuing in memory: %v", err)
	}
}

// diff computes the incremental changes from the baseline to w: records that
// are new or carry a newer UpdatedAt, in working-set order with positions,
// and the ids present in the baseline but absent from w.
func (e *Engine) diff(w []*block.Block) ([]Record, []string) {
	base := make(map[string]*block.Block, len(e.prev))
	for _, b := range e.prev {
		base[b.ID] = b
	}

	var changed []Record
	seen := make(map[string]bool, len(w))
	for i, b := range w {
		seen[b.ID] = true
		old, ok := base[b.ID]
		if !ok || b.UpdatedAt.After(old.UpdatedAt) {
			changed = append(changed, Record{Block: b, Position: i})
		}
	}

	var deleted []string
	for _, b := range e.prev {
		if !seen[b.ID] {
			deleted = append(deleted, b.ID)
		}
	}

	return changed, deleted
}

func (e *Engine) fail(op string, err error, force bool) {
	e.logger.Printf("Remote %s failed: %v", op, err)
	e.mu.Lock()
	e.status = StatusError
	e.lastErr = err
	e.mu.Unlock()

	e.emit(Event{Status: StatusError, Forced: force, Err: err.Error()})
}

func (e *Engine) finish(ev Event) {
	e.mu.Lock()
	e.status = ev.Status
	e.lastErr = nil
	e.mu.Unlock()

	e.emit(ev)
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) setRemoteConnected(connected bool) {
	e.mu.Lock()
	e.remoteConnected = connected
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	if e.notify != nil {
		e.notify(ev)
	}
}
