package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/blockflow/blockflow/internal/block"
)

// fakeRemote records every call so tests can assert exactly what crossed the
// remote boundary.
type fakeRemote struct {
	mu        stdsync.Mutex
	probeErr  error
	fetchErr  error
	upsertErr error
	deleteErr error
	fetch     []*block.Block

	probes  int
	upserts [][]Record
	deletes [][]string
}

func (f *fakeRemote) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.probeErr
}

func (f *fakeRemote) FetchAll(ctx context.Context) ([]*block.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return block.CloneSet(f.fetch), f.fetchErr
}

func (f *fakeRemote) UpsertBatch(ctx context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, records)
	return nil
}

func (f *fakeRemote) DeleteBatch(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, ids)
	return nil
}

func (f *fakeRemote) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

type fakeCache struct {
	mu     stdsync.Mutex
	blob   []byte
	getErr error
	setErr error
	sets   int
}

func (f *fakeCache) Get() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blob, f.getErr
}

func (f *fakeCache) Set(blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.blob = blob
	f.sets++
	return nil
}

// advancingClock hands out strictly increasing timestamps so every store
// mutation is distinguishable by UpdatedAt.
func advancingClock() func() time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// newTestEngine wires a store-backed engine over the given fakes.
func newTestEngine(t *testing.T, remote RemoteStore, cache LocalCache) (*block.Store, *Engine) {
	t.Helper()

	store := block.NewStore(advancingClock())
	engine := New(&Config{
		Remote: remote,
		Cache:  cache,
		Source: store.Blocks,
	})
	return store, engine
}

func mustEncode(t *testing.T, blocks []*block.Block) []byte {
	t.Helper()
	blob, err := block.EncodeSet(blocks)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return blob
}

func seedBlock(id, name string) *block.Block {
	now := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	return &block.Block{
		ID:        id,
		Name:      name,
		Column:    block.ColumnInbox,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestLoadPrefersRemote(t *testing.T) {
	remote := &fakeRemote{fetch: []*block.Block{seedBlock("r1", "remote")}}
	cache := &fakeCache{blob: mustEncode(t, []*block.Block{seedBlock("c1", "cached")})}
	_, engine := newTestEngine(t, remote, cache)

	blocks := engine.Load(context.Background())

	if len(blocks) != 1 || blocks[0].ID != "r1" {
		t.Fatalf("expected remote working set, got %v", blocks)
	}
	if !engine.IsRemoteConnected() {
		t.Error("expected remote marked connected after successful load")
	}
}

func TestLoadFallsBackToCacheWhenUnreachable(t *testing.T) {
	remote := &fakeRemote{probeErr: errors.New("refused")}
	cache := &fakeCache{blob: mustEncode(t, []*block.Block{seedBlock("c1", "cached")})}
	_, engine := newTestEngine(t, remote, cache)

	blocks := engine.Load(context.Background())

	if len(blocks) != 1 || blocks[0].ID != "c1" {
		t.Fatalf("expected cached working set, got %v", blocks)
	}
	if engine.IsRemoteConnected() {
		t.Error("expected remote marked disconnected after failed probe")
	}
}

func TestLoadEmptyRemoteFallsBackToCache(t *testing.T) {
	remote := &fakeRemote{}
	cache := &fakeCache{blob: mustEncode(t, []*block.Block{seedBlock("c1", "cached")})}
	_, engine := newTestEngine(t, remote, cache)

	blocks := engine.Load(context.Background())

	if len(blocks) != 1 || blocks[0].ID != "c1" {
		t.Fatalf("expected cached working set, got %v", blocks)
	}
}

func TestLoadEmptyEverywhere(t *testing.T) {
	_, engine := newTestEngine(t, &fakeRemote{}, &fakeCache{})

	if blocks := engine.Load(context.Background()); len(blocks) != 0 {
		t.Fatalf("expected empty working set, got %d blocks", len(blocks))
	}
}

func TestSyncWithoutRemoteReportsSynced(t *testing.T) {
	cache := &fakeCache{}
	store, engine := newTestEngine(t, nil, cache)
	store.Create("a")

	engine.ForceSync(context.Background())

	if engine.Status() != StatusSynced {
		t.Fatalf("expected synced, got %s", engine.Status())
	}
	if cache.sets != 1 {
		t.Errorf("expected 1 cache write, got %d", cache.sets)
	}
}

func TestSyncPushesIncrementalDiff(t *testing.T) {
	remote := &fakeRemote{}
	store, engine := newTestEngine(t, remote, &fakeCache{})

	a := store.Create("a")
	b := store.Create("b")
	engine.ForceSync(context.Background())

	if got := remote.upsertCount(); got != 1 {
		t.Fatalf("expected 1 upsert batch, got %d", got)
	}
	if got := len(remote.upserts[0]); got != 2 {
		t.Fatalf("expected 2 records in first batch, got %d", got)
	}

	// Only the renamed block travels on the second sync.
	store.Rename(b.ID, "b2")
	engine.ForceSync(context.Background())

	if got := remote.upsertCount(); got != 2 {
		t.Fatalf("expected a second upsert batch, got %d", got)
	}
	batch := remote.upserts[1]
	if len(batch) != 1 || batch[0].Block.ID != b.ID {
		t.Fatalf("expected only the renamed block, got %v", batch)
	}
	if batch[0].Position != 1 {
		t.Errorf("expected renamed block at position 1, got %d", batch[0].Position)
	}

	// Deleting sends the id through the delete batch.
	store.Delete(a.ID)
	engine.ForceSync(context.Background())

	if len(remote.deletes) != 1 {
		t.Fatalf("expected 1 delete batch, got %d", len(remote.deletes))
	}
	if len(remote.deletes[0]) != 1 || remote.deletes[0][0] != a.ID {
		t.Errorf("expected delete of %s, got %v", a.ID, remote.deletes[0])
	}
}

func TestSyncIsIdempotentWhenNothingChanged(t *testing.T) {
	remote := &fakeRemote{}
	store, engine := newTestEngine(t, remote, &fakeCache{})
	store.Create("a")

	engine.ForceSync(context.Background())
	engine.ForceSync(context.Background())

	if got := remote.upsertCount(); got != 1 {
		t.Errorf("expected no second upsert batch, got %d", got)
	}
	if len(remote.deletes) != 0 {
		t.Errorf("expected no delete batches, got %d", len(remote.deletes))
	}
}

func TestSyncOfflineSkipsRemote(t *testing.T) {
	remote := &fakeRemote{}
	cache := &fakeCache{}
	store, engine := newTestEngine(t, remote, cache)
	store.Create("a")

	engine.SetOnline(false)
	engine.Sync(context.Background(), false)

	if engine.Status() != StatusSynced {
		t.Fatalf("expected optimistic synced while offline, got %s", engine.Status())
	}
	if cache.sets != 1 {
		t.Errorf("expected local persist even while offline, got %d writes", cache.sets)
	}
	if remote.probes != 0 || remote.upsertCount() != 0 {
		t.Error("expected zero remote calls while offline")
	}

	// Back online, the untouched baseline means the whole edit still travels.
	engine.SetOnline(true)
	engine.Sync(context.Background(), false)

	if got := remote.upsertCount(); got != 1 {
		t.Fatalf("expected the deferred diff to travel once online, got %d batches", got)
	}
}

func TestForceSyncBypassesOfflineGate(t *testing.T) {
	remote := &fakeRemote{}
	store, engine := newTestEngine(t, remote, &fakeCache{})
	store.Create("a")

	engine.SetOnline(false)
	engine.ForceSync(context.Background())

	if remote.upsertCount() != 1 {
		t.Error("expected forced sync to reach the remote despite the offline gate")
	}
}

func TestSyncUnreachableRemoteStaysOptimistic(t *testing.T) {
	remote := &fakeRemote{probeErr: errors.New("refused")}
	store, engine := newTestEngine(t, remote, &fakeCache{})
	store.Create("a")

	engine.ForceSync(context.Background())

	if engine.Status() != StatusSynced {
		t.Fatalf("expected optimistic synced, got %s", engine.Status())
	}
	if engine.IsRemoteConnected() {
		t.Error("expected remote marked disconnected")
	}
	if remote.upsertCount() != 0 {
		t.Error("expected no writes against an unreachable remote")
	}
}

func TestSyncRemoteFailureLeavesBaselineStale(t *testing.T) {
	remote := &fakeRemote{upsertErr: errors.New("constraint violation")}
	store, engine := newTestEngine(t, remote, &fakeCache{})
	store.Create("a")

	engine.ForceSync(context.Background())

	if engine.Status() != StatusError {
		t.Fatalf("expected error status, got %s", engine.Status())
	}
	if engine.LastError() == nil {
		t.Fatal("expected LastError to carry the failure")
	}

	// The stale baseline makes the next attempt resubmit the same diff.
	remote.mu.Lock()
	remote.upsertErr = nil
	remote.mu.Unlock()

	engine.ForceSync(context.Background())

	if engine.Status() != StatusSynced {
		t.Fatalf("expected recovery on retry, got %s", engine.Status())
	}
	if engine.LastError() != nil {
		t.Error("expected LastError cleared after a successful sync")
	}
	if got := remote.upsertCount(); got != 1 {
		t.Fatalf("expected the retried diff to land exactly once, got %d", got)
	}
	if len(remote.upserts[0]) != 1 {
		t.Errorf("expected the same single-block diff on retry, got %d records", len(remote.upserts[0]))
	}
}

func TestScheduleSyncCoalescesBurst(t *testing.T) {
	remote := &fakeRemote{}
	store := block.NewStore(advancingClock())
	done := make(chan Event, 10)
	engine := New(&Config{
		Remote:           remote,
		Cache:            &fakeCache{},
		Source:           store.Blocks,
		DebounceInterval: 50 * time.Millisecond,
		Notify:           func(ev Event) { done <- ev },
	})
	defer engine.Close()
	store.SetOnMutate(engine.ScheduleSync)

	// A burst of edits inside the window must collapse into one sync.
	store.Create("a")
	store.Create("b")
	store.Create("c")

	select {
	case ev := <-done:
		if ev.Status != StatusSynced {
			t.Fatalf("expected synced event, got %s", ev.Status)
		}
		if ev.Upserted != 3 {
			t.Errorf("expected all 3 blocks in one batch, got %d", ev.Upserted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced sync never fired")
	}

	if got := remote.upsertCount(); got != 1 {
		t.Errorf("expected exactly 1 upsert batch, got %d", got)
	}
}

func TestCloseCancelsPendingTimer(t *testing.T) {
	remote := &fakeRemote{}
	store := block.NewStore(advancingClock())
	engine := New(&Config{
		Remote:           remote,
		Cache:            &fakeCache{},
		Source:           store.Blocks,
		DebounceInterval: 20 * time.Millisecond,
	})
	store.SetOnMutate(engine.ScheduleSync)

	store.Create("a")
	engine.Close()

	time.Sleep(100 * time.Millisecond)

	if remote.upsertCount() != 0 {
		t.Error("expected no sync after Close")
	}

	// Scheduling after Close stays inert.
	engine.ScheduleSync()
	time.Sleep(100 * time.Millisecond)
	if remote.upsertCount() != 0 {
		t.Error("expected ScheduleSync after Close to be a no-op")
	}
}

func TestConcurrentSyncsSerializeWorkingSetReads(t *testing.T) {
	store := block.NewStore(advancingClock())
	store.Create("a")

	// Each attempt holds this from its working-set read until its event is
	// emitted. A read that overlaps another attempt's critical section means
	// an older snapshot could commit after a newer one.
	var section stdsync.Mutex
	engine := New(&Config{
		Remote: &fakeRemote{},
		Cache:  &fakeCache{},
		Source: func() []*block.Block {
			if !section.TryLock() {
				t.Error("working-set read overlapped another sync attempt")
			}
			return store.Blocks()
		},
		Notify: func(Event) { section.Unlock() },
	})
	defer engine.Close()

	var wg stdsync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.ForceSync(context.Background())
		}()
	}
	wg.Wait()
}

func TestSyncCacheWriteFailureDoesNotBlockRemote(t *testing.T) {
	remote := &fakeRemote{}
	cache := &fakeCache{setErr: errors.New("disk full")}
	store, engine := newTestEngine(t, remote, cache)
	store.Create("a")

	engine.ForceSync(context.Background())

	if engine.Status() != StatusSynced {
		t.Fatalf("expected synced despite cache failure, got %s", engine.Status())
	}
	if remote.upsertCount() != 1 {
		t.Error("expected remote write to proceed despite cache failure")
	}
}
