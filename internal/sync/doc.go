// Package sync provides the synchronization engine between the in-memory
// working set, the local durable cache and the remote store.
//
// Overview
//
// Every block mutation schedules a debounced sync. When the timer fires the
// engine persists the full working set locally, diffs it against the last
// remotely-reconciled snapshot, and pushes only the changes:
//
//	Block Store (working set)
//	     ↓ mutation hook
//	  Engine (debounce, 500ms slot)
//	     ├── local cache  ← always, first
//	     └── remote store ← changed upserts + batched deletes
//
// Usage
//
// Wiring at startup:
//
//	engine := sync.New(&sync.Config{
//	    Remote: remote,
//	    Cache:  cache,
//	    Source: store.Blocks,
//	})
//	defer engine.Close()
//
//	// Initial load: remote when reachable, local cache otherwise.
//	store.Replace(engine.Load(ctx))
//
//	// Every mutation arms the debounce timer.
//	store.SetOnMutate(engine.ScheduleSync)
//
//	// Explicit "sync now", bypassing debounce and the offline gate.
//	engine.ForceSync(ctx)
//
// Status Machine
//
// The engine moves idle → syncing → {synced, error}; both terminal states
// re-enter syncing on the next attempt. Status is advisory: no error ever
// crosses the engine boundary, and edits keep working locally whatever the
// remote does.
//
// Failure Semantics
//
//   - Local cache failures are logged; the tick continues in memory.
//   - Offline, or a failed reachability probe, degrades to local-only and
//     optimistically reports synced.
//   - A rejected remote write sets status error and leaves the diff baseline
//     stale, so the next triggered sync recomputes and resubmits the same
//     diff. There is no background retry timer.
//
// Concurrency
//
// The debounce timer is a single slot; rescheduling cancels any pending
// not-yet-started sync. A single-flight mutex serializes the
// read-diff-write-baseline critical section, so an in-flight sync and a
// freshly scheduled one never race on the baseline even on runtimes with
// true parallelism.
package sync
