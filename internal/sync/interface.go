// Package sync keeps the in-memory working set, the local durable cache and
// the remote store consistent under intermittent connectivity.
package sync

import (
	"context"

	"github.com/blockflow/blockflow/internal/block"
)

// Status is the engine's observable sync state.
//
// The machine moves idle -> syncing -> {synced, error}; both terminal states
// re-enter syncing on the next triggered attempt.
type Status string

const (
	// StatusIdle means no sync has been attempted yet.
	StatusIdle Status = "idle"
	// StatusSyncing means a sync attempt is in progress.
	StatusSyncing Status = "syncing"
	// StatusSynced means the last attempt completed; when offline or the
	// remote is unreachable this is optimistic, meaning the local cache is
	// current.
	StatusSynced Status = "synced"
	// StatusError means the last remote write was rejected. The diff
	// baseline is left stale so the next attempt resubmits the same diff.
	StatusError Status = "error"
)

// Record is one block plus its position in the working set. Positions ride
// along with upserts so the remote store can keep the list ordered.
type Record struct {
	Block    *block.Block
	Position int
}

// RemoteStore is the opaque remote backend boundary.
//
// All writes are unconditional overwrites keyed by id; there is no
// compare-and-swap. Conflict policy is last-write-wins by design.
type RemoteStore interface {
	// Probe is a cheap reachability check.
	Probe(ctx context.Context) error

	// FetchAll returns the full remote working set in display order.
	FetchAll(ctx context.Context) ([]*block.Block, error)

	// UpsertBatch inserts or overwrites the given records, keyed by block id.
	UpsertBatch(ctx context.Context, records []Record) error

	// DeleteBatch removes the blocks with the given ids. Unknown ids are
	// ignored (idempotent).
	DeleteBatch(ctx context.Context, ids []string) error
}

// LocalCache is the durable local snapshot boundary. A single key stores the
// entire working set as one serialized blob.
type LocalCache interface {
	// Get returns the stored blob, or (nil, nil) when nothing has been
	// stored yet.
	Get() ([]byte, error)

	// Set overwrites the stored blob.
	Set(blob []byte) error
}

// Event describes one sync attempt, emitted through the engine's notifier
// after every status transition out of syncing.
type Event struct {
	Status   Status
	Forced   bool
	Upserted int
	Deleted  int
	Err      string
}
