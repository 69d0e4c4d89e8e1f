package daemon

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blockflow/blockflow/internal/block"
	blocksync "github.com/blockflow/blockflow/internal/sync"
)

// memCache is an in-memory LocalCache so daemon tests need no database.
type memCache struct {
	mu   stdsync.Mutex
	blob []byte
}

func (m *memCache) Get() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blob, nil
}

func (m *memCache) Set(blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = blob
	return nil
}

func quietLogger() *log.Logger {
	return log.New(os.Stderr, "[daemon-test] ", 0)
}

func newTestDaemon(t *testing.T) (*Daemon, *block.Store, string) {
	t.Helper()

	inbox := filepath.Join(t.TempDir(), "inbox")

	store := block.NewStore(nil)
	engine := blocksync.New(&blocksync.Config{
		Cache:  &memCache{},
		Source: store.Blocks,
		Logger: quietLogger(),
	})
	t.Cleanup(engine.Close)

	cfg := DefaultConfig()
	cfg.Logger = quietLogger()

	d, err := New(store, engine, nil, inbox, cfg)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	return d, store, inbox
}

func writeBlockFile(t *testing.T, dir, name string, b *block.Block) string {
	t.Helper()

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("failed to marshal block: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write block file: %v", err)
	}
	return path
}

func TestNewValidatesArguments(t *testing.T) {
	store := block.NewStore(nil)
	engine := blocksync.New(&blocksync.Config{
		Cache:  &memCache{},
		Source: store.Blocks,
		Logger: quietLogger(),
	})
	defer engine.Close()

	if _, err := New(nil, engine, nil, t.TempDir(), nil); err == nil {
		t.Error("expected nil store to be rejected")
	}
	if _, err := New(store, nil, nil, t.TempDir(), nil); err == nil {
		t.Error("expected nil engine to be rejected")
	}
	if _, err := New(store, engine, nil, "", nil); err == nil {
		t.Error("expected empty inbox dir to be rejected")
	}
}

func TestNewCreatesInboxDir(t *testing.T) {
	_, _, inbox := newTestDaemon(t)

	info, err := os.Stat(inbox)
	if err != nil {
		t.Fatalf("expected inbox dir to exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected inbox path to be a directory")
	}
}

func TestIngestFileUpsertsBlock(t *testing.T) {
	d, store, inbox := newTestDaemon(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	path := writeBlockFile(t, inbox, "ext-1.json", &block.Block{
		ID:        "ext-1",
		Name:      "dropped in",
		Indent:    1,
		Column:    block.ColumnQueue,
		CreatedAt: now,
		UpdatedAt: now,
	})

	if err := d.ingestFile(path); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	b, ok := store.Get("ext-1")
	if !ok {
		t.Fatal("expected ingested block in store")
	}
	if b.Name != "dropped in" || b.Indent != 1 || b.Column != block.ColumnQueue {
		t.Errorf("ingested block mangled: %+v", b)
	}
}

func TestIngestFileDefaultsIDFromFilename(t *testing.T) {
	d, store, inbox := newTestDaemon(t)

	path := writeBlockFile(t, inbox, "note-42.json", &block.Block{Name: "anonymous"})

	if err := d.ingestFile(path); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if _, ok := store.Get("note-42"); !ok {
		t.Error("expected block id derived from filename")
	}
}

func TestIngestFileRejectsBadIndent(t *testing.T) {
	d, store, inbox := newTestDaemon(t)

	path := writeBlockFile(t, inbox, "deep.json", &block.Block{
		ID:     "deep",
		Name:   "too deep",
		Indent: block.MaxIndent + 3,
	})

	if err := d.ingestFile(path); err == nil {
		t.Fatal("expected out-of-range indent to be rejected")
	}
	if _, ok := store.Get("deep"); ok {
		t.Error("expected rejected block to stay out of the store")
	}
}

func TestIngestFileRejectsUnknownColumn(t *testing.T) {
	d, store, inbox := newTestDaemon(t)

	path := writeBlockFile(t, inbox, "x1.json", &block.Block{
		ID:     "x1",
		Name:   "misfiled",
		Column: block.Column("bogus"),
	})

	if err := d.ingestFile(path); err == nil {
		t.Fatal("expected unknown column to be rejected")
	}
	if _, ok := store.Get("x1"); ok {
		t.Error("expected rejected block to stay out of the store")
	}
}

func TestIngestFileRejectsInvalidProperty(t *testing.T) {
	d, store, inbox := newTestDaemon(t)

	// Declared type and carried value disagree.
	raw := `{"id":"x2","name":"broken","properties":[` +
		`{"id":"p1","type":"memo","name":"m","value":{"text":"hi"}}]}`
	path := filepath.Join(inbox, "x2.json")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := d.ingestFile(path); err != nil {
		t.Fatalf("expected well-formed property accepted: %v", err)
	}

	bad := `{"id":"x3","name":"broken","properties":[` +
		`{"id":"","type":"memo","name":"m","value":{"text":"hi"}}]}`
	path = filepath.Join(inbox, "x3.json")
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := d.ingestFile(path); err == nil {
		t.Fatal("expected property without id to be rejected")
	}
	if _, ok := store.Get("x3"); ok {
		t.Error("expected rejected block to stay out of the store")
	}
}

func TestIngestFileRejectsMalformedJSON(t *testing.T) {
	d, _, inbox := newTestDaemon(t)

	path := filepath.Join(inbox, "garbage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if err := d.ingestFile(path); err == nil {
		t.Fatal("expected malformed JSON to be rejected")
	}
}

func TestSyncInboxFileRemovesBlockOnMissingFile(t *testing.T) {
	d, store, inbox := newTestDaemon(t)

	path := writeBlockFile(t, inbox, "gone.json", &block.Block{ID: "gone", Name: "short-lived"})
	if err := d.ingestFile(path); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove file: %v", err)
	}

	if err := d.syncInboxFile(path); err != nil {
		t.Fatalf("syncInboxFile failed: %v", err)
	}
	if _, ok := store.Get("gone"); ok {
		t.Error("expected block removed after its file vanished")
	}
}

func TestIngestExistingSkipsNonBlockFiles(t *testing.T) {
	d, store, inbox := newTestDaemon(t)

	writeBlockFile(t, inbox, "real.json", &block.Block{ID: "real", Name: "block"})
	if err := os.WriteFile(filepath.Join(inbox, "readme.txt"), []byte("not a block"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(inbox, "sub.json"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	if err := d.ingestExisting(); err != nil {
		t.Fatalf("ingestExisting failed: %v", err)
	}

	if store.Len() != 1 {
		t.Errorf("expected only the .json block file ingested, got %d blocks", store.Len())
	}
	if _, ok := store.Get("real"); !ok {
		t.Error("expected the block file ingested")
	}
}

func TestBlockIDFromPath(t *testing.T) {
	if got := blockIDFromPath("/some/inbox/abc-123.json"); got != "abc-123" {
		t.Errorf("expected abc-123, got %q", got)
	}
	if got := blockIDFromPath("plain.json"); got != "plain" {
		t.Errorf("expected plain, got %q", got)
	}
}

func TestWatcherConvertEventFilters(t *testing.T) {
	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.watcher.Close()

	w.inboxDir = "/inbox"

	if _, ok := w.convertEvent(fsnotify.Event{Name: "/inbox/a.txt", Op: fsnotify.Create}); ok {
		t.Error("expected non-json file ignored")
	}
	if _, ok := w.convertEvent(fsnotify.Event{Name: "/inbox/nested/a.json", Op: fsnotify.Create}); ok {
		t.Error("expected file outside the inbox ignored")
	}
	if _, ok := w.convertEvent(fsnotify.Event{Name: "/inbox/a.json", Op: fsnotify.Chmod}); ok {
		t.Error("expected chmod ignored")
	}
	if ev, ok := w.convertEvent(fsnotify.Event{Name: "/inbox/a.json", Op: fsnotify.Write}); !ok || ev.Op != OpModify {
		t.Errorf("expected write mapped to modify, got %+v ok=%v", ev, ok)
	}
	if ev, ok := w.convertEvent(fsnotify.Event{Name: "/inbox/a.json", Op: fsnotify.Rename}); !ok || ev.Op != OpDelete {
		t.Errorf("expected rename mapped to delete, got %+v ok=%v", ev, ok)
	}
}

func TestEventOpString(t *testing.T) {
	cases := map[EventOp]string{
		OpCreate:    "create",
		OpModify:    "modify",
		OpDelete:    "delete",
		EventOp(99): "unknown",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("EventOp(%d).String() = %q, want %q", op, got, want)
		}
	}
}
