package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new block file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing block file was modified.
	OpModify
	// OpDelete indicates a block file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent represents a file system event for a block file in the inbox
// directory.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// Op is the operation that occurred (create, modify, delete).
	Op EventOp
}

// InboxWatcher watches the inbox directory for block file changes. It uses
// fsnotify for cross-platform file system event monitoring.
type InboxWatcher struct {
	watcher  *fsnotify.Watcher
	events   chan FileEvent
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	inboxDir string
}

// NewInboxWatcher creates a new InboxWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewInboxWatcher() (*InboxWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &InboxWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the inbox directory for *.json block file events.
func (iw *InboxWatcher) Start(inboxDir string) error {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	if iw.running {
		return fmt.Errorf("watcher already running")
	}

	iw.inboxDir = inboxDir

	if err := iw.watcher.Add(inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox directory %s: %w", inboxDir, err)
	}

	iw.running = true
	iw.wg.Add(1)
	go iw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (iw *InboxWatcher) Stop() error {
	iw.mu.Lock()
	if !iw.running {
		iw.mu.Unlock()
		return nil
	}
	iw.running = false
	iw.mu.Unlock()

	close(iw.done)

	if err := iw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	iw.wg.Wait()

	close(iw.events)
	close(iw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (iw *InboxWatcher) Events() <-chan FileEvent {
	return iw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (iw *InboxWatcher) Errors() <-chan error {
	return iw.errors
}

// processEvents is the main event loop that converts fsnotify events to
// FileEvent notifications.
func (iw *InboxWatcher) processEvents() {
	defer iw.wg.Done()

	for {
		select {
		case <-iw.done:
			return

		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := iw.convertEvent(event); ok {
				select {
				case iw.events <- fileEvent:
				case <-iw.done:
					return
				}
			}

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case iw.errors <- err:
			case <-iw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns (FileEvent{}, false) when the event should be ignored.
func (iw *InboxWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	// Only process .json files
	if !strings.HasSuffix(event.Name, ".json") {
		return FileEvent{}, false
	}

	if !iw.inInbox(event.Name) {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod and other events
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Op: op}, true
}

// inInbox checks that the file lives directly in the watched directory.
func (iw *InboxWatcher) inInbox(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absInbox, _ := filepath.Abs(iw.inboxDir)
	return filepath.Dir(absPath) == absInbox
}

// IsRunning returns true if the watcher is currently running.
func (iw *InboxWatcher) IsRunning() bool {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.running
}
