package block

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Injected so tests control timestamps.
type Clock func() time.Time

// Store is the canonical in-memory ordered collection of blocks.
//
// Every mutation takes an id; if no block with that id exists the call is a
// no-op, never an error, so callers may safely hold stale ids across
// deletions. Each successful mutation stamps UpdatedAt on the affected
// block(s) only and fires the mutation hook, which the composing layer wires
// to the sync engine's debounce entry point.
type Store struct {
	mu       sync.Mutex
	blocks   []*Block
	now      Clock
	onMutate func()
}

// NewStore creates an empty store. If clock is nil, time.Now is used.
func NewStore(clock Clock) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{now: clock}
}

// SetOnMutate registers the hook invoked after every successful mutation.
func (s *Store) SetOnMutate(fn func()) {
	s.mu.Lock()
	s.onMutate = fn
	s.mu.Unlock()
}

// Blocks returns a deep copy of the ordered working set.
func (s *Store) Blocks() []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneSet(s.blocks)
}

// Len returns the number of blocks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

// Get returns a copy of the block with the given id.
func (s *Store) Get(id string) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.blocks[i].Clone(), true
	}
	return nil, false
}

// IndexOf returns the position of id in the list, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id)
}

// At returns a copy of the block at index i, or nil when out of range.
func (s *Store) At(i int) *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.blocks) {
		return nil
	}
	return s.blocks[i].Clone()
}

// Replace adopts a loaded working set wholesale. Timestamps are preserved;
// no mutation hook fires, since adoption is not an edit.
func (s *Store) Replace(blocks []*Block) {
	s.mu.Lock()
	s.blocks = CloneSet(blocks)
	s.mu.Unlock()
}

// Create appends a new block with empty content and properties in the inbox
// column and returns a copy of it.
func (s *Store) Create(name string) *Block {
	s.mu.Lock()
	now := s.now()
	b := &Block{
		ID:        uuid.NewString(),
		Name:      name,
		Column:    ColumnInbox,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.blocks = append(s.blocks, b)
	out := b.Clone()
	s.mu.Unlock()

	s.fireMutate()
	return out
}

// Upsert inserts a block with a caller-supplied identity, or replaces the
// fields of an existing block with the same id in place. Used by the inbox
// ingest path where ids originate outside the store.
func (s *Store) Upsert(b *Block) {
	s.mu.Lock()
	cp := b.Clone()
	cp.UpdatedAt = s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	if cp.Column == "" {
		cp.Column = ColumnInbox
	}
	if i := s.indexOf(cp.ID); i >= 0 {
		cp.CreatedAt = s.blocks[i].CreatedAt
		s.blocks[i] = cp
	} else {
		s.blocks = append(s.blocks, cp)
	}
	s.mu.Unlock()

	s.fireMutate()
}

// Rename sets the block's name.
func (s *Store) Rename(id, name string) {
	s.mutate(id, func(b *Block) bool {
		b.Name = name
		return true
	})
}

// SetContent replaces the block's content.
func (s *Store) SetContent(id, content string) {
	s.mutate(id, func(b *Block) bool {
		b.Content = content
		return true
	})
}

// AddProperty appends a property to the block. The property is stored as a
// deep copy; a missing property id is filled in.
func (s *Store) AddProperty(id string, p Property) {
	s.mutate(id, func(b *Block) bool {
		cp := p.Clone()
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		b.Properties = append(b.Properties, cp)
		return true
	})
}

// SetProperty replaces, wholesale, the value of the first property of the
// given type. No-op when the block has no property of that type.
func (s *Store) SetProperty(id string, typ PropertyType, value Value) {
	s.mutate(id, func(b *Block) bool {
		for i := range b.Properties {
			if b.Properties[i].Type == typ {
				b.Properties[i].Value = cloneValue(value)
				return true
			}
		}
		return false
	})
}

// RemoveProperty removes the first property of the given type.
func (s *Store) RemoveProperty(id string, typ PropertyType) {
	s.mutate(id, func(b *Block) bool {
		for i := range b.Properties {
			if b.Properties[i].Type == typ {
				b.Properties = append(b.Properties[:i], b.Properties[i+1:]...)
				return true
			}
		}
		return false
	})
}

// ToggleCollapse flips the block's collapsed flag.
func (s *Store) ToggleCollapse(id string) {
	s.mutate(id, func(b *Block) bool {
		b.IsCollapsed = !b.IsCollapsed
		return true
	})
}

// TogglePin flips the block's pinned flag.
func (s *Store) TogglePin(id string) {
	s.mutate(id, func(b *Block) bool {
		b.IsPinned = !b.IsPinned
		return true
	})
}

// MoveToColumn moves the block to another column.
func (s *Store) MoveToColumn(id string, col Column) {
	s.mutate(id, func(b *Block) bool {
		b.Column = col
		return true
	})
}

// SetIndent sets the block's indent level. Range rules live in the outline
// navigator; the store only records the result.
func (s *Store) SetIndent(id string, indent int) {
	s.mutate(id, func(b *Block) bool {
		b.Indent = indent
		return true
	})
}

// Duplicate inserts a copy of the block immediately after the source, with a
// new id and fresh timestamps, and returns a copy of the new block. Returns
// nil when the source id is unknown.
func (s *Store) Duplicate(id string) *Block {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	now := s.now()
	dup := s.blocks[i].Clone()
	dup.ID = uuid.NewString()
	dup.CreatedAt = now
	dup.UpdatedAt = now

	s.blocks = append(s.blocks, nil)
	copy(s.blocks[i+2:], s.blocks[i+1:])
	s.blocks[i+1] = dup
	out := dup.Clone()
	s.mu.Unlock()

	s.fireMutate()
	return out
}

// MoveUp swaps the block with its immediate predecessor. Both swapped blocks
// are stamped, since both moved.
func (s *Store) MoveUp(id string) {
	s.swap(id, -1)
}

// MoveDown swaps the block with its immediate successor.
func (s *Store) MoveDown(id string) {
	s.swap(id, +1)
}

// Delete removes the block from the list. The store does not enforce a
// minimum count; a last-block guard belongs to the caller.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
	s.mu.Unlock()

	s.fireMutate()
}

// mutate runs fn against the block with the given id, then stamps UpdatedAt
// and fires the mutation hook when fn reports a change. Unknown ids are
// ignored.
func (s *Store) mutate(id string, fn func(*Block) bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	if !fn(s.blocks[i]) {
		s.mu.Unlock()
		return
	}
	s.blocks[i].UpdatedAt = s.now()
	s.mu.Unlock()

	s.fireMutate()
}

func (s *Store) swap(id string, delta int) {
	s.mu.Lock()
	i := s.indexOf(id)
	j := i + delta
	if i < 0 || j < 0 || j >= len(s.blocks) {
		s.mu.Unlock()
		return
	}
	now := s.now()
	s.blocks[i], s.blocks[j] = s.blocks[j], s.blocks[i]
	s.blocks[i].UpdatedAt = now
	s.blocks[j].UpdatedAt = now
	s.mu.Unlock()

	s.fireMutate()
}

func (s *Store) indexOf(id string) int {
	for i, b := range s.blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) fireMutate() {
	s.mu.Lock()
	fn := s.onMutate
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
