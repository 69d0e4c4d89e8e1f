// Package block provides the outline data model and the in-memory ordered
// working set of blocks.
//
// A block is one entry of an ordered outline. Tree depth is encoded as an
// integer indent rather than a parent pointer, so the whole outline is a flat
// ordered list and list order equals display order.
package block

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxIndent is the deepest nesting level a block may reach.
const MaxIndent = 5

// Column identifies which board column a block lives in.
type Column string

const (
	// ColumnFocus holds the blocks being actively worked.
	ColumnFocus Column = "focus"
	// ColumnQueue holds blocks lined up after focus.
	ColumnQueue Column = "queue"
	// ColumnInbox is the default landing column for new blocks.
	ColumnInbox Column = "inbox"
)

// Block is a single outline entry.
//
// UpdatedAt is refreshed by every mutation and is the sole signal used for
// sync diff decisions; there is no separate version counter.
type Block struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"` // opaque rich-markup, not parsed here

	Indent      int    `json:"indent"`
	IsCollapsed bool   `json:"is_collapsed,omitempty"`
	IsPinned    bool   `json:"is_pinned,omitempty"`
	Column      Column `json:"column"`

	Properties []Property `json:"properties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IsDeleted bool       `json:"is_deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Validate checks that the block's field values are in range.
func (b *Block) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.Indent < 0 || b.Indent > MaxIndent {
		return fmt.Errorf("indent must be between 0 and %d (got %d)", MaxIndent, b.Indent)
	}
	switch b.Column {
	case ColumnFocus, ColumnQueue, ColumnInbox:
	default:
		return fmt.Errorf("unknown column %q", b.Column)
	}
	if b.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if b.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	for i, p := range b.Properties {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("property %d: %w", i, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	out := *b
	if b.DeletedAt != nil {
		t := *b.DeletedAt
		out.DeletedAt = &t
	}
	if b.Properties != nil {
		out.Properties = make([]Property, len(b.Properties))
		for i, p := range b.Properties {
			out.Properties[i] = p.Clone()
		}
	}
	return &out
}

// CloneSet returns a deep copy of an ordered working set.
func CloneSet(blocks []*Block) []*Block {
	out := make([]*Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

// EncodeSet serializes an ordered working set to JSON. Timestamps are
// encoded as ISO-8601 strings.
func EncodeSet(blocks []*Block) ([]byte, error) {
	data, err := json.Marshal(blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode working set: %w", err)
	}
	return data, nil
}

// DecodeSet parses a serialized working set. Blocks that fail validation are
// rejected rather than silently dropped: a corrupt snapshot should surface,
// not shrink the outline.
func DecodeSet(data []byte) ([]*Block, error) {
	var blocks []*Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("failed to decode working set: %w", err)
	}
	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("invalid block at index %d: %w", i, err)
		}
	}
	return blocks, nil
}
