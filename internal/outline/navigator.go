// Package outline derives tree structure from the flat ordered block list.
//
// The outline is a flat list with integer indents, not a pointer tree, so
// every structural question is answered by index arithmetic: a block's
// ancestors are the strictly-shallower blocks before it, its children the
// strictly-deeper blocks immediately after it. Traversal is O(n) per query,
// which is fine at outline sizes.
package outline

import (
	"github.com/blockflow/blockflow/internal/block"
)

// Navigator answers visibility and traversal questions over a block store,
// and owns the two indent mutators. It holds no state of its own.
type Navigator struct {
	store *block.Store
}

// New creates a Navigator over the given store.
func New(store *block.Store) *Navigator {
	return &Navigator{store: store}
}

// Indent pushes the block one level deeper. The move is allowed only when
// the block would become a child of its immediate predecessor: its current
// indent must be less than predecessor.indent+1 and below MaxIndent. A block
// can therefore only ever nest one level below its predecessor per call.
// The first block, and anything already at the limit, is left alone.
//
// Note the asymmetry with Outdent: outdenting is unconstrained down to zero.
// That asymmetry is intentional.
func (n *Navigator) Indent(id string) {
	i := n.store.IndexOf(id)
	if i <= 0 {
		return
	}
	cur := n.store.At(i)
	prev := n.store.At(i - 1)
	if cur.Indent >= prev.Indent+1 || cur.Indent >= block.MaxIndent {
		return
	}
	n.store.SetIndent(id, cur.Indent+1)
}

// Outdent pulls the block one level shallower, stopping at zero.
func (n *Navigator) Outdent(id string) {
	b, ok := n.store.Get(id)
	if !ok || b.Indent == 0 {
		return
	}
	n.store.SetIndent(id, b.Indent-1)
}

// ToggleCollapse flips the block's collapsed flag.
func (n *Navigator) ToggleCollapse(id string) {
	n.store.ToggleCollapse(id)
}

// HasChildren reports whether the block has at least one child, by checking
// only the immediate next entry. It does not count deeper descendants.
func (n *Navigator) HasChildren(id string) bool {
	i := n.store.IndexOf(id)
	if i < 0 || i == n.store.Len()-1 {
		return false
	}
	return n.store.At(i+1).Indent > n.store.At(i).Indent
}

// HiddenByCollapsedAncestor reports whether the block at index i is hidden
// because some ancestor between it and the start of the list is collapsed.
//
// Scanning backward, entries at the same or deeper indent are siblings or
// their descendants and are skipped; any strictly-shallower collapsed
// predecessor hides the block. Index 0 is never hidden.
func (n *Navigator) HiddenByCollapsedAncestor(i int) bool {
	return hiddenAt(n.store.Blocks(), i)
}

// PrevVisible returns the id of the nearest visible block before id, or
// ("", false) when none exists.
func (n *Navigator) PrevVisible(id string) (string, bool) {
	blocks := n.store.Blocks()
	i := indexOf(blocks, id)
	if i < 0 {
		return "", false
	}
	for j := i - 1; j >= 0; j-- {
		if !hiddenAt(blocks, j) {
			return blocks[j].ID, true
		}
	}
	return "", false
}

// NextVisible returns the id of the nearest visible block after id, or
// ("", false) when none exists.
func (n *Navigator) NextVisible(id string) (string, bool) {
	blocks := n.store.Blocks()
	i := indexOf(blocks, id)
	if i < 0 {
		return "", false
	}
	for j := i + 1; j < len(blocks); j++ {
		if !hiddenAt(blocks, j) {
			return blocks[j].ID, true
		}
	}
	return "", false
}

// Visible returns the ordered blocks that are not hidden by a collapsed
// ancestor.
func (n *Navigator) Visible() []*block.Block {
	blocks := n.store.Blocks()
	var out []*block.Block
	for i, b := range blocks {
		if !hiddenAt(blocks, i) {
			out = append(out, b)
		}
	}
	return out
}

// hiddenAt reports whether any strictly-shallower predecessor of i is
// collapsed. The comparison is always against block i's own indent: entries
// at the same or deeper indent are skipped, every shallower one counts.
func hiddenAt(blocks []*block.Block, i int) bool {
	if i <= 0 || i >= len(blocks) {
		return false
	}
	indent := blocks[i].Indent
	for j := i - 1; j >= 0; j-- {
		if blocks[j].Indent >= indent {
			continue
		}
		if blocks[j].IsCollapsed {
			return true
		}
	}
	return false
}

func indexOf(blocks []*block.Block, id string) int {
	for i, b := range blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}
