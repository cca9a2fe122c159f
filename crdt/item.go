package crdt

import (
	"textsync/common"
)

// Item is a single character of the document together with the metadata
// needed for conflict resolution. Items are created when their insert
// operation is integrated and are never destroyed, only tombstoned;
// permanent retention keeps concurrent operations that reference them
// resolvable. Only the Deleted flag may change after integration.
type Item struct {
	// ID is the globally unique identity of the item.
	ID common.ItemID

	// Content is the character this item carries.
	Content rune

	// OriginLeft is the item immediately to the left of the insertion
	// point at creation time, or the ROOT sentinel.
	OriginLeft common.ItemID

	// OriginRight is the item immediately to the right of the insertion
	// point at creation time, or nil for the document end.
	OriginRight *common.ItemID

	// Deleted marks the item as a tombstone.
	Deleted bool
}

// Visible returns true if the item contributes to the materialized text.
func (it *Item) Visible() bool {
	return !it.Deleted
}

// Clone returns a copy of the item.
func (it *Item) Clone() *Item {
	clone := *it
	if it.OriginRight != nil {
		right := *it.OriginRight
		clone.OriginRight = &right
	}
	return &clone
}
