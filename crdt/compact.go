package crdt

import (
	"textsync/common"
)

// Compact physically drops tombstones that are causally stable: every
// known replica has integrated both the item and the operation that
// deleted it, so no replica can still originate an operation referencing
// the item. peerVectors are the most recent state vectors reported by
// every other known replica; the local vector participates implicitly.
//
// Compaction is conservative. It refuses to run while the local replica
// is behind anything a peer has reported, and it keeps any tombstone
// still referenced by a retained item's origins or by a buffered
// operation; identity-based references must stay resolvable. It returns
// the number of items removed.
func (d *Document) Compact(peerVectors []map[string]uint64) int {
	for _, vector := range peerVectors {
		for rid, seq := range vector {
			if d.clock[rid] < seq {
				// A peer knows operations we have not integrated yet;
				// one of them could reference a tombstone.
				return 0
			}
		}
	}

	watermark := make(map[string]uint64, len(d.clock))
	for rid, seq := range d.clock {
		watermark[rid] = seq
	}
	for _, vector := range peerVectors {
		for rid := range watermark {
			seq, ok := vector[rid]
			if !ok {
				seq = 0
			}
			if seq < watermark[rid] {
				watermark[rid] = seq
			}
		}
	}

	covered := func(id common.ItemID) bool {
		return watermark[id.Replica.String()] >= id.Seq
	}

	removable := make(map[common.ItemID]bool)
	for _, it := range d.items {
		if !it.Deleted {
			continue
		}
		deleter, ok := d.deletedBy[it.ID]
		if !ok {
			continue
		}
		if !covered(it.ID) || !covered(deleter) {
			continue
		}
		if d.pending.references(it.ID) {
			continue
		}
		removable[it.ID] = true
	}

	// Keep any tombstone a retained item still points at, to a fixed
	// point: un-removing an item may expose further origin references.
	for {
		changed := false
		for _, it := range d.items {
			if removable[it.ID] {
				continue
			}
			if removable[it.OriginLeft] {
				delete(removable, it.OriginLeft)
				changed = true
			}
			if it.OriginRight != nil && removable[*it.OriginRight] {
				delete(removable, *it.OriginRight)
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	if len(removable) == 0 {
		return 0
	}

	kept := make([]*Item, 0, len(d.items)-len(removable))
	for _, it := range d.items {
		if removable[it.ID] {
			delete(d.deletedBy, it.ID)
			delete(d.index, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	d.items = kept
	for i, it := range d.items {
		d.index[it.ID] = i
	}
	return len(removable)
}
