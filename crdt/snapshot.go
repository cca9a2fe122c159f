package crdt

import (
	"encoding/json"

	"textsync/common"
)

// Snapshot is the persisted form of a document: the full ordered item
// list including tombstones, the local replica's clock, and the
// integration vector. Tombstones must be kept; dropping them would break
// conflict resolution for replicas that have not yet seen the deletions
// referencing them.
type Snapshot struct {
	Replica common.ReplicaID  `json:"replica"`
	Clock   uint64            `json:"clock"`
	Vector  map[string]uint64 `json:"vector"`
	Items   []SnapshotItem    `json:"items"`
}

// SnapshotItem is one persisted item.
type SnapshotItem struct {
	ID          common.ItemID  `json:"id"`
	Content     string         `json:"content"`
	OriginLeft  common.ItemID  `json:"left"`
	OriginRight *common.ItemID `json:"right,omitempty"`
	Deleted     bool           `json:"deleted,omitempty"`
	DeletedBy   *common.ItemID `json:"deletedBy,omitempty"`
}

// Snapshot captures the document state for storage or rejoin.
func (d *Document) Snapshot() *Snapshot {
	snap := &Snapshot{
		Replica: d.localReplica,
		Clock:   d.localSeq,
		Vector:  d.Vector(),
		Items:   make([]SnapshotItem, 0, len(d.items)),
	}

	for _, it := range d.items {
		si := SnapshotItem{
			ID:         it.ID,
			Content:    string(it.Content),
			OriginLeft: it.OriginLeft,
			Deleted:    it.Deleted,
		}
		if it.OriginRight != nil {
			right := *it.OriginRight
			si.OriginRight = &right
		}
		if deleter, ok := d.deletedBy[it.ID]; ok {
			by := deleter
			si.DeletedBy = &by
		}
		snap.Items = append(snap.Items, si)
	}
	return snap
}

// LoadSnapshot reconstructs a document from its persisted form. The
// item order in the snapshot is authoritative; no re-integration runs.
func LoadSnapshot(snap *Snapshot) (*Document, error) {
	if snap == nil {
		return nil, common.ErrMalformedOperation{Reason: "nil snapshot"}
	}
	if snap.Replica.IsNil() {
		return nil, common.ErrMalformedOperation{Reason: "snapshot with nil replica"}
	}

	doc := NewDocument(snap.Replica)
	doc.localSeq = snap.Clock
	for rid, seq := range snap.Vector {
		doc.clock[rid] = seq
	}

	for _, si := range snap.Items {
		runes := []rune(si.Content)
		if len(runes) != 1 {
			return nil, common.ErrMalformedOperation{Reason: "snapshot item content is not a single character"}
		}
		if _, exists := doc.index[si.ID]; exists {
			return nil, common.ErrMalformedOperation{Reason: "snapshot with duplicate item ID"}
		}

		it := &Item{
			ID:         si.ID,
			Content:    runes[0],
			OriginLeft: si.OriginLeft,
			Deleted:    si.Deleted,
		}
		if si.OriginRight != nil {
			right := *si.OriginRight
			it.OriginRight = &right
		}

		doc.index[it.ID] = len(doc.items)
		doc.items = append(doc.items, it)
		if !it.Deleted {
			doc.visibleLen++
		}
		if si.Deleted && si.DeletedBy != nil {
			doc.deletedBy[si.ID] = *si.DeletedBy
		}
	}
	return doc, nil
}

// MarshalJSON implements the json.Marshaler interface.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	return json.Marshal((*alias)(s))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type alias Snapshot
	return json.Unmarshal(data, (*alias)(s))
}
