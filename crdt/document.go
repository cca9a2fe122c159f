package crdt

import (
	"strings"

	"textsync/common"
	"textsync/crdtop"
)

// Document is the replicated text state of a single document: an ordered
// sequence of items, an index for O(1) lookup by ID, and the integration
// clock tracking the highest contiguous sequence integrated per replica.
//
// A Document is mutated by exactly one logical actor at a time; callers
// that share a Document across goroutines must serialize access (see
// collab.Engine). Local edits are synchronous and never block on the
// network.
type Document struct {
	// localReplica is the replica ID of the local participant.
	localReplica common.ReplicaID

	// localSeq is the local logical clock. It numbers only locally
	// originated operations and advances by the span of each.
	localSeq uint64

	// items is the ordered item sequence, tombstones included.
	items []*Item

	// index maps item IDs to positions in items.
	index map[common.ItemID]int

	// clock is the highest contiguous integrated seq per replica,
	// keyed by the replica's string form. Contiguity is enforced by
	// the per-source gating in Receive.
	clock map[string]uint64

	// deletedBy maps a tombstoned item to the delete operation that
	// tombstoned it; compaction needs the deleting operation's ID.
	deletedBy map[common.ItemID]common.ItemID

	// pending buffers operations whose dependencies have not arrived.
	pending *pendingSet

	// visibleLen is the rune count of the materialized text.
	visibleLen int
}

// NewDocument creates an empty document owned by the given replica.
func NewDocument(replica common.ReplicaID) *Document {
	return &Document{
		localReplica: replica,
		items:        make([]*Item, 0),
		index:        make(map[common.ItemID]int),
		clock:        make(map[string]uint64),
		deletedBy:    make(map[common.ItemID]common.ItemID),
		pending:      newPendingSet(),
	}
}

// Replica returns the local replica ID.
func (d *Document) Replica() common.ReplicaID {
	return d.localReplica
}

// Clock returns the local logical clock value.
func (d *Document) Clock() uint64 {
	return d.localSeq
}

// NextID mints the base ID for a locally originated operation covering
// span clock cycles. IDs are monotonic, never reused and never skipped.
func (d *Document) NextID(span uint64) common.ItemID {
	id := common.ItemID{Replica: d.localReplica, Seq: d.localSeq + 1}
	d.localSeq += span
	return id
}

// Len returns the visible length of the document in runes.
func (d *Document) Len() int {
	return d.visibleLen
}

// TotalItems returns the number of items including tombstones.
func (d *Document) TotalItems() int {
	return len(d.items)
}

// PendingCount returns the number of operations buffered on missing
// dependencies. A value that stays nonzero is the session layer's cue
// that a dependency may never arrive.
func (d *Document) PendingCount() int {
	return d.pending.Len()
}

// Vector returns a copy of the integration clock: the highest contiguous
// seq integrated from each replica.
func (d *Document) Vector() map[string]uint64 {
	vector := make(map[string]uint64, len(d.clock))
	for rid, seq := range d.clock {
		vector[rid] = seq
	}
	return vector
}

// String materializes the visible text.
func (d *Document) String() string {
	var sb strings.Builder
	sb.Grow(d.visibleLen)
	for _, it := range d.items {
		if it.Visible() {
			sb.WriteRune(it.Content)
		}
	}
	return sb.String()
}

// OffsetToItem maps a visible character offset to the item owning it,
// skipping tombstones. The second return value is the intra-item offset,
// always zero for single-character items.
func (d *Document) OffsetToItem(offset int) (common.ItemID, int, error) {
	if offset < 0 || offset >= d.visibleLen {
		return common.ItemID{}, 0, common.ErrInvalidOffset{Offset: offset, Length: d.visibleLen}
	}

	visible := 0
	for _, it := range d.items {
		if !it.Visible() {
			continue
		}
		if visible == offset {
			return it.ID, 0, nil
		}
		visible++
	}
	// Unreachable while visibleLen is maintained correctly.
	return common.ItemID{}, 0, common.ErrInvalidOffset{Offset: offset, Length: d.visibleLen}
}

// visibleOffsetOf returns the visible offset of the item at array
// position pos, counting only visible items strictly before it.
func (d *Document) visibleOffsetOf(pos int) int {
	offset := 0
	for i := 0; i < pos && i < len(d.items); i++ {
		if d.items[i].Visible() {
			offset++
		}
	}
	return offset
}

// LocalInsert applies a local insert at a visible offset and returns the
// operation to broadcast. The edit is applied optimistically; there is
// no round trip before the caller sees the new text.
func (d *Document) LocalInsert(offset int, text string) (*crdtop.InsertOperation, error) {
	if text == "" {
		return nil, common.ErrMalformedOperation{Reason: "insert with empty content"}
	}
	if offset < 0 || offset > d.visibleLen {
		return nil, common.ErrInvalidOffset{Offset: offset, Length: d.visibleLen}
	}

	originLeft := common.RootID
	if offset > 0 {
		id, _, err := d.OffsetToItem(offset - 1)
		if err != nil {
			return nil, err
		}
		originLeft = id
	}

	var originRight *common.ItemID
	if offset < d.visibleLen {
		id, _, err := d.OffsetToItem(offset)
		if err != nil {
			return nil, err
		}
		originRight = &id
	}

	op := &crdtop.InsertOperation{
		ID:          d.NextID(uint64(len([]rune(text)))),
		Content:     text,
		OriginLeft:  originLeft,
		OriginRight: originRight,
	}

	if _, err := d.integrateInsert(op); err != nil {
		return nil, err
	}
	d.clock[op.ID.Replica.String()] = op.LastID().Seq
	return op, nil
}

// LocalDelete tombstones the visible range [start, end) and returns the
// operation to broadcast.
func (d *Document) LocalDelete(start, end int) (*crdtop.DeleteOperation, error) {
	if start < 0 || end > d.visibleLen || start >= end {
		return nil, common.ErrInvalidOffset{Offset: start, Length: d.visibleLen}
	}

	targets := make([]common.ItemID, 0, end-start)
	visible := 0
	for _, it := range d.items {
		if !it.Visible() {
			continue
		}
		if visible >= start && visible < end {
			targets = append(targets, it.ID)
		}
		visible++
		if visible >= end {
			break
		}
	}

	op := &crdtop.DeleteOperation{
		ID:      d.NextID(1),
		Targets: targets,
	}

	d.integrateDelete(op)
	d.clock[op.ID.Replica.String()] = op.ID.Seq
	return op, nil
}
