package crdt

import (
	"textsync/common"
	"textsync/crdtop"
)

// Status reports what Receive did with an operation.
type Status int

const (
	// StatusApplied means the operation (and possibly buffered
	// operations it unblocked) was integrated.
	StatusApplied Status = iota
	// StatusBuffered means a dependency is missing; the operation waits
	// in the causal buffer until the dependency arrives.
	StatusBuffered
	// StatusDuplicate means the operation was already integrated; the
	// delivery was a no-op.
	StatusDuplicate
)

// Span is a visible-offset range affected by an integration, used by the
// UI layer for cursor and viewport adjustment. A delete collapses to an
// empty span at the deletion point.
type Span struct {
	Start int
	End   int
}

// Applied pairs an integrated operation with the visible range it
// affected.
type Applied struct {
	Op   crdtop.Operation
	Span Span
}

// missingDep marks an operation that cannot integrate yet and names the
// dependency it waits for.
type missingDep struct {
	dep common.ItemID
}

// Receive integrates a remote operation, or buffers it until its
// dependencies arrive. Duplicate deliveries are silent no-ops. A
// malformed operation is rejected with an error and never mutates the
// document. On success the returned slice lists the operation together
// with every buffered operation the integration unblocked, in
// application order.
func (d *Document) Receive(op crdtop.Operation) (Status, []Applied, error) {
	if op == nil {
		return 0, nil, common.ErrMalformedOperation{Reason: "nil operation"}
	}
	if err := op.Validate(); err != nil {
		return 0, nil, err
	}

	applied, missing, err := d.tryIntegrate(op)
	if err != nil {
		return 0, nil, err
	}
	if missing != nil {
		d.pending.add(missing.dep, op)
		return StatusBuffered, nil, nil
	}
	if applied == nil {
		return StatusDuplicate, nil, nil
	}

	results := []Applied{*applied}
	results = d.cascade(op, results)
	return StatusApplied, results, nil
}

// cascade retries buffered operations unblocked by the given integration
// until a fixed point: a retried operation that integrates may itself
// unblock further buffered operations.
func (d *Document) cascade(op crdtop.Operation, results []Applied) []Applied {
	queue := coveredIDs(op)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, waiting := range d.pending.take(id) {
			applied, missing, err := d.tryIntegrate(waiting)
			if err != nil {
				// A buffered operation that turns out malformed against
				// the real document state is discarded, not retried.
				continue
			}
			if missing != nil {
				d.pending.add(missing.dep, waiting)
				continue
			}
			if applied == nil {
				continue
			}
			results = append(results, *applied)
			queue = append(queue, coveredIDs(waiting)...)
		}
	}
	return results
}

// coveredIDs lists every clock cycle the operation covers; buffered
// operations may wait on any of them.
func coveredIDs(op crdtop.Operation) []common.ItemID {
	span := op.Span()
	ids := make([]common.ItemID, 0, span)
	for i := uint64(0); i < span; i++ {
		ids = append(ids, op.GetID().Increment(i))
	}
	return ids
}

// tryIntegrate integrates a single operation if its dependencies are
// satisfied. It returns the applied result, or the missing dependency,
// or (nil, nil) for a duplicate. The document is not mutated unless the
// operation fully integrates.
func (d *Document) tryIntegrate(op crdtop.Operation) (*Applied, *missingDep, error) {
	rid := op.GetID().Replica.String()
	last := d.clock[rid]

	if op.LastID().Seq <= last {
		return nil, nil, nil // duplicate delivery
	}

	// Per-source causal order: seq N integrates only after all seq < N
	// from the same replica. A gap waits on the predecessor cycle.
	if op.GetID().Seq != last+1 {
		return nil, &missingDep{dep: common.ItemID{Replica: op.GetID().Replica, Seq: op.GetID().Seq - 1}}, nil
	}

	switch o := op.(type) {
	case *crdtop.InsertOperation:
		if !o.OriginLeft.IsRoot() {
			if _, ok := d.index[o.OriginLeft]; !ok {
				return nil, &missingDep{dep: o.OriginLeft}, nil
			}
		}
		if o.OriginRight != nil {
			if _, ok := d.index[*o.OriginRight]; !ok {
				return nil, &missingDep{dep: *o.OriginRight}, nil
			}
		}
		span, err := d.integrateInsert(o)
		if err != nil {
			return nil, nil, err
		}
		d.clock[rid] = o.LastID().Seq
		return &Applied{Op: op, Span: span}, nil, nil

	case *crdtop.DeleteOperation:
		for _, target := range o.Targets {
			if _, ok := d.index[target]; !ok {
				return nil, &missingDep{dep: target}, nil
			}
		}
		span := d.integrateDelete(o)
		d.clock[rid] = o.ID.Seq
		return &Applied{Op: op, Span: span}, nil, nil

	default:
		return nil, nil, common.ErrInvalidOperationType{Type: string(op.Type())}
	}
}

// integrateInsert places the operation's run into the item sequence.
//
// Conflict resolution scans strictly between the origins. A candidate
// whose origin-left lies strictly left of ours is already ordered ahead
// of everything that follows, so the scan stops there. A candidate
// sharing our origin-left competes for the same insertion point: the
// smaller ID goes left, and a matching origin-right means no later
// candidate can precede us either. A candidate hanging off an item
// inside the region follows its parent, moving ahead of us exactly when
// its parent already did. The rule depends only on the operation set,
// never on arrival order, so all replicas converge on the same
// sequence. The ID tie-break direction is part of the wire protocol;
// changing it is a compatibility break.
func (d *Document) integrateInsert(op *crdtop.InsertOperation) (Span, error) {
	leftIdx := -1
	if !op.OriginLeft.IsRoot() {
		idx, ok := d.index[op.OriginLeft]
		if !ok {
			return Span{}, common.ErrItemNotFound{ID: op.OriginLeft}
		}
		leftIdx = idx
	}

	rightIdx := len(d.items)
	if op.OriginRight != nil {
		idx, ok := d.index[*op.OriginRight]
		if !ok {
			return Span{}, common.ErrItemNotFound{ID: *op.OriginRight}
		}
		rightIdx = idx
	}

	if rightIdx <= leftIdx {
		return Span{}, common.ErrMalformedOperation{Reason: "origin-right precedes origin-left"}
	}

	// insertAfter is the item the run will follow. Candidates in
	// [conflictStart, i) are siblings with greater IDs still competing
	// for the slot; a candidate whose origin-left is among them stays
	// behind its parent and must not pull the run rightward.
	insertAfter := leftIdx
	conflictStart := leftIdx + 1
scan:
	for i := leftIdx + 1; i < rightIdx; i++ {
		other := d.items[i]

		otherLeftIdx := -1
		if !other.OriginLeft.IsRoot() {
			otherLeftIdx = d.index[other.OriginLeft]
		}

		switch {
		case otherLeftIdx < leftIdx:
			break scan
		case otherLeftIdx == leftIdx:
			if other.ID.Compare(op.ID) < 0 {
				insertAfter = i
				conflictStart = i + 1
			} else if sameOriginRight(other.OriginRight, op.OriginRight) {
				break scan
			}
		default:
			if otherLeftIdx < conflictStart {
				insertAfter = i
				conflictStart = i + 1
			}
		}
	}
	insertIdx := insertAfter + 1

	run := d.expandRun(op)
	d.items = append(d.items[:insertIdx], append(run, d.items[insertIdx:]...)...)
	for i := insertIdx; i < len(d.items); i++ {
		d.index[d.items[i].ID] = i
	}
	d.visibleLen += len(run)

	start := d.visibleOffsetOf(insertIdx)
	return Span{Start: start, End: start + len(run)}, nil
}

// sameOriginRight reports whether two origin-right references name the
// same item, with nil standing for the document end.
func sameOriginRight(a, b *common.ItemID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Compare(*b) == 0
}

// expandRun turns an insert operation into per-character items. Element
// i takes the ID base+i; its origin-left is the preceding element of the
// same run so the run stays contiguous under concurrent integrations.
func (d *Document) expandRun(op *crdtop.InsertOperation) []*Item {
	runes := []rune(op.Content)
	run := make([]*Item, len(runes))
	for i, r := range runes {
		originLeft := op.OriginLeft
		if i > 0 {
			originLeft = op.ID.Increment(uint64(i - 1))
		}
		run[i] = &Item{
			ID:          op.ID.Increment(uint64(i)),
			Content:     r,
			OriginLeft:  originLeft,
			OriginRight: op.OriginRight,
		}
	}
	return run
}

// integrateDelete tombstones the operation's targets. Re-deleting an
// already tombstoned item is a no-op; the same delete may be delivered
// more than once by an unreliable transport, and concurrent deletes may
// overlap.
func (d *Document) integrateDelete(op *crdtop.DeleteOperation) Span {
	firstIdx := -1
	for _, target := range op.Targets {
		idx := d.index[target]
		it := d.items[idx]
		if it.Deleted {
			continue
		}
		it.Deleted = true
		d.visibleLen--
		d.deletedBy[target] = op.ID
		if firstIdx == -1 || idx < firstIdx {
			firstIdx = idx
		}
	}

	if firstIdx == -1 {
		return Span{}
	}
	start := d.visibleOffsetOf(firstIdx)
	return Span{Start: start, End: start}
}
