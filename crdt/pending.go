package crdt

import (
	"textsync/common"
	"textsync/crdtop"
)

// pendingSet is the causal delivery buffer: a multimap from a missing
// dependency to the operations waiting on it. An operation is buffered
// under exactly one missing dependency at a time; if it has several, it
// re-parks on the next one after each retry.
//
// The buffer may hold operations indefinitely if a dependency never
// arrives. That is a liveness hazard for the affected operations only,
// not a deadlock; the session layer watches Len for it.
type pendingSet struct {
	byDep map[common.ItemID][]crdtop.Operation
	size  int
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		byDep: make(map[common.ItemID][]crdtop.Operation),
	}
}

// add parks an operation under the dependency it waits for.
func (p *pendingSet) add(dep common.ItemID, op crdtop.Operation) {
	p.byDep[dep] = append(p.byDep[dep], op)
	p.size++
}

// take removes and returns every operation waiting on the given
// dependency.
func (p *pendingSet) take(dep common.ItemID) []crdtop.Operation {
	ops, ok := p.byDep[dep]
	if !ok {
		return nil
	}
	delete(p.byDep, dep)
	p.size -= len(ops)
	return ops
}

// Len returns the number of buffered operations.
func (p *pendingSet) Len() int {
	return p.size
}

// references reports whether any buffered operation names the given
// item, either as the dependency it waits on or inside its own origins
// or targets. Compaction must not remove such an item.
func (p *pendingSet) references(id common.ItemID) bool {
	if _, ok := p.byDep[id]; ok {
		return true
	}
	for _, ops := range p.byDep {
		for _, op := range ops {
			switch o := op.(type) {
			case *crdtop.InsertOperation:
				if o.OriginLeft.Compare(id) == 0 {
					return true
				}
				if o.OriginRight != nil && o.OriginRight.Compare(id) == 0 {
					return true
				}
			case *crdtop.DeleteOperation:
				for _, target := range o.Targets {
					if target.Compare(id) == 0 {
						return true
					}
				}
			}
		}
	}
	return false
}
