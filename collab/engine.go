// Package collab exposes the replication core behind a single
// concurrency-safe surface. An Engine owns one document: local edits
// and remote operations both funnel through it, and registered
// listeners observe every change to the materialized text.
package collab

import (
	"sync"

	"github.com/pkg/errors"

	"textsync/common"
	"textsync/crdt"
	"textsync/crdtop"
)

// Change describes one applied mutation of the document text.
type Change struct {
	// Text is the materialized document after the change.
	Text string
	// Span is the visible-offset range the change touched.
	Span crdt.Span
	// Vector is the document state vector after the change.
	Vector map[string]uint64
}

// Listener receives change notifications. Listeners are called
// sequentially, outside the engine lock; they must not assume the
// engine still holds the state they were notified about.
type Listener func(Change)

// Engine wraps a document with a mutex and an operation log. All
// methods are safe for concurrent use; mutations are serialized so the
// document only ever sees one writer.
type Engine struct {
	mu  sync.RWMutex
	doc *crdt.Document

	// log holds applied operations per replica in seq order, used to
	// answer state vector diffs.
	log map[string][]crdtop.Operation

	// logStart is the seq each replica's log begins after. Engines
	// restored from a snapshot cannot serve operations older than the
	// snapshot vector.
	logStart map[string]uint64

	listeners    map[int]Listener
	nextListener int
}

// NewEngine creates an engine for an empty document owned by the given
// replica.
func NewEngine(replica common.ReplicaID) *Engine {
	return &Engine{
		doc:       crdt.NewDocument(replica),
		log:       make(map[string][]crdtop.Operation),
		logStart:  make(map[string]uint64),
		listeners: make(map[int]Listener),
	}
}

// NewEngineFromSnapshot restores an engine from a snapshot. The
// operation log starts empty: state vector diffs reaching behind the
// snapshot report themselves as incomplete and callers fall back to
// snapshot transfer.
func NewEngineFromSnapshot(snap *crdt.Snapshot) (*Engine, error) {
	doc, err := crdt.LoadSnapshot(snap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to restore document")
	}
	logStart := make(map[string]uint64, len(snap.Vector))
	for rid, seq := range snap.Vector {
		logStart[rid] = seq
	}
	return &Engine{
		doc:       doc,
		log:       make(map[string][]crdtop.Operation),
		logStart:  logStart,
		listeners: make(map[int]Listener),
	}, nil
}

// Replica returns the local replica ID.
func (e *Engine) Replica() common.ReplicaID {
	return e.doc.Replica()
}

// Text returns the materialized document text.
func (e *Engine) Text() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.String()
}

// Len returns the visible document length in runes.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Len()
}

// Vector returns a copy of the document state vector.
func (e *Engine) Vector() map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Vector()
}

// PendingCount returns the number of operations buffered for missing
// dependencies.
func (e *Engine) PendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.PendingCount()
}

// LocalInsert inserts text at the given visible offset and returns the
// operation to broadcast.
func (e *Engine) LocalInsert(offset int, text string) (*crdtop.InsertOperation, error) {
	e.mu.Lock()
	op, err := e.doc.LocalInsert(offset, text)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.logOp(op)
	change, listeners := e.changed(crdt.Span{Start: offset, End: offset + int(op.Span())})
	e.mu.Unlock()

	notify(change, listeners)
	return op, nil
}

// LocalDelete deletes the visible range [start, end) and returns the
// operation to broadcast.
func (e *Engine) LocalDelete(start, end int) (*crdtop.DeleteOperation, error) {
	e.mu.Lock()
	op, err := e.doc.LocalDelete(start, end)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.logOp(op)
	change, listeners := e.changed(crdt.Span{Start: start, End: start})
	e.mu.Unlock()

	notify(change, listeners)
	return op, nil
}

// Receive applies a remote operation. Buffered and duplicate
// operations produce no change notification.
func (e *Engine) Receive(op crdtop.Operation) (crdt.Status, error) {
	e.mu.Lock()
	status, applied, err := e.doc.Receive(op)
	if err != nil {
		e.mu.Unlock()
		return status, err
	}

	var changes []Change
	var listeners []Listener
	for _, a := range applied {
		e.logOp(a.Op)
		change, ls := e.changed(a.Span)
		changes = append(changes, change)
		listeners = ls
	}
	e.mu.Unlock()

	for _, change := range changes {
		notify(change, listeners)
	}
	return status, nil
}

// ReceiveUpdate applies every operation in an update batch. It stops
// at the first malformed operation.
func (e *Engine) ReceiveUpdate(update *crdtop.Update) error {
	for _, op := range update.Operations() {
		if _, err := e.Receive(op); err != nil {
			return errors.Wrapf(err, "failed to apply operation %s", op.GetID())
		}
	}
	return nil
}

// Diff returns the applied operations the remote state vector is
// missing, per replica in seq order. The second result reports whether
// the log could serve the whole difference; when false the caller
// should transfer a snapshot instead.
func (e *Engine) Diff(remote map[string]uint64) ([]crdtop.Operation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	complete := true
	var ops []crdtop.Operation
	for rid, entries := range e.log {
		have := remote[rid]
		if have < e.logStart[rid] {
			complete = false
		}
		for _, op := range entries {
			if op.LastID().Seq > have {
				ops = append(ops, op)
			}
		}
	}
	// Replicas the log has never seen ops for but the snapshot did.
	for rid, start := range e.logStart {
		if _, ok := e.log[rid]; !ok && remote[rid] < start {
			complete = false
		}
	}
	return ops, complete
}

// Snapshot returns a deep copy of the document state.
func (e *Engine) Snapshot() *crdt.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Snapshot()
}

// OnChange registers a listener and returns a function that removes
// it.
func (e *Engine) OnChange(listener Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextListener
	e.nextListener++
	e.listeners[id] = listener

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// logOp records an applied operation. Must be called with the write
// lock held.
func (e *Engine) logOp(op crdtop.Operation) {
	rid := op.GetID().Replica.String()
	e.log[rid] = append(e.log[rid], op)
}

// changed builds the change notification for the current document
// state. Must be called with the write lock held.
func (e *Engine) changed(span crdt.Span) (Change, []Listener) {
	change := Change{
		Text:   e.doc.String(),
		Span:   span,
		Vector: e.doc.Vector(),
	}
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	return change, listeners
}

func notify(change Change, listeners []Listener) {
	for _, l := range listeners {
		l(change)
	}
}
