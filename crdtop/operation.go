package crdtop

import (
	"encoding/json"
	"unicode/utf8"

	"textsync/common"
)

// Operation represents a replicated text operation. Operations are
// immutable, causally ordered events; a document is the fold of all
// causally applied operations regardless of arrival order.
type Operation interface {
	// Type returns the type of the operation.
	Type() common.OperationType

	// GetID returns the ID of the operation. For an insert this is the
	// ID of the first inserted item.
	GetID() common.ItemID

	// Span returns the number of logical clock cycles the operation takes.
	Span() uint64

	// LastID returns the ID of the last clock cycle the operation covers.
	LastID() common.ItemID

	// Validate checks the operation's internal invariants before it is
	// allowed anywhere near a document.
	Validate() error

	// MarshalJSON returns a JSON representation of the operation.
	json.Marshaler

	// UnmarshalJSON parses a JSON representation of the operation.
	json.Unmarshaler
}

// MakeOperation creates an empty operation of the given type.
func MakeOperation(opType common.OperationType, id common.ItemID) Operation {
	switch opType {
	case common.OperationTypeInsert:
		return &InsertOperation{ID: id}
	case common.OperationTypeDelete:
		return &DeleteOperation{ID: id}
	default:
		return nil
	}
}

// InsertOperation inserts a contiguous run of characters. The run's
// characters receive the IDs ID, ID+1, ... ID+n-1 where n is the rune
// count of Content. OriginLeft and OriginRight record, at creation time
// on the originating replica, the items adjacent to the insertion point;
// they are provenance for conflict resolution, not live pointers.
type InsertOperation struct {
	ID      common.ItemID
	Content string

	// OriginLeft is the item to the left of the insertion point, or the
	// ROOT sentinel for an insert at the start of the document.
	OriginLeft common.ItemID

	// OriginRight is the item to the right of the insertion point, or
	// nil for an insert at the end of the document.
	OriginRight *common.ItemID
}

// Type returns the type of the operation.
func (o *InsertOperation) Type() common.OperationType {
	return common.OperationTypeInsert
}

// GetID returns the ID of the first inserted item.
func (o *InsertOperation) GetID() common.ItemID {
	return o.ID
}

// Span returns the rune count of the inserted content.
func (o *InsertOperation) Span() uint64 {
	return uint64(utf8.RuneCountInString(o.Content))
}

// LastID returns the ID of the last inserted item.
func (o *InsertOperation) LastID() common.ItemID {
	span := o.Span()
	if span == 0 {
		return o.ID
	}
	return o.ID.Increment(span - 1)
}

// Validate checks the operation's internal invariants.
func (o *InsertOperation) Validate() error {
	if o.ID.Replica.IsNil() {
		return common.ErrMalformedOperation{Reason: "insert with nil replica"}
	}
	if o.ID.Seq == 0 {
		return common.ErrMalformedOperation{Reason: "insert with zero seq"}
	}
	if o.Content == "" {
		return common.ErrMalformedOperation{Reason: "insert with empty content"}
	}
	if !utf8.ValidString(o.Content) {
		return common.ErrMalformedOperation{Reason: "insert with invalid UTF-8 content"}
	}
	if o.coversID(o.OriginLeft) {
		return common.ErrMalformedOperation{Reason: "insert origin-left references itself"}
	}
	if o.OriginRight != nil {
		if o.OriginRight.IsRoot() {
			return common.ErrMalformedOperation{Reason: "insert origin-right is the root sentinel"}
		}
		if o.coversID(*o.OriginRight) {
			return common.ErrMalformedOperation{Reason: "insert origin-right references itself"}
		}
	}
	return nil
}

// coversID reports whether id falls inside the run's own ID span.
func (o *InsertOperation) coversID(id common.ItemID) bool {
	if id.Replica.Compare(o.ID.Replica) != 0 {
		return false
	}
	return id.Seq >= o.ID.Seq && id.Seq <= o.ID.Seq+o.Span()-1
}

// MarshalJSON returns a JSON representation of the operation.
func (o *InsertOperation) MarshalJSON() ([]byte, error) {
	type jsonOp struct {
		Op      string         `json:"op"`
		ID      common.ItemID  `json:"id"`
		Content string         `json:"content"`
		Left    common.ItemID  `json:"left"`
		Right   *common.ItemID `json:"right,omitempty"`
	}

	return json.Marshal(jsonOp{
		Op:      string(common.OperationTypeInsert),
		ID:      o.ID,
		Content: o.Content,
		Left:    o.OriginLeft,
		Right:   o.OriginRight,
	})
}

// UnmarshalJSON parses a JSON representation of the operation.
func (o *InsertOperation) UnmarshalJSON(data []byte) error {
	var op struct {
		Op      string          `json:"op"`
		ID      common.ItemID   `json:"id"`
		Content string          `json:"content"`
		Left    json.RawMessage `json:"left"`
		Right   *common.ItemID  `json:"right"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return err
	}
	if op.Op != string(common.OperationTypeInsert) {
		return common.ErrInvalidOperationType{Type: op.Op}
	}
	if op.Left == nil {
		return common.ErrMalformedOperation{Reason: "insert missing origin-left"}
	}

	var left common.ItemID
	if err := json.Unmarshal(op.Left, &left); err != nil {
		return err
	}

	o.ID = op.ID
	o.Content = op.Content
	o.OriginLeft = left
	o.OriginRight = op.Right
	return nil
}

// DeleteOperation tombstones existing items. A delete of a visible range
// lists every covered item explicitly; a single-character delete is a
// one-element list.
type DeleteOperation struct {
	ID      common.ItemID
	Targets []common.ItemID
}

// Type returns the type of the operation.
func (o *DeleteOperation) Type() common.OperationType {
	return common.OperationTypeDelete
}

// GetID returns the ID of the operation.
func (o *DeleteOperation) GetID() common.ItemID {
	return o.ID
}

// Span returns the number of logical clock cycles the operation takes.
// A delete consumes a single cycle regardless of the target count.
func (o *DeleteOperation) Span() uint64 {
	return 1
}

// LastID returns the ID of the operation.
func (o *DeleteOperation) LastID() common.ItemID {
	return o.ID
}

// Validate checks the operation's internal invariants.
func (o *DeleteOperation) Validate() error {
	if o.ID.Replica.IsNil() {
		return common.ErrMalformedOperation{Reason: "delete with nil replica"}
	}
	if o.ID.Seq == 0 {
		return common.ErrMalformedOperation{Reason: "delete with zero seq"}
	}
	if len(o.Targets) == 0 {
		return common.ErrMalformedOperation{Reason: "delete with no targets"}
	}
	for _, target := range o.Targets {
		if target.Replica.IsNil() || target.Seq == 0 {
			return common.ErrMalformedOperation{Reason: "delete targeting the root sentinel"}
		}
	}
	return nil
}

// MarshalJSON returns a JSON representation of the operation.
func (o *DeleteOperation) MarshalJSON() ([]byte, error) {
	type jsonOp struct {
		Op      string          `json:"op"`
		ID      common.ItemID   `json:"id"`
		Targets []common.ItemID `json:"targets"`
	}

	return json.Marshal(jsonOp{
		Op:      string(common.OperationTypeDelete),
		ID:      o.ID,
		Targets: o.Targets,
	})
}

// UnmarshalJSON parses a JSON representation of the operation.
func (o *DeleteOperation) UnmarshalJSON(data []byte) error {
	var op struct {
		Op      string          `json:"op"`
		ID      common.ItemID   `json:"id"`
		Targets []common.ItemID `json:"targets"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return err
	}
	if op.Op != string(common.OperationTypeDelete) {
		return common.ErrInvalidOperationType{Type: op.Op}
	}

	o.ID = op.ID
	o.Targets = op.Targets
	return nil
}

// DecodeOperation parses an operation from its JSON form, dispatching on
// the "op" tag.
func DecodeOperation(data []byte) (Operation, error) {
	var probe struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	op := MakeOperation(common.OperationType(probe.Op), common.ItemID{})
	if op == nil {
		return nil, common.ErrInvalidOperationType{Type: probe.Op}
	}
	if err := op.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return op, nil
}

// EncodeOperation serializes an operation to its JSON form.
func EncodeOperation(op Operation) ([]byte, error) {
	return json.Marshal(op)
}
