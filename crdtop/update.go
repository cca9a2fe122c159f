package crdtop

import (
	"encoding/json"

	"textsync/common"
)

// Update is a batch of operations produced by one replica, shipped as a
// unit over the transport. The ID is the ID of the first operation in
// the batch.
type Update struct {
	// id is the ID of the update.
	id common.ItemID

	// metadata is optional custom metadata.
	metadata map[string]interface{}

	// operations is the list of operations in the update.
	operations []Operation
}

// NewUpdate creates a new operation batch.
func NewUpdate(id common.ItemID) *Update {
	return &Update{
		id:         id,
		metadata:   make(map[string]interface{}),
		operations: make([]Operation, 0),
	}
}

// ID returns the ID of the update.
func (u *Update) ID() common.ItemID {
	return u.id
}

// Metadata returns the metadata of the update.
func (u *Update) Metadata() map[string]interface{} {
	return u.metadata
}

// SetMetadata sets the metadata of the update.
func (u *Update) SetMetadata(metadata map[string]interface{}) {
	u.metadata = metadata
}

// Operations returns the operations in the update.
func (u *Update) Operations() []Operation {
	return u.operations
}

// AddOperation adds an operation to the update.
func (u *Update) AddOperation(op Operation) {
	if len(u.operations) == 0 {
		u.id = op.GetID()
	}
	u.operations = append(u.operations, op)
}

// Len returns the number of operations in the update.
func (u *Update) Len() int {
	return len(u.operations)
}

// LastID returns the ID of the last element covered by the update. For
// an empty update it returns the update ID itself.
func (u *Update) LastID() common.ItemID {
	if len(u.operations) == 0 {
		return u.id
	}
	last := u.id
	for _, op := range u.operations {
		if id := op.LastID(); last.Compare(id) < 0 {
			last = id
		}
	}
	return last
}

// Clone returns a deep copy of the update. Operations are immutable, so
// the operation slice is copied shallowly.
func (u *Update) Clone() *Update {
	metadata := make(map[string]interface{}, len(u.metadata))
	for k, v := range u.metadata {
		metadata[k] = v
	}
	operations := make([]Operation, len(u.operations))
	copy(operations, u.operations)
	return &Update{
		id:         u.id,
		metadata:   metadata,
		operations: operations,
	}
}

// MarshalJSON implements the json.Marshaler interface.
func (u *Update) MarshalJSON() ([]byte, error) {
	type jsonUpdate struct {
		ID       common.ItemID          `json:"id"`
		Metadata map[string]interface{} `json:"meta,omitempty"`
		Ops      []json.RawMessage      `json:"ops"`
	}

	ops := make([]json.RawMessage, len(u.operations))
	for i, op := range u.operations {
		opJSON, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		ops[i] = opJSON
	}

	return json.Marshal(jsonUpdate{
		ID:       u.id,
		Metadata: u.metadata,
		Ops:      ops,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (u *Update) UnmarshalJSON(data []byte) error {
	var update struct {
		ID       common.ItemID          `json:"id"`
		Metadata map[string]interface{} `json:"meta,omitempty"`
		Ops      []json.RawMessage      `json:"ops"`
	}
	if err := json.Unmarshal(data, &update); err != nil {
		return err
	}

	u.id = update.ID
	u.metadata = update.Metadata
	if u.metadata == nil {
		u.metadata = make(map[string]interface{})
	}

	u.operations = make([]Operation, 0, len(update.Ops))
	for _, opJSON := range update.Ops {
		op, err := DecodeOperation(opJSON)
		if err != nil {
			return err
		}
		u.operations = append(u.operations, op)
	}
	return nil
}
