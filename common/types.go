package common

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ReplicaID represents a unique identifier for an editing participant.
// It is implemented as a UUID v7 which provides time-ordered values.
type ReplicaID uuid.UUID

// NilReplicaID is the zero value for ReplicaID.
var NilReplicaID ReplicaID

// RootID is the sentinel ItemID used as the origin of an insert at the
// start of a document.
var RootID = ItemID{Replica: NilReplicaID, Seq: 0}

// NewReplicaID creates a new ReplicaID using UUID v7.
// It panics if the UUID cannot be created.
func NewReplicaID() ReplicaID {
	const retry = 3

	var lastErr error
	var id uuid.UUID
	for i := 0; i < retry; i++ {
		id, lastErr = uuid.NewV7()
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		panic(lastErr)
	}

	return ReplicaID(id)
}

// ParseReplicaID parses a ReplicaID from its string form.
func ParseReplicaID(s string) (ReplicaID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilReplicaID, fmt.Errorf("invalid replica ID %q: %w", s, err)
	}
	return ReplicaID(u), nil
}

// String returns the string representation of the ReplicaID.
func (r ReplicaID) String() string {
	return uuid.UUID(r).String()
}

// IsNil returns true if this is the zero ReplicaID.
func (r ReplicaID) IsNil() bool {
	return r == NilReplicaID
}

// Compare compares two ReplicaIDs lexicographically.
// Returns:
//
//	-1 if r < other
//	 0 if r == other
//	 1 if r > other
func (r ReplicaID) Compare(other ReplicaID) int {
	for i := 0; i < len(uuid.UUID(r)); i++ {
		if uuid.UUID(r)[i] < uuid.UUID(other)[i] {
			return -1
		}
		if uuid.UUID(r)[i] > uuid.UUID(other)[i] {
			return 1
		}
	}
	return 0
}

// MarshalText implements the encoding.TextMarshaler interface.
func (r ReplicaID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(r).String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (r *ReplicaID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return fmt.Errorf("invalid UUID format: %w", err)
	}
	*r = ReplicaID(u)
	return nil
}

// ItemID identifies a single item of a document. It consists of the
// authoring replica and that replica's sequence counter, and is totally
// ordered by (Replica, Seq) for deterministic conflict resolution.
type ItemID struct {
	Replica ReplicaID `json:"rid"`
	Seq     uint64    `json:"seq"`
}

// Compare compares two item IDs.
// Returns:
//
//	-1 if id < other
//	 0 if id == other
//	 1 if id > other
func (id ItemID) Compare(other ItemID) int {
	if c := id.Replica.Compare(other.Replica); c != 0 {
		return c
	}
	if id.Seq < other.Seq {
		return -1
	}
	if id.Seq > other.Seq {
		return 1
	}
	return 0
}

// IsRoot returns true if this is the ROOT sentinel.
func (id ItemID) IsRoot() bool {
	return id.Replica.IsNil() && id.Seq == 0
}

// Next returns the next item ID in the replica's sequence.
func (id ItemID) Next() ItemID {
	return ItemID{Replica: id.Replica, Seq: id.Seq + 1}
}

// Increment advances the sequence counter by the given amount.
func (id ItemID) Increment(amount uint64) ItemID {
	return ItemID{Replica: id.Replica, Seq: id.Seq + amount}
}

// String returns a string representation of the item ID.
func (id ItemID) String() string {
	data, _ := json.Marshal(id)
	return string(data)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	var obj struct {
		Replica *ReplicaID `json:"rid"`
		Seq     *uint64    `json:"seq"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Replica == nil {
		return ErrMalformedOperation{Reason: "missing rid field"}
	}
	if obj.Seq == nil {
		return ErrMalformedOperation{Reason: "missing seq field"}
	}
	id.Replica = *obj.Replica
	id.Seq = *obj.Seq
	return nil
}

// OperationType represents the type of a text operation.
type OperationType string

const (
	// OperationTypeInsert inserts a run of characters.
	OperationTypeInsert OperationType = "ins"
	// OperationTypeDelete tombstones existing items.
	OperationTypeDelete OperationType = "del"
)
