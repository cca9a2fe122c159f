package common

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemID(t *testing.T) {
	// Create UUIDs for testing
	uuid1, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("Failed to create UUID: %v", err)
	}
	uuid2, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("Failed to create UUID: %v", err)
	}

	// Test creation
	rid1 := ReplicaID(uuid1)
	rid2 := ReplicaID(uuid2)
	id := ItemID{Replica: rid1, Seq: 2}
	assert.Equal(t, rid1, id.Replica)
	assert.Equal(t, uint64(2), id.Seq)

	// Test Compare method
	id1 := ItemID{Replica: rid1, Seq: 2}
	id2 := ItemID{Replica: rid1, Seq: 3}
	id3 := ItemID{Replica: rid2, Seq: 1}
	id4 := ItemID{Replica: rid1, Seq: 2}

	// Same replica, different seq
	assert.Equal(t, -1, id1.Compare(id2))
	assert.Equal(t, 1, id2.Compare(id1))

	// Different replica: the replica comparison dominates regardless of seq
	assert.Equal(t, -1, id1.Compare(id3))
	assert.Equal(t, 1, id3.Compare(id1))

	// Same ID
	assert.Equal(t, 0, id1.Compare(id4))

	// Test Next method
	next := id1.Next()
	assert.Equal(t, id1.Replica, next.Replica)
	assert.Equal(t, id1.Seq+1, next.Seq)

	// Test Increment method
	incremented := id1.Increment(5)
	assert.Equal(t, id1.Replica, incremented.Replica)
	assert.Equal(t, id1.Seq+5, incremented.Seq)

	// Test String method
	str := id1.String()
	assert.Contains(t, str, "rid")
	assert.Contains(t, str, "seq")
}

func TestRootID(t *testing.T) {
	assert.True(t, RootID.IsRoot())
	assert.True(t, RootID.Replica.IsNil())

	rid := NewReplicaID()
	assert.False(t, ItemID{Replica: rid, Seq: 1}.IsRoot())

	// A nil replica with a nonzero seq is not the root sentinel.
	assert.False(t, ItemID{Replica: NilReplicaID, Seq: 1}.IsRoot())
}

func TestReplicaIDCompare(t *testing.T) {
	rid1 := NewReplicaID()
	rid2 := NewReplicaID()

	assert.Equal(t, 0, rid1.Compare(rid1))
	assert.Equal(t, -rid1.Compare(rid2), rid2.Compare(rid1))

	// UUID v7 is time ordered, so the second ID compares greater.
	assert.Equal(t, -1, rid1.Compare(rid2))
}

func TestReplicaIDRoundTrip(t *testing.T) {
	rid := NewReplicaID()

	parsed, err := ParseReplicaID(rid.String())
	require.NoError(t, err)
	assert.Equal(t, rid, parsed)

	_, err = ParseReplicaID("not-a-uuid")
	assert.Error(t, err)
}

func TestItemIDJSON(t *testing.T) {
	rid := NewReplicaID()
	id := ItemID{Replica: rid, Seq: 7}

	data, err := json.Marshal(id)
	require.NoError(t, err)

	var decoded ItemID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)

	// Missing fields must be rejected, not defaulted.
	var bad ItemID
	err = json.Unmarshal([]byte(`{"seq": 3}`), &bad)
	assert.Error(t, err)
	err = json.Unmarshal([]byte(`{"rid": "`+rid.String()+`"}`), &bad)
	assert.Error(t, err)
}

func TestOperationType(t *testing.T) {
	assert.Equal(t, OperationType("ins"), OperationTypeInsert)
	assert.Equal(t, OperationType("del"), OperationTypeDelete)
}
