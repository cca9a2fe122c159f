package crdtsync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textsync/common"
)

func testReplica(t *testing.T, n int) common.ReplicaID {
	t.Helper()
	rid, err := common.ParseReplicaID(fmt.Sprintf("00000000-0000-7000-8000-%012d", n))
	require.NoError(t, err)
	return rid
}

func TestStateVectorContiguousAdvance(t *testing.T) {
	sv := NewStateVector()
	rid := testReplica(t, 1)
	ridStr := rid.String()

	sv.Update(common.ItemID{Replica: rid, Seq: 1}, 1)
	assert.Equal(t, uint64(1), sv.Get()[ridStr])

	// A gap parks the seq instead of advancing the counter.
	sv.Update(common.ItemID{Replica: rid, Seq: 3}, 1)
	assert.Equal(t, uint64(1), sv.Get()[ridStr])
	assert.False(t, sv.Covers(common.ItemID{Replica: rid, Seq: 3}))

	// Filling the gap releases the parked seq.
	sv.Update(common.ItemID{Replica: rid, Seq: 2}, 1)
	assert.Equal(t, uint64(3), sv.Get()[ridStr])
	assert.True(t, sv.Covers(common.ItemID{Replica: rid, Seq: 3}))
}

func TestStateVectorSpan(t *testing.T) {
	sv := NewStateVector()
	rid := testReplica(t, 1)

	sv.Update(common.ItemID{Replica: rid, Seq: 1}, 5)
	assert.Equal(t, uint64(5), sv.GetCounter(rid))

	// Re-observing covered seqs is a no-op.
	sv.Update(common.ItemID{Replica: rid, Seq: 2}, 2)
	assert.Equal(t, uint64(5), sv.GetCounter(rid))
}

func TestStateVectorHasUpdates(t *testing.T) {
	sv := NewStateVector()
	a := testReplica(t, 1)
	b := testReplica(t, 2)

	sv.Update(common.ItemID{Replica: a, Seq: 1}, 3)

	assert.True(t, sv.HasUpdates(map[string]uint64{}))
	assert.True(t, sv.HasUpdates(map[string]uint64{a.String(): 2}))
	assert.False(t, sv.HasUpdates(map[string]uint64{a.String(): 3}))
	assert.False(t, sv.HasUpdates(map[string]uint64{a.String(): 3, b.String(): 7}))
}

func TestStateVectorIsCausallyBefore(t *testing.T) {
	sv := NewStateVector()
	a := testReplica(t, 1)
	b := testReplica(t, 2)

	sv.Update(common.ItemID{Replica: a, Seq: 1}, 2)

	assert.True(t, sv.IsCausallyBefore(map[string]uint64{a.String(): 3}))
	assert.True(t, sv.IsCausallyBefore(map[string]uint64{a.String(): 2, b.String(): 1}))
	// Equal vectors are not causally before each other.
	assert.False(t, sv.IsCausallyBefore(map[string]uint64{a.String(): 2}))
	// Concurrent vectors are not ordered.
	assert.False(t, sv.IsCausallyBefore(map[string]uint64{b.String(): 5}))
}

func TestStateVectorFromMap(t *testing.T) {
	a := testReplica(t, 1)
	sv := NewStateVectorFromMap(map[string]uint64{a.String(): 4})

	assert.Equal(t, uint64(4), sv.GetCounter(a))

	sv.Update(common.ItemID{Replica: a, Seq: 5}, 1)
	assert.Equal(t, uint64(5), sv.GetCounter(a))
}

func TestStateVectorGetReturnsCopy(t *testing.T) {
	sv := NewStateVector()
	a := testReplica(t, 1)
	sv.Update(common.ItemID{Replica: a, Seq: 1}, 1)

	m := sv.Get()
	m[a.String()] = 99
	assert.Equal(t, uint64(1), sv.GetCounter(a))
}
