package crdtsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textsync/common"
	"textsync/crdtop"
)

func insertUpdate(rid common.ReplicaID, seq uint64, content string, left common.ItemID) *crdtop.Update {
	op := &crdtop.InsertOperation{
		ID:         common.ItemID{Replica: rid, Seq: seq},
		Content:    content,
		OriginLeft: left,
	}
	update := crdtop.NewUpdate(op.ID)
	update.AddOperation(op)
	return update
}

func TestMemoryUpdateStoreRoundTrip(t *testing.T) {
	store := NewMemoryUpdateStore()
	rid := testReplica(t, 1)

	u1 := insertUpdate(rid, 1, "ab", common.RootID)
	require.NoError(t, store.StoreUpdate(u1))

	got, err := store.GetUpdate(u1.ID())
	require.NoError(t, err)
	assert.Equal(t, u1.ID(), got.ID())
	require.Len(t, got.Operations(), 1)

	_, err = store.GetUpdate(common.ItemID{Replica: rid, Seq: 99})
	require.Error(t, err)
	assert.IsType(t, common.ErrNotFound{}, err)
}

func TestMemoryUpdateStoreDuplicate(t *testing.T) {
	store := NewMemoryUpdateStore()
	rid := testReplica(t, 1)

	u1 := insertUpdate(rid, 1, "ab", common.RootID)
	require.NoError(t, store.StoreUpdate(u1))
	require.NoError(t, store.StoreUpdate(u1))

	missing, err := store.MissingUpdates(map[string]uint64{})
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestMemoryUpdateStoreMissingUpdates(t *testing.T) {
	store := NewMemoryUpdateStore()
	rid := testReplica(t, 1)

	u1 := insertUpdate(rid, 1, "ab", common.RootID)
	u2 := insertUpdate(rid, 3, "cd", common.ItemID{Replica: rid, Seq: 2})
	// Stored out of order; queries still come back in seq order.
	require.NoError(t, store.StoreUpdate(u2))
	require.NoError(t, store.StoreUpdate(u1))

	missing, err := store.MissingUpdates(map[string]uint64{})
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, uint64(1), missing[0].ID().Seq)
	assert.Equal(t, uint64(3), missing[1].ID().Seq)

	// A vector covering the first update filters it out.
	missing, err = store.MissingUpdates(map[string]uint64{rid.String(): 2})
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, uint64(3), missing[0].ID().Seq)

	missing, err = store.MissingUpdates(map[string]uint64{rid.String(): 4})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMemoryUpdateStoreReturnsClones(t *testing.T) {
	store := NewMemoryUpdateStore()
	rid := testReplica(t, 1)

	u1 := insertUpdate(rid, 1, "ab", common.RootID)
	require.NoError(t, store.StoreUpdate(u1))

	got, err := store.GetUpdate(u1.ID())
	require.NoError(t, err)
	got.SetMetadata(map[string]interface{}{"tampered": true})

	again, err := store.GetUpdate(u1.ID())
	require.NoError(t, err)
	assert.Empty(t, again.Metadata())
}
