package collab

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textsync/common"
	"textsync/crdt"
	"textsync/crdtop"
)

func testReplica(t *testing.T, n int) common.ReplicaID {
	t.Helper()
	rid, err := common.ParseReplicaID(fmt.Sprintf("00000000-0000-7000-8000-%012d", n))
	require.NoError(t, err)
	return rid
}

// exchange applies every operation one engine has that the other is
// missing, in both directions.
func exchange(t *testing.T, a, b *Engine) {
	t.Helper()

	ops, complete := a.Diff(b.Vector())
	require.True(t, complete)
	for _, op := range ops {
		_, err := b.Receive(op)
		require.NoError(t, err)
	}

	ops, complete = b.Diff(a.Vector())
	require.True(t, complete)
	for _, op := range ops {
		_, err := a.Receive(op)
		require.NoError(t, err)
	}
}

func TestEngineLocalEditing(t *testing.T) {
	engine := NewEngine(testReplica(t, 1))

	_, err := engine.LocalInsert(0, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", engine.Text())
	assert.Equal(t, 11, engine.Len())

	_, err = engine.LocalDelete(5, 11)
	require.NoError(t, err)
	assert.Equal(t, "hello", engine.Text())

	_, err = engine.LocalInsert(99, "x")
	assert.Error(t, err)
}

func TestEngineTwoNodeConvergence(t *testing.T) {
	a := NewEngine(testReplica(t, 1))
	b := NewEngine(testReplica(t, 2))

	_, err := a.LocalInsert(0, "shared")
	require.NoError(t, err)
	exchange(t, a, b)
	require.Equal(t, "shared", b.Text())

	// Concurrent edits on both sides.
	_, err = a.LocalInsert(6, " state")
	require.NoError(t, err)
	_, err = b.LocalDelete(0, 1)
	require.NoError(t, err)

	exchange(t, a, b)
	assert.Equal(t, a.Text(), b.Text())
	assert.Equal(t, "hared state", a.Text())
	assert.Zero(t, a.PendingCount())
	assert.Zero(t, b.PendingCount())
}

func TestEngineDiffRoundTripIsEmpty(t *testing.T) {
	a := NewEngine(testReplica(t, 1))
	b := NewEngine(testReplica(t, 2))

	_, err := a.LocalInsert(0, "abc")
	require.NoError(t, err)
	_, err = b.LocalInsert(0, "xyz")
	require.NoError(t, err)

	exchange(t, a, b)

	ops, complete := a.Diff(b.Vector())
	assert.True(t, complete)
	assert.Empty(t, ops)
	ops, complete = b.Diff(a.Vector())
	assert.True(t, complete)
	assert.Empty(t, ops)
	assert.Equal(t, a.Vector(), b.Vector())
}

func TestEngineReceiveUpdate(t *testing.T) {
	a := NewEngine(testReplica(t, 1))
	b := NewEngine(testReplica(t, 2))

	ins, err := a.LocalInsert(0, "hi")
	require.NoError(t, err)
	del, err := a.LocalDelete(0, 1)
	require.NoError(t, err)

	update := crdtop.NewUpdate(ins.ID)
	update.AddOperation(ins)
	update.AddOperation(del)

	require.NoError(t, b.ReceiveUpdate(update))
	assert.Equal(t, "i", b.Text())
}

func TestEngineOnChange(t *testing.T) {
	engine := NewEngine(testReplica(t, 1))

	var changes []Change
	unsubscribe := engine.OnChange(func(c Change) {
		changes = append(changes, c)
	})

	_, err := engine.LocalInsert(0, "ab")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "ab", changes[0].Text)
	assert.Equal(t, crdt.Span{Start: 0, End: 2}, changes[0].Span)
	assert.Equal(t, engine.Vector(), changes[0].Vector)

	_, err = engine.LocalDelete(0, 1)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "b", changes[1].Text)
	assert.Equal(t, crdt.Span{Start: 0, End: 0}, changes[1].Span)

	unsubscribe()
	_, err = engine.LocalInsert(0, "c")
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}

func TestEngineBufferedOpFiresNoChange(t *testing.T) {
	a := NewEngine(testReplica(t, 1))
	b := NewEngine(testReplica(t, 2))

	op1, err := a.LocalInsert(0, "x")
	require.NoError(t, err)
	op2, err := a.LocalInsert(1, "y")
	require.NoError(t, err)

	count := 0
	b.OnChange(func(Change) { count++ })

	status, err := b.Receive(op2)
	require.NoError(t, err)
	assert.Equal(t, crdt.StatusBuffered, status)
	assert.Zero(t, count)

	status, err = b.Receive(op1)
	require.NoError(t, err)
	assert.Equal(t, crdt.StatusApplied, status)
	// The buffered operation replays, so both changes fire.
	assert.Equal(t, 2, count)
	assert.Equal(t, "xy", b.Text())
}

func TestEngineSnapshotRestore(t *testing.T) {
	a := NewEngine(testReplica(t, 1))
	_, err := a.LocalInsert(0, "persisted")
	require.NoError(t, err)

	restored, err := NewEngineFromSnapshot(a.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, "persisted", restored.Text())
	assert.Equal(t, a.Vector(), restored.Vector())

	// A restored engine has no log for history behind the snapshot.
	ops, complete := restored.Diff(map[string]uint64{})
	assert.False(t, complete)
	assert.Empty(t, ops)

	// New edits after the restore are servable to up-to-date peers.
	_, err = restored.LocalInsert(9, "!")
	require.NoError(t, err)
	ops, complete = restored.Diff(a.Vector())
	assert.True(t, complete)
	assert.Len(t, ops, 1)
}

func TestDocumentSet(t *testing.T) {
	set := NewDocumentSet(testReplica(t, 1))

	_, err := set.Get("readme")
	require.Error(t, err)
	assert.IsType(t, common.ErrNotFound{}, err)

	engine := set.GetOrCreate("readme")
	require.NotNil(t, engine)
	assert.Same(t, engine, set.GetOrCreate("readme"))
	assert.Equal(t, set.Replica(), engine.Replica())

	set.GetOrCreate("notes")
	assert.Equal(t, []string{"notes", "readme"}, set.IDs())
	assert.Equal(t, 2, set.Len())

	set.Remove("readme")
	_, err = set.Get("readme")
	assert.Error(t, err)
	assert.Equal(t, 1, set.Len())
}
