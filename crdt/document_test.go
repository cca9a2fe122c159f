package crdt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textsync/common"
	"textsync/crdtop"
)

// testReplica returns a deterministic replica ID; higher n compares
// greater, which pins down tie-break expectations.
func testReplica(t *testing.T, n int) common.ReplicaID {
	t.Helper()
	rid, err := common.ParseReplicaID(fmt.Sprintf("00000000-0000-7000-8000-%012d", n))
	require.NoError(t, err)
	return rid
}

func TestLocalInsertMaterialize(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	assert.Equal(t, "", doc.String())
	assert.Equal(t, 0, doc.Len())

	op, err := doc.LocalInsert(0, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.String())
	assert.Equal(t, 5, doc.Len())
	assert.Equal(t, uint64(1), op.ID.Seq)
	assert.True(t, op.OriginLeft.IsRoot())
	assert.Nil(t, op.OriginRight)

	// Middle insert records both visible neighbors as origins.
	op, err = doc.LocalInsert(2, "XY")
	require.NoError(t, err)
	assert.Equal(t, "heXYllo", doc.String())
	assert.Equal(t, uint64(6), op.ID.Seq)
	assert.Equal(t, uint64(2), op.OriginLeft.Seq)
	require.NotNil(t, op.OriginRight)
	assert.Equal(t, uint64(3), op.OriginRight.Seq)
}

func TestLocalInsertClockAdvancesBySpan(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))

	_, err := doc.LocalInsert(0, "abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), doc.Clock())

	op, err := doc.LocalInsert(3, "d")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), op.ID.Seq)
	assert.Equal(t, uint64(4), doc.Clock())
}

func TestLocalDelete(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	_, err := doc.LocalInsert(0, "hello world")
	require.NoError(t, err)

	op, err := doc.LocalDelete(5, 11)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.String())
	assert.Equal(t, 5, doc.Len())
	assert.Len(t, op.Targets, 6)

	// Tombstones are retained, not removed.
	assert.Equal(t, 11, doc.TotalItems())

	// The clock advances by one per delete regardless of target count.
	assert.Equal(t, uint64(12), doc.Clock())
}

func TestLocalDeleteAcrossRuns(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	_, err := doc.LocalInsert(0, "abc")
	require.NoError(t, err)
	_, err = doc.LocalInsert(3, "def")
	require.NoError(t, err)

	// Deleting a range that straddles two insert runs targets items
	// from both.
	op, err := doc.LocalDelete(2, 4)
	require.NoError(t, err)
	assert.Equal(t, "abef", doc.String())
	require.Len(t, op.Targets, 2)
	assert.Equal(t, uint64(3), op.Targets[0].Seq) // 'c' from the first run
	assert.Equal(t, uint64(4), op.Targets[1].Seq) // 'd' from the second run
}

func TestLocalEditOffsetValidation(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	_, err := doc.LocalInsert(0, "ab")
	require.NoError(t, err)

	_, err = doc.LocalInsert(3, "x")
	assert.Error(t, err)
	_, err = doc.LocalInsert(-1, "x")
	assert.Error(t, err)
	_, err = doc.LocalInsert(1, "")
	assert.Error(t, err)

	_, err = doc.LocalDelete(1, 1)
	assert.Error(t, err)
	_, err = doc.LocalDelete(0, 3)
	assert.Error(t, err)

	// Failed edits must not corrupt the document.
	assert.Equal(t, "ab", doc.String())
}

func TestOffsetToItemSkipsTombstones(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	_, err := doc.LocalInsert(0, "abc")
	require.NoError(t, err)
	_, err = doc.LocalDelete(1, 2) // tombstone 'b'
	require.NoError(t, err)

	id, intra, err := doc.OffsetToItem(1)
	require.NoError(t, err)
	assert.Equal(t, 0, intra)
	assert.Equal(t, uint64(3), id.Seq) // 'c', not the tombstoned 'b'

	_, _, err = doc.OffsetToItem(2)
	assert.Error(t, err)
}

func TestUnicodeContent(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	_, err := doc.LocalInsert(0, "héllo")
	require.NoError(t, err)
	assert.Equal(t, 5, doc.Len())

	_, err = doc.LocalInsert(2, "日本")
	require.NoError(t, err)
	assert.Equal(t, "hé日本llo", doc.String())

	_, err = doc.LocalDelete(2, 4)
	require.NoError(t, err)
	assert.Equal(t, "héllo", doc.String())
}

func TestVectorTracksIntegratedPrefix(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	_, err := doc.LocalInsert(0, "ab")
	require.NoError(t, err)
	_, err = doc.LocalDelete(0, 1)
	require.NoError(t, err)

	vector := doc.Vector()
	assert.Equal(t, uint64(3), vector[doc.Replica().String()])

	// The returned vector is a copy.
	vector[doc.Replica().String()] = 99
	assert.Equal(t, uint64(3), doc.Vector()[doc.Replica().String()])
}

// applyAll feeds operations to a document and requires that none error.
func applyAll(t *testing.T, doc *Document, ops []crdtop.Operation) {
	t.Helper()
	for _, op := range ops {
		_, _, err := doc.Receive(op)
		require.NoError(t, err)
	}
}
