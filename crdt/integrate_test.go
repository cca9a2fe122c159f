package crdt

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textsync/common"
	"textsync/crdtop"
)

func TestRemoteInsertIntegration(t *testing.T) {
	docA := NewDocument(testReplica(t, 1))
	docB := NewDocument(testReplica(t, 2))

	op, err := docA.LocalInsert(0, "hi")
	require.NoError(t, err)

	status, applied, err := docB.Receive(op)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, status)
	require.Len(t, applied, 1)
	assert.Equal(t, Span{Start: 0, End: 2}, applied[0].Span)
	assert.Equal(t, "hi", docB.String())
}

func TestRemoteDeleteIntegration(t *testing.T) {
	docA := NewDocument(testReplica(t, 1))
	docB := NewDocument(testReplica(t, 2))

	ins, err := docA.LocalInsert(0, "abc")
	require.NoError(t, err)
	applyAll(t, docB, []crdtop.Operation{ins})

	del, err := docA.LocalDelete(1, 2)
	require.NoError(t, err)

	status, applied, err := docB.Receive(del)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, status)
	require.Len(t, applied, 1)
	assert.Equal(t, Span{Start: 1, End: 1}, applied[0].Span)
	assert.Equal(t, "ac", docB.String())
}

// The canonical concurrent-insert scenario: starting from "ac", replica
// A inserts "b" and replica B inserts "d" at the same point. Both ops
// carry origin-left 'a' and origin-right 'c'; the final order is fixed
// solely by comparing the operation IDs, so both sides converge on
// "abdc" (A's replica ID compares less than B's).
func TestConcurrentInsertsConverge(t *testing.T) {
	docA := NewDocument(testReplica(t, 1))
	docB := NewDocument(testReplica(t, 2))

	seed, err := docA.LocalInsert(0, "ac")
	require.NoError(t, err)
	applyAll(t, docB, []crdtop.Operation{seed})

	opA, err := docA.LocalInsert(1, "b")
	require.NoError(t, err)
	opB, err := docB.LocalInsert(1, "d")
	require.NoError(t, err)

	// Both recorded the same origins.
	assert.Equal(t, seed.ID, opA.OriginLeft)
	assert.Equal(t, seed.ID, opB.OriginLeft)
	require.NotNil(t, opA.OriginRight)
	require.NotNil(t, opB.OriginRight)
	assert.Equal(t, *opA.OriginRight, *opB.OriginRight)

	applyAll(t, docA, []crdtop.Operation{opB})
	applyAll(t, docB, []crdtop.Operation{opA})

	assert.Equal(t, "abdc", docA.String())
	assert.Equal(t, "abdc", docB.String())
}

func TestConcurrentInsertsAtDocumentStart(t *testing.T) {
	docA := NewDocument(testReplica(t, 1))
	docB := NewDocument(testReplica(t, 2))

	opA, err := docA.LocalInsert(0, "aa")
	require.NoError(t, err)
	opB, err := docB.LocalInsert(0, "bb")
	require.NoError(t, err)

	applyAll(t, docA, []crdtop.Operation{opB})
	applyAll(t, docB, []crdtop.Operation{opA})

	assert.Equal(t, docA.String(), docB.String())
	assert.Equal(t, "aabb", docA.String())
}

func TestInsertIdempotence(t *testing.T) {
	docA := NewDocument(testReplica(t, 1))
	docB := NewDocument(testReplica(t, 2))

	op, err := docA.LocalInsert(0, "abc")
	require.NoError(t, err)

	status, _, err := docB.Receive(op)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, status)

	status, applied, err := docB.Receive(op)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, status)
	assert.Empty(t, applied)
	assert.Equal(t, "abc", docB.String())
	assert.Equal(t, 3, docB.TotalItems())
}

func TestDeleteIdempotence(t *testing.T) {
	docA := NewDocument(testReplica(t, 1))
	docB := NewDocument(testReplica(t, 2))

	ins, err := docA.LocalInsert(0, "abc")
	require.NoError(t, err)
	del, err := docA.LocalDelete(0, 1)
	require.NoError(t, err)

	applyAll(t, docB, []crdtop.Operation{ins, del})
	assert.Equal(t, "bc", docB.String())

	status, _, err := docB.Receive(del)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, status)
	assert.Equal(t, "bc", docB.String())
}

func TestOverlappingConcurrentDeletes(t *testing.T) {
	docA := NewDocument(testReplica(t, 1))
	docB := NewDocument(testReplica(t, 2))

	seed, err := docA.LocalInsert(0, "abcd")
	require.NoError(t, err)
	applyAll(t, docB, []crdtop.Operation{seed})

	delA, err := docA.LocalDelete(0, 3) // abc
	require.NoError(t, err)
	delB, err := docB.LocalDelete(1, 4) // bcd
	require.NoError(t, err)

	applyAll(t, docA, []crdtop.Operation{delB})
	applyAll(t, docB, []crdtop.Operation{delA})

	assert.Equal(t, "", docA.String())
	assert.Equal(t, "", docB.String())
	assert.Equal(t, 4, docA.TotalItems())
}

func TestMalformedOperationRejected(t *testing.T) {
	doc := NewDocument(testReplica(t, 1))
	_, err := doc.LocalInsert(0, "ab")
	require.NoError(t, err)

	before := doc.String()

	_, _, err = doc.Receive(nil)
	assert.Error(t, err)

	bad := &crdtop.InsertOperation{} // zero everything
	_, _, err = doc.Receive(bad)
	assert.Error(t, err)

	assert.Equal(t, before, doc.String())
	assert.Equal(t, 0, doc.PendingCount())
}

// An insert whose origin-right lands inside another insert's contested
// region must be ordered by that origin, never ID-compared against the
// unrelated siblings around it. Four concurrent inserts at the document
// start exercise the case; every delivery order must materialize the
// same text.
func TestConvergenceWithOriginRightInsideRegion(t *testing.T) {
	rO := testReplica(t, 5)
	rB := testReplica(t, 9)
	rK := testReplica(t, 13)

	idO := common.ItemID{Replica: rO, Seq: 1}
	ops := []crdtop.Operation{
		&crdtop.InsertOperation{ID: common.ItemID{Replica: rB, Seq: 1}, Content: "b", OriginLeft: common.RootID},
		&crdtop.InsertOperation{ID: idO, Content: "o", OriginLeft: common.RootID},
		&crdtop.InsertOperation{ID: common.ItemID{Replica: rK, Seq: 1}, Content: "k", OriginLeft: common.RootID},
		&crdtop.InsertOperation{ID: common.ItemID{Replica: rK, Seq: 2}, Content: "h", OriginLeft: common.RootID, OriginRight: &idO},
	}

	var reference string
	forEachPermutation(ops, func(order []crdtop.Operation) {
		doc := NewDocument(testReplica(t, 20))
		applyAll(t, doc, order)
		require.Equal(t, 0, doc.PendingCount())
		if reference == "" {
			reference = doc.String()
		}
		assert.Equal(t, reference, doc.String(), "delivery order %s diverged", orderLabel(order))
	})
	assert.Equal(t, "hobk", reference)
}

// forEachPermutation visits every ordering of ops.
func forEachPermutation(ops []crdtop.Operation, visit func([]crdtop.Operation)) {
	var permute func(k int)
	permute = func(k int) {
		if k == len(ops) {
			order := make([]crdtop.Operation, len(ops))
			copy(order, ops)
			visit(order)
			return
		}
		for i := k; i < len(ops); i++ {
			ops[k], ops[i] = ops[i], ops[k]
			permute(k + 1)
			ops[k], ops[i] = ops[i], ops[k]
		}
	}
	permute(0)
}

func orderLabel(order []crdtop.Operation) string {
	var b strings.Builder
	for _, op := range order {
		b.WriteString(op.(*crdtop.InsertOperation).Content)
	}
	return b.String()
}

// Convergence under arbitrary delivery orders: three replicas make
// interleaved edits; every replica receives the full operation set in a
// different random permutation and all materialize identical text.
func TestConvergenceUnderPermutedDelivery(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		docs := []*Document{
			NewDocument(testReplica(t, 1)),
			NewDocument(testReplica(t, 2)),
			NewDocument(testReplica(t, 3)),
		}

		var ops []crdtop.Operation

		// Each replica edits locally against its own optimistic state.
		seed, err := docs[0].LocalInsert(0, "base text")
		require.NoError(t, err)
		ops = append(ops, seed)
		applyAll(t, docs[1], []crdtop.Operation{seed})
		applyAll(t, docs[2], []crdtop.Operation{seed})

		op1, err := docs[0].LocalInsert(4, "line ")
		require.NoError(t, err)
		op2, err := docs[1].LocalInsert(0, ">> ")
		require.NoError(t, err)
		op3, err := docs[1].LocalDelete(3, 7)
		require.NoError(t, err)
		op4, err := docs[2].LocalInsert(9, "!")
		require.NoError(t, err)
		ops = append(ops, op1, op2, op3, op4)

		// Fresh observers receive the whole history shuffled.
		var texts []string
		for obs := 0; obs < 4; obs++ {
			doc := NewDocument(testReplica(t, 10+obs))
			shuffled := make([]crdtop.Operation, len(ops))
			copy(shuffled, ops)
			rng.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			for _, op := range shuffled {
				_, _, err := doc.Receive(op)
				require.NoError(t, err)
			}
			require.Equal(t, 0, doc.PendingCount(), "all dependencies must resolve")
			texts = append(texts, doc.String())
		}

		for i := 1; i < len(texts); i++ {
			assert.Equal(t, texts[0], texts[i], "observers diverged on trial %d", trial)
		}

		// The editing replicas converge too once fully exchanged.
		applyAll(t, docs[0], []crdtop.Operation{op2, op3, op4})
		applyAll(t, docs[1], []crdtop.Operation{op1, op4})
		applyAll(t, docs[2], []crdtop.Operation{op1, op2, op3})
		assert.Equal(t, docs[0].String(), docs[1].String())
		assert.Equal(t, docs[1].String(), docs[2].String())
		assert.Equal(t, texts[0], docs[0].String())
	}
}

// Convergence under interleaved editing: replicas edit optimistically
// against divergent local states, exchanging only random slices of the
// history between rounds, so concurrent inserts routinely carry origins
// inside regions other replicas are still contesting. After a full
// exchange every replica must materialize the same text.
func TestConvergenceUnderInterleavedEditing(t *testing.T) {
	const (
		replicas = 4
		rounds   = 6
		trials   = 25
	)
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz")

	for trial := 0; trial < trials; trial++ {
		rng := rand.New(rand.NewSource(int64(1000 + trial)))

		docs := make([]*Document, replicas)
		for i := range docs {
			docs[i] = NewDocument(testReplica(t, i+1))
		}

		var ops []crdtop.Operation
		next := 0

		for round := 0; round < rounds; round++ {
			for _, doc := range docs {
				if doc.Len() > 0 && rng.Intn(4) == 0 {
					start := rng.Intn(doc.Len())
					end := start + 1 + rng.Intn(doc.Len()-start)
					del, err := doc.LocalDelete(start, end)
					require.NoError(t, err)
					ops = append(ops, del)
					continue
				}
				content := make([]rune, 1+rng.Intn(3))
				for j := range content {
					content[j] = alphabet[next%len(alphabet)]
					next++
				}
				ins, err := doc.LocalInsert(rng.Intn(doc.Len()+1), string(content))
				require.NoError(t, err)
				ops = append(ops, ins)
			}

			// Partial exchange: each replica sees a random subset of the
			// history so far, shuffled. Gaps park in the causal buffer.
			for _, doc := range docs {
				subset := make([]crdtop.Operation, 0, len(ops))
				for _, op := range ops {
					if rng.Intn(2) == 0 {
						subset = append(subset, op)
					}
				}
				rng.Shuffle(len(subset), func(a, b int) {
					subset[a], subset[b] = subset[b], subset[a]
				})
				for _, op := range subset {
					_, _, err := doc.Receive(op)
					require.NoError(t, err)
				}
			}
		}

		// Full exchange: every replica receives the complete history in
		// its own random order.
		for _, doc := range docs {
			full := make([]crdtop.Operation, len(ops))
			copy(full, ops)
			rng.Shuffle(len(full), func(a, b int) {
				full[a], full[b] = full[b], full[a]
			})
			for _, op := range full {
				_, _, err := doc.Receive(op)
				require.NoError(t, err)
			}
			require.Equal(t, 0, doc.PendingCount(), "all dependencies must resolve")
		}

		for i := 1; i < replicas; i++ {
			require.Equal(t, docs[0].String(), docs[i].String(), "replicas diverged on trial %d", trial)
		}
	}
}
