package crdtsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Replicas created close together share their UUID v7 timestamp prefix;
// the consumer name must still tell them apart.
func TestStreamConsumerNameUniquePerReplica(t *testing.T) {
	a := testReplica(t, 1)
	b := testReplica(t, 2)
	assert.Equal(t, a.String()[:8], b.String()[:8])

	nameA := streamConsumerName(a)
	nameB := streamConsumerName(b)
	assert.NotEqual(t, nameA, nameB)
	assert.Equal(t, "consumer-"+a.String(), nameA)
}
