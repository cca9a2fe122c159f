package crdtsync

import (
	"sync"

	"textsync/common"
)

// StateVector tracks, per replica, the highest seq up to which every
// operation has been observed. Counters only advance contiguously:
// observing seq n+2 while n is the counter parks n+2 until n+1 arrives,
// so a counter of n always means seqs 1..n are all present.
type StateVector struct {
	// vector maps replica ID strings to contiguous counter values.
	vector map[string]uint64

	// parked holds observed seqs beyond the contiguous prefix.
	parked map[string]map[uint64]struct{}

	// mutex protects the vector.
	mutex sync.RWMutex
}

// NewStateVector creates an empty state vector.
func NewStateVector() *StateVector {
	return &StateVector{
		vector: make(map[string]uint64),
		parked: make(map[string]map[uint64]struct{}),
	}
}

// NewStateVectorFromMap creates a state vector seeded from counter
// values.
func NewStateVectorFromMap(m map[string]uint64) *StateVector {
	sv := NewStateVector()
	for rid, counter := range m {
		sv.vector[rid] = counter
	}
	return sv
}

// Update records that the operation starting at id and covering span
// seqs has been observed.
func (sv *StateVector) Update(id common.ItemID, span uint64) {
	sv.mutex.Lock()
	defer sv.mutex.Unlock()

	rid := id.Replica.String()
	for i := uint64(0); i < span; i++ {
		sv.observe(rid, id.Seq+i)
	}
}

// observe records a single seq and advances the contiguous prefix as
// far as parked seqs allow. Must be called with the lock held.
func (sv *StateVector) observe(rid string, seq uint64) {
	if seq <= sv.vector[rid] {
		return
	}
	if seq == sv.vector[rid]+1 {
		sv.vector[rid] = seq
		for {
			next := sv.vector[rid] + 1
			if _, ok := sv.parked[rid][next]; !ok {
				return
			}
			delete(sv.parked[rid], next)
			sv.vector[rid] = next
		}
	}
	if sv.parked[rid] == nil {
		sv.parked[rid] = make(map[uint64]struct{})
	}
	sv.parked[rid][seq] = struct{}{}
}

// Get returns a copy of the contiguous counters.
func (sv *StateVector) Get() map[string]uint64 {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()

	result := make(map[string]uint64, len(sv.vector))
	for rid, counter := range sv.vector {
		result[rid] = counter
	}
	return result
}

// GetCounter returns the counter for the given replica.
func (sv *StateVector) GetCounter(replica common.ReplicaID) uint64 {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()
	return sv.vector[replica.String()]
}

// Covers reports whether the given ID falls inside the observed
// prefix.
func (sv *StateVector) Covers(id common.ItemID) bool {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()
	return id.Seq <= sv.vector[id.Replica.String()]
}

// HasUpdates reports whether this vector has observed anything the
// other has not.
func (sv *StateVector) HasUpdates(other map[string]uint64) bool {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()

	for rid, counter := range sv.vector {
		if otherCounter, ok := other[rid]; !ok || counter > otherCounter {
			return true
		}
	}
	return false
}

// IsCausallyBefore reports whether this vector is strictly dominated
// by the other.
func (sv *StateVector) IsCausallyBefore(other map[string]uint64) bool {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()

	for rid, counter := range sv.vector {
		if otherCounter, ok := other[rid]; !ok || counter > otherCounter {
			return false
		}
	}

	for rid, otherCounter := range other {
		if sv.vector[rid] < otherCounter {
			return true
		}
	}

	return false
}
