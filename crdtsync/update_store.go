package crdtsync

import (
	"sort"
	"sync"

	"textsync/common"
	"textsync/crdtop"
)

// MemoryUpdateStore is an in-memory UpdateStore implementation.
type MemoryUpdateStore struct {
	// updates maps update ID strings to updates.
	updates map[string]*crdtop.Update

	// updatesByReplica maps replica ID strings to update IDs in seq
	// order.
	updatesByReplica map[string][]common.ItemID

	// mutex protects the store.
	mutex sync.RWMutex
}

// NewMemoryUpdateStore creates a new in-memory update store.
func NewMemoryUpdateStore() *MemoryUpdateStore {
	return &MemoryUpdateStore{
		updates:          make(map[string]*crdtop.Update),
		updatesByReplica: make(map[string][]common.ItemID),
	}
}

// StoreUpdate stores an update.
func (s *MemoryUpdateStore) StoreUpdate(update *crdtop.Update) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	updateID := update.ID()
	idStr := updateID.String()

	if _, exists := s.updates[idStr]; exists {
		return nil // already stored
	}

	s.updates[idStr] = update.Clone()

	rid := updateID.Replica.String()
	ids := s.updatesByReplica[rid]
	pos := sort.Search(len(ids), func(i int) bool {
		return ids[i].Seq >= updateID.Seq
	})
	ids = append(ids, common.ItemID{})
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = updateID
	s.updatesByReplica[rid] = ids

	return nil
}

// MissingUpdates returns the stored updates not covered by the given
// state vector.
func (s *MemoryUpdateStore) MissingUpdates(stateVector map[string]uint64) ([]*crdtop.Update, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []*crdtop.Update
	for rid, ids := range s.updatesByReplica {
		counter := stateVector[rid]
		for _, id := range ids {
			update, exists := s.updates[id.String()]
			if !exists {
				continue
			}
			if update.LastID().Seq > counter {
				result = append(result, update.Clone())
			}
		}
	}

	return result, nil
}

// GetUpdate returns the update with the given ID.
func (s *MemoryUpdateStore) GetUpdate(id common.ItemID) (*crdtop.Update, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if update, exists := s.updates[id.String()]; exists {
		return update.Clone(), nil
	}

	return nil, common.ErrNotFound{Message: "update " + id.String()}
}

// Close shuts down the store.
func (s *MemoryUpdateStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.updates = make(map[string]*crdtop.Update)
	s.updatesByReplica = make(map[string][]common.ItemID)

	return nil
}
