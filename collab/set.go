package collab

import (
	"sort"
	"sync"

	"textsync/common"
)

// DocumentSet manages the engines for every document a process
// participates in. All documents share the local replica ID; seq
// counters are independent per document.
type DocumentSet struct {
	mu      sync.RWMutex
	replica common.ReplicaID
	docs    map[string]*Engine
}

// NewDocumentSet creates an empty document set for the given replica.
func NewDocumentSet(replica common.ReplicaID) *DocumentSet {
	return &DocumentSet{
		replica: replica,
		docs:    make(map[string]*Engine),
	}
}

// Replica returns the replica ID shared by all documents in the set.
func (s *DocumentSet) Replica() common.ReplicaID {
	return s.replica
}

// Get returns the engine for the given document ID.
func (s *DocumentSet) Get(docID string) (*Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	engine, ok := s.docs[docID]
	if !ok {
		return nil, common.ErrNotFound{Message: "document " + docID}
	}
	return engine, nil
}

// GetOrCreate returns the engine for the given document ID, creating
// an empty document if none exists.
func (s *DocumentSet) GetOrCreate(docID string) *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	engine, ok := s.docs[docID]
	if !ok {
		engine = NewEngine(s.replica)
		s.docs[docID] = engine
	}
	return engine
}

// Put registers an existing engine under the given document ID,
// replacing any previous one. Used to install engines restored from
// snapshots.
func (s *DocumentSet) Put(docID string, engine *Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docID] = engine
}

// Remove drops the engine for the given document ID.
func (s *DocumentSet) Remove(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docID)
}

// IDs returns the document IDs in the set, sorted.
func (s *DocumentSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of documents in the set.
func (s *DocumentSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
