// Package awareness models the CRDT library's awareness sub-protocol (spec
// §4.3). automerge-go, unlike the Yjs ecosystem, has no built-in awareness
// subsystem, so this is the hand-rolled presence store spec.md's Design
// Notes call for: ephemeral, per-client, never persisted.
package awareness

import "sync"

// State is one client's presence payload: cursor, selection, user metadata.
// The byte payload is opaque to the Document; only the collaboration layer
// (or the client) interprets it.
type State struct {
	ClientID uint64
	Payload  []byte // opaque, client-library-defined encoding
}

// Store holds the awareness state for every client attached to one
// Document. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	states map[uint64]*State
}

// NewStore creates an empty awareness store.
func NewStore() *Store {
	return &Store{states: make(map[uint64]*State)}
}

// Set records or replaces clientID's awareness state.
func (s *Store) Set(clientID uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[clientID] = &State{ClientID: clientID, Payload: payload}
}

// Remove deletes clientID's awareness state, e.g. on disconnect.
func (s *Store) Remove(clientID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, clientID)
}

// All returns a snapshot of every currently tracked client's state.
func (s *Store) All() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out
}

// Len returns the number of clients with tracked awareness state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
