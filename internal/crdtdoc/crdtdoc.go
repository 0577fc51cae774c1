// Package crdtdoc wraps github.com/automerge/automerge-go so the rest of
// the kernel depends on a small, stable interface instead of the library's
// full API surface — the "assumed library exposing apply update, encode
// state" spec §1 treats as an external collaborator.
package crdtdoc

import (
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

// Doc owns one CRDT instance. Per-connection sync states are created by
// NewSyncState and held by their callers, not by Doc. All mutation goes through
// Doc's own lock, matching spec §4.3's "attached-connection set and the
// CRDT must be mutated under a per-Document lock" for parallel runtimes.
type Doc struct {
	mu    sync.Mutex
	inner *automerge.Doc
}

// New creates an empty document.
func New() *Doc {
	return &Doc{inner: automerge.New()}
}

// Load reconstructs a document from a previously saved snapshot (spec
// onLoadDocument / Save/Load round trip).
func Load(snapshot []byte) (*Doc, error) {
	d, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: load: %w", err)
	}
	return &Doc{inner: d}, nil
}

// Save encodes the full current document state, used for persistence
// (onStoreDocument) and for bootstrapping a newly attached connection.
func (d *Doc) Save() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.Save()
}

// ApplyUpdate merges a document encoded by another replica's Save into this
// document; sync messages are not accepted here. Returns true if the update
// changed any visible state (used to decide whether to fan out and emit
// onUpdate).
func (d *Doc) ApplyUpdate(update []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := d.inner.Heads()
	other, err := automerge.Load(update)
	if err != nil {
		return false, fmt.Errorf("crdtdoc: decode update: %w", err)
	}
	if _, err := d.inner.Merge(other); err != nil {
		return false, fmt.Errorf("crdtdoc: merge: %w", err)
	}
	after := d.inner.Heads()
	return !headsEqual(before, after), nil
}

func headsEqual(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[automerge.ChangeHash]bool, len(a))
	for _, h := range a {
		seen[h] = true
	}
	for _, h := range b {
		if !seen[h] {
			return false
		}
	}
	return true
}

// NewSyncState creates a fresh per-connection sync state bound to this
// document, used to drive the CRDT sync sub-protocol for one attached
// Connection (spec §4.4).
func (d *Doc) NewSyncState() *SyncState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &SyncState{doc: d, inner: automerge.NewSyncState(d.inner)}
}

// SyncState drives one connection's half of the sync sub-protocol:
// receiving inbound sync messages and generating outbound ones.
type SyncState struct {
	doc   *Doc
	inner *automerge.SyncState
}

// Receive applies an inbound sync message from the peer to the shared
// document via this connection's sync state. Returns whether any new state
// was merged, so the Document can decide whether to emit onUpdate/fan out.
func (s *SyncState) Receive(message []byte) (bool, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	before := s.doc.inner.Heads()
	if _, err := s.inner.ReceiveMessage(message); err != nil {
		return false, fmt.Errorf("crdtdoc: receive sync message: %w", err)
	}
	after := s.doc.inner.Heads()
	return !headsEqual(before, after), nil
}

// Generate produces the next outbound sync message for this connection, if
// any. ok is false once the peer is fully synced and no message is needed.
func (s *SyncState) Generate() (message []byte, ok bool) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	msg, valid := s.inner.GenerateMessage()
	if msg == nil {
		return nil, false
	}
	return msg.Bytes(), valid
}
