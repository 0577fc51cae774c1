// Package document implements the per-Document fan-out and update-merge
// engine (spec §4.3). A Document owns one CRDT instance, its awareness
// state, and the set of connections currently attached to it.
package document

import (
	"sync"

	"github.com/yproto/server/internal/awareness"
	"github.com/yproto/server/internal/crdtdoc"
)

// Peer is the minimal surface the Document needs from an attached
// connection to fan messages out to it. internal/connection.Connection
// implements this; the interface here avoids an import cycle.
type Peer interface {
	ID() string
	SendSync(update []byte)
	SendAwareness(payload []byte)
	SendStateless(payload []byte)
}

// UpdateSubscriber is notified whenever the CRDT state changes. origin is
// nil when the update did not originate from an attached connection (spec
// §4.3: "the Kernel treats the update as non-persistable").
type UpdateSubscriber func(doc *Document, origin Peer, update []byte)

// StatelessSubscriber runs before a stateless payload is fanned out,
// letting hooks veto or rewrite it (beforeBroadcastStateless).
type StatelessSubscriber func(doc *Document, payload []byte) ([]byte, error)

// AwarenessSubscriber is notified whenever awareness state changes.
type AwarenessSubscriber func(doc *Document, update []byte)

// Document is identified by a name unique within the server instance (spec
// §3 invariant: at most one Document per name exists at any time — enforced
// by the Kernel's registry, not by this type).
type Document struct {
	Name string

	mu          sync.Mutex
	crdt        *crdtdoc.Doc
	awareness   *awareness.Store
	connections map[string]Peer

	// IsLoading is true from creation until afterLoadDocument returns
	// (spec §3). The Kernel reads and clears this field directly.
	IsLoading bool

	updateSubs     []UpdateSubscriber
	statelessSubs  []StatelessSubscriber
	awarenessSubs  []AwarenessSubscriber
}

// New creates a Document wrapping a fresh CRDT instance. IsLoading starts
// true; the Kernel clears it once afterLoadDocument resolves.
func New(name string) *Document {
	return &Document{
		Name:        name,
		crdt:        crdtdoc.New(),
		awareness:   awareness.NewStore(),
		connections: make(map[string]Peer),
		IsLoading:   true,
	}
}

// LoadSnapshot replaces the Document's CRDT state wholesale, used when
// onLoadDocument returns a LoadKindDoc result (spec §4.6.2 step 2).
func (d *Document) LoadSnapshot(crdt *crdtdoc.Doc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crdt = crdt
}

// CRDT exposes the underlying CRDT instance for use by Connections driving
// the sync sub-protocol and by storage hooks encoding a snapshot.
func (d *Document) CRDT() *crdtdoc.Doc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crdt
}

// Awareness exposes the awareness store.
func (d *Document) Awareness() *awareness.Store {
	return d.awareness
}

// OnUpdate registers a subscriber invoked whenever the CRDT is mutated.
func (d *Document) OnUpdate(fn UpdateSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateSubs = append(d.updateSubs, fn)
}

// BeforeBroadcastStateless registers a subscriber run before a stateless
// payload fans out; the first error aborts the broadcast.
func (d *Document) BeforeBroadcastStateless(fn StatelessSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statelessSubs = append(d.statelessSubs, fn)
}

// OnAwarenessUpdate registers a subscriber invoked whenever awareness state
// changes.
func (d *Document) OnAwarenessUpdate(fn AwarenessSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.awarenessSubs = append(d.awarenessSubs, fn)
}

// AddConnection attaches a peer to this Document's connection set (spec
// §4.3 "Attach/detach"). Only the Kernel calls this, per spec §3's
// invariant on who may alter membership.
func (d *Document) AddConnection(p Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connections[p.ID()] = p
}

// RemoveConnection detaches a peer. Called from the Connection's own close
// path (spec §3).
func (d *Document) RemoveConnection(p Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.connections, p.ID())
	d.awareness.Remove(hashClientID(p.ID()))
}

// ClientsCount returns the number of currently attached connections.
func (d *Document) ClientsCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.connections)
}

// ApplyUpdate merges an update from origin into the CRDT, then forwards it
// as an outgoing sync message to every other attached connection, and
// finally notifies update subscribers (spec §4.3 "Update handling").
// origin is nil for programmatically-applied updates (e.g. a loaded
// snapshot), which are fanned out identically but treated as
// non-persistable by subscribers that key off a nil origin.
func (d *Document) ApplyUpdate(origin Peer, update []byte) error {
	crdt := d.CRDT()
	changed, err := crdt.ApplyUpdate(update)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	d.broadcastSync(origin, update)
	d.notifyUpdate(origin, update)
	return nil
}

// ReceiveSync drives one connection's half of the sync sub-protocol: the
// caller owns the per-connection *crdtdoc.SyncState and passes the raw
// inbound sync message here.
func (d *Document) ReceiveSync(origin Peer, sync *crdtdoc.SyncState, message []byte) error {
	changed, err := sync.Receive(message)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	d.broadcastSync(origin, message)
	d.notifyUpdate(origin, message)
	return nil
}

func (d *Document) broadcastSync(origin Peer, update []byte) {
	d.mu.Lock()
	peers := make([]Peer, 0, len(d.connections))
	for id, p := range d.connections {
		if origin != nil && id == origin.ID() {
			continue
		}
		peers = append(peers, p)
	}
	d.mu.Unlock()
	for _, p := range peers {
		p.SendSync(update)
	}
}

func (d *Document) notifyUpdate(origin Peer, update []byte) {
	d.mu.Lock()
	subs := append([]UpdateSubscriber(nil), d.updateSubs...)
	d.mu.Unlock()
	for _, sub := range subs {
		sub(d, origin, update)
	}
}

// BroadcastAwareness records origin's awareness payload in the Document's
// awareness store, forwards it to every attached connection except the
// origin, then notifies awareness subscribers (spec §4.3 "Awareness"). A
// newly-attached peer querying awareness afterwards sees every other
// client's last-broadcast state, not just whatever test or loader code
// wrote directly into the store.
func (d *Document) BroadcastAwareness(origin Peer, payload []byte) {
	d.mu.Lock()
	if origin != nil {
		d.awareness.Set(hashClientID(origin.ID()), payload)
	}
	peers := make([]Peer, 0, len(d.connections))
	for id, p := range d.connections {
		if origin != nil && id == origin.ID() {
			continue
		}
		peers = append(peers, p)
	}
	subs := append([]AwarenessSubscriber(nil), d.awarenessSubs...)
	d.mu.Unlock()
	for _, p := range peers {
		p.SendAwareness(payload)
	}
	for _, sub := range subs {
		sub(d, payload)
	}
}

// BroadcastStateless runs beforeBroadcastStateless subscribers over payload
// (each may transform it), then fans the result out to every attached
// connection except origin.
func (d *Document) BroadcastStateless(origin Peer, payload []byte) error {
	d.mu.Lock()
	subs := append([]StatelessSubscriber(nil), d.statelessSubs...)
	d.mu.Unlock()

	for _, sub := range subs {
		transformed, err := sub(d, payload)
		if err != nil {
			return err
		}
		payload = transformed
	}

	d.mu.Lock()
	peers := make([]Peer, 0, len(d.connections))
	for id, p := range d.connections {
		if origin != nil && id == origin.ID() {
			continue
		}
		peers = append(peers, p)
	}
	d.mu.Unlock()
	for _, p := range peers {
		p.SendStateless(payload)
	}
	return nil
}

// hashClientID derives a stable numeric awareness key from a socketId
// string. Awareness clientIDs in the CRDT's own sub-protocol are numeric;
// this keeps the Document's internal bookkeeping consistent without
// requiring connections to pre-negotiate a numeric id.
func hashClientID(socketID string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(socketID); i++ {
		h ^= uint64(socketID[i])
		h *= 1099511628211
	}
	return h
}
