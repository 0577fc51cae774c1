package document

import (
	"errors"
	"sync"
	"testing"
)

type fakePeer struct {
	id string

	mu         sync.Mutex
	syncMsgs   [][]byte
	awareness  [][]byte
	stateless  [][]byte
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) SendSync(update []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncMsgs = append(p.syncMsgs, update)
}

func (p *fakePeer) SendAwareness(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awareness = append(p.awareness, payload)
}

func (p *fakePeer) SendStateless(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateless = append(p.stateless, payload)
}

func (p *fakePeer) count() (syncCount, awarenessCount, statelessCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.syncMsgs), len(p.awareness), len(p.stateless)
}

func TestNewDocumentStartsLoading(t *testing.T) {
	doc := New("doc-1")
	if !doc.IsLoading {
		t.Fatal("expected a freshly created document to start loading")
	}
	if doc.ClientsCount() != 0 {
		t.Fatalf("ClientsCount() = %d, want 0", doc.ClientsCount())
	}
}

func TestAddRemoveConnection(t *testing.T) {
	doc := New("doc-1")
	a := newFakePeer("a")
	b := newFakePeer("b")

	doc.AddConnection(a)
	doc.AddConnection(b)
	if doc.ClientsCount() != 2 {
		t.Fatalf("ClientsCount() = %d, want 2", doc.ClientsCount())
	}

	doc.RemoveConnection(a)
	if doc.ClientsCount() != 1 {
		t.Fatalf("ClientsCount() = %d, want 1", doc.ClientsCount())
	}
}

func TestBroadcastAwarenessExcludesOrigin(t *testing.T) {
	doc := New("doc-1")
	a := newFakePeer("a")
	b := newFakePeer("b")
	doc.AddConnection(a)
	doc.AddConnection(b)

	var notified int
	doc.OnAwarenessUpdate(func(d *Document, update []byte) { notified++ })

	doc.BroadcastAwareness(a, []byte("cursor"))

	_, awarenessA, _ := a.count()
	_, awarenessB, _ := b.count()
	if awarenessA != 0 {
		t.Fatalf("origin should not receive its own awareness broadcast, got %d", awarenessA)
	}
	if awarenessB != 1 {
		t.Fatalf("expected peer b to receive 1 awareness message, got %d", awarenessB)
	}
	if notified != 1 {
		t.Fatalf("expected 1 awareness subscriber call, got %d", notified)
	}
}

func TestBroadcastAwarenessPersistsToStore(t *testing.T) {
	doc := New("doc-1")
	a := newFakePeer("a")
	b := newFakePeer("b")
	doc.AddConnection(a)
	doc.AddConnection(b)

	doc.BroadcastAwareness(a, []byte("cursor-a"))

	states := doc.Awareness().All()
	if len(states) != 1 {
		t.Fatalf("len(All()) = %d, want 1", len(states))
	}
	if states[0].ClientID != hashClientID(a.ID()) || string(states[0].Payload) != "cursor-a" {
		t.Fatalf("got %+v", states[0])
	}

	// a newly-attached peer querying awareness afterwards must see it too,
	// not just whatever was written directly into the store.
	c := newFakePeer("c")
	doc.AddConnection(c)
	for _, st := range doc.Awareness().All() {
		c.SendAwareness(st.Payload)
	}
	_, awarenessC, _ := c.count()
	if awarenessC != 1 {
		t.Fatalf("expected the late-joining peer to see a's broadcast awareness, got %d", awarenessC)
	}
}

func TestBroadcastStatelessAppliesSubscriberTransform(t *testing.T) {
	doc := New("doc-1")
	a := newFakePeer("a")
	b := newFakePeer("b")
	doc.AddConnection(a)
	doc.AddConnection(b)

	doc.BeforeBroadcastStateless(func(d *Document, payload []byte) ([]byte, error) {
		return append(payload, '!'), nil
	})

	if err := doc.BroadcastStateless(a, []byte("hi")); err != nil {
		t.Fatalf("BroadcastStateless: %v", err)
	}

	b.mu.Lock()
	got := b.stateless
	b.mu.Unlock()
	if len(got) != 1 || string(got[0]) != "hi!" {
		t.Fatalf("got %v, want [hi!]", got)
	}
}

func TestBroadcastStatelessAbortsOnSubscriberError(t *testing.T) {
	doc := New("doc-1")
	b := newFakePeer("b")
	doc.AddConnection(b)

	wantErr := errors.New("boom")
	doc.BeforeBroadcastStateless(func(d *Document, payload []byte) ([]byte, error) {
		return nil, wantErr
	})

	err := doc.BroadcastStateless(nil, []byte("hi"))
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	_, _, stateless := b.count()
	if stateless != 0 {
		t.Fatal("expected broadcast to be aborted before fan-out")
	}
}

func TestRemoveConnectionClearsAwareness(t *testing.T) {
	doc := New("doc-1")
	a := newFakePeer("a")
	doc.AddConnection(a)
	doc.Awareness().Set(hashClientID(a.ID()), []byte("cursor"))

	if doc.Awareness().Len() != 1 {
		t.Fatalf("Len() = %d, want 1", doc.Awareness().Len())
	}
	doc.RemoveConnection(a)
	if doc.Awareness().Len() != 0 {
		t.Fatalf("expected awareness state to be cleared on disconnect, got Len() = %d", doc.Awareness().Len())
	}
}

func TestHashClientIDIsStable(t *testing.T) {
	a := hashClientID("socket-1")
	b := hashClientID("socket-1")
	c := hashClientID("socket-2")
	if a != b {
		t.Fatal("expected hashClientID to be deterministic for the same input")
	}
	if a == c {
		t.Fatal("expected different socket ids to hash differently (in the overwhelming common case)")
	}
}
