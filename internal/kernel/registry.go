package kernel

import (
	"sync"

	"github.com/yproto/server/internal/document"
)

// registry owns the server-wide document map, enforcing spec §3's
// invariant that at most one Document per name exists at any time. Creation
// is serialized per name (concurrent attaches for an unseen name block on
// the same onLoadDocument call) while unrelated names proceed in parallel.
type registry struct {
	mu       sync.Mutex
	docs     map[string]*document.Document
	creating map[string]*sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{
		docs:     make(map[string]*document.Document),
		creating: make(map[string]*sync.WaitGroup),
	}
}

// getOrCreate returns the existing Document for name, or runs create to
// build one and registers it. created reports whether this call's create
// ran (and therefore whether the caller must wire the new Document's
// subscriber lists exactly once).
func (r *registry) getOrCreate(name string, create func() (*document.Document, error)) (doc *document.Document, created bool, err error) {
	for {
		r.mu.Lock()
		if d, ok := r.docs[name]; ok {
			r.mu.Unlock()
			return d, false, nil
		}
		if wg, ok := r.creating[name]; ok {
			r.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		r.creating[name] = wg
		r.mu.Unlock()

		d, cerr := create()

		r.mu.Lock()
		delete(r.creating, name)
		if cerr == nil {
			r.docs[name] = d
		}
		r.mu.Unlock()
		wg.Done()
		return d, cerr == nil, cerr
	}
}

// remove unregisters name unconditionally. Callers must have already
// verified the document is empty and safe to destroy.
func (r *registry) remove(name string) {
	r.mu.Lock()
	delete(r.docs, name)
	r.mu.Unlock()
}

// snapshot returns every currently registered document, for shutdown.
func (r *registry) snapshot() []*document.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*document.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	return out
}
