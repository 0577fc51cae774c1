// Package kernel implements the Server Kernel (spec §4.6): configuration,
// the per-transport handshake state machine, the document registry, the
// update+persistence pipeline, disconnection, and shutdown. It is the one
// package that wires every other internal package together, grounded on
// the teacher's cmd/server/main.go dependency-injection shape and
// SessionManager register/unregister lifecycle, generalized to the
// handshake/auth/attach state machine the teacher never had.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/yproto/server/internal/codec"
	"github.com/yproto/server/internal/config"
	"github.com/yproto/server/internal/connection"
	"github.com/yproto/server/internal/crdtdoc"
	"github.com/yproto/server/internal/debounce"
	"github.com/yproto/server/internal/debugsink"
	"github.com/yproto/server/internal/document"
	"github.com/yproto/server/internal/hooks"
	"github.com/yproto/server/internal/middleware"
)

// Kernel owns every document, every in-progress transport handshake, and
// the extension pipeline. There is exactly one Kernel per server process.
type Kernel struct {
	cfg          *config.Config
	pipeline     *hooks.Pipeline
	requiresAuth bool

	registry  *registry
	debouncer *debounce.Debouncer
	debug     *debugsink.Sink
	logger    *slog.Logger

	mu         sync.Mutex
	transports map[string]*transportSession

	shuttingDown atomic.Bool

	httpServer *http.Server
}

// New builds a Kernel from its configuration, an ordered list of
// extensions, and inline hook handlers (spec §4.6.1). Extensions run in
// descending-priority order; the inline handlers are collected into a
// synthetic extension appended last, per the spec's own wording.
// onConfigure runs once here, synchronously, before New returns.
func New(cfg *config.Config, extensions []*hooks.Extension, opts ...Option) (*Kernel, error) {
	inline := &hooks.Extension{Name: "inline", Priority: -1}
	for _, opt := range opts {
		opt(inline)
	}
	all := make([]*hooks.Extension, 0, len(extensions)+1)
	all = append(all, extensions...)
	all = append(all, inline)

	requiresAuth := false
	for _, ext := range all {
		if ext.OnAuthenticate != nil {
			requiresAuth = true
			break
		}
	}

	k := &Kernel{
		cfg:          cfg,
		pipeline:     hooks.NewPipeline(all),
		requiresAuth: requiresAuth,
		registry:     newRegistry(),
		debouncer:    debounce.New(cfg.Debounce, cfg.MaxDebounce),
		debug:        debugsink.New(1024, !cfg.Quiet),
		logger:       slog.Default().With("component", "kernel", "name", cfg.Name),
		transports:   make(map[string]*transportSession),
	}

	if err := k.pipeline.Run(context.Background(), hooks.OnConfigure, &hooks.Payload{Instance: k}, nil); err != nil {
		return nil, fmt.Errorf("kernel: onConfigure: %w", err)
	}

	return k, nil
}

// RequiresAuthentication reports whether any configured extension defines
// onAuthenticate (spec §4.6.1).
func (k *Kernel) RequiresAuthentication() bool { return k.requiresAuth }

// ListenAndServe binds the configured address, runs onListen, and serves
// HTTP until the listener closes (normally via Destroy).
func (k *Kernel) ListenAndServe() error {
	addr := net.JoinHostPort(k.cfg.ServerHost, k.cfg.ServerPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("kernel: listen: %w", err)
	}

	if err := k.pipeline.Run(context.Background(), hooks.OnListen, &hooks.Payload{Instance: k}, nil); err != nil {
		_ = ln.Close()
		return fmt.Errorf("kernel: onListen: %w", err)
	}

	if !k.cfg.Quiet {
		k.logger.Info("listening", "addr", addr)
	}

	k.httpServer = &http.Server{
		Handler: middleware.ErrorRecoveryMiddleware(middleware.TracingMiddleware(k.Router())),
	}
	err = k.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Destroy implements spec §4.6.5: close the transport listener, terminate
// every attached client, flush the debug sink, run onDestroy. Document
// destruction beyond already-scheduled debounces does not happen here —
// handleDisconnect checks shuttingDown and skips the flush-on-last-
// disconnect step once it is set.
func (k *Kernel) Destroy(ctx context.Context) error {
	k.shuttingDown.Store(true)

	remaining := k.registry.snapshot()
	if len(remaining) > 0 {
		names := make([]string, len(remaining))
		for i, d := range remaining {
			names[i] = d.Name
		}
		k.logger.Info("shutting down with documents still registered", "documentNames", names)
	}

	if k.httpServer != nil {
		_ = k.httpServer.Shutdown(ctx)
	}

	k.mu.Lock()
	sessions := make([]*transportSession, 0, len(k.transports))
	for _, ts := range k.transports {
		sessions = append(sessions, ts)
	}
	k.mu.Unlock()

	for _, ts := range sessions {
		ts.mu.Lock()
		conns := make([]*connection.Connection, 0, len(ts.attached))
		for _, c := range ts.attached {
			conns = append(conns, c)
		}
		ts.mu.Unlock()
		for _, c := range conns {
			c.Close(codec.ResetConnection)
		}
	}

	k.debug.Close()

	return k.pipeline.Run(ctx, hooks.OnDestroy, &hooks.Payload{Context: ctx, Instance: k}, nil)
}

// loadDocument runs onLoadDocument/afterLoadDocument for a freshly
// constructed Document (spec §4.6.2 step 2-3). Called at most once per
// document name via registry.getOrCreate.
func (k *Kernel) loadDocument(ctx context.Context, documentName string) (*document.Document, error) {
	doc := document.New(documentName)
	payload := &hooks.Payload{
		Context: ctx, Instance: k, DocumentName: documentName, Document: doc,
	}

	var result *hooks.LoadResult
	err := k.pipeline.Run(ctx, hooks.OnLoadDocument, payload, func(r any) error {
		if lr, ok := r.(*hooks.LoadResult); ok {
			result = lr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		switch result.Kind {
		case hooks.LoadKindDoc:
			if crdt, ok := result.Doc.(*crdtdoc.Doc); ok {
				doc.LoadSnapshot(crdt)
			}
		case hooks.LoadKindUpdate:
			if err := doc.ApplyUpdate(nil, result.Update); err != nil {
				return nil, fmt.Errorf("kernel: apply loaded update: %w", err)
			}
		}
	}

	doc.IsLoading = false
	if err := k.pipeline.Run(ctx, hooks.AfterLoadDocument, payload, nil); err != nil {
		return nil, err
	}
	return doc, nil
}

// wireDocument subscribes the Kernel's own pipeline-driving callbacks to a
// newly created Document (spec §4.6.2 step 4). Runs exactly once per
// document, the first time it is created, never on reuse.
func (k *Kernel) wireDocument(doc *document.Document) {
	doc.OnUpdate(func(d *document.Document, origin document.Peer, update []byte) {
		k.onDocumentUpdate(d, origin, update)
	})
	doc.BeforeBroadcastStateless(func(d *document.Document, payload []byte) ([]byte, error) {
		return k.runBeforeBroadcastStateless(d, payload)
	})
	doc.OnAwarenessUpdate(func(d *document.Document, update []byte) {
		k.runOnAwarenessUpdate(d, update)
	})
}

// onDocumentUpdate is the Document.onUpdate subscriber wired in
// wireDocument: it drives the update+persistence pipeline (spec §4.6.3).
func (k *Kernel) onDocumentUpdate(doc *document.Document, origin document.Peer, update []byte) {
	ctx := context.Background()
	payload := &hooks.Payload{
		Context: ctx, Instance: k, DocumentName: doc.Name, Document: doc,
		ClientsCount: doc.ClientsCount(), Update: update,
	}
	if err := k.pipeline.Run(ctx, hooks.OnChange, payload, nil); err != nil {
		// fire-and-log: spec §9 resolves the source's contradictory
		// fire-and-forget-but-rethrow onChange semantics this way.
		k.logger.Error("onChange hook failed", "documentName", doc.Name, "err", err)
	}

	if origin == nil {
		// Programmatically-applied updates (e.g. a loaded snapshot) are
		// not persistable (spec §4.3, §4.6.3).
		return
	}

	key := "onStoreDocument-" + doc.Name
	k.debouncer.Debounce(key, func() { k.persist(doc) }, false)
}

// persist runs onStoreDocument then afterStoreDocument against the
// Document's current full CRDT snapshot. Called both from the debounce
// timer and from an immediate flush on last-disconnect.
func (k *Kernel) persist(doc *document.Document) {
	ctx := context.Background()
	payload := &hooks.Payload{
		Context: ctx, Instance: k, DocumentName: doc.Name, Document: doc,
		ClientsCount: doc.ClientsCount(), Update: doc.CRDT().Save(),
	}

	if err := k.pipeline.Run(ctx, hooks.OnStoreDocument, payload, nil); err != nil {
		if he, ok := asHandlerError(err); ok && he.Message == "" {
			// spec §7: rejection without a message is swallowed.
		} else {
			k.logger.Error("onStoreDocument rejected", "documentName", doc.Name, "err", err)
		}
	}

	if err := k.pipeline.Run(ctx, hooks.AfterStoreDocument, payload, nil); err != nil {
		// spec §7: afterStoreDocument errors are always surfaced.
		k.logger.Error("afterStoreDocument failed", "documentName", doc.Name, "err", err)
	}
}

func (k *Kernel) runBeforeBroadcastStateless(doc *document.Document, payload []byte) ([]byte, error) {
	ctx := context.Background()
	p := &hooks.Payload{
		Context: ctx, Instance: k, DocumentName: doc.Name, Document: doc,
		ClientsCount: doc.ClientsCount(), Update: payload,
	}
	out := payload
	err := k.pipeline.Run(ctx, hooks.BeforeBroadcastStateless, p, func(result any) error {
		if b, ok := result.([]byte); ok {
			out = b
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (k *Kernel) runOnAwarenessUpdate(doc *document.Document, update []byte) {
	ctx := context.Background()
	p := &hooks.Payload{
		Context: ctx, Instance: k, DocumentName: doc.Name, Document: doc,
		ClientsCount: doc.ClientsCount(), Update: update,
	}
	if err := k.pipeline.Run(ctx, hooks.OnAwarenessUpdate, p, nil); err != nil {
		k.logger.Error("onAwarenessUpdate hook failed", "documentName", doc.Name, "err", err)
	}
}
