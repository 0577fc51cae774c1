package kernel

import (
	"context"
	"net/http"

	"github.com/yproto/server/internal/codec"
	"github.com/yproto/server/internal/connection"
	"github.com/yproto/server/internal/document"
	"github.com/yproto/server/internal/hooks"
	"github.com/yproto/server/internal/transport"
)

// onMessage is the per-transport inbound message dispatcher (spec §4.6.2).
// Messages are appended to the per-document queue before any handshake
// hook runs, so the message that triggers onConnect is itself replayed
// into the Connection once attach completes, rather than being lost to the
// hook's asynchrony (the source relies on its event loop running all
// synchronous code, including the queue push, before any hook promise
// resolves; this reproduces that ordering without requiring it).
func (k *Kernel) onMessage(ctx context.Context, ts *transportSession, tr transport.Transport, socketID string, r *http.Request, raw []byte) {
	frame, err := codec.Decode(raw)
	if err != nil {
		ts.closeTransport(tr, codec.Unauthorized)
		return
	}

	ts.mu.Lock()
	if conn, ok := ts.attached[frame.DocumentName]; ok {
		ts.mu.Unlock()
		conn.ArmIdleTimer(k.cfg.Timeout)
		if err := conn.HandleMessage(ctx, raw); err != nil {
			k.logger.Error("handle message failed", "socketId", socketID, "err", err)
		}
		return
	}
	firstSeen := !ts.onConnectRan[frame.DocumentName]
	if firstSeen {
		ts.onConnectRan[frame.DocumentName] = true
	}
	isAuthMsg := frame.Type == codec.MessageAuth
	authAlreadyEstablishing := ts.establishing[frame.DocumentName]
	if isAuthMsg && !authAlreadyEstablishing {
		ts.establishing[frame.DocumentName] = true
	}
	ts.mu.Unlock()

	// Queue every non-Auth message before any hook runs, so the message
	// that triggers onConnect is itself replayed into the Connection once
	// attach completes rather than lost to the hook's asynchrony (the
	// source relies on its event loop running all synchronous code,
	// including this queue push, before any hook promise resolves; this
	// reproduces that ordering without requiring it).
	if !isAuthMsg {
		ts.mu.Lock()
		ts.queued[frame.DocumentName] = append(ts.queued[frame.DocumentName], raw)
		ts.mu.Unlock()
	}

	if firstSeen {
		if !k.handleConnect(ctx, ts, tr, socketID, r, frame.DocumentName) {
			return
		}
	}

	if isAuthMsg && !authAlreadyEstablishing {
		k.handleAuth(ctx, ts, tr, socketID, r, frame)
	}
}

// handleConnect runs onConnect for the first message seen for documentName
// on this transport, then proceeds straight to setUpNewConnection unless
// authentication is required (spec §4.6.2 steps 3b-3d). Returns false if
// onConnect rejected the transport (already closed by the caller's
// perspective).
func (k *Kernel) handleConnect(ctx context.Context, ts *transportSession, tr transport.Transport, socketID string, r *http.Request, documentName string) bool {
	connConfig := &hooks.ConnectionConfiguration{RequiresAuthentication: k.requiresAuth}
	payload := &hooks.Payload{
		Context: ctx, Instance: k, Request: r, RequestHeaders: r.Header,
		RequestParameters: r.URL.Query(), SocketID: socketID,
		ConnConfig: connConfig, DocumentName: documentName,
	}

	if err := k.pipeline.Run(ctx, hooks.OnConnect, payload, hooks.MergeContext(payload)); err != nil {
		ts.closeTransport(tr, closeCodeFromHookErr(err))
		return false
	}
	ts.mergeContext(payload.HookContext)
	ts.setConnConfig(documentName, connConfig)

	ts.mu.Lock()
	proceed := !connConfig.RequiresAuthentication && !ts.establishing[documentName]
	if proceed {
		ts.establishing[documentName] = true
	}
	ts.mu.Unlock()

	if proceed {
		k.setUpNewConnection(ctx, ts, tr, socketID, r, documentName, connConfig)
	}
	return true
}

// handleAuth processes an Auth submessage (spec §4.6.2 "Authentication
// submessage handling"). The caller has already set establishing[doc] to
// claim this submessage exclusively.
func (k *Kernel) handleAuth(ctx context.Context, ts *transportSession, tr transport.Transport, socketID string, r *http.Request, frame *codec.Frame) {
	connConfig := ts.connConfig(frame.DocumentName)
	if connConfig == nil {
		connConfig = &hooks.ConnectionConfiguration{RequiresAuthentication: k.requiresAuth}
	}

	payload := &hooks.Payload{
		Context: ctx, Instance: k, Request: r, RequestHeaders: r.Header,
		RequestParameters: r.URL.Query(), SocketID: socketID,
		ConnConfig: connConfig, DocumentName: frame.DocumentName,
		Token: string(frame.Body),
	}

	err := k.pipeline.Run(ctx, hooks.OnAuthenticate, payload, hooks.MergeContext(payload))
	if err != nil {
		reason := ""
		if he, ok := asHandlerError(err); ok {
			reason = he.Reason
		}
		_ = tr.WriteMessage(codec.EncodePermissionDenied(frame.DocumentName, reason))
		ts.closeTransport(tr, closeCodeFromHookErr(err))
		return
	}

	ts.mergeContext(payload.HookContext)
	connConfig.IsAuthenticated = true
	ts.setConnConfig(frame.DocumentName, connConfig)

	if err := tr.WriteMessage(codec.EncodeAuthenticated(frame.DocumentName)); err != nil {
		k.logger.Error("write Authenticated failed", "socketId", socketID, "err", err)
		return
	}
	k.setUpNewConnection(ctx, ts, tr, socketID, r, frame.DocumentName, connConfig)
}

// setUpNewConnection implements spec §4.6.2's numbered sequence:
// cancel the idle timer, get-or-create the Document (loading it on first
// creation), create and wire the Connection, replay queued messages, run
// the connected hook.
func (k *Kernel) setUpNewConnection(ctx context.Context, ts *transportSession, tr transport.Transport, socketID string, r *http.Request, documentName string, connConfig *hooks.ConnectionConfiguration) {
	ts.cancelIdleTimer()

	doc, created, err := k.registry.getOrCreate(documentName, func() (*document.Document, error) {
		return k.loadDocument(ctx, documentName)
	})
	if err != nil {
		k.logger.Error("onLoadDocument rejected", "documentName", documentName, "err", err)
		ts.closeTransport(tr, codec.Forbidden)
		return
	}
	if created {
		k.wireDocument(doc)
	}

	conn := connection.New(socketID, doc, tr, connConfig.ReadOnly, ts.snapshotContext())
	conn.SetDebugSink(k.debug)
	conn.SetBeforeHandleMessage(func(c *connection.Connection, frame *codec.Frame) error {
		return k.runBeforeHandleMessage(ctx, c, frame, socketID, r)
	})
	conn.SetOnStateless(func(c *connection.Connection, body []byte) {
		k.runOnStateless(ctx, c, body, socketID, r)
	})
	conn.OnClose(func(d *document.Document, reason codec.CloseCode) {
		k.handleDisconnect(ctx, d, conn, socketID, ts, documentName)
	})
	conn.ArmIdleTimer(k.cfg.Timeout)

	doc.AddConnection(conn)

	ts.mu.Lock()
	ts.attached[documentName] = conn
	queued := ts.queued[documentName]
	delete(ts.queued, documentName)
	ts.mu.Unlock()

	for _, raw := range queued {
		if err := conn.HandleMessage(ctx, raw); err != nil {
			k.logger.Error("replay queued message failed", "socketId", socketID, "err", err)
		}
	}

	connectedPayload := &hooks.Payload{
		Context: ctx, Instance: k, Request: r, SocketID: socketID,
		DocumentName: documentName, Document: doc, ClientsCount: doc.ClientsCount(),
		ConnConfig: connConfig,
	}
	if err := k.pipeline.Run(ctx, hooks.Connected, connectedPayload, nil); err != nil {
		k.logger.Error("connected hook failed", "socketId", socketID, "err", err)
	}
}

func (k *Kernel) runBeforeHandleMessage(ctx context.Context, conn *connection.Connection, frame *codec.Frame, socketID string, r *http.Request) error {
	doc := conn.Document()
	payload := &hooks.Payload{
		Context: ctx, Instance: k, Request: r, SocketID: socketID,
		DocumentName: frame.DocumentName, Document: doc, ClientsCount: doc.ClientsCount(),
	}
	return k.pipeline.Run(ctx, hooks.BeforeHandleMessage, payload, nil)
}

func (k *Kernel) runOnStateless(ctx context.Context, conn *connection.Connection, body []byte, socketID string, r *http.Request) {
	doc := conn.Document()
	payload := &hooks.Payload{
		Context: ctx, Instance: k, Request: r, SocketID: socketID,
		DocumentName: doc.Name, Document: doc, ClientsCount: doc.ClientsCount(), Update: body,
	}
	if err := k.pipeline.Run(ctx, hooks.OnStateless, payload, nil); err != nil {
		k.logger.Error("onStateless hook failed", "socketId", socketID, "err", err)
	}
}

// handleDisconnect implements spec §4.6.4: remove the connection, run
// onDisconnect, and — unless the Kernel is shutting down — flush and
// remove the document once its last connection leaves.
func (k *Kernel) handleDisconnect(ctx context.Context, doc *document.Document, conn *connection.Connection, socketID string, ts *transportSession, documentName string) {
	doc.RemoveConnection(conn)

	ts.mu.Lock()
	delete(ts.attached, documentName)
	ts.mu.Unlock()

	payload := &hooks.Payload{
		Context: ctx, Instance: k, SocketID: socketID, DocumentName: documentName,
		Document: doc, ClientsCount: doc.ClientsCount(),
	}
	if err := k.pipeline.Run(ctx, hooks.OnDisconnect, payload, nil); err != nil {
		k.logger.Error("onDisconnect hook failed", "socketId", socketID, "err", err)
	}

	if k.shuttingDown.Load() {
		// spec §4.6.5: shutdown never triggers onStoreDocument beyond
		// debounces already scheduled before Destroy was called.
		return
	}

	if doc.ClientsCount() != 0 {
		return
	}

	if doc.IsLoading {
		// spec §4.6.4 step 4: persisting a document that never finished
		// loading would overwrite its canonical state with an empty CRDT.
		k.registry.remove(documentName)
		return
	}

	key := "onStoreDocument-" + documentName
	k.debouncer.Flush(key, func() { k.persist(doc) })

	if doc.ClientsCount() == 0 {
		k.registry.remove(documentName)
	}
}
