// Package connection implements one attached client on one document (spec
// §4.4): the sync sub-protocol, awareness sub-protocol, a stateless
// side-channel, read-only enforcement, and the keep-alive timer.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yproto/server/internal/codec"
	"github.com/yproto/server/internal/crdtdoc"
	"github.com/yproto/server/internal/debugsink"
	"github.com/yproto/server/internal/document"
	"github.com/yproto/server/internal/transport"
)

// State is the Connection's lifecycle state (spec §4.4 state table).
type State int

const (
	StateAttached State = iota
	StateClosing
)

// BeforeHandleMessage runs before every inbound message is dispatched;
// rejection aborts message dispatch entirely (spec Design Notes: this
// subscriber's failure "must abort message dispatch", unlike every other
// subscriber list in the system).
type BeforeHandleMessage func(conn *Connection, frame *codec.Frame) error

// StatelessHandler is invoked on receipt of a stateless payload (onStateless).
type StatelessHandler func(conn *Connection, payload []byte)

// CloseCallback is invoked exactly once when the transport closes, carrying
// the owning Document and the reason the Connection closed.
type CloseCallback func(doc *document.Document, reason codec.CloseCode)

// Connection is one attached client on one Document.
type Connection struct {
	id       string
	doc      *document.Document
	tr       transport.Transport
	readOnly bool
	context  map[string]any

	sync *crdtdoc.SyncState

	beforeHandle BeforeHandleMessage
	onStateless  StatelessHandler

	// writeMu serializes every call into the transport. gorilla/websocket
	// connections support exactly one concurrent writer, but a Connection
	// here is written to from multiple goroutines (its own read loop
	// replying to sync/awareness queries, and other connections' Document
	// fan-out calling SendSync/SendAwareness/SendStateless concurrently),
	// so this mutex holds that invariant.
	writeMu sync.Mutex

	// debug records outbound frames for the Debug Sink (spec §4.7/§9); nil
	// until SetDebugSink wires it, and debugsink.Sink itself tolerates a
	// nil receiver, so recording is always safe to call unconditionally.
	debug *debugsink.Sink

	mu            sync.Mutex
	state         State
	closeCallbacks []CloseCallback
	idleTimer     *time.Timer
	closed        bool

	logger *slog.Logger
}

// New constructs an attached Connection. The caller (Kernel) is responsible
// for calling doc.AddConnection before wiring message dispatch, per spec
// §3's invariant that only the Kernel alters Document membership on attach.
func New(id string, doc *document.Document, tr transport.Transport, readOnly bool, ctx map[string]any) *Connection {
	return &Connection{
		id:       id,
		doc:      doc,
		tr:       tr,
		readOnly: readOnly,
		context:  ctx,
		sync:     doc.CRDT().NewSyncState(),
		state:    StateAttached,
		logger:   slog.Default().With("socketId", id, "documentName", doc.Name),
	}
}

// ID implements document.Peer.
func (c *Connection) ID() string { return c.id }

// Context returns the accumulated per-connection context built up by
// authentication/connect hooks.
func (c *Connection) Context() map[string]any { return c.context }

// SetBeforeHandleMessage wires the beforeHandleMessage hook invocation.
func (c *Connection) SetBeforeHandleMessage(fn BeforeHandleMessage) { c.beforeHandle = fn }

// SetOnStateless wires the onStateless hook invocation.
func (c *Connection) SetOnStateless(fn StatelessHandler) { c.onStateless = fn }

// SetDebugSink wires the Kernel's debug sink so outbound frames get
// recorded alongside the inbound entries the read loop already records.
func (c *Connection) SetDebugSink(sink *debugsink.Sink) { c.debug = sink }

// OnClose registers a callback invoked exactly once on close (spec §4.4).
func (c *Connection) OnClose(cb CloseCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCallbacks = append(c.closeCallbacks, cb)
}

// ArmIdleTimer starts (or restarts) this attached connection's idle-close
// deadline; when it elapses the connection closes with Unauthorized. The
// Kernel arms it on attach and re-arms it on every inbound message.
// CancelIdleTimer stops it.
func (c *Connection) ArmIdleTimer(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(d, func() {
		c.Close(codec.Unauthorized)
	})
}

// CancelIdleTimer stops the idle-close deadline.
func (c *Connection) CancelIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// HandleMessage parses and dispatches one inbound frame (spec §4.4
// "handleMessage"). beforeHandleMessage runs first; its rejection aborts
// dispatch for this message only (the transport itself stays open).
func (c *Connection) HandleMessage(ctx context.Context, raw []byte) error {
	frame, err := codec.Decode(raw)
	if err != nil {
		c.Close(codec.Unauthorized)
		return err
	}
	if frame.DocumentName != c.doc.Name {
		// spec §3 invariant: a Connection never receives messages routed to
		// a different documentName. Drop silently rather than misroute.
		return nil
	}

	if c.beforeHandle != nil {
		if err := c.beforeHandle(c, frame); err != nil {
			c.logger.Error("beforeHandleMessage rejected message", "type", frame.Type, "err", err)
			return nil
		}
	}

	switch frame.Type {
	case codec.MessageSync, codec.MessageSyncReply:
		return c.handleSync(frame.Body)
	case codec.MessageAwareness:
		c.doc.BroadcastAwareness(c, frame.Body)
		return nil
	case codec.MessageQueryAwareness:
		c.sendCurrentAwareness()
		return nil
	case codec.MessageStateless, codec.MessageBroadcastStateless:
		if c.onStateless != nil {
			c.onStateless(c, frame.Body)
		}
		if err := c.doc.BroadcastStateless(c, frame.Body); err != nil {
			c.logger.Error("beforeBroadcastStateless rejected payload", "err", err)
		}
		return nil
	default:
		// Unknown types are tolerated (spec §4.5): handed nowhere further
		// because the CRDT library owns their interpretation, which this
		// adapter does not attempt to second-guess.
		return nil
	}
}

func (c *Connection) handleSync(body []byte) error {
	if c.readOnly {
		// spec §4.4: "Read-only connections reject Sync updates (silently
		// drop or respond per protocol)".
		return nil
	}
	if err := c.doc.ReceiveSync(c, c.sync, body); err != nil {
		return fmt.Errorf("connection: sync: %w", err)
	}
	c.flushSyncReplies()
	return nil
}

func (c *Connection) flushSyncReplies() {
	for {
		msg, ok := c.sync.Generate()
		if msg == nil {
			return
		}
		c.SendSync(msg)
		if !ok {
			return
		}
	}
}

// sendCurrentAwareness answers a QueryAwareness with one awareness frame per
// tracked client; with no tracked clients it still sends one empty awareness
// frame, so every query gets a reply.
func (c *Connection) sendCurrentAwareness() {
	states := c.doc.Awareness().All()
	if len(states) == 0 {
		c.SendAwareness(nil)
		return
	}
	for _, st := range states {
		c.SendAwareness(st.Payload)
	}
}

// SendSync implements document.Peer: sends an outgoing sync message.
func (c *Connection) SendSync(update []byte) {
	c.Send(codec.Encode(c.doc.Name, codec.MessageSync, update))
}

// SendAwareness implements document.Peer.
func (c *Connection) SendAwareness(payload []byte) {
	c.Send(codec.Encode(c.doc.Name, codec.MessageAwareness, payload))
}

// SendStateless implements document.Peer.
func (c *Connection) SendStateless(payload []byte) {
	c.Send(codec.Encode(c.doc.Name, codec.MessageStateless, payload))
}

// Send writes raw bytes best-effort: if the transport is already
// closing/closed, the write is dropped silently; a write failure closes the
// connection (spec §4.4 "send").
func (c *Connection) Send(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.writeMu.Lock()
	err := c.tr.WriteMessage(data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Error("write failed, closing connection", "err", err)
		c.Close(codec.ResetConnection)
		return
	}
	c.debug.Record(debugsink.Entry{
		At: time.Now(), Direction: debugsink.Outbound, SocketID: c.id,
		DocumentName: c.doc.Name, Size: len(data),
	})
}

// Close tears the connection down with the given close code/reason (spec
// §4.4 "close"): sends a protocol close frame, tears down the transport,
// then invokes close callbacks exactly once. Idempotent.
func (c *Connection) Close(reason codec.CloseCode) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosing
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	callbacks := append([]CloseCallback(nil), c.closeCallbacks...)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.tr.WriteClose(reason.Code, reason.Reason)
	_ = c.tr.Close()
	c.writeMu.Unlock()

	for _, cb := range callbacks {
		cb(c.doc, reason)
	}
}

// Document returns the owning Document.
func (c *Connection) Document() *document.Document { return c.doc }
