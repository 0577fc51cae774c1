package kernel

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/yproto/server/internal/codec"
	"github.com/yproto/server/internal/connection"
	"github.com/yproto/server/internal/debugsink"
	"github.com/yproto/server/internal/hooks"
	"github.com/yproto/server/internal/transport"
)

// Router builds the Kernel's single multiplexed HTTP route (spec §6):
// WebSocket upgrade requests enter the handshake state machine, everything
// else falls through to the onRequest hook.
func (k *Kernel) Router() *mux.Router {
	r := mux.NewRouter()
	r.PathPrefix("/").HandlerFunc(k.serveHTTP)
	return r
}

func (k *Kernel) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if isUpgradeRequest(r) {
		k.handleUpgrade(w, r)
		return
	}
	k.handleRequest(w, r)
}

func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// handleRequest runs onRequest for a non-upgrade HTTP request, falling
// back to 200 OK / "OK" if no handler wrote a response (spec §6).
func (k *Kernel) handleRequest(w http.ResponseWriter, r *http.Request) {
	tw := &trackingWriter{ResponseWriter: w}
	payload := &hooks.Payload{
		Context: r.Context(), Instance: k, Request: r, RequestHeaders: r.Header,
		RequestParameters: r.URL.Query(), ResponseWriter: tw,
	}

	if err := k.pipeline.Run(r.Context(), hooks.OnRequest, payload, nil); err != nil {
		k.logger.Error("onRequest hook failed", "err", err)
		if !tw.wrote {
			http.Error(tw, "internal error", http.StatusInternalServerError)
		}
		return
	}
	if !tw.wrote {
		_, _ = tw.Write([]byte("OK"))
	}
}

// handleUpgrade runs onUpgrade, performs the WebSocket upgrade, and starts
// the transport's read loop in its own goroutine (spec §6, §4.6.2).
func (k *Kernel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	socketID := uuid.New().String()

	upgradePayload := &hooks.Payload{
		Context: r.Context(), Instance: k, Request: r, RequestHeaders: r.Header,
		RequestParameters: r.URL.Query(), SocketID: socketID,
	}
	if err := k.pipeline.Run(r.Context(), hooks.OnUpgrade, upgradePayload, nil); err != nil {
		reason := "rejected"
		if he, ok := asHandlerError(err); ok && he.Message != "" {
			reason = he.Message
		}
		http.Error(w, reason, http.StatusForbidden)
		return
	}

	tr, err := transport.Upgrade(w, r)
	if err != nil {
		k.logger.Error("websocket upgrade failed", "socketId", socketID, "err", err)
		return
	}

	ts := newTransportSession(socketID)
	ts.mu.Lock()
	ts.idleTimer = time.AfterFunc(k.cfg.Timeout, func() {
		ts.closeTransport(tr, codec.Unauthorized)
	})
	ts.mu.Unlock()

	k.mu.Lock()
	k.transports[socketID] = ts
	k.mu.Unlock()

	go k.readLoop(ts, tr, socketID, r)
}

// readLoop owns one transport for its lifetime, decoupled from the
// upgrade request's own context (a WebSocket connection routinely outlives
// the HTTP exchange that established it).
func (k *Kernel) readLoop(ts *transportSession, tr transport.Transport, socketID string, r *http.Request) {
	ctx := context.Background()
	for {
		raw, err := tr.ReadMessage()
		if err != nil {
			break
		}
		k.debug.Record(debugsink.Entry{
			At: time.Now(), Direction: debugsink.Inbound, SocketID: socketID, Size: len(raw),
		})
		k.onMessage(ctx, ts, tr, socketID, r, raw)
	}

	k.mu.Lock()
	delete(k.transports, socketID)
	k.mu.Unlock()

	ts.mu.Lock()
	conns := make([]*connection.Connection, 0, len(ts.attached))
	for _, c := range ts.attached {
		conns = append(conns, c)
	}
	ts.mu.Unlock()
	for _, c := range conns {
		c.Close(codec.ResetConnection)
	}
	ts.cancelIdleTimer()
}

// trackingWriter records whether a handler wrote anything, so handleRequest
// knows whether to fall back to the default 200 OK response.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
