package kernel

import (
	"sync"
	"time"

	"github.com/yproto/server/internal/codec"
	"github.com/yproto/server/internal/connection"
	"github.com/yproto/server/internal/hooks"
	"github.com/yproto/server/internal/transport"
)

// transportSession is the per-transport handshake record described in spec
// §4.6.2 and the "Per-transport handshake state" design note: one
// transport may eventually attach to more than one document, so each
// documentName gets its own queued/establishing/attached sub-state, while
// the idle timer and context are shared for the transport as a whole.
type transportSession struct {
	socketID string

	mu sync.Mutex

	queued       map[string][][]byte
	establishing map[string]bool
	attached     map[string]*connection.Connection
	connConfigs  map[string]*hooks.ConnectionConfiguration

	// onConnectRan tracks, per documentName, whether onConnect has already
	// run for this transport — distinct from queued's existence because a
	// documentName can be re-queued-into without re-running onConnect.
	onConnectRan map[string]bool

	context map[string]any

	idleTimer *time.Timer
}

func newTransportSession(socketID string) *transportSession {
	return &transportSession{
		socketID:     socketID,
		queued:       make(map[string][][]byte),
		establishing: make(map[string]bool),
		attached:     make(map[string]*connection.Connection),
		connConfigs:  make(map[string]*hooks.ConnectionConfiguration),
		onConnectRan: make(map[string]bool),
		context:      make(map[string]any),
	}
}

func (ts *transportSession) cancelIdleTimer() {
	ts.mu.Lock()
	t := ts.idleTimer
	ts.idleTimer = nil
	ts.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (ts *transportSession) mergeContext(update map[string]any) {
	if len(update) == 0 {
		return
	}
	ts.mu.Lock()
	for k, v := range update {
		ts.context[k] = v
	}
	ts.mu.Unlock()
}

func (ts *transportSession) snapshotContext() map[string]any {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make(map[string]any, len(ts.context))
	for k, v := range ts.context {
		out[k] = v
	}
	return out
}

func (ts *transportSession) setConnConfig(documentName string, cfg *hooks.ConnectionConfiguration) {
	ts.mu.Lock()
	ts.connConfigs[documentName] = cfg
	ts.mu.Unlock()
}

func (ts *transportSession) connConfig(documentName string) *hooks.ConnectionConfiguration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.connConfigs[documentName]
}

// closeTransport sends a protocol close frame and tears the raw transport
// down. Used before any Connection exists for this transport (handshake
// failures); once attached, closing goes through Connection.Close instead
// so its callbacks run.
func (ts *transportSession) closeTransport(tr transport.Transport, reason codec.CloseCode) {
	_ = tr.WriteClose(reason.Code, reason.Reason)
	_ = tr.Close()
}

// closeCodeFromHookErr resolves a hook rejection's preferred close code,
// falling back to Forbidden per spec §4.6.2/§7.
func closeCodeFromHookErr(err error) codec.CloseCode {
	code := uint16(0)
	reason := ""
	if he, ok := asHandlerError(err); ok {
		code = he.Code
		reason = he.Reason
	}
	return codec.ResolveCloseCode(code, reason)
}
