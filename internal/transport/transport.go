// Package transport adapts the HTTP/WebSocket upgrade machinery (spec §1,
// "out of scope... a transport adapter providing a stream of framed binary
// messages and a close primitive") to the minimal interface the Kernel and
// Connection need.
package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the minimal bidirectional framed-message primitive the
// Kernel depends on. gorilla/websocket's *websocket.Conn satisfies this via
// WSTransport below; tests use an in-memory fake.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	WriteClose(code uint16, reason string) error
	Close() error
	SetReadDeadline(t time.Time) error
}

// upgrader mirrors the teacher's collaboration websocket upgrader
// (internal/services/collaboration/websocket_handler.go), generalized to a
// package-level configurable value instead of a fixed CheckOrigin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Upgrade promotes an HTTP request to a WebSocket connection and wraps it
// as a Transport. Callers run the onUpgrade hook before calling this (spec
// §6: "onUpgrade hook runs before the upgrade; rejecting... aborts it").
func Upgrade(w http.ResponseWriter, r *http.Request) (Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

// WSTransport adapts a *websocket.Conn to the Transport interface.
type WSTransport struct {
	conn *websocket.Conn
}

// NewWSTransport wraps an already-upgraded connection, used by tests and by
// callers that perform the upgrade themselves.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

func (t *WSTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *WSTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *WSTransport) WriteClose(code uint16, reason string) error {
	msg := websocket.FormatCloseMessage(int(code), reason)
	return t.conn.WriteMessage(websocket.CloseMessage, msg)
}

func (t *WSTransport) Close() error {
	return t.conn.Close()
}

func (t *WSTransport) SetReadDeadline(tm time.Time) error {
	return t.conn.SetReadDeadline(tm)
}
