// Package codec implements the message framing described in spec §4.5:
// {documentName: varstring, type: varuint, ...payload}. The payload bytes
// themselves are opaque to the Kernel except for these two leading fields;
// everything else is handed to the CRDT library to interpret.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// MessageType is the on-wire varuint message type (spec §6).
type MessageType uint64

const (
	MessageSync             MessageType = 0
	MessageAwareness        MessageType = 1
	MessageAuth             MessageType = 2
	MessageQueryAwareness   MessageType = 3
	MessageStateless        MessageType = 5
	MessageBroadcastStateless MessageType = 6
	MessageSyncStatus       MessageType = 7
	MessageSyncReply        MessageType = 8

	// Server-initiated, out-of-band of the CRDT sub-protocols.
	MessageAuthenticated   MessageType = 100
	MessagePermissionDenied MessageType = 101
)

// ErrMalformedFrame is returned when a frame cannot be decoded; the Kernel
// treats this as a Protocol error and closes with Unauthorized (spec §7).
var ErrMalformedFrame = errors.New("codec: malformed frame")

// Frame is a fully decoded message: the document it addresses, its type,
// and the remaining unparsed payload bytes.
type Frame struct {
	DocumentName string
	Type         MessageType
	Body         []byte
}

// Decode parses {documentName: varstring, type: varuint, ...body} from raw.
// Unknown types are tolerated: Body is returned unparsed for the CRDT
// library (or sub-protocol) to interpret.
func Decode(raw []byte) (*Frame, error) {
	r := bytes.NewReader(raw)

	name, err := readVarString(r)
	if err != nil {
		return nil, ErrMalformedFrame
	}
	typ, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, ErrMalformedFrame
	}
	body := make([]byte, r.Len())
	if _, err := io.ReadFull(r, body); err != nil && !errors.Is(err, io.EOF) {
		return nil, ErrMalformedFrame
	}
	return &Frame{DocumentName: name, Type: MessageType(typ), Body: body}, nil
}

// Encode writes {documentName, type, body} into a single frame.
func Encode(documentName string, typ MessageType, body []byte) []byte {
	var buf bytes.Buffer
	writeVarString(&buf, documentName)
	var tb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tb[:], uint64(typ))
	buf.Write(tb[:n])
	buf.Write(body)
	return buf.Bytes()
}

// EncodeAuthenticated builds the outgoing Authenticated acknowledgement
// (spec §4.6.2 "send Authenticated outgoing message").
func EncodeAuthenticated(documentName string) []byte {
	return Encode(documentName, MessageAuthenticated, nil)
}

// EncodePermissionDenied builds the outgoing PermissionDenied message with
// the hook-supplied (or default) reason string (spec §4.6.2).
func EncodePermissionDenied(documentName, reason string) []byte {
	if reason == "" {
		reason = "permission-denied"
	}
	var buf bytes.Buffer
	writeVarString(&buf, reason)
	return Encode(documentName, MessagePermissionDenied, buf.Bytes())
}

// DecodePermissionDenied extracts the reason string from a PermissionDenied
// frame's body, for tests and clients driving the handshake protocol.
func DecodePermissionDenied(body []byte) (string, error) {
	r := bytes.NewReader(body)
	return readVarString(r)
}

func readVarString(r *bytes.Reader) (string, error) {
	l, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeVarString(buf *bytes.Buffer, s string) {
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(len(s)))
	buf.Write(lb[:n])
	buf.WriteString(s)
}
