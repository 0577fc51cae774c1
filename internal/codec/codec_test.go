package codec

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name         string
		documentName string
		typ          MessageType
		body         []byte
	}{
		{"sync with body", "doc-1", MessageSync, []byte{1, 2, 3}},
		{"empty document name", "", MessageAwareness, []byte("update")},
		{"nil body", "doc-2", MessageQueryAwareness, nil},
		{"large type value", "doc-3", MessageType(1 << 20), []byte("x")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := Encode(c.documentName, c.typ, c.body)
			frame, err := Decode(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if frame.DocumentName != c.documentName {
				t.Fatalf("documentName = %q, want %q", frame.DocumentName, c.documentName)
			}
			if frame.Type != c.typ {
				t.Fatalf("type = %d, want %d", frame.Type, c.typ)
			}
			if !bytes.Equal(frame.Body, c.body) && len(frame.Body)+len(c.body) != 0 {
				t.Fatalf("body = %v, want %v", frame.Body, c.body)
			}
		})
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	cases := map[string][]byte{
		"empty":                {},
		"truncated varstring":  {0x05, 'a', 'b'},
		"truncated type field": append([]byte{0x00}, 0xff),
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(raw); err != ErrMalformedFrame {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
		})
	}
}

func TestEncodeAuthenticated(t *testing.T) {
	raw := EncodeAuthenticated("doc-1")
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != MessageAuthenticated {
		t.Fatalf("type = %d, want %d", frame.Type, MessageAuthenticated)
	}
	if frame.DocumentName != "doc-1" {
		t.Fatalf("documentName = %q, want doc-1", frame.DocumentName)
	}
}

func TestEncodeDecodePermissionDenied(t *testing.T) {
	raw := EncodePermissionDenied("doc-1", "bad-token")
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != MessagePermissionDenied {
		t.Fatalf("type = %d, want %d", frame.Type, MessagePermissionDenied)
	}
	reason, err := DecodePermissionDenied(frame.Body)
	if err != nil {
		t.Fatalf("decode permission denied: %v", err)
	}
	if reason != "bad-token" {
		t.Fatalf("reason = %q, want bad-token", reason)
	}
}

func TestEncodePermissionDeniedDefaultsReason(t *testing.T) {
	raw := EncodePermissionDenied("doc-1", "")
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reason, err := DecodePermissionDenied(frame.Body)
	if err != nil {
		t.Fatalf("decode permission denied: %v", err)
	}
	if reason != "permission-denied" {
		t.Fatalf("reason = %q, want permission-denied", reason)
	}
}
