// Package models holds small shared value types used by extensions to
// populate the per-connection context and awareness payloads. The CRDT's
// awareness payload is opaque bytes the Document just forwards, so presence
// color is cosmetic context an extension attaches, not a new protocol
// message.
package models

// UserInfo describes the human behind a connection, as populated by an
// onConnect/onAuthenticate extension into the handshake context.
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"` // hex color for cursor/highlight display
}

// Context renders UserInfo as the map[string]any shape
// hooks.MergeContext merges into a Payload's HookContext.
func (u UserInfo) Context() map[string]any {
	return map[string]any{
		"user_id": u.ID,
		"name":    u.Name,
		"color":   u.Color,
	}
}

// CursorPosition is an example awareness payload shape an editor client
// might send; the Document treats awareness payloads as opaque bytes, so
// this type exists only for extensions/tests that want a typed view.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}
