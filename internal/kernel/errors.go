package kernel

import "github.com/yproto/server/internal/hooks"

// asHandlerError unwraps a hook rejection into its typed form, if any. A
// hook may also reject with a plain error, which hooks.Pipeline.Run wraps
// with hook/extension context but does not carry a code/reason.
func asHandlerError(err error) (*hooks.HandlerError, bool) {
	he, ok := err.(*hooks.HandlerError)
	return he, ok
}
