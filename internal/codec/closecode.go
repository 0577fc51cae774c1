package codec

// CloseCode is a protocol-level close reason (spec §6 "Close codes").
type CloseCode struct {
	Code   uint16
	Reason string
}

var (
	Unauthorized    = CloseCode{Code: 4001, Reason: "unauthorized"}
	Forbidden       = CloseCode{Code: 4003, Reason: "forbidden"}
	ResetConnection = CloseCode{Code: 4009, Reason: "reset-connection"}
)

// ValidCloseCode reports whether code is one of the three canonical codes.
// Hooks may only supply one of these; an invalid code falls back to
// Forbidden (spec §6, §7).
func ValidCloseCode(code uint16) bool {
	return code == Unauthorized.Code || code == Forbidden.Code || code == ResetConnection.Code
}

// ResolveCloseCode returns the CloseCode for a hook-supplied numeric code,
// falling back to Forbidden if code is zero or not one of the canonical
// values.
func ResolveCloseCode(code uint16, reason string) CloseCode {
	if !ValidCloseCode(code) {
		return Forbidden
	}
	cc := CloseCode{Code: code, Reason: reason}
	if cc.Reason == "" {
		switch code {
		case Unauthorized.Code:
			cc.Reason = Unauthorized.Reason
		case ResetConnection.Code:
			cc.Reason = ResetConnection.Reason
		default:
			cc.Reason = Forbidden.Reason
		}
	}
	return cc
}
