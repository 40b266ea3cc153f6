package facade

import (
	"fmt"

	"github.com/rfcommd/btserial/pkg/protocol"
)

// Error codes reported to host transports.
const (
	CodeNoActivity       = "NO_ACTIVITY"
	CodeNoAdapter        = "NO_ADAPTER"
	CodeNoContext        = "NO_CONTEXT"
	CodeNoPermission     = "NO_PERMISSION"
	CodeDiscoveryFailed  = "DISCOVERY_FAILED"
	CodeInvalidAddress   = "INVALID_ADDRESS"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeWriteError       = "WRITE_ERROR"
	CodeReadError        = "READ_ERROR"
	CodeNotImplemented   = "NOT_IMPLEMENTED"
)

// Error is a failed operation as seen by the host.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s(%s)", e.Code, e.Message)
}

// errorFor maps err to a host error. Failures whose kind has a dedicated code use it; everything
// else is reported under fallback, which is the code the operation uses for its own failures.
func errorFor(fallback string, err error) *Error {
	code := fallback
	switch protocol.KindOf(err) {
	case protocol.KindHostUnavailable:
		code = CodeNoActivity
	case protocol.KindAdapterUnavailable:
		if fallback != CodeConnectionFailed {
			code = CodeNoAdapter
		}
	case protocol.KindPermissionDenied:
		code = CodeNoPermission
	case protocol.KindInvalidAddress:
		code = CodeInvalidAddress
	case protocol.KindNoEventSink:
		code = CodeNoContext
	}
	return newError(code, protocol.Reason(err))
}
