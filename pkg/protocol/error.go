package protocol

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure. Every error returned by the btserial packages maps to
// exactly one Kind; use [KindOf] to recover it.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindAdapterUnavailable
	KindInvalidAddress
	KindConnectionFailed
	KindAlreadyConnected
	KindConnectInProgress
	KindNotConnected
	KindIOFailure
	KindScanAlreadyInProgress
	KindDiscoveryStartFailed
	KindEndOfStream
	KindHostUnavailable
	KindNoEventSink
)

var kindNames = map[Kind]string{
	KindUnknown:               "Unknown",
	KindPermissionDenied:      "PermissionDenied",
	KindAdapterUnavailable:    "AdapterUnavailable",
	KindInvalidAddress:        "InvalidAddress",
	KindConnectionFailed:      "ConnectionFailed",
	KindAlreadyConnected:      "AlreadyConnected",
	KindConnectInProgress:     "ConnectInProgress",
	KindNotConnected:          "NotConnected",
	KindIOFailure:             "IOFailure",
	KindScanAlreadyInProgress: "ScanAlreadyInProgress",
	KindDiscoveryStartFailed:  "DiscoveryStartFailed",
	KindEndOfStream:           "EndOfStream",
	KindHostUnavailable:       "HostUnavailable",
	KindNoEventSink:           "NoEventSink",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// Kind returns the failure category.
	Kind() Kind

	// Temporary returns true if the Error might be the result of a transient condition. For
	// example, a connect attempt rejected because another connect is still in flight may succeed
	// once the first one completes. The core never retries on its own; this is a hint for callers.
	Temporary() bool
}

var (
	// ErrPermissionDenied indicates the host has not granted the capabilities required for a radio
	// operation. A permission request has been issued; callers should retry after the host reports
	// a grant.
	ErrPermissionDenied = NewError(KindPermissionDenied, "required bluetooth permissions not granted", false)
	// ErrAdapterUnavailable indicates no Bluetooth adapter is present (or it could not be opened).
	ErrAdapterUnavailable = NewError(KindAdapterUnavailable, "bluetooth adapter unavailable", false)
	// ErrInvalidAddress indicates a malformed or missing device address.
	ErrInvalidAddress = NewError(KindInvalidAddress, "invalid bluetooth address", false)
	// ErrConnectionFailed indicates the RFCOMM handshake failed. The cause is wrapped.
	ErrConnectionFailed = NewError(KindConnectionFailed, "connection failed", false)
	// ErrAlreadyConnected indicates connect was called while a connection is active.
	ErrAlreadyConnected = NewError(KindAlreadyConnected, "already connected", false)
	// ErrConnectInProgress indicates connect was called while another state transition was in
	// flight.
	ErrConnectInProgress = NewError(KindConnectInProgress, "connection attempt already in progress", true)
	// ErrNotConnected indicates a transfer was requested without an active connection, or the
	// connection was released while the transfer was in flight.
	ErrNotConnected = NewError(KindNotConnected, "not connected", false)
	// ErrIOFailure indicates a transport error during read or write. The cause is wrapped.
	ErrIOFailure = NewError(KindIOFailure, "i/o failure", false)
	// ErrScanAlreadyInProgress indicates a discovery session is already running.
	ErrScanAlreadyInProgress = NewError(KindScanAlreadyInProgress, "scan already in progress", true)
	// ErrDiscoveryStartFailed indicates the adapter refused to start discovery.
	ErrDiscoveryStartFailed = NewError(KindDiscoveryStartFailed, "could not start discovery", false)
	// ErrEndOfStream indicates the peer closed its side of the connection.
	ErrEndOfStream = NewError(KindEndOfStream, "end of stream", false)
	// ErrHostUnavailable indicates the host authorization subsystem is not attached.
	ErrHostUnavailable = NewError(KindHostUnavailable, "host authorization subsystem unavailable", true)
	// ErrNoEventSink indicates a scan was requested without a channel for incremental events.
	ErrNoEventSink = NewError(KindNoEventSink, "no event sink for scan results", false)
)

type OperationError struct {
	Err               error
	ErrKind           Kind
	PossibleTemporary bool
}

func NewError(kind Kind, message string, temporary bool) error {
	return &OperationError{Err: errors.New(message), ErrKind: kind, PossibleTemporary: temporary}
}

func (e *OperationError) Error() string {
	return e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func (e *OperationError) Kind() Kind {
	return e.ErrKind
}

func (e *OperationError) Temporary() bool {
	return e.PossibleTemporary
}

// wrappedError attaches a cause to one of the sentinel errors above so that errors.Is matches both.
type wrappedError struct {
	sentinel Error
	cause    error
}

// Wrap returns an error that matches sentinel (with errors.Is) and reports sentinel's Kind, while
// preserving cause for inspection. If sentinel does not implement [Error], cause is returned
// wrapped with fmt.Errorf instead. A nil cause returns sentinel unchanged.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	var s Error
	if !errors.As(sentinel, &s) {
		return fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &wrappedError{sentinel: s, cause: cause}
}

func (w *wrappedError) Error() string {
	return w.sentinel.Error() + ": " + w.cause.Error()
}

func (w *wrappedError) Unwrap() []error {
	return []error{w.sentinel, w.cause}
}

func (w *wrappedError) Kind() Kind {
	return w.sentinel.Kind()
}

func (w *wrappedError) Temporary() bool {
	return w.sentinel.Temporary()
}

// Reason returns the message of the wrapped cause, or the error's own message if it has no cause.
// The facade uses it to report CONNECTION_FAILED(message) and similar.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var w *wrappedError
	if errors.As(err, &w) {
		return w.cause.Error()
	}
	return err.Error()
}

// KindOf returns the Kind of err, or KindUnknown if err does not implement [Error].
func KindOf(err error) Kind {
	var e Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindUnknown
}

// Temporary returns true if err indicates a possibly transient condition that does not require
// user action to resolve.
func Temporary(err error) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Temporary()
	}
	return false
}
