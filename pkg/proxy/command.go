package proxy

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/rfcommd/btserial/pkg/facade"
)

var (
	// ErrCommandNotImplemented indicates the proxy does not route the requested operation.
	ErrCommandNotImplemented = errors.New("command not implemented")

	// ErrMethodNotAllowed indicates the operation exists but not for the request's HTTP method.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

type operation struct {
	methods []string
	// streams is set for operations that emit events while they run.
	streams bool
}

var (
	readOnly = []string{http.MethodGet, http.MethodPost}
	mutating = []string{http.MethodPost}
)

var operations = map[string]operation{
	"ensurePermissions": {methods: mutating},
	"getPairedDevices":  {methods: readOnly},
	"scanDevices":       {methods: mutating, streams: true},
	"connect":           {methods: mutating},
	"disconnect":        {methods: mutating},
	"write":             {methods: mutating},
	"read":              {methods: mutating},
	"getState":          {methods: readOnly},
}

// lookupOperation returns the operation called name if it may be invoked with httpMethod. An
// empty httpMethod skips the method check (WebSocket requests).
func lookupOperation(name, httpMethod string) (operation, error) {
	op, ok := operations[name]
	if !ok {
		return operation{}, ErrCommandNotImplemented
	}
	if httpMethod != "" && !slices.Contains(op.methods, httpMethod) {
		return operation{}, ErrMethodNotAllowed
	}
	return op, nil
}

// statusFor maps a facade error code to the HTTP status of a REST reply.
func statusFor(err *facade.Error) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Code {
	case facade.CodeNoActivity, facade.CodeNoAdapter:
		return http.StatusServiceUnavailable
	case facade.CodeNoPermission:
		return http.StatusForbidden
	case facade.CodeInvalidAddress, facade.CodeNoContext:
		return http.StatusBadRequest
	case facade.CodeDiscoveryFailed:
		return http.StatusConflict
	case facade.CodeNotImplemented:
		return http.StatusNotFound
	}
	// CONNECTION_FAILED, WRITE_ERROR, READ_ERROR: the device side failed.
	return http.StatusBadGateway
}

// eventRecorder collects events for REST replies, which cannot stream.
type eventRecorder struct {
	events []facade.Event
}

func (r *eventRecorder) sink() facade.EventSink {
	return facade.SinkFunc(func(_ context.Context, e facade.Event) error {
		r.events = append(r.events, e)
		return nil
	})
}
