package main

import (
	"bytes"
	"context"
	"errors"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/client"
	"github.com/rfcommd/btserial/pkg/facade"
)

// codeProxyUnavailable reports a failure to reach the proxy itself.
const codeProxyUnavailable = "PROXY_UNAVAILABLE"

// remoteSession runs operations on a proxy over a WebSocket stream.
type remoteSession struct {
	stream *client.Stream
}

func (r *remoteSession) Handle(ctx context.Context, call facade.Call, sink facade.EventSink) facade.Response {
	var onEvent func(facade.Event)
	if sink != nil {
		onEvent = func(e facade.Event) {
			if err := sink.Emit(ctx, e); err != nil {
				log.Warning("Failed to handle %s event: %s", e.Name, err)
			}
		}
	}
	result, eof, err := r.stream.Call(ctx, call.Method, call.Params, onEvent)
	if err != nil {
		var proxyErr *client.Error
		if errors.As(err, &proxyErr) {
			return facade.Response{Error: &facade.Error{Code: proxyErr.Code, Message: proxyErr.Message}}
		}
		return facade.Response{Error: &facade.Error{Code: codeProxyUnavailable, Message: err.Error()}}
	}
	rsp := facade.Response{EOF: eof}
	if len(result) > 0 && !bytes.Equal(result, []byte("null")) {
		rsp.Result = result
	}
	return rsp
}

// watch logs connection state changes broadcast by the proxy until the stream ends.
func (r *remoteSession) watch() {
	for e := range r.stream.Events() {
		if e.Name != facade.EventStateChanged {
			continue
		}
		log.Info("Connection state: %s", e.Payload)
	}
}
