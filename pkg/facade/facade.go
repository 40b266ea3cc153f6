// Package facade routes named operations to the session core and translates results into the
// request/response contract used by host transports.
//
// Operations:
//
//	ensurePermissions                 -> bool
//	getPairedDevices                  -> [{name, address}]
//	scanDevices {timeout?}            -> [{name, address}], with onDeviceFound events
//	connect {address}                 -> true
//	disconnect                        -> true
//	write {message}                   -> true
//	read {capacity?}                  -> string or null (eof flag set at end of stream)
//	getState                          -> {state, address}
//
// Failures are reported as an [Error] carrying one of the Code constants.
package facade

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rfcommd/btserial/internal/executor"
	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/directory"
	"github.com/rfcommd/btserial/pkg/permission"
	"github.com/rfcommd/btserial/pkg/protocol"
	"github.com/rfcommd/btserial/pkg/transfer"
)

// Call is a request to run one operation.
type Call struct {
	Method string            `json:"method"`
	Params RequestParameters `json:"params,omitempty"`
}

// Response is the outcome of a Call. Exactly one of Result and Error is meaningful; Result may be
// null on success (read without data).
type Response struct {
	Result interface{} `json:"result"`
	EOF    bool        `json:"eof,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}

func success(result interface{}) Response {
	return Response{Result: result}
}

func failure(err *Error) Response {
	return Response{Error: err}
}

// EventDeviceFound is the name of the incremental discovery event.
const EventDeviceFound = "onDeviceFound"

// EventStateChanged is emitted by transports that forward connection state changes.
const EventStateChanged = "onStateChanged"

// Event is delivered to the caller while an operation runs.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// EventSink receives incremental events from the host transport's point of view.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Options configures [Build]. Zero values select package defaults.
type Options struct {
	PoolSize       int
	Service        uuid.UUID
	ConnectTimeout time.Duration
	ScanTimeout    time.Duration
	PollInterval   time.Duration
	BufferSize     int
	OnStateChange  func(connection.Status)
}

// Facade exposes the session core as named operations.
type Facade struct {
	adapter     connector.Adapter
	gate        *permission.Gate
	pool        *executor.Pool
	directory   *directory.Directory
	manager     *connection.Manager
	engine      *transfer.Engine
	scanTimeout time.Duration
}

// Build wires a session core around adapter. A nil authorizer models a host without an
// authorization subsystem: permission-gated operations then fail with NO_ACTIVITY.
func Build(adapter connector.Adapter, authorizer permission.Authorizer, options Options) *Facade {
	pool := executor.New(options.PoolSize)
	var gate *permission.Gate
	if authorizer != nil {
		gate = permission.NewGate(authorizer, permission.Required...)
	}
	dir := directory.New(adapter, gate, pool)
	manager := connection.NewManager(adapter, pool, connection.Options{
		Service:        options.Service,
		ConnectTimeout: options.ConnectTimeout,
		Scans:          dir,
		OnChange:       options.OnStateChange,
	})
	return &Facade{
		adapter:     adapter,
		gate:        gate,
		pool:        pool,
		directory:   dir,
		manager:     manager,
		engine:      transfer.NewEngine(manager, pool, options.PollInterval, options.BufferSize),
		scanTimeout: options.ScanTimeout,
	}
}

// Manager returns the connection manager.
func (f *Facade) Manager() *connection.Manager {
	return f.manager
}

// Close ends any scan, disconnects, stops the worker pool and releases the adapter.
func (f *Facade) Close() error {
	f.directory.CancelScan()
	if s := f.directory.Active(); s != nil {
		select {
		case <-s.Done():
		case <-time.After(5 * time.Second):
			log.Warning("Discovery session did not end")
		}
	}
	f.manager.Disconnect()
	f.pool.Close()
	if f.adapter != nil {
		return f.adapter.Close()
	}
	return nil
}

// Dispatch runs call in the background and passes the response to reply.
func (f *Facade) Dispatch(ctx context.Context, call Call, sink EventSink, reply func(Response)) {
	go func() {
		reply(f.Handle(ctx, call, sink))
	}()
}

// Handle runs call and waits for its response. The operation itself runs on the worker pool; ctx
// bounds only the wait. A nil sink is allowed for every operation except scanDevices.
func (f *Facade) Handle(ctx context.Context, call Call, sink EventSink) Response {
	log.Debug("Dispatching %s", call.Method)
	switch call.Method {
	case "ensurePermissions":
		return f.ensurePermissions(ctx)
	case "getPairedDevices":
		return f.getPairedDevices(ctx)
	case "scanDevices":
		return f.scanDevices(ctx, call.Params, sink)
	case "connect":
		return f.connect(ctx, call.Params)
	case "disconnect":
		f.manager.Disconnect()
		return success(true)
	case "write":
		return f.write(ctx, call.Params)
	case "read":
		return f.read(ctx, call.Params)
	case "getState":
		return success(f.manager.State())
	}
	return failure(newError(CodeNotImplemented, call.Method))
}

func (f *Facade) ensurePermissions(ctx context.Context) Response {
	if f.gate == nil {
		return failure(newError(CodeNoActivity, protocol.ErrHostUnavailable.Error()))
	}
	if f.adapter == nil {
		return failure(newError(CodeNoAdapter, protocol.ErrAdapterUnavailable.Error()))
	}
	decision, err := f.gate.CheckAndRequest(ctx)
	if err != nil {
		return failure(errorFor(CodeNoActivity, err))
	}
	return success(decision.Granted)
}

func (f *Facade) getPairedDevices(ctx context.Context) Response {
	devices, err := f.directory.ListPaired(ctx)
	if err != nil {
		return failure(errorFor(CodeNoAdapter, err))
	}
	return success(devices)
}

func (f *Facade) scanDevices(ctx context.Context, params RequestParameters, sink EventSink) Response {
	if sink == nil {
		return failure(newError(CodeNoContext, protocol.ErrNoEventSink.Error()))
	}
	if f.gate == nil {
		return failure(newError(CodeNoActivity, protocol.ErrHostUnavailable.Error()))
	}
	if f.adapter == nil {
		return failure(newError(CodeNoAdapter, protocol.ErrAdapterUnavailable.Error()))
	}
	timeout, err := params.getSeconds("timeout", false)
	if err != nil {
		return failure(errorFor(CodeDiscoveryFailed, err))
	}
	if timeout <= 0 {
		timeout = f.scanTimeout
	}

	session, err := f.directory.Scan(ctx, timeout)
	if err != nil {
		return failure(errorFor(CodeDiscoveryFailed, err))
	}
	stop := context.AfterFunc(ctx, session.Cancel)
	defer stop()

	delivering := true
	for device := range session.Events() {
		if !delivering {
			continue
		}
		if err := sink.Emit(ctx, Event{Name: EventDeviceFound, Payload: device}); err != nil {
			log.Warning("Could not deliver %s event, ending scan: %s", EventDeviceFound, err)
			delivering = false
			session.Cancel()
		}
	}
	devices, err := session.Result(context.Background())
	if err != nil {
		return failure(errorFor(CodeDiscoveryFailed, err))
	}
	return success(devices)
}

func (f *Facade) connect(ctx context.Context, params RequestParameters) Response {
	address, err := params.getString("address", true)
	if err != nil {
		return failure(errorFor(CodeInvalidAddress, err))
	}
	if _, err := f.manager.Connect(address).Wait(ctx); err != nil {
		return failure(errorFor(CodeConnectionFailed, err))
	}
	return success(true)
}

func (f *Facade) write(ctx context.Context, params RequestParameters) Response {
	message, err := params.getString("message", false)
	if err != nil {
		return failure(errorFor(CodeWriteError, err))
	}
	if _, err := f.engine.Write([]byte(message)).Wait(ctx); err != nil {
		return failure(errorFor(CodeWriteError, err))
	}
	return success(true)
}

func (f *Facade) read(ctx context.Context, params RequestParameters) Response {
	capacity, err := params.getCount("capacity", connector.MaxReadBufferSize, false)
	if err != nil {
		return failure(errorFor(CodeReadError, err))
	}
	data, err := f.engine.Read(capacity).Wait(ctx)
	switch {
	case protocol.KindOf(err) == protocol.KindEndOfStream:
		return Response{Result: nil, EOF: true}
	case err != nil:
		return failure(errorFor(CodeReadError, err))
	case len(data) == 0:
		return success(nil)
	}
	return success(string(data))
}
