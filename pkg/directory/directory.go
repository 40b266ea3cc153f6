// Package directory lists paired devices and runs discovery sessions.
//
// A discovery session is a finite stream of devices, deduplicated by address, followed by a
// terminal snapshot of everything the session observed:
//
//	session, err := dir.Scan(ctx, 10*time.Second)
//	if err != nil {
//		return err
//	}
//	for device := range session.Events() {
//		fmt.Println("found", device)
//	}
//	devices, err := session.Result(ctx)
//
// At most one session runs at a time.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/rfcommd/btserial/internal/executor"
	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/permission"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// DefaultScanTimeout bounds a session when the adapter never reports the end of its inquiry. A
// classic inquiry normally lasts about 12 seconds.
const DefaultScanTimeout = 15 * time.Second

// eventBuffer is how many undelivered devices a session holds before discovery processing waits
// for the consumer.
const eventBuffer = 32

// teardownTimeout bounds the adapter calls made while closing a session.
const teardownTimeout = 5 * time.Second

// Directory is the entry point for device enumeration.
type Directory struct {
	adapter connector.Adapter
	gate    *permission.Gate
	pool    *executor.Pool

	lock    sync.Mutex
	session *Session
}

// New returns a Directory whose sessions run on pool. A nil adapter makes every operation fail
// with [protocol.ErrAdapterUnavailable]. A nil gate skips permission checks.
func New(adapter connector.Adapter, gate *permission.Gate, pool *executor.Pool) *Directory {
	if pool == nil {
		pool = executor.New(executor.DefaultSize)
	}
	return &Directory{adapter: adapter, gate: gate, pool: pool}
}

func asAdapterError(err error) error {
	if protocol.KindOf(err) != protocol.KindUnknown {
		return err
	}
	return protocol.Wrap(protocol.ErrAdapterUnavailable, err)
}

// ListPaired returns a snapshot of the adapter's bonded devices. The result is never nil.
func (d *Directory) ListPaired(ctx context.Context) ([]protocol.Device, error) {
	if d.adapter == nil {
		return nil, protocol.ErrAdapterUnavailable
	}
	bonded, err := d.adapter.BondedDevices(ctx)
	if err != nil {
		return nil, asAdapterError(err)
	}
	devices := make([]protocol.Device, 0, len(bonded))
	for _, b := range bonded {
		devices = append(devices, protocol.NewDevice(b.Name, b.Address))
	}
	return devices, nil
}

// Active returns the running session, or nil.
func (d *Directory) Active() *Session {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.session
}

// CancelScan ends the running session, if any, without waiting for it to close.
func (d *Directory) CancelScan() {
	if s := d.Active(); s != nil {
		s.Cancel()
	}
}

// Scan starts a discovery session bounded by timeout (DefaultScanTimeout if non-positive). ctx
// bounds only the start of discovery; use [Session.Cancel] to end the session early.
//
// Scan fails with [protocol.ErrPermissionDenied] if scanning is not authorized,
// [protocol.ErrAdapterUnavailable] without an adapter, [protocol.ErrScanAlreadyInProgress] while
// another session runs, and [protocol.ErrDiscoveryStartFailed] if the adapter refuses to start.
func (d *Directory) Scan(ctx context.Context, timeout time.Duration) (*Session, error) {
	if d.gate != nil {
		if err := d.gate.Require(ctx, permission.ScanRequired...); err != nil {
			return nil, err
		}
	}
	if d.adapter == nil {
		return nil, protocol.ErrAdapterUnavailable
	}
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	d.lock.Lock()
	if d.session != nil {
		d.lock.Unlock()
		return nil, protocol.ErrScanAlreadyInProgress
	}
	s := newSession(d, timeout)
	d.session = s
	d.lock.Unlock()

	if err := d.adapter.CancelDiscovery(ctx); err != nil {
		log.Warning("Could not cancel running discovery: %s", err)
	}
	discovery, err := d.adapter.StartDiscovery(ctx)
	if err != nil {
		s.close(nil, err)
		if protocol.KindOf(err) == protocol.KindAdapterUnavailable {
			return nil, err
		}
		return nil, protocol.Wrap(protocol.ErrDiscoveryStartFailed, err)
	}
	log.Info("Discovery started (timeout %s)", timeout)

	result := executor.Submit(d.pool, func(ctx context.Context) ([]protocol.Device, error) {
		return s.collect(ctx, discovery), nil
	})
	// If the pool rejects the task, collect never runs and the session must still be closed.
	result.Then(func(_ []protocol.Device, err error) {
		if err != nil {
			s.stopInquiry("rejected")
		}
		s.close(discovery, err)
	})
	return s, nil
}

func (d *Directory) release(s *Session) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.session == s {
		d.session = nil
	}
}
