// Package connection owns the lifecycle of the single serial connection:
//
//	Idle -> Connecting -> Connected -> Disconnecting -> Idle
//
// A failed handshake returns the manager to Idle. All transitions go through the Manager, which
// holds the only reference to the active socket and lends it out one call at a time. At most one
// socket is open at any time, including sockets produced by abandoned handshakes.
package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rfcommd/btserial/internal/executor"
	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// DefaultConnectTimeout bounds the RFCOMM handshake when no timeout is configured.
const DefaultConnectTimeout = 20 * time.Second

var errAbandoned = errors.New("disconnected before handshake completed")

// ScanCanceler ends a running discovery session. Connecting and disconnecting both cancel
// discovery, which otherwise degrades the radio link.
type ScanCanceler interface {
	CancelScan()
}

// Options tunes a Manager. The zero value is usable.
type Options struct {
	// Service is the RFCOMM service requested from the remote device. Defaults to the Serial Port
	// Profile.
	Service uuid.UUID
	// ConnectTimeout bounds the handshake. Defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// Scans, if set, is cancelled on connect and disconnect.
	Scans ScanCanceler
	// OnChange, if set, is called after every state transition. It runs on the goroutine that made
	// the transition and must not call back into the Manager.
	OnChange func(Status)
}

// Manager serializes connection state transitions. It is safe for concurrent use.
type Manager struct {
	adapter connector.Adapter
	pool    *executor.Pool
	options Options

	lock       sync.Mutex
	state      State
	target     string
	active     *ActiveConnection
	attempt    uint64
	draining   uint64
	generation uint64
}

// NewManager returns an Idle Manager. Handshakes run on pool.
func NewManager(adapter connector.Adapter, pool *executor.Pool, options Options) *Manager {
	if options.Service == uuid.Nil {
		options.Service = protocol.SerialPortServiceUUID
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = DefaultConnectTimeout
	}
	if pool == nil {
		pool = executor.New(executor.DefaultSize)
	}
	return &Manager{adapter: adapter, pool: pool, options: options}
}

// State returns a snapshot of the current state.
func (m *Manager) State() Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	return Status{State: m.state, Address: m.target}
}

// transition must be called with m.lock held. It returns the status to report once the lock is
// released.
func (m *Manager) transition(state State, target string) Status {
	m.state = state
	m.target = target
	return Status{State: state, Address: target}
}

func (m *Manager) notify(s Status) {
	log.Info("Connection %s", s)
	if m.options.OnChange != nil {
		m.options.OnChange(s)
	}
}

// Borrow returns the active connection, or [protocol.ErrNotConnected] unless the manager is
// Connected.
func (m *Manager) Borrow() (*ActiveConnection, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state != Connected || m.active == nil {
		return nil, protocol.ErrNotConnected
	}
	return m.active, nil
}

// IsCurrent reports whether c is still the active connection. Results of operations on a
// connection that is no longer current must be discarded.
func (m *Manager) IsCurrent(c *ActiveConnection) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return c != nil && m.active == c && m.generation == c.generation
}

// Connect starts a handshake with the device at address and returns immediately. The Future
// resolves with the Connected status, or with an error:
//
//   - [protocol.ErrInvalidAddress] if address is malformed
//   - [protocol.ErrAdapterUnavailable] without an adapter
//   - [protocol.ErrAlreadyConnected] if a connection is active
//   - [protocol.ErrConnectInProgress] while another connect or a disconnect is in flight
//   - [protocol.ErrConnectionFailed] if the handshake fails or is abandoned by Disconnect
func (m *Manager) Connect(address string) *executor.Future[Status] {
	address, err := protocol.ParseAddress(address)
	if err != nil {
		return executor.Resolved(Status{}, err)
	}
	if m.adapter == nil {
		return executor.Resolved(Status{}, protocol.ErrAdapterUnavailable)
	}

	m.lock.Lock()
	switch m.state {
	case Connected:
		m.lock.Unlock()
		return executor.Resolved(Status{}, protocol.ErrAlreadyConnected)
	case Connecting, Disconnecting:
		m.lock.Unlock()
		return executor.Resolved(Status{}, protocol.ErrConnectInProgress)
	}
	m.attempt++
	attempt := m.attempt
	status := m.transition(Connecting, address)
	m.lock.Unlock()
	m.notify(status)

	if m.options.Scans != nil {
		m.options.Scans.CancelScan()
	}
	f := executor.Submit(m.pool, func(ctx context.Context) (Status, error) {
		return m.handshake(ctx, attempt, address)
	})
	f.Then(func(_ Status, err error) {
		if errors.Is(err, executor.ErrClosed) {
			m.settle(attempt)
		}
	})
	return f
}

func (m *Manager) handshake(ctx context.Context, attempt uint64, address string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, m.options.ConnectTimeout)
	defer cancel()

	if err := m.adapter.CancelDiscovery(ctx); err != nil {
		log.Warning("Could not cancel discovery before connecting: %s", err)
	}
	log.Debug("Opening RFCOMM channel to %s for service %s", address, m.options.Service)
	socket, err := m.adapter.OpenRFCOMM(ctx, address, m.options.Service)

	m.lock.Lock()
	if m.attempt != attempt || m.state != Connecting {
		m.lock.Unlock()
		if socket != nil {
			log.Debug("Discarding late connection to %s", address)
			if err := socket.Close(); err != nil {
				log.Warning("Error closing abandoned socket to %s: %s", address, err)
			}
		}
		m.settle(attempt)
		return Status{}, protocol.Wrap(protocol.ErrConnectionFailed, errAbandoned)
	}
	if err != nil {
		status := m.transition(Idle, "")
		m.lock.Unlock()
		log.Warning("Connection to %s failed: %s", address, err)
		m.notify(status)
		return Status{}, protocol.Wrap(protocol.ErrConnectionFailed, err)
	}
	m.generation++
	m.active = newActiveConnection(socket, address, m.generation)
	status := m.transition(Connected, address)
	m.lock.Unlock()
	m.notify(status)
	return status, nil
}

// settle returns the manager to Idle if it is still waiting on attempt, either as the pending
// handshake or as a handshake being drained by Disconnect.
func (m *Manager) settle(attempt uint64) {
	m.lock.Lock()
	switch {
	case m.state == Connecting && m.attempt == attempt:
		m.attempt++
	case m.state == Disconnecting && m.draining == attempt:
		m.draining = 0
	default:
		m.lock.Unlock()
		return
	}
	status := m.transition(Idle, "")
	m.lock.Unlock()
	m.notify(status)
}

// Disconnect releases the active connection and returns the manager to Idle. Errors while closing
// are logged and never reported. Operations in flight on the released connection complete with
// [protocol.ErrNotConnected].
//
// A pending handshake cannot be interrupted. Disconnect abandons it instead: the manager stays
// Disconnecting until the handshake returns, then closes whatever socket it produced and becomes
// Idle. The abandoned Connect resolves with [protocol.ErrConnectionFailed].
func (m *Manager) Disconnect() {
	if m.options.Scans != nil {
		m.options.Scans.CancelScan()
	}

	m.lock.Lock()
	switch m.state {
	case Idle, Disconnecting:
		m.lock.Unlock()
		return
	case Connecting:
		m.draining = m.attempt
		m.attempt++
		status := m.transition(Disconnecting, "")
		m.lock.Unlock()
		m.notify(status)
		return
	}
	active := m.active
	m.active = nil
	m.generation++
	status := m.transition(Disconnecting, "")
	m.lock.Unlock()
	m.notify(status)

	active.release()

	m.lock.Lock()
	status = m.transition(Idle, "")
	m.lock.Unlock()
	m.notify(status)
}

// Close disconnects. The adapter and pool are owned by the caller.
func (m *Manager) Close() error {
	m.Disconnect()
	return nil
}
