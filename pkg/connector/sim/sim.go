// Package sim provides an in-memory Bluetooth adapter. Peers are scripted in Go and reached over
// net.Pipe, which makes the package suitable for tests and for running the tools without a radio.
package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// ErrHostDown is returned by OpenRFCOMM when the peer is unknown or unreachable.
var ErrHostDown = errors.New("sim: host is down")

// Handler runs the remote side of an RFCOMM channel. It owns conn and should close it when done.
type Handler func(conn net.Conn)

// Peer is a simulated remote device.
type Peer struct {
	Name    string
	Address string

	// Paired peers are returned by BondedDevices.
	Paired bool
	// Discoverable peers are reported during discovery.
	Discoverable bool
	// Unreachable peers are reported normally but refuse RFCOMM connections.
	Unreachable bool
	// Services lists the service UUIDs the peer accepts. Empty accepts any service.
	Services []uuid.UUID
	// ConnectDelay is how long the handshake takes.
	ConnectDelay time.Duration
	// Handler serves accepted connections. A nil Handler echoes.
	Handler Handler
}

func (p *Peer) device() protocol.Device {
	return protocol.NewDevice(p.Name, p.Address)
}

func (p *Peer) accepts(service uuid.UUID) bool {
	if len(p.Services) == 0 {
		return true
	}
	for _, s := range p.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Adapter is an in-memory [connector.Adapter].
type Adapter struct {
	// InquiryDuration is how long a discovery runs before finishing on its own.
	InquiryDuration time.Duration
	// RepeatReports is the number of times each discoverable peer is reported per inquiry.
	RepeatReports int

	lock         sync.Mutex
	peers        []*Peer
	powered      bool
	discoverErr  error
	discovering  bool
	inquiries    map[*discovery]struct{}
	conns        map[string][]net.Conn
	openedCount  int
	discoveryRun int
}

// New returns a powered Adapter with the given peers.
func New(peers ...Peer) *Adapter {
	a := &Adapter{
		InquiryDuration: 50 * time.Millisecond,
		RepeatReports:   1,
		powered:         true,
		inquiries:       make(map[*discovery]struct{}),
		conns:           make(map[string][]net.Conn),
	}
	for _, p := range peers {
		a.AddPeer(p)
	}
	return a
}

// AddPeer registers p, replacing any peer with the same address.
func (a *Adapter) AddPeer(p Peer) {
	p.Address = strings.ToUpper(p.Address)
	a.lock.Lock()
	defer a.lock.Unlock()
	for i, existing := range a.peers {
		if existing.Address == p.Address {
			a.peers[i] = &p
			return
		}
	}
	a.peers = append(a.peers, &p)
}

// SetPowered simulates the radio being switched on or off. While off, every method fails with
// [protocol.ErrAdapterUnavailable].
func (a *Adapter) SetPowered(on bool) {
	a.lock.Lock()
	a.powered = on
	a.lock.Unlock()
	if !on {
		a.finishInquiries()
		a.Drop("")
	}
}

// FailDiscovery makes subsequent StartDiscovery calls return err. A nil err restores normal
// behavior.
func (a *Adapter) FailDiscovery(err error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.discoverErr = err
}

// Drop closes the remote side of every open connection to address, as if the peer had walked out
// of range. An empty address drops every connection.
func (a *Adapter) Drop(address string) {
	address = strings.ToUpper(address)
	a.lock.Lock()
	var victims []net.Conn
	for addr, conns := range a.conns {
		if address == "" || addr == address {
			victims = append(victims, conns...)
			delete(a.conns, addr)
		}
	}
	a.lock.Unlock()
	for _, c := range victims {
		c.Close()
	}
}

// Connections returns the number of RFCOMM channels opened since the adapter was created.
func (a *Adapter) Connections() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.openedCount
}

// Inquiries returns the number of discoveries started since the adapter was created.
func (a *Adapter) Inquiries() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.discoveryRun
}

func (a *Adapter) checkPowered() error {
	if !a.powered {
		return protocol.ErrAdapterUnavailable
	}
	return nil
}

func (a *Adapter) BondedDevices(ctx context.Context) ([]protocol.Device, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if err := a.checkPowered(); err != nil {
		return nil, err
	}
	var devices []protocol.Device
	for _, p := range a.peers {
		if p.Paired {
			devices = append(devices, p.device())
		}
	}
	return devices, nil
}

func (a *Adapter) IsDiscovering(ctx context.Context) (bool, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if err := a.checkPowered(); err != nil {
		return false, err
	}
	return a.discovering, nil
}

func (a *Adapter) CancelDiscovery(ctx context.Context) error {
	a.lock.Lock()
	err := a.checkPowered()
	a.lock.Unlock()
	if err != nil {
		return err
	}
	a.finishInquiries()
	return nil
}

func (a *Adapter) finishInquiries() {
	a.lock.Lock()
	a.discovering = false
	var running []*discovery
	for d := range a.inquiries {
		running = append(running, d)
	}
	a.lock.Unlock()
	for _, d := range running {
		d.finish()
	}
}

func (a *Adapter) StartDiscovery(ctx context.Context) (connector.Discovery, error) {
	a.lock.Lock()
	if err := a.checkPowered(); err != nil {
		a.lock.Unlock()
		return nil, err
	}
	if a.discoverErr != nil {
		err := a.discoverErr
		a.lock.Unlock()
		return nil, err
	}
	var found []protocol.Device
	repeat := max(a.RepeatReports, 1)
	for _, p := range a.peers {
		if p.Discoverable {
			for i := 0; i < repeat; i++ {
				found = append(found, p.device())
			}
		}
	}
	d := newDiscovery(a)
	a.inquiries[d] = struct{}{}
	a.discovering = true
	a.discoveryRun++
	duration := a.InquiryDuration
	a.lock.Unlock()

	go d.run(found, duration)
	return d, nil
}

func (a *Adapter) release(d *discovery) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.inquiries, d)
	if len(a.inquiries) == 0 {
		a.discovering = false
	}
}

func (a *Adapter) OpenRFCOMM(ctx context.Context, address string, service uuid.UUID) (connector.Socket, error) {
	address = strings.ToUpper(address)
	a.lock.Lock()
	if err := a.checkPowered(); err != nil {
		a.lock.Unlock()
		return nil, err
	}
	var peer *Peer
	for _, p := range a.peers {
		if p.Address == address {
			peer = p
			break
		}
	}
	a.lock.Unlock()
	if peer == nil || peer.Unreachable {
		return nil, fmt.Errorf("%w: %s", ErrHostDown, address)
	}
	if !peer.accepts(service) {
		return nil, fmt.Errorf("sim: service %s not offered by %s", service, address)
	}
	if peer.ConnectDelay > 0 {
		select {
		case <-time.After(peer.ConnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	local, remote := net.Pipe()
	a.lock.Lock()
	a.conns[address] = append(a.conns[address], remote)
	a.openedCount++
	a.lock.Unlock()

	handler := peer.Handler
	if handler == nil {
		handler = Echo
	}
	go handler(remote)
	return connector.NewStreamSocket(address, local), nil
}

// Close finishes running inquiries and drops every connection.
func (a *Adapter) Close() error {
	a.finishInquiries()
	a.Drop("")
	return nil
}

type discovery struct {
	adapter  *Adapter
	found    chan protocol.Device
	finished chan struct{}
	done     chan struct{}
	stop     chan struct{}
	ended    chan struct{}
	stopOnce sync.Once
	endOnce  sync.Once
}

func newDiscovery(a *Adapter) *discovery {
	return &discovery{
		adapter:  a,
		found:    make(chan protocol.Device),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		ended:    make(chan struct{}),
	}
}

func (d *discovery) run(found []protocol.Device, duration time.Duration) {
	defer close(d.done)
	defer close(d.found)
	defer d.adapter.release(d)

	timer := time.NewTimer(duration)
	defer timer.Stop()
	for _, dev := range found {
		select {
		case d.found <- dev:
		case <-d.ended:
			close(d.finished)
			return
		case <-d.stop:
			close(d.finished)
			return
		}
	}
	select {
	case <-timer.C:
	case <-d.ended:
	case <-d.stop:
	}
	close(d.finished)
}

func (d *discovery) finish() {
	d.endOnce.Do(func() { close(d.ended) })
}

func (d *discovery) Found() <-chan protocol.Device {
	return d.found
}

func (d *discovery) Finished() <-chan struct{} {
	return d.finished
}

func (d *discovery) Stop() error {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
	return nil
}
