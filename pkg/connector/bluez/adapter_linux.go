package bluez

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/connector/rfcomm"
	"github.com/rfcommd/btserial/pkg/protocol"
)

var profileCounter atomic.Uint64

// Adapter is a connector.Adapter backed by one BlueZ adapter.
type Adapter struct {
	bus     *dbus.Conn
	path    dbus.ObjectPath
	channel uint8

	lock     sync.Mutex
	profiles map[uuid.UUID]*profile
	closed   bool
}

// NewAdapter connects to the system bus and binds to adapter id (such as "hci0"). If channel is
// non-zero, OpenRFCOMM dials that channel directly with a raw socket instead of asking the daemon
// to negotiate one.
func NewAdapter(ctx context.Context, id string, channel uint8) (*Adapter, error) {
	if id == "" {
		id = DefaultAdapter
	}
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, protocol.Wrap(protocol.ErrAdapterUnavailable, fmt.Errorf("connect to system bus: %w", err))
	}
	a := &Adapter{
		bus:      bus,
		path:     adapterPath(id),
		channel:  channel,
		profiles: make(map[uuid.UUID]*profile),
	}
	var powered dbus.Variant
	if err := a.adapter().CallWithContext(ctx, propertiesIface+".Get", 0, adapterInterface, "Powered").Store(&powered); err != nil {
		bus.Close()
		return nil, protocol.Wrap(protocol.ErrAdapterUnavailable, fmt.Errorf("adapter %s: %w", id, err))
	}
	if on, _ := powered.Value().(bool); !on {
		log.Warning("Adapter %s is powered off", id)
	}
	log.Debug("Using bluetooth adapter %s", a.path)
	return a, nil
}

func (a *Adapter) adapter() dbus.BusObject {
	return a.bus.Object(serviceName, a.path)
}

func (a *Adapter) unavailable(err error) error {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		switch dbusErr.Name {
		case "org.freedesktop.DBus.Error.UnknownObject", "org.freedesktop.DBus.Error.ServiceUnknown":
			return protocol.Wrap(protocol.ErrAdapterUnavailable, err)
		}
	}
	return err
}

func (a *Adapter) BondedDevices(ctx context.Context) ([]protocol.Device, error) {
	var objects managedObjects
	root := a.bus.Object(serviceName, "/")
	if err := root.CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, a.unavailable(fmt.Errorf("GetManagedObjects: %w", err))
	}
	if _, ok := objects[a.path]; !ok {
		return nil, protocol.Wrap(protocol.ErrAdapterUnavailable, fmt.Errorf("adapter %s is gone", a.path))
	}
	return pairedDevices(a.path, objects), nil
}

func (a *Adapter) IsDiscovering(ctx context.Context) (bool, error) {
	var v dbus.Variant
	if err := a.adapter().CallWithContext(ctx, propertiesIface+".Get", 0, adapterInterface, "Discovering").Store(&v); err != nil {
		return false, a.unavailable(err)
	}
	on, _ := v.Value().(bool)
	return on, nil
}

func (a *Adapter) CancelDiscovery(ctx context.Context) error {
	on, err := a.IsDiscovering(ctx)
	if err != nil || !on {
		return err
	}
	if err := a.adapter().CallWithContext(ctx, adapterInterface+".StopDiscovery", 0).Err; err != nil {
		// The daemon only lets the client that started an inquiry stop it.
		log.Debug("StopDiscovery: %s", err)
		var dbusErr dbus.Error
		if errors.As(err, &dbusErr) && strings.HasPrefix(dbusErr.Name, "org.bluez.Error.") {
			return nil
		}
		return a.unavailable(err)
	}
	return nil
}

func (a *Adapter) discoveryMatches() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(objectManagerIface),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchOption("path_namespace", string(a.path)),
		},
	}
}

func (a *Adapter) StartDiscovery(ctx context.Context) (connector.Discovery, error) {
	signals := make(chan *dbus.Signal, 32)
	a.bus.Signal(signals)
	matches := a.discoveryMatches()
	unsubscribe := func() {
		for _, m := range matches {
			a.bus.RemoveMatchSignal(m...)
		}
		a.bus.RemoveSignal(signals)
	}
	for _, m := range matches {
		if err := a.bus.AddMatchSignal(m...); err != nil {
			unsubscribe()
			return nil, fmt.Errorf("AddMatchSignal: %w", err)
		}
	}
	if err := a.adapter().CallWithContext(ctx, adapterInterface+".StartDiscovery", 0).Err; err != nil {
		unsubscribe()
		return nil, a.unavailable(err)
	}
	d := &discovery{
		adapter:     a,
		signals:     signals,
		unsubscribe: unsubscribe,
		found:       make(chan protocol.Device),
		finished:    make(chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go d.run()
	return d, nil
}

func (a *Adapter) lookupDevice(path dbus.ObjectPath) (protocol.Device, bool) {
	var props map[string]dbus.Variant
	if err := a.bus.Object(serviceName, path).Call(propertiesIface+".GetAll", 0, deviceInterface).Store(&props); err != nil {
		log.Debug("GetAll %s: %s", path, err)
		return protocol.Device{}, false
	}
	return deviceFromProperties(a.path, path, props)
}

type discovery struct {
	adapter     *Adapter
	signals     chan *dbus.Signal
	unsubscribe func()
	found       chan protocol.Device
	finished    chan struct{}
	stop        chan struct{}
	done        chan struct{}
	once        sync.Once
}

func (d *discovery) run() {
	defer close(d.done)
	defer close(d.found)
	defer close(d.finished)
	defer d.unsubscribe()
	for {
		var sig *dbus.Signal
		select {
		case sig = <-d.signals:
		case <-d.stop:
			return
		}
		kind, device, path := classifySignal(d.adapter.path, sig)
		switch kind {
		case signalDiscoveryStopped:
			return
		case signalDeviceUpdated:
			var ok bool
			if device, ok = d.adapter.lookupDevice(path); !ok {
				continue
			}
		case signalDeviceFound:
		default:
			continue
		}
		select {
		case d.found <- device:
		case <-d.stop:
			return
		}
	}
}

func (d *discovery) Found() <-chan protocol.Device {
	return d.found
}

func (d *discovery) Finished() <-chan struct{} {
	return d.finished
}

func (d *discovery) Stop() error {
	d.once.Do(func() { close(d.stop) })
	<-d.done
	return nil
}

// OpenRFCOMM asks the daemon to connect service on the device and waits for the socket descriptor
// to be handed over through the registered client profile.
func (a *Adapter) OpenRFCOMM(ctx context.Context, address string, service uuid.UUID) (connector.Socket, error) {
	address, err := protocol.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if a.channel != 0 {
		return rfcomm.Dial(ctx, address, a.channel)
	}
	p, err := a.registerProfile(ctx, service)
	if err != nil {
		return nil, err
	}
	path := devicePath(a.path, address)
	delivered := p.expect(path)
	defer p.forget(path, delivered)

	log.Debug("ConnectProfile %s on %s", service, path)
	call := a.bus.Object(serviceName, path).CallWithContext(ctx, deviceInterface+".ConnectProfile", 0, strings.ToLower(service.String()))
	if call.Err != nil {
		return nil, protocol.Wrap(protocol.ErrConnectionFailed, call.Err)
	}
	select {
	case fd := <-delivered:
		return rfcomm.NewConn(fd, address)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) registerProfile(ctx context.Context, service uuid.UUID) (*profile, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.closed {
		return nil, protocol.ErrAdapterUnavailable
	}
	if p, ok := a.profiles[service]; ok {
		return p, nil
	}
	p := &profile{
		path:    dbus.ObjectPath("/io/rfcommd/btserial/profile" + strconv.FormatUint(profileCounter.Add(1), 10)),
		waiters: make(map[dbus.ObjectPath]chan int),
	}
	if err := a.bus.Export(p, p.path, profileInterface); err != nil {
		return nil, fmt.Errorf("export profile: %w", err)
	}
	options := map[string]dbus.Variant{
		"Role":        dbus.MakeVariant("client"),
		"AutoConnect": dbus.MakeVariant(false),
	}
	manager := a.bus.Object(serviceName, "/org/bluez")
	if err := manager.CallWithContext(ctx, profileManagerIface+".RegisterProfile", 0, p.path, strings.ToLower(service.String()), options).Err; err != nil {
		a.bus.Export(nil, p.path, profileInterface)
		return nil, a.unavailable(fmt.Errorf("RegisterProfile: %w", err))
	}
	a.profiles[service] = p
	return p, nil
}

// Close unregisters profiles and disconnects from the bus.
func (a *Adapter) Close() error {
	a.lock.Lock()
	if a.closed {
		a.lock.Unlock()
		return nil
	}
	a.closed = true
	profiles := a.profiles
	a.profiles = nil
	a.lock.Unlock()

	manager := a.bus.Object(serviceName, "/org/bluez")
	for _, p := range profiles {
		if err := manager.Call(profileManagerIface+".UnregisterProfile", 0, p.path).Err; err != nil {
			log.Debug("UnregisterProfile %s: %s", p.path, err)
		}
		a.bus.Export(nil, p.path, profileInterface)
	}
	return a.bus.Close()
}

// profile implements org.bluez.Profile1 for the client role. Only the exported methods below are
// visible on the bus.
type profile struct {
	path    dbus.ObjectPath
	lock    sync.Mutex
	waiters map[dbus.ObjectPath]chan int
}

func (p *profile) expect(device dbus.ObjectPath) chan int {
	ch := make(chan int, 1)
	p.lock.Lock()
	p.waiters[device] = ch
	p.lock.Unlock()
	return ch
}

func (p *profile) forget(device dbus.ObjectPath, ch chan int) {
	p.lock.Lock()
	if p.waiters[device] == ch {
		delete(p.waiters, device)
	}
	p.lock.Unlock()
	// A descriptor may have been delivered after the caller gave up.
	select {
	case fd := <-ch:
		unix.Close(fd)
	default:
	}
}

func (p *profile) Release() *dbus.Error {
	return nil
}

func (p *profile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.lock.Lock()
	ch, ok := p.waiters[device]
	delete(p.waiters, device)
	p.lock.Unlock()
	if !ok {
		unix.Close(int(fd))
		return dbus.NewError("org.bluez.Error.Rejected", []interface{}{"no pending connection"})
	}
	ch <- int(fd)
	return nil
}

func (p *profile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	log.Debug("Daemon requested disconnection of %s", device)
	return nil
}
