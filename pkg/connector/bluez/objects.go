// Package bluez implements connector.Adapter on top of the BlueZ daemon's D-Bus API. RFCOMM
// channels are negotiated through a client Profile1 registration, so the daemon resolves the
// channel via SDP and hands over a connected socket descriptor.
package bluez

import (
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/rfcommd/btserial/pkg/protocol"
)

const (
	serviceName         = "org.bluez"
	adapterInterface    = "org.bluez.Adapter1"
	deviceInterface     = "org.bluez.Device1"
	profileInterface    = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	objectManagerIface  = "org.freedesktop.DBus.ObjectManager"
	propertiesIface     = "org.freedesktop.DBus.Properties"

	interfacesAdded   = objectManagerIface + ".InterfacesAdded"
	propertiesChanged = propertiesIface + ".PropertiesChanged"
)

// DefaultAdapter is the adapter used when none is configured.
const DefaultAdapter = "hci0"

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func adapterPath(id string) dbus.ObjectPath {
	if strings.HasPrefix(id, "/") {
		return dbus.ObjectPath(id)
	}
	return dbus.ObjectPath("/org/bluez/" + id)
}

func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

func addressFromPath(adapter dbus.ObjectPath, path dbus.ObjectPath) string {
	prefix := string(adapter) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

func stringProperty(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func boolProperty(props map[string]dbus.Variant, name string) (value, present bool) {
	if v, ok := props[name]; ok {
		value, present = v.Value().(bool)
	}
	return
}

// deviceFromProperties builds a Device from Device1 properties. The object path is used when the
// Address property is missing. The Alias is not used because BlueZ synthesizes one from the
// address, which would hide devices that do not advertise a name.
func deviceFromProperties(adapter, path dbus.ObjectPath, props map[string]dbus.Variant) (protocol.Device, bool) {
	address := stringProperty(props, "Address")
	if address == "" {
		address = addressFromPath(adapter, path)
	}
	if address == "" {
		return protocol.Device{}, false
	}
	return protocol.NewDevice(stringProperty(props, "Name"), address), true
}

// pairedDevices extracts the paired devices of adapter from a GetManagedObjects reply, sorted by
// address.
func pairedDevices(adapter dbus.ObjectPath, objects managedObjects) []protocol.Device {
	var devices []protocol.Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceInterface]
		if !ok || !strings.HasPrefix(string(path), string(adapter)+"/") {
			continue
		}
		if paired, _ := boolProperty(props, "Paired"); !paired {
			continue
		}
		if d, ok := deviceFromProperties(adapter, path, props); ok {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

type signalKind int

const (
	signalIgnored signalKind = iota
	signalDeviceFound
	signalDeviceUpdated
	signalDiscoveryStopped
)

// classifySignal interprets a D-Bus signal received while discovering. For signalDeviceFound the
// device is returned. For signalDeviceUpdated only the object path is known and the caller must
// fetch the device properties.
func classifySignal(adapter dbus.ObjectPath, sig *dbus.Signal) (signalKind, protocol.Device, dbus.ObjectPath) {
	if sig == nil {
		return signalIgnored, protocol.Device{}, ""
	}
	switch sig.Name {
	case interfacesAdded:
		if len(sig.Body) < 2 {
			break
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceInterface]
		if !ok || !strings.HasPrefix(string(path), string(adapter)+"/") {
			break
		}
		if d, ok := deviceFromProperties(adapter, path, props); ok {
			return signalDeviceFound, d, path
		}
	case propertiesChanged:
		if len(sig.Body) < 2 {
			break
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		switch {
		case iface == adapterInterface && sig.Path == adapter:
			if on, ok := boolProperty(changed, "Discovering"); ok && !on {
				return signalDiscoveryStopped, protocol.Device{}, ""
			}
		case iface == deviceInterface && strings.HasPrefix(string(sig.Path), string(adapter)+"/"):
			// Devices already known to the daemon are not re-added; a fresh RSSI reading is how
			// the daemon reports that they were seen again.
			if _, ok := changed["RSSI"]; ok {
				return signalDeviceUpdated, protocol.Device{}, sig.Path
			}
		}
	}
	return signalIgnored, protocol.Device{}, ""
}
