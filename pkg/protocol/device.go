package protocol

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// SerialPortServiceUUID identifies the Serial Port Profile. It is the service requested when
// opening an RFCOMM channel to a remote device.
var SerialPortServiceUUID = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")

// UnknownDeviceName is reported for devices that do not advertise a name.
const UnknownDeviceName = "Unknown"

// Device is an immutable snapshot of a remote Bluetooth device. Address is the unique key.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// NewDevice returns a Device with a canonical address and a non-empty name.
func NewDevice(name, address string) Device {
	if name == "" {
		name = UnknownDeviceName
	}
	if canonical, err := ParseAddress(address); err == nil {
		address = canonical
	}
	return Device{Name: name, Address: address}
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Address)
}

// ParseAddress validates a Bluetooth device address of the form "00:11:22:33:44:55" and returns it
// in canonical upper-case form. Dash-separated addresses are accepted.
func ParseAddress(address string) (string, error) {
	if address == "" {
		return "", Wrap(ErrInvalidAddress, fmt.Errorf("empty address"))
	}
	hw, err := net.ParseMAC(address)
	if err != nil {
		return "", Wrap(ErrInvalidAddress, err)
	}
	if len(hw) != 6 {
		return "", Wrap(ErrInvalidAddress, fmt.Errorf("'%s' is not a 48-bit address", address))
	}
	return strings.ToUpper(hw.String()), nil
}

// ReverseAddress returns the address bytes in little-endian order, as used by the kernel's
// sockaddr_rc.
func ReverseAddress(address string) ([6]byte, error) {
	var out [6]byte
	canonical, err := ParseAddress(address)
	if err != nil {
		return out, err
	}
	hw, _ := net.ParseMAC(canonical)
	for i := 0; i < 6; i++ {
		out[i] = hw[5-i]
	}
	return out, nil
}
