package permission

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rfcommd/btserial/internal/log"
)

// DefaultLinuxCapabilities maps each Capability to the kernel capability needed to exercise it with
// raw Bluetooth sockets. Location has no kernel equivalent and is always granted.
var DefaultLinuxCapabilities = map[Capability]int{
	Scan:    unix.CAP_NET_ADMIN,
	Connect: unix.CAP_NET_RAW,
}

// ProcessCapabilities authorizes operations based on the effective capability set of the current
// process. It cannot grant anything by itself: Request logs the command an administrator must run.
type ProcessCapabilities struct {
	Mapping map[Capability]int
	capget  func() (uint64, error)
}

// NewCapabilityAuthorizer returns a ProcessCapabilities using DefaultLinuxCapabilities.
func NewCapabilityAuthorizer() Authorizer {
	return &ProcessCapabilities{Mapping: DefaultLinuxCapabilities, capget: effectiveCapabilities}
}

func effectiveCapabilities() (uint64, error) {
	header := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&header, &data[0]); err != nil {
		return 0, fmt.Errorf("capget: %w", err)
	}
	return uint64(data[0].Effective) | uint64(data[1].Effective)<<32, nil
}

func (p *ProcessCapabilities) Granted(_ context.Context, c Capability) (bool, error) {
	bit, ok := p.Mapping[c]
	if !ok {
		return true, nil
	}
	effective, err := p.capget()
	if err != nil {
		return false, err
	}
	return effective&(1<<uint(bit)) != 0, nil
}

func (p *ProcessCapabilities) Request(_ context.Context, caps []Capability) error {
	var names []string
	for _, c := range caps {
		switch p.Mapping[c] {
		case unix.CAP_NET_ADMIN:
			names = append(names, "cap_net_admin")
		case unix.CAP_NET_RAW:
			names = append(names, "cap_net_raw")
		}
	}
	if len(names) == 0 {
		return nil
	}
	list := names[0]
	for _, n := range names[1:] {
		list += "," + n
	}
	log.Warning("Grant this application the missing capabilities and try again:\n\n\tsudo setcap '%s=eip' \"$(which %s)\"\n", list, os.Args[0])
	return nil
}
