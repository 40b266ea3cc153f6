//go:build !linux

package permission

import "github.com/rfcommd/btserial/internal/log"

// NewCapabilityAuthorizer returns a Policy granting every capability. Only Linux gates raw
// Bluetooth sockets behind process capabilities.
func NewCapabilityAuthorizer() Authorizer {
	log.Debug("Process capabilities are not enforced on this platform")
	return NewPolicy(Required...)
}
