// Package rfcomm dials RFCOMM channels with raw kernel sockets. It is used when the service
// channel of the remote device is known in advance, or when no BlueZ daemon is available to
// negotiate the channel through SDP.
package rfcomm

import (
	"fmt"

	"github.com/rfcommd/btserial/pkg/protocol"
)

// DefaultChannel is the channel most serial adapters listen on.
const DefaultChannel = 1

// MaxChannel is the highest valid RFCOMM server channel.
const MaxChannel = 30

func checkChannel(channel uint8) error {
	if channel < 1 || channel > MaxChannel {
		return protocol.Wrap(protocol.ErrConnectionFailed, fmt.Errorf("rfcomm channel %d out of range 1-%d", channel, MaxChannel))
	}
	return nil
}
