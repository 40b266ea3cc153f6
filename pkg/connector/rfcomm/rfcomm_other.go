//go:build !linux

package rfcomm

import (
	"context"
	"errors"

	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/protocol"
)

var errUnsupported = errors.New("raw RFCOMM sockets are only supported on linux")

func Dial(ctx context.Context, address string, channel uint8) (connector.Socket, error) {
	if _, err := protocol.ParseAddress(address); err != nil {
		return nil, err
	}
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	return nil, protocol.Wrap(protocol.ErrAdapterUnavailable, errUnsupported)
}

func NewConn(fd int, address string) (connector.Socket, error) {
	return nil, protocol.Wrap(protocol.ErrAdapterUnavailable, errUnsupported)
}
