//go:build !linux

package bluez

import (
	"context"
	"errors"

	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// NewAdapter fails on platforms without BlueZ.
func NewAdapter(ctx context.Context, id string, channel uint8) (connector.Adapter, error) {
	return nil, protocol.Wrap(protocol.ErrAdapterUnavailable, errors.New("bluez backend requires linux"))
}
