// Package connector defines the radio collaborators the serial session core depends on: an Adapter
// that enumerates, discovers and dials remote devices, the Discovery it emits while scanning, and
// the Socket returned by a successful RFCOMM handshake.
//
// Backends live in subpackages: bluez (Linux, via D-Bus), rfcomm (raw kernel sockets) and sim (an
// in-memory adapter for tests and demos).
package connector

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/rfcommd/btserial/pkg/protocol"
)

// DefaultReadBufferSize is the capacity used for a single read when the caller does not pick one.
const DefaultReadBufferSize = 1024

// MaxReadBufferSize bounds the capacity of a single read.
const MaxReadBufferSize = 64 * 1024

// Adapter is the host's Bluetooth radio.
//
// Implementations must be thread safe. Methods return errors wrapping
// [protocol.ErrAdapterUnavailable] when the radio disappears or is powered off.
type Adapter interface {
	// BondedDevices returns a snapshot of the devices the host has previously paired with.
	BondedDevices(ctx context.Context) ([]protocol.Device, error)

	// IsDiscovering reports whether an adapter-level discovery is running, regardless of who
	// started it.
	IsDiscovering(ctx context.Context) (bool, error)

	// CancelDiscovery stops any adapter-level discovery. It is not an error to call it while no
	// discovery is running.
	CancelDiscovery(ctx context.Context) error

	// StartDiscovery starts an inquiry for nearby devices. If the adapter refuses, no Discovery is
	// returned and nothing remains subscribed.
	StartDiscovery(ctx context.Context) (Discovery, error)

	// OpenRFCOMM opens an RFCOMM channel to the device at address for the given service and blocks
	// until the handshake completes or ctx expires.
	OpenRFCOMM(ctx context.Context, address string, service uuid.UUID) (Socket, error)

	// Close releases the adapter. Repeated calls must be idempotent.
	Close() error
}

// Discovery reports the results of one adapter inquiry.
type Discovery interface {
	// Found delivers devices as the adapter observes them. The same device may be reported more
	// than once. The channel is closed after Finished is closed, and both are closed once Stop
	// returns.
	Found() <-chan protocol.Device

	// Finished is closed when the adapter signals that the inquiry ended.
	Finished() <-chan struct{}

	// Stop unsubscribes from adapter events. It does not cancel the inquiry itself; use
	// [Adapter.CancelDiscovery] for that. Repeated calls must be idempotent.
	Stop() error
}

// Socket is a connected RFCOMM channel with independent read and write endpoints. Closing an
// endpoint half-closes the channel; Close releases the socket itself.
type Socket interface {
	Input() io.ReadCloser
	Output() io.WriteCloser
	RemoteAddress() string
	Close() error
}
