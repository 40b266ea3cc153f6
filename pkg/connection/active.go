package connection

import (
	"io"
	"sync"
	"time"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connector"
)

// ActiveConnection is the socket of a Connected manager. It is owned by the Manager and borrowed by
// callers for the duration of a single read or write; callers must never close it.
//
// Reads are serialized with each other, as are writes, but a read and a write may run
// concurrently since they use independent endpoints.
type ActiveConnection struct {
	address    string
	generation uint64
	socket     connector.Socket
	input      io.ReadCloser
	output     io.WriteCloser

	readLock  sync.Mutex
	writeLock sync.Mutex
}

func newActiveConnection(socket connector.Socket, address string, generation uint64) *ActiveConnection {
	return &ActiveConnection{
		address:    address,
		generation: generation,
		socket:     socket,
		input:      socket.Input(),
		output:     socket.Output(),
	}
}

// Address returns the remote device address.
func (c *ActiveConnection) Address() string {
	return c.address
}

// Generation identifies this connection among all connections made by its Manager.
func (c *ActiveConnection) Generation() uint64 {
	return c.generation
}

// ReadWithin performs one read into p. If wait is positive and the transport supports deadlines,
// the read gives up after wait and returns a timeout error; otherwise it blocks until data arrives
// or the endpoint fails.
func (c *ActiveConnection) ReadWithin(p []byte, wait time.Duration) (int, error) {
	c.readLock.Lock()
	defer c.readLock.Unlock()
	if d, ok := c.input.(connector.ReadDeadliner); ok && wait > 0 {
		err := d.SetReadDeadline(time.Now().Add(wait))
		if err != nil && err != connector.ErrDeadlineUnsupported {
			return 0, err
		}
	}
	return c.input.Read(p)
}

// WriteAll writes all of p to the output endpoint.
func (c *ActiveConnection) WriteAll(p []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return connector.WriteFull(c.output, p)
}

// release closes the input endpoint, the output endpoint and the socket, in that order. Failures
// are logged and otherwise ignored.
func (c *ActiveConnection) release() {
	if err := c.input.Close(); err != nil {
		log.Warning("Error closing input of %s: %s", c.address, err)
	}
	if err := c.output.Close(); err != nil {
		log.Warning("Error closing output of %s: %s", c.address, err)
	}
	if err := c.socket.Close(); err != nil {
		log.Warning("Error closing socket to %s: %s", c.address, err)
	}
}
