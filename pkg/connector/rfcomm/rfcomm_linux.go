package rfcomm

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// Dial connects to channel on the device at address. The connect call is interrupted if ctx
// expires first.
func Dial(ctx context.Context, address string, channel uint8) (connector.Socket, error) {
	bdaddr, err := protocol.ReverseAddress(address)
	if err != nil {
		return nil, err
	}
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	address, _ = protocol.ParseAddress(address)

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		if err == unix.EAFNOSUPPORT {
			return nil, protocol.Wrap(protocol.ErrAdapterUnavailable, err)
		}
		return nil, fmt.Errorf("rfcomm: socket: %w", err)
	}

	log.Debug("Dialing %s channel %d", address, channel)
	done := make(chan error, 1)
	go func() {
		done <- unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: channel})
	}()
	select {
	case err = <-done:
	case <-ctx.Done():
		// Shutting the socket down aborts the pending connect.
		unix.Shutdown(fd, unix.SHUT_RDWR)
		<-done
		unix.Close(fd)
		return nil, ctx.Err()
	}
	if err != nil {
		unix.Close(fd)
		return nil, protocol.Wrap(protocol.ErrConnectionFailed, err)
	}
	return NewConn(fd, address)
}

// NewConn takes ownership of fd, a connected RFCOMM socket, and returns it as a Socket with read
// deadline and half-close support.
func NewConn(fd int, address string) (connector.Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: set nonblocking: %w", err)
	}
	f := os.NewFile(uintptr(fd), "rfcomm:"+address)
	if f == nil {
		return nil, fmt.Errorf("rfcomm: invalid descriptor %d", fd)
	}
	return connector.NewStreamSocket(address, &conn{File: f}), nil
}

type conn struct {
	*os.File
}

func (c *conn) shutdown(how int) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.Shutdown(int(fd), how)
	}); err != nil {
		return err
	}
	if serr == syscall.ENOTCONN {
		return nil
	}
	return serr
}

func (c *conn) CloseRead() error {
	return c.shutdown(unix.SHUT_RD)
}

func (c *conn) CloseWrite() error {
	return c.shutdown(unix.SHUT_WR)
}
