package connector

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDeadlineUnsupported is returned by SetReadDeadline on endpoints whose transport cannot time
// out a read.
var ErrDeadlineUnsupported = errors.New("connector: read deadlines not supported by transport")

// ReadDeadliner is implemented by input endpoints that can bound a blocking read.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// NewStreamSocket adapts a bidirectional stream (such as a net.Conn or an *os.File wrapping a
// socket descriptor) into a Socket. Closing the input or output endpoint half-closes the stream if
// it supports CloseRead/CloseWrite; either way the endpoint rejects further use.
func NewStreamSocket(address string, stream io.ReadWriteCloser) Socket {
	s := &streamSocket{address: address, stream: stream}
	s.input = &inputStream{socket: s}
	s.output = &outputStream{socket: s}
	return s
}

type streamSocket struct {
	address string
	stream  io.ReadWriteCloser
	input   *inputStream
	output  *outputStream
	once    sync.Once
	err     error
}

func (s *streamSocket) Input() io.ReadCloser {
	return s.input
}

func (s *streamSocket) Output() io.WriteCloser {
	return s.output
}

func (s *streamSocket) RemoteAddress() string {
	return s.address
}

func (s *streamSocket) Close() error {
	s.once.Do(func() {
		s.input.closed.Store(true)
		s.output.closed.Store(true)
		s.err = s.stream.Close()
	})
	return s.err
}

type inputStream struct {
	socket *streamSocket
	closed atomic.Bool
}

func (i *inputStream) Read(p []byte) (int, error) {
	if i.closed.Load() {
		return 0, os.ErrClosed
	}
	return i.socket.stream.Read(p)
}

func (i *inputStream) SetReadDeadline(t time.Time) error {
	if d, ok := i.socket.stream.(ReadDeadliner); ok {
		return d.SetReadDeadline(t)
	}
	return ErrDeadlineUnsupported
}

func (i *inputStream) Close() error {
	if i.closed.Swap(true) {
		return nil
	}
	if c, ok := i.socket.stream.(closeReader); ok {
		return c.CloseRead()
	}
	return nil
}

type outputStream struct {
	socket *streamSocket
	closed atomic.Bool
}

func (o *outputStream) Write(p []byte) (int, error) {
	if o.closed.Load() {
		return 0, os.ErrClosed
	}
	return o.socket.stream.Write(p)
}

func (o *outputStream) Close() error {
	if o.closed.Swap(true) {
		return nil
	}
	if c, ok := o.socket.stream.(closeWriter); ok {
		return c.CloseWrite()
	}
	return nil
}

// WriteFull writes all of p to w, looping over short writes.
func WriteFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
