// Package transfer moves bytes over the active connection without blocking the caller. Each call
// borrows the connection that is current when the call is made; if that connection is released
// before the call completes, its outcome is discarded and the call fails with
// protocol.ErrNotConnected.
package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rfcommd/btserial/internal/executor"
	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// DefaultPollInterval is how long a read waits for data before reporting that none is available.
const DefaultPollInterval = 100 * time.Millisecond

// Engine performs reads and writes on a Manager's active connection.
type Engine struct {
	manager    *connection.Manager
	pool       *executor.Pool
	poll       time.Duration
	bufferSize int
}

// NewEngine returns an Engine running its operations on pool. poll bounds how long a read waits
// for data (DefaultPollInterval if zero, no bound if negative); bufferSize is the default read
// capacity (connector.DefaultReadBufferSize if non-positive).
func NewEngine(manager *connection.Manager, pool *executor.Pool, poll time.Duration, bufferSize int) *Engine {
	if poll == 0 {
		poll = DefaultPollInterval
	}
	if bufferSize <= 0 {
		bufferSize = connector.DefaultReadBufferSize
	}
	bufferSize = min(bufferSize, connector.MaxReadBufferSize)
	if pool == nil {
		pool = executor.New(executor.DefaultSize)
	}
	return &Engine{manager: manager, pool: pool, poll: poll, bufferSize: bufferSize}
}

// BufferSize returns the default read capacity.
func (e *Engine) BufferSize() int {
	return e.bufferSize
}

// Write sends all of payload. The Future resolves once the transport has accepted the bytes, with
// the number of bytes written. It fails with [protocol.ErrNotConnected] or
// [protocol.ErrIOFailure].
func (e *Engine) Write(payload []byte) *executor.Future[int] {
	active, err := e.manager.Borrow()
	if err != nil {
		return executor.Resolved(0, err)
	}
	data := append([]byte{}, payload...)
	return executor.Submit(e.pool, func(context.Context) (int, error) {
		if !e.manager.IsCurrent(active) {
			return 0, protocol.ErrNotConnected
		}
		err := active.WriteAll(data)
		if !e.manager.IsCurrent(active) {
			return 0, protocol.ErrNotConnected
		}
		if err != nil {
			log.Warning("Write to %s failed: %s", active.Address(), err)
			return 0, protocol.Wrap(protocol.ErrIOFailure, err)
		}
		log.Debug("TX %s: %q", active.Address(), data)
		return len(data), nil
	})
}

// Read performs exactly one read of up to capacity bytes. A non-positive capacity selects the
// engine's buffer size; larger ones are capped at connector.MaxReadBufferSize. The Future resolves
// with the bytes received, which may be empty when no data arrived within the poll interval. That
// outcome is not an error: callers poll.
//
// Read fails with [protocol.ErrEndOfStream] once the peer has closed its side,
// [protocol.ErrNotConnected], or [protocol.ErrIOFailure].
func (e *Engine) Read(capacity int) *executor.Future[[]byte] {
	if capacity <= 0 {
		capacity = e.bufferSize
	}
	capacity = min(capacity, connector.MaxReadBufferSize)
	active, err := e.manager.Borrow()
	if err != nil {
		return executor.Resolved[[]byte](nil, err)
	}
	return executor.Submit(e.pool, func(context.Context) ([]byte, error) {
		if !e.manager.IsCurrent(active) {
			return nil, protocol.ErrNotConnected
		}
		buf := make([]byte, capacity)
		n, err := active.ReadWithin(buf, e.poll)
		if !e.manager.IsCurrent(active) {
			return nil, protocol.ErrNotConnected
		}
		return classify(active.Address(), buf, n, err)
	})
}

func classify(address string, buf []byte, n int, err error) ([]byte, error) {
	if n > 0 {
		// A terminal error accompanying data is reported by the next read.
		log.Debug("RX %s: %q", address, buf[:n])
		return buf[:n], nil
	}
	switch {
	case err == nil, errors.Is(err, os.ErrDeadlineExceeded):
		return []byte{}, nil
	case errors.Is(err, io.EOF):
		log.Info("Peer %s closed the connection", address)
		return nil, protocol.ErrEndOfStream
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return []byte{}, nil
	}
	log.Warning("Read from %s failed: %s", address, err)
	return nil, protocol.Wrap(protocol.ErrIOFailure, err)
}
