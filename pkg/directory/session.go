package directory

import (
	"context"
	"sync"
	"time"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// Session is one running discovery.
type Session struct {
	directory *Directory
	timeout   time.Duration
	events    chan protocol.Device
	done      chan struct{}
	cancel    chan struct{}
	failure   error

	cancelOnce sync.Once
	closeOnce  sync.Once

	lock        sync.Mutex
	seen        map[string]bool
	accumulated []protocol.Device
}

func newSession(d *Directory, timeout time.Duration) *Session {
	return &Session{
		directory: d,
		timeout:   timeout,
		events:    make(chan protocol.Device, eventBuffer),
		done:      make(chan struct{}),
		cancel:    make(chan struct{}),
		seen:      make(map[string]bool),
	}
}

// Events delivers each newly observed device once. The channel is closed when the session ends.
func (s *Session) Events() <-chan protocol.Device {
	return s.events
}

// Done is closed once the session has ended and the directory accepts a new scan.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result waits for the session to end and returns every device it observed, in discovery order.
// If ctx ends first, it returns the devices observed so far with the context's error.
func (s *Session) Result(ctx context.Context) ([]protocol.Device, error) {
	select {
	case <-s.done:
		return s.Devices(), s.failure
	case <-ctx.Done():
		return s.Devices(), ctx.Err()
	}
}

// Devices returns the devices observed so far.
func (s *Session) Devices() []protocol.Device {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append(make([]protocol.Device, 0, len(s.accumulated)), s.accumulated...)
}

// Cancel ends the session early. It is safe to call more than once and after the session ended.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancel) })
}

// add records device and reports whether it had not been seen before.
func (s *Session) add(device protocol.Device) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.seen[device.Address] {
		return false
	}
	s.seen[device.Address] = true
	s.accumulated = append(s.accumulated, device)
	return true
}

func (s *Session) collect(ctx context.Context, discovery connector.Discovery) []protocol.Device {
	defer s.close(discovery, nil)
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	found := discovery.Found()
	for {
		select {
		case device, ok := <-found:
			if !ok {
				// Found closes after Finished; wait for the finished case below.
				found = nil
				continue
			}
			device = protocol.NewDevice(device.Name, device.Address)
			if !s.add(device) {
				continue
			}
			log.Debug("Found %s", device)
			select {
			case s.events <- device:
			case <-timer.C:
				s.stopInquiry("timeout")
				return s.Devices()
			case <-s.cancel:
				s.stopInquiry("cancelled")
				return s.Devices()
			case <-ctx.Done():
				s.stopInquiry("shutdown")
				return s.Devices()
			}
		case <-discovery.Finished():
			log.Info("Discovery finished")
			return s.Devices()
		case <-timer.C:
			s.stopInquiry("timeout")
			return s.Devices()
		case <-s.cancel:
			s.stopInquiry("cancelled")
			return s.Devices()
		case <-ctx.Done():
			s.stopInquiry("shutdown")
			return s.Devices()
		}
	}
}

func (s *Session) stopInquiry(reason string) {
	log.Info("Stopping discovery (%s)", reason)
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.directory.adapter.CancelDiscovery(ctx); err != nil {
		log.Warning("Could not stop discovery: %s", err)
	}
}

// close ends the session once, recording failure as the outcome reported by Result.
func (s *Session) close(discovery connector.Discovery, failure error) {
	s.closeOnce.Do(func() {
		s.failure = failure
		if discovery != nil {
			if err := discovery.Stop(); err != nil {
				log.Warning("Could not unsubscribe from discovery: %s", err)
			}
		}
		close(s.events)
		s.directory.release(s)
		close(s.done)
	})
}
