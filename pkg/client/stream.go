package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/protocol"
)

const (
	writeTimeout = 10 * time.Second
	eventBuffer  = 16
)

// ErrStreamClosed is returned by calls on a Stream whose connection ended.
var ErrStreamClosed = errors.New("stream closed")

type message struct {
	ID      uint64          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Result  json.RawMessage `json:"result"`
	EOF     bool            `json:"eof"`
	Error   *facade.Error   `json:"error"`
}

type pendingCall struct {
	events func(message)
	reply  chan message
}

// Stream is a WebSocket session with a proxy. Calls may be issued concurrently.
type Stream struct {
	conn *websocket.Conn

	writeLock sync.Mutex // serializes conn writes
	lock      sync.Mutex
	nextID    uint64
	pending   map[uint64]*pendingCall
	err       error

	broadcasts chan facade.Event
	done       chan struct{}
}

// Dial opens a Stream to the proxy at baseURL ("http" or "https"; the WebSocket scheme is
// derived). An empty token dials without authentication.
func Dial(ctx context.Context, baseURL, token string) (*Stream, error) {
	endpoint := strings.TrimSuffix(baseURL, "/") + "/api/1/ws"
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	default:
		return nil, fmt.Errorf("invalid proxy URL %q", baseURL)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, rsp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if rsp != nil {
			return nil, &Error{Status: rsp.StatusCode, Code: http.StatusText(rsp.StatusCode)}
		}
		return nil, err
	}
	s := &Stream{
		conn:       conn,
		pending:    make(map[uint64]*pendingCall),
		broadcasts: make(chan facade.Event, eventBuffer),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events returns events that are not tied to a call, such as connection state changes. Events are
// dropped if the channel is not drained. The channel is closed when the Stream ends.
func (s *Stream) Events() <-chan facade.Event {
	return s.broadcasts
}

// Done is closed when the Stream ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close ends the Stream.
func (s *Stream) Close() error {
	s.writeLock.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	s.writeLock.Unlock()
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer close(s.broadcasts)
	var err error
	for {
		var msg message
		if err = s.conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Event != "" && msg.ID == 0 {
			select {
			case s.broadcasts <- facade.Event{Name: msg.Event, Payload: msg.Payload}:
			default:
				log.Debug("Dropping %s event", msg.Event)
			}
			continue
		}
		s.lock.Lock()
		call := s.pending[msg.ID]
		if call != nil && msg.Event == "" {
			delete(s.pending, msg.ID)
		}
		s.lock.Unlock()
		if call == nil {
			log.Debug("Ignoring message for unknown call %d", msg.ID)
			continue
		}
		if msg.Event != "" {
			if call.events != nil {
				call.events(msg)
			}
			continue
		}
		call.reply <- msg
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warning("Stream ended: %s", err)
	}
	s.lock.Lock()
	s.err = ErrStreamClosed
	for id, call := range s.pending {
		close(call.reply)
		delete(s.pending, id)
	}
	s.lock.Unlock()
}

// Call runs method on the proxy and returns its raw result. onEvent, if not nil, receives events
// raised by the call; it runs on the Stream's read goroutine and must not block.
func (s *Stream) Call(ctx context.Context, method string, params facade.RequestParameters, onEvent func(facade.Event)) (json.RawMessage, bool, error) {
	call := &pendingCall{reply: make(chan message, 1)}
	if onEvent != nil {
		call.events = func(m message) { onEvent(facade.Event{Name: m.Event, Payload: m.Payload}) }
	}
	s.lock.Lock()
	if s.err != nil {
		s.lock.Unlock()
		return nil, false, s.err
	}
	s.nextID++
	id := s.nextID
	s.pending[id] = call
	s.lock.Unlock()

	s.writeLock.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := s.conn.WriteJSON(map[string]interface{}{"id": id, "method": method, "params": params})
	s.writeLock.Unlock()
	if err != nil {
		s.forget(id)
		return nil, false, err
	}

	select {
	case msg, ok := <-call.reply:
		if !ok {
			return nil, false, ErrStreamClosed
		}
		if msg.Error != nil {
			return nil, false, &Error{Status: http.StatusOK, Code: msg.Error.Code, Message: msg.Error.Message}
		}
		return msg.Result, msg.EOF, nil
	case <-ctx.Done():
		s.forget(id)
		return nil, false, ctx.Err()
	}
}

func (s *Stream) forget(id uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.pending, id)
}

// Scan runs a discovery session, passing each new device to onFound as soon as the proxy reports
// it. It returns every device found.
func (s *Stream) Scan(ctx context.Context, timeout time.Duration, onFound func(protocol.Device)) ([]protocol.Device, error) {
	var params facade.RequestParameters
	if timeout > 0 {
		params = facade.RequestParameters{"timeout": timeout.Seconds()}
	}
	result, _, err := s.Call(ctx, "scanDevices", params, func(e facade.Event) {
		if e.Name != facade.EventDeviceFound || onFound == nil {
			return
		}
		raw, ok := e.Payload.(json.RawMessage)
		if !ok {
			return
		}
		var device protocol.Device
		if err := json.Unmarshal(raw, &device); err != nil {
			log.Warning("Malformed %s event: %s", e.Name, err)
			return
		}
		onFound(device)
	})
	if err != nil {
		return nil, err
	}
	var devices []protocol.Device
	if err := json.Unmarshal(result, &devices); err != nil {
		return nil, fmt.Errorf("unexpected response %s: %w", result, err)
	}
	return devices, nil
}
