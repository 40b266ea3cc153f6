package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/facade"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

var errSessionClosed = errors.New("websocket session closed")

// Request is a call received over a WebSocket session.
type Request struct {
	ID     uint64                   `json:"id"`
	Method string                   `json:"method"`
	Params facade.RequestParameters `json:"params,omitempty"`
}

// Reply answers the Request with the same ID.
type Reply struct {
	ID uint64 `json:"id"`
	facade.Response
}

// Notification is an event raised while the Request with the same ID runs. Broadcast events have
// no ID.
type Notification struct {
	ID uint64 `json:"id,omitempty"`
	facade.Event
}

type session struct {
	proxy   *Proxy
	conn    *websocket.Conn
	subject string
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	calls   sync.WaitGroup
}

func (p *Proxy) serveWebSocket(w http.ResponseWriter, req *http.Request, subject string) {
	conn, err := p.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Warning("WebSocket upgrade failed: %s", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		proxy:   p,
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	log.Info("WebSocket client connected: %s %s", req.RemoteAddr, subject)
	p.register(s)
	go s.writePump()
	go s.pingLoop()
	s.readLoop()

	s.cancel()
	p.unregister(s)
	s.calls.Wait()
	close(s.send)
	log.Info("WebSocket client disconnected: %s", req.RemoteAddr)
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxRequestBodyBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warning("WebSocket read failed: %s", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(Reply{Response: facade.Response{Error: &facade.Error{Code: facade.CodeNotImplemented, Message: "could not parse request"}}})
			continue
		}
		if _, err := lookupOperation(req.Method, ""); err != nil {
			s.reply(Reply{ID: req.ID, Response: facade.Response{Error: &facade.Error{Code: facade.CodeNotImplemented, Message: req.Method}}})
			continue
		}
		s.calls.Add(1)
		go s.run(req)
	}
}

func (s *session) run(req Request) {
	defer s.calls.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.proxy.Timeout)
	defer cancel()
	sink := facade.SinkFunc(func(ctx context.Context, e facade.Event) error {
		return s.deliver(ctx, Notification{ID: req.ID, Event: e})
	})
	response := s.proxy.backend.Handle(ctx, facade.Call{Method: req.Method, Params: req.Params}, sink)
	s.reply(Reply{ID: req.ID, Response: response})
}

func (s *session) reply(r Reply) {
	if err := s.deliver(s.ctx, r); err != nil {
		log.Debug("Dropping reply %d: %s", r.ID, err)
	}
}

// deliver queues v for the write pump, blocking while the queue is full.
func (s *session) deliver(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// offer queues data without blocking.
func (s *session) offer(data []byte) {
	select {
	case s.send <- data:
	default:
		log.Warning("WebSocket client %s is not keeping up, dropping event", s.subject)
	}
}

func (s *session) writePump() {
	defer s.conn.Close()
	for msg := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Warning("WebSocket write failed: %s", err)
			s.cancel()
			s.conn.Close()
			for range s.send {
			}
			return
		}
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
