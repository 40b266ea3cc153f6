package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rfcommd/btserial/internal/authentication"
	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/facade"
)

const (
	// DefaultTimeout bounds a single operation. It exceeds the default scan timeout so that a scan
	// started without an explicit timeout completes.
	DefaultTimeout       = 30 * time.Second
	maxRequestBodyBytes  = 4096
	apiPrefix            = "/api/1/"
	webSocketPath        = "ws"
	proxyProtocolVersion = "btserial-proxy/1.0.0"
)

// Backend runs operations. [facade.Facade] implements it.
type Backend interface {
	Handle(ctx context.Context, call facade.Call, sink facade.EventSink) facade.Response
}

// Proxy exposes an HTTP API for driving a serial session.
type Proxy struct {
	Timeout time.Duration

	backend  Backend
	secret   []byte
	upgrader websocket.Upgrader

	lock     sync.RWMutex
	sessions map[*session]struct{}
}

// New creates an http proxy around backend. A non-empty secret enables bearer token
// authentication; tokens are minted with [authentication.SignToken].
func New(backend Backend, secret []byte) *Proxy {
	return &Proxy{
		Timeout:  DefaultTimeout,
		backend:  backend,
		secret:   secret,
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			Subprotocols: []string{proxyProtocolVersion},
		},
	}
}

// Response contains the proxy's reply to a REST request.
type Response struct {
	Response   interface{}    `json:"response"`
	EOF        bool           `json:"eof,omitempty"`
	Events     []facade.Event `json:"events,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrDetails string         `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, reply *Response) {
	jsonBytes, err := json.Marshal(reply)
	if err != nil {
		log.Error("Error serializing reply %+v: %s", reply, err)
		code = http.StatusInternalServerError
		jsonBytes = []byte("{\"error\": \"internal server error\"}")
	}
	if code != http.StatusOK {
		log.Error("Returning error %s", http.StatusText(code))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBytes = append(jsonBytes, '\n')
	w.Write(jsonBytes)
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	reply := Response{}
	if err == nil {
		reply.Error = http.StatusText(code)
	} else {
		reply.Error = err.Error()
	}
	writeJSON(w, code, &reply)
}

// authorize returns the token subject, or an error if the request is not authorized. Without a
// secret every request is authorized anonymously.
func (p *Proxy) authorize(req *http.Request) (string, error) {
	if len(p.secret) == 0 {
		return "", nil
	}
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok {
		token = req.URL.Query().Get("access_token")
	}
	if token == "" {
		return "", fmt.Errorf("client did not provide a bearer token")
	}
	claims, err := authentication.VerifyToken(p.secret, token)
	if err != nil {
		return "", err
	}
	return authentication.Subject(claims), nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Info("Received %s request for %s", req.Method, req.URL.Path)

	subject, err := p.authorize(req)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err)
		return
	}

	method, ok := strings.CutPrefix(req.URL.Path, apiPrefix)
	if !ok || method == "" || strings.Contains(method, "/") {
		writeJSONError(w, http.StatusNotFound, nil)
		return
	}
	if method == webSocketPath {
		if req.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, nil)
			return
		}
		p.serveWebSocket(w, req, subject)
		return
	}
	p.handleCall(w, req, method)
}

func (p *Proxy) handleCall(w http.ResponseWriter, req *http.Request, method string) {
	op, err := lookupOperation(method, req.Method)
	if errors.Is(err, ErrMethodNotAllowed) {
		writeJSONError(w, http.StatusMethodNotAllowed, nil)
		return
	} else if err != nil {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("%w: %s", err, method))
		return
	}

	params, err := readParameters(w, req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	var recorder *eventRecorder
	var sink facade.EventSink
	if op.streams {
		recorder = &eventRecorder{}
		sink = recorder.sink()
	}
	result := p.backend.Handle(ctx, facade.Call{Method: method, Params: params}, sink)

	reply := Response{Response: result.Result, EOF: result.EOF}
	if recorder != nil {
		reply.Events = recorder.events
	}
	if result.Error != nil {
		reply.Error = result.Error.Code
		reply.ErrDetails = result.Error.Message
	}
	writeJSON(w, statusFor(result.Error), &reply)
}

func readParameters(w http.ResponseWriter, req *http.Request) (facade.RequestParameters, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read request body: %s", err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	var params facade.RequestParameters
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("could not parse JSON body: %s", err)
	}
	return params, nil
}

// Broadcast sends event to every open WebSocket session. Sessions that cannot keep up miss the
// event.
func (p *Proxy) Broadcast(event facade.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("Error serializing event %s: %s", event.Name, err)
		return
	}
	p.lock.RLock()
	defer p.lock.RUnlock()
	for s := range p.sessions {
		s.offer(data)
	}
}

// Sessions returns the number of open WebSocket sessions.
func (p *Proxy) Sessions() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.sessions)
}

func (p *Proxy) register(s *session) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.sessions[s] = struct{}{}
}

func (p *Proxy) unregister(s *session) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.sessions, s)
}
