package proxy_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/rfcommd/btserial/internal/authentication"
	"github.com/rfcommd/btserial/mocks"
	"github.com/rfcommd/btserial/pkg/connector/sim"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/permission"
	"github.com/rfcommd/btserial/pkg/protocol"
	"github.com/rfcommd/btserial/pkg/proxy"
)

const address = "00:11:22:33:44:55"

var secret = []byte("0123456789abcdef0123456789abcdef")

type wsMessage struct {
	ID      uint64          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Result  json.RawMessage `json:"result"`
	EOF     bool            `json:"eof"`
	Error   *facade.Error   `json:"error"`
}

var _ = Describe("Proxy", func() {
	var (
		ctrl    *gomock.Controller
		backend *mocks.ProxyBackend
		p       *proxy.Proxy
		token   string
	)

	sendRequest := func(method, path string, token string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		p.ServeHTTP(rr, req)
		return rr
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		backend = mocks.NewProxyBackend(ctrl)
		p = proxy.New(backend, nil)
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Context("routing", func() {
		It("returns not found for unknown operations", func() {
			rr := sendRequest(http.MethodPost, "/api/1/pair", "", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":null,"error":"command not implemented: pair"}`))
		})

		It("returns not found outside the API prefix", func() {
			rr := sendRequest(http.MethodGet, "/status", "", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})

		It("rejects GET for mutating operations", func() {
			rr := sendRequest(http.MethodGet, "/api/1/connect", "", nil)
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("accepts GET for read-only operations", func() {
			backend.EXPECT().Handle(gomock.Any(), facade.Call{Method: "getPairedDevices"}, gomock.Nil()).
				Return(facade.Response{Result: []protocol.Device{{Name: "HC-06", Address: address}}})
			rr := sendRequest(http.MethodGet, "/api/1/getPairedDevices", "", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":[{"name":"HC-06","address":"00:11:22:33:44:55"}]}`))
		})

		It("rejects malformed bodies", func() {
			rr := sendRequest(http.MethodPost, "/api/1/connect", "", []byte("invalid"))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("operations", func() {
		It("passes parameters to the backend", func() {
			backend.EXPECT().Handle(gomock.Any(), facade.Call{
				Method: "connect",
				Params: facade.RequestParameters{"address": address},
			}, gomock.Nil()).Return(facade.Response{Result: true})

			rr := sendRequest(http.MethodPost, "/api/1/connect", "", []byte(`{"address":"00:11:22:33:44:55"}`))
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":true}`))
		})

		It("maps error codes to status codes", func() {
			backend.EXPECT().Handle(gomock.Any(), gomock.Any(), gomock.Nil()).
				Return(facade.Response{Error: &facade.Error{Code: facade.CodeConnectionFailed, Message: "host is down"}})
			rr := sendRequest(http.MethodPost, "/api/1/connect", "", []byte(`{"address":"00:11:22:33:44:55"}`))
			Expect(rr.Code).To(Equal(http.StatusBadGateway))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":null,"error":"CONNECTION_FAILED","error_description":"host is down"}`))

			backend.EXPECT().Handle(gomock.Any(), gomock.Any(), gomock.Nil()).
				Return(facade.Response{Error: &facade.Error{Code: facade.CodeNoPermission}})
			rr = sendRequest(http.MethodPost, "/api/1/ensurePermissions", "", nil)
			Expect(rr.Code).To(Equal(http.StatusForbidden))
		})

		It("reports end of stream", func() {
			backend.EXPECT().Handle(gomock.Any(), facade.Call{Method: "read"}, gomock.Nil()).
				Return(facade.Response{EOF: true})
			rr := sendRequest(http.MethodPost, "/api/1/read", "", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":null,"eof":true}`))
		})

		It("collects scan events into the reply", func() {
			device := protocol.Device{Name: "Scale", Address: address}
			backend.EXPECT().Handle(gomock.Any(), facade.Call{Method: "scanDevices"}, gomock.Not(gomock.Nil())).
				DoAndReturn(func(ctx context.Context, _ facade.Call, sink facade.EventSink) facade.Response {
					Expect(sink.Emit(ctx, facade.Event{Name: facade.EventDeviceFound, Payload: device})).To(Succeed())
					return facade.Response{Result: []protocol.Device{device}}
				})
			rr := sendRequest(http.MethodPost, "/api/1/scanDevices", "", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{
				"response": [{"name":"Scale","address":"00:11:22:33:44:55"}],
				"events": [{"event":"onDeviceFound","payload":{"name":"Scale","address":"00:11:22:33:44:55"}}]
			}`))
		})
	})

	Context("authentication", func() {
		BeforeEach(func() {
			p = proxy.New(backend, secret)
			var err error
			token, err = authentication.SignToken(secret, "workbench", time.Hour, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects requests without a token", func() {
			rr := sendRequest(http.MethodGet, "/api/1/getState", "", nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects tokens signed with another secret", func() {
			other, err := authentication.SignToken([]byte("another secret"), "workbench", time.Hour, nil)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/getState", other, nil)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid tokens", func() {
			backend.EXPECT().Handle(gomock.Any(), facade.Call{Method: "getState"}, gomock.Nil()).
				Return(facade.Response{Result: map[string]string{"state": "idle"}})
			rr := sendRequest(http.MethodGet, "/api/1/getState", token, nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":{"state":"idle"}}`))
		})
	})

	Describe("WebSocket sessions", func() {
		var (
			server  *httptest.Server
			adapter *sim.Adapter
			conn    *websocket.Conn
		)

		dial := func(query string) (*websocket.Conn, *http.Response, error) {
			url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/1/ws" + query
			return websocket.DefaultDialer.Dial(url, nil)
		}

		call := func(id uint64, method string, params facade.RequestParameters) (wsMessage, []wsMessage) {
			Expect(conn.WriteJSON(proxy.Request{ID: id, Method: method, Params: params})).To(Succeed())
			var events []wsMessage
			for {
				var msg wsMessage
				conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				Expect(conn.ReadJSON(&msg)).To(Succeed())
				if msg.Event != "" {
					events = append(events, msg)
					continue
				}
				Expect(msg.ID).To(Equal(id))
				return msg, events
			}
		}

		BeforeEach(func() {
			adapter = sim.New(
				sim.Peer{Name: "HC-06", Address: address, Paired: true},
				sim.Peer{Name: "Scale", Address: "AA:BB:CC:DD:EE:01", Discoverable: true},
			)
			adapter.InquiryDuration = 20 * time.Millisecond
			f := facade.Build(adapter, permission.NewPolicy(permission.Required...), facade.Options{PollInterval: 20 * time.Millisecond})
			p = proxy.New(f, secret)
			server = httptest.NewServer(p)
			var err error
			token, err = authentication.SignToken(secret, "workbench", time.Hour, nil)
			Expect(err).NotTo(HaveOccurred())
			conn, _, err = dial("?access_token=" + token)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(func() {
				conn.Close()
				server.Close()
				f.Close()
			})
		})

		It("rejects unauthenticated upgrades", func() {
			_, rsp, err := dial("")
			Expect(err).To(MatchError(websocket.ErrBadHandshake))
			Expect(rsp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("streams discovery events before the reply", func() {
			reply, events := call(1, "scanDevices", nil)
			Expect(reply.Error).To(BeNil())
			Expect(string(reply.Result)).To(MatchJSON(`[{"name":"Scale","address":"AA:BB:CC:DD:EE:01"}]`))
			Expect(events).To(HaveLen(1))
			Expect(events[0].ID).To(Equal(uint64(1)))
			Expect(events[0].Event).To(Equal(facade.EventDeviceFound))
			Expect(string(events[0].Payload)).To(MatchJSON(`{"name":"Scale","address":"AA:BB:CC:DD:EE:01"}`))
		})

		It("runs a serial session", func() {
			reply, _ := call(1, "connect", facade.RequestParameters{"address": address})
			Expect(reply.Error).To(BeNil())
			Expect(string(reply.Result)).To(MatchJSON(`true`))

			reply, _ = call(2, "write", facade.RequestParameters{"message": "hello"})
			Expect(string(reply.Result)).To(MatchJSON(`true`))

			Eventually(func() string {
				reply, _ := call(3, "read", nil)
				return string(reply.Result)
			}).Should(Equal(`"hello"`))

			reply, _ = call(4, "disconnect", nil)
			Expect(string(reply.Result)).To(MatchJSON(`true`))
			reply, _ = call(5, "write", facade.RequestParameters{"message": "hello"})
			Expect(reply.Error).To(Equal(&facade.Error{Code: facade.CodeWriteError, Message: "not connected"}))
		})

		It("answers unknown methods", func() {
			reply, _ := call(7, "pair", nil)
			Expect(reply.Error).To(Equal(&facade.Error{Code: facade.CodeNotImplemented, Message: "pair"}))
		})

		It("broadcasts events to every session", func() {
			Eventually(p.Sessions).Should(Equal(1))
			p.Broadcast(facade.Event{Name: facade.EventStateChanged, Payload: map[string]string{"state": "connected"}})
			var msg wsMessage
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			Expect(conn.ReadJSON(&msg)).To(Succeed())
			Expect(msg.ID).To(BeZero())
			Expect(msg.Event).To(Equal(facade.EventStateChanged))
			Expect(string(msg.Payload)).To(MatchJSON(`{"state":"connected"}`))
		})

		It("forgets closed sessions", func() {
			Eventually(p.Sessions).Should(Equal(1))
			conn.Close()
			Eventually(p.Sessions).Should(BeZero())
		})
	})
})
