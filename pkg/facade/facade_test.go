package facade_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/connector/sim"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/permission"
	"github.com/rfcommd/btserial/pkg/protocol"
)

const (
	paired      = "00:11:22:33:44:55"
	unreachable = "66:77:88:99:AA:BB"
	hangup      = "00:11:22:33:44:77"
)

type recorder struct {
	lock   sync.Mutex
	events []facade.Event
}

func (r *recorder) Emit(_ context.Context, e facade.Event) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Events() []facade.Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]facade.Event{}, r.events...)
}

func pong(line string) []byte {
	if line == "PING" {
		return []byte("PONG")
	}
	return nil
}

var _ = Describe("Facade", func() {
	var (
		ctx     context.Context
		adapter *sim.Adapter
		policy  *permission.Policy
		f       *facade.Facade
	)

	call := func(method string, params facade.RequestParameters) facade.Response {
		return f.Handle(ctx, facade.Call{Method: method, Params: params}, nil)
	}

	expectCode := func(r facade.Response, code string) {
		ExpectWithOffset(1, r.Error).NotTo(BeNil())
		ExpectWithOffset(1, r.Error.Code).To(Equal(code))
	}

	BeforeEach(func() {
		ctx = context.Background()
		adapter = sim.New(
			sim.Peer{Name: "HC-06", Address: paired, Paired: true, Handler: sim.Lines(pong)},
			sim.Peer{Name: "Scale", Address: "AA:BB:CC:DD:EE:01", Discoverable: true},
			sim.Peer{Address: "AA:BB:CC:DD:EE:02", Discoverable: true},
			sim.Peer{Address: unreachable, Unreachable: true},
			sim.Peer{Address: hangup, Handler: sim.Hangup},
		)
		adapter.InquiryDuration = 20 * time.Millisecond
		adapter.RepeatReports = 2
		policy = permission.NewPolicy(permission.Required...)
		f = facade.Build(adapter, policy, facade.Options{PollInterval: 20 * time.Millisecond})
		DeferCleanup(f.Close)
	})

	Context("ensurePermissions", func() {
		It("returns true when everything is granted", func() {
			Expect(call("ensurePermissions", nil)).To(Equal(facade.Response{Result: true}))
		})

		It("returns false and requests missing capabilities", func() {
			policy.Revoke(permission.Connect)
			Expect(call("ensurePermissions", nil)).To(Equal(facade.Response{Result: false}))
			Expect(policy.Pending()).To(Equal([]permission.Capability{permission.Connect}))
		})

		It("fails without an authorization subsystem", func() {
			g := facade.Build(adapter, nil, facade.Options{})
			defer g.Close()
			expectCode(g.Handle(ctx, facade.Call{Method: "ensurePermissions"}, nil), facade.CodeNoActivity)
		})

		It("fails without an adapter", func() {
			g := facade.Build(nil, policy, facade.Options{})
			defer g.Close()
			expectCode(g.Handle(ctx, facade.Call{Method: "ensurePermissions"}, nil), facade.CodeNoAdapter)
		})
	})

	Context("getPairedDevices", func() {
		It("returns the paired devices", func() {
			r := call("getPairedDevices", nil)
			Expect(r.Error).To(BeNil())
			Expect(r.Result).To(Equal([]protocol.Device{{Name: "HC-06", Address: paired}}))
		})

		It("fails without an adapter", func() {
			g := facade.Build(nil, policy, facade.Options{})
			defer g.Close()
			expectCode(g.Handle(ctx, facade.Call{Method: "getPairedDevices"}, nil), facade.CodeNoAdapter)
		})
	})

	Context("scanDevices", func() {
		It("emits each device once and returns the final list", func() {
			sink := &recorder{}
			r := f.Handle(ctx, facade.Call{Method: "scanDevices"}, sink)
			Expect(r.Error).To(BeNil())
			expected := []protocol.Device{
				{Name: "Scale", Address: "AA:BB:CC:DD:EE:01"},
				{Name: protocol.UnknownDeviceName, Address: "AA:BB:CC:DD:EE:02"},
			}
			Expect(r.Result).To(Equal(expected))
			Expect(sink.Events()).To(Equal([]facade.Event{
				{Name: facade.EventDeviceFound, Payload: expected[0]},
				{Name: facade.EventDeviceFound, Payload: expected[1]},
			}))
		})

		It("requires an event sink", func() {
			expectCode(call("scanDevices", nil), facade.CodeNoContext)
		})

		It("requires scan permissions", func() {
			policy.Revoke(permission.Scan)
			expectCode(f.Handle(ctx, facade.Call{Method: "scanDevices"}, &recorder{}), facade.CodeNoPermission)
		})

		It("reports discovery start failures", func() {
			adapter.FailDiscovery(errors.New("radio busy"))
			r := f.Handle(ctx, facade.Call{Method: "scanDevices"}, &recorder{})
			expectCode(r, facade.CodeDiscoveryFailed)
			Expect(r.Error.Message).To(Equal("radio busy"))
		})

		It("rejects a concurrent scan", func() {
			adapter.InquiryDuration = time.Hour
			first := make(chan facade.Response, 1)
			f.Dispatch(ctx, facade.Call{Method: "scanDevices", Params: facade.RequestParameters{"timeout": 0.3}}, &recorder{}, func(r facade.Response) {
				first <- r
			})
			Eventually(func() int { return adapter.Inquiries() }).Should(Equal(1))
			expectCode(f.Handle(ctx, facade.Call{Method: "scanDevices"}, &recorder{}), facade.CodeDiscoveryFailed)
			Eventually(first, 2*time.Second).Should(Receive(HaveField("Error", BeNil())))
		})

		It("ends the scan when the sink fails", func() {
			adapter.InquiryDuration = time.Hour
			sink := facade.SinkFunc(func(context.Context, facade.Event) error {
				return errors.New("transport closed")
			})
			r := f.Handle(ctx, facade.Call{Method: "scanDevices"}, sink)
			Expect(r.Error).To(BeNil())
		})

		It("rejects timeouts it cannot represent", func() {
			for _, timeout := range []interface{}{1e300, -1.0, math.Inf(1), math.NaN()} {
				r := f.Handle(ctx, facade.Call{Method: "scanDevices", Params: facade.RequestParameters{"timeout": timeout}}, &recorder{})
				expectCode(r, facade.CodeDiscoveryFailed)
				Expect(r.Error.Message).To(Equal("invalid timeout param"))
			}
			Expect(adapter.Inquiries()).To(BeZero())
		})

		It("ends the scan when the caller goes away", func() {
			adapter.InquiryDuration = time.Hour
			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			r := f.Handle(short, facade.Call{Method: "scanDevices"}, &recorder{})
			Expect(r.Error).To(BeNil())
			Expect(r.Result).To(HaveLen(2))
		})
	})

	Context("connect", func() {
		It("returns true for a reachable device", func() {
			Expect(call("connect", facade.RequestParameters{"address": paired})).To(Equal(facade.Response{Result: true}))
			Expect(call("getState", nil).Result).To(Equal(connection.Status{State: connection.Connected, Address: paired}))
		})

		It("reports unreachable devices", func() {
			r := call("connect", facade.RequestParameters{"address": unreachable})
			expectCode(r, facade.CodeConnectionFailed)
			Expect(r.Error.Message).To(ContainSubstring("host is down"))
		})

		It("rejects missing and malformed addresses", func() {
			expectCode(call("connect", nil), facade.CodeInvalidAddress)
			expectCode(call("connect", facade.RequestParameters{"address": 42.0}), facade.CodeInvalidAddress)
			expectCode(call("connect", facade.RequestParameters{"address": "bogus"}), facade.CodeInvalidAddress)
		})

		It("reports an already connected session", func() {
			call("connect", facade.RequestParameters{"address": paired})
			r := call("connect", facade.RequestParameters{"address": paired})
			expectCode(r, facade.CodeConnectionFailed)
			Expect(r.Error.Message).To(Equal("already connected"))
		})
	})

	Context("transfer", func() {
		BeforeEach(func() {
			Expect(call("connect", facade.RequestParameters{"address": paired}).Error).To(BeNil())
		})

		It("writes and reads", func() {
			Expect(call("write", facade.RequestParameters{"message": "PING\n"})).To(Equal(facade.Response{Result: true}))
			Eventually(func() interface{} {
				return call("read", nil).Result
			}).Should(Equal("PONG"))
		})

		It("returns null when no data is available", func() {
			Expect(call("read", nil)).To(Equal(facade.Response{}))
		})

		It("fails to write after disconnect", func() {
			Expect(call("write", facade.RequestParameters{"message": "PING\n"}).Error).To(BeNil())
			Expect(call("disconnect", nil)).To(Equal(facade.Response{Result: true}))
			r := call("write", facade.RequestParameters{"message": "PING\n"})
			expectCode(r, facade.CodeWriteError)
			Expect(r.Error.Message).To(Equal("not connected"))
			expectCode(call("read", nil), facade.CodeReadError)
		})

		It("flags end of stream", func() {
			call("disconnect", nil)
			Expect(call("connect", facade.RequestParameters{"address": hangup}).Error).To(BeNil())
			Eventually(func() facade.Response {
				return call("read", nil)
			}).Should(Equal(facade.Response{EOF: true}))
		})

		It("rejects invalid parameter types", func() {
			expectCode(call("write", facade.RequestParameters{"message": 12.0}), facade.CodeWriteError)
			expectCode(call("read", facade.RequestParameters{"capacity": "big"}), facade.CodeReadError)
		})

		It("rejects capacities it cannot honour", func() {
			for _, capacity := range []interface{}{1e15, float64(connector.MaxReadBufferSize + 1), -1.0, 2.5, math.NaN(), math.Inf(1)} {
				r := call("read", facade.RequestParameters{"capacity": capacity})
				expectCode(r, facade.CodeReadError)
				Expect(r.Error.Message).To(Equal("invalid capacity param"))
			}
			Expect(call("getState", nil).Result).To(HaveField("State", connection.Connected))
			Expect(call("read", facade.RequestParameters{"capacity": float64(connector.MaxReadBufferSize)})).To(Equal(facade.Response{}))
		})
	})

	It("always succeeds to disconnect", func() {
		Expect(call("disconnect", nil)).To(Equal(facade.Response{Result: true}))
		Expect(call("getState", nil).Result).To(Equal(connection.Status{State: connection.Idle}))
	})

	It("reports unknown methods", func() {
		expectCode(call("pair", nil), facade.CodeNotImplemented)
	})

	It("encodes responses for host transports", func() {
		encoded, err := json.Marshal(facade.Response{})
		Expect(err).NotTo(HaveOccurred())
		Expect(encoded).To(MatchJSON(`{"result":null}`))

		encoded, err = json.Marshal(call("connect", facade.RequestParameters{"address": unreachable}))
		Expect(err).NotTo(HaveOccurred())
		Expect(encoded).To(MatchJSON(`{"result":null,"error":{"code":"CONNECTION_FAILED","message":"sim: host is down: 66:77:88:99:AA:BB"}}`))

		encoded, err = json.Marshal(call("getState", nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(encoded).To(MatchJSON(`{"result":{"state":"idle"}}`))
	})
})
