package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rfcommd/btserial/internal/authentication"
	"github.com/rfcommd/btserial/pkg/client"
	"github.com/rfcommd/btserial/pkg/connector/sim"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/permission"
	"github.com/rfcommd/btserial/pkg/protocol"
	"github.com/rfcommd/btserial/pkg/proxy"
)

var _ = Describe("Stream", func() {
	var (
		ctx    context.Context
		server *httptest.Server
		p      *proxy.Proxy
		stream *client.Stream
		secret = []byte("stream test secret")
	)

	BeforeEach(func() {
		ctx = context.Background()
		adapter := sim.New(
			sim.Peer{Name: "HC-06", Address: address, Paired: true},
			sim.Peer{Name: "Scale", Address: "AA:BB:CC:DD:EE:01", Discoverable: true},
			sim.Peer{Address: "AA:BB:CC:DD:EE:02", Discoverable: true},
		)
		adapter.InquiryDuration = 20 * time.Millisecond
		f := facade.Build(adapter, permission.NewPolicy(permission.Required...), facade.Options{PollInterval: 20 * time.Millisecond})
		p = proxy.New(f, secret)
		server = httptest.NewServer(p)

		signed, err := authentication.SignToken(secret, "stream-test", time.Hour, nil)
		Expect(err).NotTo(HaveOccurred())
		stream, err = client.Dial(ctx, server.URL, signed)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			stream.Close()
			server.Close()
			f.Close()
		})
	})

	It("refuses to dial without a valid token", func() {
		_, err := client.Dial(ctx, server.URL, "")
		var proxyErr *client.Error
		Expect(errors.As(err, &proxyErr)).To(BeTrue())
		Expect(proxyErr.Status).To(Equal(http.StatusUnauthorized))
	})

	It("reports devices as they are found", func() {
		var lock sync.Mutex
		var found []protocol.Device
		devices, err := stream.Scan(ctx, 0, func(d protocol.Device) {
			lock.Lock()
			defer lock.Unlock()
			found = append(found, d)
		})
		Expect(err).NotTo(HaveOccurred())
		expected := []protocol.Device{
			{Name: "Scale", Address: "AA:BB:CC:DD:EE:01"},
			{Name: protocol.UnknownDeviceName, Address: "AA:BB:CC:DD:EE:02"},
		}
		Expect(devices).To(Equal(expected))
		lock.Lock()
		defer lock.Unlock()
		Expect(found).To(Equal(expected))
	})

	It("runs concurrent calls", func() {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				result, _, err := stream.Call(ctx, "getPairedDevices", nil, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(result)).To(MatchJSON(`[{"name":"HC-06","address":"00:11:22:33:44:55"}]`))
			}()
		}
		wg.Wait()
	})

	It("returns proxy errors", func() {
		_, _, err := stream.Call(ctx, "connect", facade.RequestParameters{"address": "nope"}, nil)
		Expect(err).To(MatchError(protocol.ErrInvalidAddress))
	})

	It("delivers broadcast events", func() {
		Eventually(p.Sessions).Should(Equal(1))
		p.Broadcast(facade.Event{Name: facade.EventStateChanged, Payload: map[string]string{"state": "idle"}})
		var event facade.Event
		Eventually(stream.Events()).Should(Receive(&event))
		Expect(event.Name).To(Equal(facade.EventStateChanged))
		Expect(string(event.Payload.(json.RawMessage))).To(MatchJSON(`{"state":"idle"}`))
	})

	It("fails calls after the stream ends", func() {
		Expect(stream.Close()).To(Succeed())
		Expect(stream.Done()).To(BeClosed())
		_, _, err := stream.Call(ctx, "getState", nil, nil)
		Expect(err).To(MatchError(client.ErrStreamClosed))
	})
})
