package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rfcommd/btserial/pkg/client"
	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/protocol"
)

const (
	baseURL = "https://proxy.example.com:4443"
	token   = "header.payload.signature"
	address = "00:11:22:33:44:55"
)

func endpoint(method string) string {
	return baseURL + "/api/1/" + method
}

func decodeBody(r *http.Request) map[string]interface{} {
	body, err := io.ReadAll(r.Body)
	Expect(err).NotTo(HaveOccurred())
	if len(body) == 0 {
		return nil
	}
	var params map[string]interface{}
	Expect(json.Unmarshal(body, &params)).To(Succeed())
	return params
}

var _ = Describe("Client", func() {
	var (
		ctx context.Context
		c   *client.Client
	)

	BeforeEach(func() {
		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)
		ctx = context.Background()
		var err error
		c, err = client.New(baseURL+"/", token, "workbench/1.0")
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects invalid proxy URLs", func() {
		for _, u := range []string{"", "ftp://proxy", "https://", "://bad"} {
			_, err := client.New(u, "", "")
			Expect(err).To(HaveOccurred(), u)
		}
	})

	It("lists paired devices", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("getPairedDevices"), func(r *http.Request) (*http.Response, error) {
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer " + token))
			Expect(r.Header.Get("User-Agent")).To(HavePrefix("workbench/1.0 btserial-client/"))
			return httpmock.NewStringResponse(http.StatusOK, `{"response":[{"name":"HC-06","address":"00:11:22:33:44:55"}]}`), nil
		})
		devices, err := c.PairedDevices(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(Equal([]protocol.Device{{Name: "HC-06", Address: address}}))
	})

	It("reports permission state", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("ensurePermissions"),
			httpmock.NewStringResponder(http.StatusOK, `{"response":false}`))
		granted, err := c.EnsurePermissions(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(granted).To(BeFalse())
	})

	It("sends the scan timeout in seconds", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("scanDevices"), func(r *http.Request) (*http.Response, error) {
			Expect(decodeBody(r)).To(Equal(map[string]interface{}{"timeout": 2.5}))
			return httpmock.NewStringResponse(http.StatusOK, `{"response":[],"events":[]}`), nil
		})
		devices, err := c.Scan(ctx, 2500*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(BeEmpty())
	})

	It("connects and maps failures to protocol errors", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("connect"), func(r *http.Request) (*http.Response, error) {
			if decodeBody(r)["address"] == address {
				return httpmock.NewStringResponse(http.StatusOK, `{"response":true}`), nil
			}
			return httpmock.NewStringResponse(http.StatusBadGateway,
				`{"response":null,"error":"CONNECTION_FAILED","error_description":"sim: host is down"}`), nil
		})
		Expect(c.Connect(ctx, address)).To(Succeed())

		err := c.Connect(ctx, "66:77:88:99:AA:BB")
		Expect(err).To(MatchError(protocol.ErrConnectionFailed))
		var proxyErr *client.Error
		Expect(errors.As(err, &proxyErr)).To(BeTrue())
		Expect(proxyErr.Status).To(Equal(http.StatusBadGateway))
		Expect(proxyErr.Message).To(Equal("sim: host is down"))
	})

	It("recognizes transfers without a connection", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("write"), func(r *http.Request) (*http.Response, error) {
			Expect(decodeBody(r)).To(Equal(map[string]interface{}{"message": "PING\n"}))
			return httpmock.NewStringResponse(http.StatusBadGateway,
				`{"response":null,"error":"WRITE_ERROR","error_description":"not connected"}`), nil
		})
		err := c.Write(ctx, "PING\n")
		Expect(err).To(MatchError(protocol.ErrNotConnected))
		Expect(errors.Is(err, protocol.ErrIOFailure)).To(BeFalse())
	})

	Context("reading", func() {
		It("returns data", func() {
			httpmock.RegisterResponder(http.MethodPost, endpoint("read"), func(r *http.Request) (*http.Response, error) {
				Expect(decodeBody(r)).To(Equal(map[string]interface{}{"capacity": 16.0}))
				return httpmock.NewStringResponse(http.StatusOK, `{"response":"PONG"}`), nil
			})
			data, eof, err := c.Read(ctx, 16)
			Expect(err).NotTo(HaveOccurred())
			Expect(eof).To(BeFalse())
			Expect(data).To(Equal("PONG"))
		})

		It("distinguishes no data from end of stream", func() {
			httpmock.RegisterResponder(http.MethodPost, endpoint("read"),
				httpmock.NewStringResponder(http.StatusOK, `{"response":null}`))
			data, eof, err := c.Read(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(BeEmpty())
			Expect(eof).To(BeFalse())

			httpmock.RegisterResponder(http.MethodPost, endpoint("read"),
				httpmock.NewStringResponder(http.StatusOK, `{"response":null,"eof":true}`))
			_, eof, err = c.Read(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(eof).To(BeTrue())
		})
	})

	It("decodes the connection state", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("getState"),
			httpmock.NewStringResponder(http.StatusOK, `{"response":{"state":"connected","address":"00:11:22:33:44:55"}}`))
		status, err := c.State(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(connection.Status{State: connection.Connected, Address: address}))
	})

	It("reports non-JSON failures", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("disconnect"),
			httpmock.NewStringResponder(http.StatusInternalServerError, "upstream exploded"))
		err := c.Disconnect(ctx)
		var proxyErr *client.Error
		Expect(errors.As(err, &proxyErr)).To(BeTrue())
		Expect(proxyErr.Status).To(Equal(http.StatusInternalServerError))
		Expect(proxyErr.Message).To(Equal("upstream exploded"))
		Expect(errors.Unwrap(err)).To(BeNil())
	})

	It("rejects oversized replies", func() {
		httpmock.RegisterResponder(http.MethodPost, endpoint("read"),
			httpmock.NewStringResponder(http.StatusOK, `{"response":"`+strings.Repeat("x", client.MaxResponseLength)+`"}`))
		_, _, err := c.Read(ctx, 0)
		Expect(err).To(MatchError(ContainSubstring("maximum length")))
	})
})
