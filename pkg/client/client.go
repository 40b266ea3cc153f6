// Package client calls a btserial proxy. [Client] issues one-shot REST calls; [Stream] holds a
// WebSocket session and receives discovery events as they happen.
package client

import (
	"bytes"
	"context"
	_ "embed" // Used to embed version for use with user agent
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/protocol"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// MaxResponseLength bounds the size of a proxy reply.
const MaxResponseLength = 1 << 20

func buildUserAgent(app string) string {
	library := strings.TrimSpace("btserial-client/" + libraryVersion)
	if app != "" {
		return fmt.Sprintf("%s %s", app, library)
	}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 || path[len(path)-1] == "" {
		return library
	}
	app = path[len(path)-1]
	if build.Main.Version != "(devel)" && build.Main.Version != "" {
		app = fmt.Sprintf("%s/%s", app, build.Main.Version)
	}
	return fmt.Sprintf("%s %s", app, library)
}

// Error is a failure reported by the proxy.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

// Unwrap returns the protocol sentinel matching the error code, so that callers can use errors.Is
// with the same sentinels as a local session.
func (e *Error) Unwrap() error {
	return sentinelFor(e.Code, e.Message)
}

func sentinelFor(code, message string) error {
	switch code {
	case facade.CodeNoActivity:
		return protocol.ErrHostUnavailable
	case facade.CodeNoAdapter:
		return protocol.ErrAdapterUnavailable
	case facade.CodeNoContext:
		return protocol.ErrNoEventSink
	case facade.CodeNoPermission:
		return protocol.ErrPermissionDenied
	case facade.CodeDiscoveryFailed:
		if message == protocol.ErrScanAlreadyInProgress.Error() {
			return protocol.ErrScanAlreadyInProgress
		}
		return protocol.ErrDiscoveryStartFailed
	case facade.CodeInvalidAddress:
		return protocol.ErrInvalidAddress
	case facade.CodeConnectionFailed:
		switch message {
		case protocol.ErrAlreadyConnected.Error():
			return protocol.ErrAlreadyConnected
		case protocol.ErrConnectInProgress.Error():
			return protocol.ErrConnectInProgress
		}
		return protocol.ErrConnectionFailed
	case facade.CodeWriteError, facade.CodeReadError:
		if message == protocol.ErrNotConnected.Error() {
			return protocol.ErrNotConnected
		}
		return protocol.ErrIOFailure
	}
	return nil
}

type reply struct {
	Response   json.RawMessage `json:"response"`
	EOF        bool            `json:"eof"`
	Events     []facade.Event  `json:"events"`
	Error      string          `json:"error"`
	ErrDetails string          `json:"error_description"`
}

// Client issues REST calls to a proxy.
type Client struct {
	// The default UserAgent is built from the application's module path, but can be overridden.
	UserAgent  string
	baseURL    string
	authHeader string
	client     http.Client
}

// New returns a Client for the proxy at baseURL (e.g. "https://localhost:4443"). An empty token
// sends unauthenticated requests.
func New(baseURL, token, userAgent string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid proxy URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("proxy URL has no host")
	}
	c := &Client{
		UserAgent: buildUserAgent(userAgent),
		baseURL:   strings.TrimSuffix(u.String(), "/"),
		client:    http.Client{Timeout: 60 * time.Second},
	}
	if token != "" {
		c.authHeader = "Bearer " + strings.TrimSpace(token)
	}
	return c, nil
}

func (c *Client) call(ctx context.Context, method string, params facade.RequestParameters) (*reply, error) {
	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	endpoint := c.baseURL + "/api/1/" + method
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", c.UserAgent)
	if c.authHeader != "" {
		request.Header.Set("Authorization", c.authHeader)
	}
	log.Debug("Requesting %s", endpoint)

	result, err := c.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()
	data, err := io.ReadAll(io.LimitReader(result.Body, MaxResponseLength+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxResponseLength {
		return nil, errors.New("proxy response exceeds maximum length")
	}
	log.Debug("Server returned %d: %s", result.StatusCode, data)

	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &Error{Status: result.StatusCode, Code: http.StatusText(result.StatusCode), Message: string(bytes.TrimSpace(data))}
	}
	if r.Error != "" || result.StatusCode != http.StatusOK {
		code := r.Error
		if code == "" {
			code = http.StatusText(result.StatusCode)
		}
		return nil, &Error{Status: result.StatusCode, Code: code, Message: r.ErrDetails}
	}
	return &r, nil
}

func decodeResult[T any](r *reply) (T, error) {
	var value T
	if err := json.Unmarshal(r.Response, &value); err != nil {
		return value, fmt.Errorf("unexpected response %s: %w", r.Response, err)
	}
	return value, nil
}

// EnsurePermissions reports whether every capability the session needs is granted. Missing
// capabilities are requested from the proxy host.
func (c *Client) EnsurePermissions(ctx context.Context) (bool, error) {
	r, err := c.call(ctx, "ensurePermissions", nil)
	if err != nil {
		return false, err
	}
	return decodeResult[bool](r)
}

// PairedDevices returns the devices bonded with the proxy's adapter.
func (c *Client) PairedDevices(ctx context.Context) ([]protocol.Device, error) {
	r, err := c.call(ctx, "getPairedDevices", nil)
	if err != nil {
		return nil, err
	}
	return decodeResult[[]protocol.Device](r)
}

// Scan runs a discovery session and returns the devices it found. A non-positive timeout uses
// the proxy's default. Use [Stream.Scan] to observe devices as they are found.
func (c *Client) Scan(ctx context.Context, timeout time.Duration) ([]protocol.Device, error) {
	var params facade.RequestParameters
	if timeout > 0 {
		params = facade.RequestParameters{"timeout": timeout.Seconds()}
	}
	r, err := c.call(ctx, "scanDevices", params)
	if err != nil {
		return nil, err
	}
	return decodeResult[[]protocol.Device](r)
}

// Connect opens the serial channel to address.
func (c *Client) Connect(ctx context.Context, address string) error {
	_, err := c.call(ctx, "connect", facade.RequestParameters{"address": address})
	return err
}

// Disconnect closes the serial channel. It succeeds when nothing is connected.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.call(ctx, "disconnect", nil)
	return err
}

// Write sends message over the serial channel.
func (c *Client) Write(ctx context.Context, message string) error {
	_, err := c.call(ctx, "write", facade.RequestParameters{"message": message})
	return err
}

// Read returns the data available on the serial channel, up to capacity bytes (the proxy's
// buffer size if capacity is not positive). An empty string means no data was available; eof
// reports that the remote end closed the channel.
func (c *Client) Read(ctx context.Context, capacity int) (data string, eof bool, err error) {
	var params facade.RequestParameters
	if capacity > 0 {
		params = facade.RequestParameters{"capacity": capacity}
	}
	r, err := c.call(ctx, "read", params)
	if err != nil {
		return "", false, err
	}
	if r.EOF {
		return "", true, nil
	}
	if len(r.Response) == 0 || string(r.Response) == "null" {
		return "", false, nil
	}
	data, err = decodeResult[string](r)
	return data, false, err
}

// State returns the connection state of the proxy's session.
func (c *Client) State(ctx context.Context) (connection.Status, error) {
	r, err := c.call(ctx, "getState", nil)
	if err != nil {
		return connection.Status{}, err
	}
	return decodeResult[connection.Status](r)
}
