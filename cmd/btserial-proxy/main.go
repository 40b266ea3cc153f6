package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/cli"
	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/proxy"
)

const (
	defaultHost = "localhost"
	defaultPort = 4443

	tlsFiles      = "files"
	tlsSelfSigned = "self-signed"
	tlsNone       = "none"
)

const (
	EnvTlsCert = "BTSERIAL_PROXY_TLS_CERT"
	EnvTlsKey  = "BTSERIAL_PROXY_TLS_KEY"
	EnvHost    = "BTSERIAL_PROXY_HOST"
	EnvPort    = "BTSERIAL_PROXY_PORT"
	EnvTimeout = "BTSERIAL_PROXY_TIMEOUT"
)

const nonLocalhostWarning = `
Do not listen on a network interface without client authentication. Anyone who can reach the proxy
can read and write the serial link of the attached device. Provide a signing secret with
-secret-name or -secret-file and hand out tokens minted by btserial-token.`

var ErrUnauthenticatedListener = errors.New("refusing to listen on a non-loopback address without a signing secret")

type HttpProxyConfig struct {
	keyFilename  string
	certFilename string
	selfSigned   bool
	plaintext    bool
	host         string
	port         int
	timeout      time.Duration
}

var (
	httpConfig = &HttpProxyConfig{}
)

func init() {
	flag.StringVar(&httpConfig.certFilename, "cert", "", "TLS certificate chain `file` with concatenated server, intermediate CA, and root CA certificates")
	flag.StringVar(&httpConfig.keyFilename, "tls-key", "", "Server TLS private key `file`")
	flag.BoolVar(&httpConfig.selfSigned, "self-signed", false, "Generate a self-signed TLS certificate instead of loading -cert and -tls-key")
	flag.BoolVar(&httpConfig.plaintext, "plaintext", false, "Serve plain HTTP; only use behind a TLS-terminating reverse proxy")
	flag.StringVar(&httpConfig.host, "host", defaultHost, "Proxy server `hostname`")
	flag.IntVar(&httpConfig.port, "port", defaultPort, "`Port` to listen on")
	flag.DurationVar(&httpConfig.timeout, "timeout", proxy.DefaultTimeout, "Timeout interval for a single operation")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA server that exposes a REST and WebSocket API for a Bluetooth serial session")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, nonLocalhostWarning)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

// tlsMode selects how the server secures connections.
func (c *HttpProxyConfig) tlsMode() (string, error) {
	switch {
	case c.plaintext:
		return tlsNone, nil
	case c.selfSigned:
		return tlsSelfSigned, nil
	case c.certFilename != "" && c.keyFilename != "":
		return tlsFiles, nil
	}
	return "", errors.New("provide -cert and -tls-key, or use -self-signed or -plaintext")
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// loadSecret returns the token signing secret. A missing secret is only acceptable on loopback.
func loadSecret(config *cli.Config, host string) ([]byte, error) {
	secret, err := config.Secret()
	if errors.Is(err, cli.ErrNoSecretSpecified) {
		if !isLoopback(host) {
			return nil, ErrUnauthenticatedListener
		}
		log.Warning("No signing secret configured; accepting unauthenticated requests")
		return nil, nil
	}
	return secret, err
}

// buildProxy opens the session described by config and wraps it in a proxy that broadcasts
// connection state changes to WebSocket clients.
func buildProxy(ctx context.Context, config *cli.Config, secret []byte) (*proxy.Proxy, *facade.Facade, error) {
	var current atomic.Pointer[proxy.Proxy]
	session, err := config.Open(ctx, func(s connection.Status) {
		log.Info("Connection state: %s", s)
		if p := current.Load(); p != nil {
			p.Broadcast(facade.Event{Name: facade.EventStateChanged, Payload: s})
		}
	})
	if err != nil {
		return nil, nil, err
	}
	p := proxy.New(session, secret)
	p.Timeout = httpConfig.timeout
	current.Store(p)
	return p, session, nil
}

func main() {
	config, err := cli.NewConfig(cli.FlagAdapter | cli.FlagSession | cli.FlagSecret)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	if err = readFromEnvironment(); err != nil {
		return
	}
	config.ReadFromEnvironment()
	if err = config.LoadFile(); err != nil {
		return
	}
	applyFileDefaults(config)

	if config.Verbose {
		log.SetLevel(log.LevelDebug)
	}

	if !isLoopback(httpConfig.host) {
		fmt.Fprintln(os.Stderr, nonLocalhostWarning)
	}

	var mode string
	if mode, err = httpConfig.tlsMode(); err != nil {
		return
	}

	var secret []byte
	if secret, err = loadSecret(config, httpConfig.host); err != nil {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug("Creating proxy")
	p, session, err := buildProxy(ctx, config, secret)
	if err != nil {
		return
	}
	defer session.Close()

	addr := fmt.Sprintf("%s:%d", httpConfig.host, httpConfig.port)
	server, certPEM, err := NewServer(addr, p, mode)
	if err != nil {
		return
	}
	if certPEM != "" {
		fmt.Fprintf(os.Stderr, "Serving with a self-signed certificate:\n%s", certPEM)
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("Listening on %s", addr)
	var serveErr error
	switch mode {
	case tlsNone:
		serveErr = server.ListenAndServe()
	case tlsSelfSigned:
		serveErr = server.ListenAndServeTLS("", "")
	default:
		serveErr = server.ListenAndServeTLS(httpConfig.certFilename, httpConfig.keyFilename)
	}
	if !errors.Is(serveErr, http.ErrServerClosed) {
		err = serveErr
	}
}

// applyFileDefaults fills listener settings the command line and environment left at their
// defaults from the configuration file.
func applyFileDefaults(config *cli.Config) {
	if httpConfig.host == defaultHost && config.ProxyHost != "" {
		httpConfig.host = config.ProxyHost
	}
	if httpConfig.port == defaultPort && config.ProxyPort != 0 {
		httpConfig.port = config.ProxyPort
	}
	if httpConfig.timeout == proxy.DefaultTimeout && config.ProxyTimeout != 0 {
		httpConfig.timeout = config.ProxyTimeout
	}
}

// readConfig applies configuration from environment variables.
// Values are not overwritten.
func readFromEnvironment() error {
	if httpConfig.certFilename == "" {
		httpConfig.certFilename = os.Getenv(EnvTlsCert)
	}

	if httpConfig.keyFilename == "" {
		httpConfig.keyFilename = os.Getenv(EnvTlsKey)
	}

	if httpConfig.host == defaultHost {
		host, ok := os.LookupEnv(EnvHost)
		if ok {
			httpConfig.host = host
		}
	}

	var err error
	if httpConfig.port == defaultPort {
		if port, ok := os.LookupEnv(EnvPort); ok {
			httpConfig.port, err = strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid port: %s", port)
			}
		}
	}

	if httpConfig.timeout == proxy.DefaultTimeout {
		if timeoutEnv, ok := os.LookupEnv(EnvTimeout); ok {
			httpConfig.timeout, err = time.ParseDuration(timeoutEnv)
			if err != nil {
				return fmt.Errorf("invalid timeout: %s", timeoutEnv)
			}
		}
	}

	return nil
}
