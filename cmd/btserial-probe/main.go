package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/cli"
	"github.com/rfcommd/btserial/pkg/client"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/protocol"
)

var (
	testScan    = flag.Bool("scan", false, "Also run a discovery session")
	scanTimeout = flag.Duration("duration", 10*time.Second, "Discovery session length")
)

// probe reports what the adapter can see.
type probe interface {
	permissions(ctx context.Context) (bool, error)
	paired(ctx context.Context) ([]protocol.Device, error)
	scan(ctx context.Context, timeout time.Duration) ([]protocol.Device, error)
}

type localProbe struct {
	session *facade.Facade
}

func (l *localProbe) permissions(ctx context.Context) (bool, error) {
	rsp := l.session.Handle(ctx, facade.Call{Method: "ensurePermissions"}, nil)
	if rsp.Error != nil {
		return false, rsp.Error
	}
	granted, _ := rsp.Result.(bool)
	return granted, nil
}

func (l *localProbe) paired(ctx context.Context) ([]protocol.Device, error) {
	rsp := l.session.Handle(ctx, facade.Call{Method: "getPairedDevices"}, nil)
	if rsp.Error != nil {
		return nil, rsp.Error
	}
	devices, _ := rsp.Result.([]protocol.Device)
	return devices, nil
}

func (l *localProbe) scan(ctx context.Context, timeout time.Duration) ([]protocol.Device, error) {
	sink := facade.SinkFunc(func(_ context.Context, e facade.Event) error {
		if d, ok := e.Payload.(protocol.Device); ok {
			log.Info("Found %s", d)
		}
		return nil
	})
	params := facade.RequestParameters{"timeout": timeout.Seconds()}
	rsp := l.session.Handle(ctx, facade.Call{Method: "scanDevices", Params: params}, sink)
	if rsp.Error != nil {
		return nil, rsp.Error
	}
	devices, _ := rsp.Result.([]protocol.Device)
	return devices, nil
}

type remoteProbe struct {
	client *client.Client
}

func (r *remoteProbe) permissions(ctx context.Context) (bool, error) {
	return r.client.EnsurePermissions(ctx)
}

func (r *remoteProbe) paired(ctx context.Context) ([]protocol.Device, error) {
	return r.client.PairedDevices(ctx)
}

func (r *remoteProbe) scan(ctx context.Context, timeout time.Duration) ([]protocol.Device, error) {
	return r.client.Scan(ctx, timeout)
}

func run(ctx context.Context, p probe, scan bool, timeout time.Duration) error {
	granted, err := p.permissions(ctx)
	if err != nil {
		return err
	}
	if !granted {
		log.Warning("Bluetooth permissions are not granted; discovery will fail")
	}

	devices, err := p.paired(ctx)
	if err != nil {
		return err
	}
	log.Info("Adapter reports %d paired devices", len(devices))
	if err := json.NewEncoder(os.Stdout).Encode(devices); err != nil {
		return err
	}
	if !scan {
		return nil
	}

	log.Info("Scanning for %s (interrupt to stop early)", timeout)
	found, err := p.scan(ctx, timeout)
	if err != nil {
		return err
	}
	log.Info("Discovery found %d devices", len(found))
	return json.NewEncoder(os.Stdout).Encode(found)
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagAdapter | cli.FlagSession | cli.FlagProxy)
	if err != nil {
		log.Error("Failed to load configuration: %s", err)
		return
	}
	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()
	log.SetLevel(log.LevelDebug)
	if err := config.LoadFile(); err != nil {
		log.Error("Error loading configuration: %s", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var p probe
	if config.ProxyURL != "" {
		token, err := config.Token()
		if err != nil {
			log.Error("Error loading token: %s", err)
			return
		}
		c, err := client.New(config.ProxyURL, token, "")
		if err != nil {
			log.Error("%s", err)
			return
		}
		log.Info("Probing adapter behind %s", config.ProxyURL)
		p = &remoteProbe{client: c}
	} else {
		session, err := config.Open(ctx, nil)
		if err != nil {
			log.Error("Failed to open adapter: %s", err)
			return
		}
		defer session.Close()
		log.Info("Adapter initialized")
		p = &localProbe{session: session}
	}

	if err := run(ctx, p, *testScan, *scanTimeout); err != nil {
		log.Error("Probe failed: %s", err)
		return
	}
	status = 0
}
