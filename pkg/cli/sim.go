package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rfcommd/btserial/pkg/connector/sim"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// SimPeer describes a simulated device in the configuration file.
type SimPeer struct {
	Name         string        `yaml:"name"`
	Address      string        `yaml:"address"`
	Paired       bool          `yaml:"paired"`
	Discoverable bool          `yaml:"discoverable"`
	Unreachable  bool          `yaml:"unreachable"`
	Services     []string      `yaml:"services"`
	ConnectDelay time.Duration `yaml:"connect_delay"`
	// Handler is one of echo (default), silent, hangup or ping (answers PING lines with PONG).
	Handler string `yaml:"handler"`
	// Greeting is sent as soon as a connection opens.
	Greeting string `yaml:"greeting"`
}

var simHandlers = map[string]sim.Handler{
	"":       sim.Echo,
	"echo":   sim.Echo,
	"silent": sim.Silent,
	"hangup": sim.Hangup,
	"ping": sim.Lines(func(line string) []byte {
		if strings.TrimSpace(line) == "PING" {
			return []byte("PONG\n")
		}
		return nil
	}),
}

// defaultSimPeers is used when the sim backend is selected without any configured peer.
var defaultSimPeers = []SimPeer{
	{Name: "HC-06", Address: "98:D3:31:F5:A1:02", Paired: true, Handler: "ping"},
	{Name: "Loopback", Address: "00:1A:7D:DA:71:13", Paired: true, Discoverable: true},
	{Address: "00:1A:7D:DA:71:14", Discoverable: true, Handler: "silent"},
}

func (p SimPeer) peer() (sim.Peer, error) {
	if _, err := protocol.ParseAddress(p.Address); err != nil {
		return sim.Peer{}, fmt.Errorf("sim peer %q: %w", p.Address, err)
	}
	handler, ok := simHandlers[strings.ToLower(p.Handler)]
	if !ok {
		return sim.Peer{}, fmt.Errorf("sim peer %s: unknown handler %q", p.Address, p.Handler)
	}
	if p.Greeting != "" {
		handler = sim.Greeting([]byte(p.Greeting), handler)
	}
	peer := sim.Peer{
		Name:         p.Name,
		Address:      p.Address,
		Paired:       p.Paired,
		Discoverable: p.Discoverable,
		Unreachable:  p.Unreachable,
		ConnectDelay: p.ConnectDelay,
		Handler:      handler,
	}
	for _, s := range p.Services {
		service, err := uuid.Parse(s)
		if err != nil {
			return sim.Peer{}, fmt.Errorf("sim peer %s: invalid service %q: %w", p.Address, s, err)
		}
		peer.Services = append(peer.Services, service)
	}
	return peer, nil
}

func simPeers(configured []SimPeer) ([]sim.Peer, error) {
	if len(configured) == 0 {
		configured = defaultSimPeers
	}
	peers := make([]sim.Peer, 0, len(configured))
	for _, p := range configured {
		peer, err := p.peer()
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}
	return peers, nil
}
