// Package permission decides whether the host has granted the capabilities needed before any radio
// operation, and asks the host's authorization subsystem for the ones that are missing.
package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/protocol"
)

// Capability names a permission the host can grant.
type Capability string

const (
	Connect  Capability = "connect"
	Scan     Capability = "scan"
	Location Capability = "location"
)

// Required is the capability set checked by [Gate.CheckAndRequest] when a Gate is created without
// an explicit set.
var Required = []Capability{Connect, Scan, Location}

// ScanRequired is the subset needed to run device discovery.
var ScanRequired = []Capability{Scan, Location}

// ParseCapability converts a configuration string into a Capability.
func ParseCapability(name string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(name))); c {
	case Connect, Scan, Location:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability '%s'", name)
}

// Authorizer is the host's authorization subsystem.
type Authorizer interface {
	// Granted reports whether c is currently granted.
	Granted(ctx context.Context, c Capability) (bool, error)

	// Request asks the host to grant caps. It returns once the request has been issued; the
	// outcome is reported to the host separately and callers must check again afterwards.
	Request(ctx context.Context, caps []Capability) error
}

// Decision is the outcome of [Gate.CheckAndRequest].
type Decision struct {
	Granted bool
	Missing []Capability
}

// Gate checks a fixed capability set against an Authorizer.
type Gate struct {
	authorizer Authorizer
	required   []Capability
}

// NewGate returns a Gate for required, or for [Required] if none are given. A nil authorizer is
// allowed and makes every check fail with [protocol.ErrHostUnavailable].
func NewGate(authorizer Authorizer, required ...Capability) *Gate {
	if len(required) == 0 {
		required = Required
	}
	return &Gate{authorizer: authorizer, required: append([]Capability{}, required...)}
}

// Missing returns the members of caps that are not granted.
func (g *Gate) Missing(ctx context.Context, caps []Capability) ([]Capability, error) {
	if g == nil || g.authorizer == nil {
		return nil, protocol.ErrHostUnavailable
	}
	var missing []Capability
	for _, c := range caps {
		ok, err := g.authorizer.Granted(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("permission: checking %s: %w", c, err)
		}
		if !ok {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// CheckAndRequest returns a granted Decision if every required capability is granted. Otherwise it
// asks the host for the missing ones and returns a denied Decision immediately, without waiting for
// the host's answer.
func (g *Gate) CheckAndRequest(ctx context.Context) (Decision, error) {
	missing, err := g.Missing(ctx, g.required)
	if err != nil {
		return Decision{}, err
	}
	if len(missing) == 0 {
		return Decision{Granted: true}, nil
	}
	g.request(ctx, missing)
	return Decision{Missing: missing}, nil
}

// Require returns nil if every member of caps is granted. Otherwise it requests the missing ones
// and returns an error wrapping [protocol.ErrPermissionDenied].
func (g *Gate) Require(ctx context.Context, caps ...Capability) error {
	missing, err := g.Missing(ctx, caps)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	g.request(ctx, missing)
	return protocol.Wrap(protocol.ErrPermissionDenied, fmt.Errorf("missing %s", joinCapabilities(missing)))
}

func (g *Gate) request(ctx context.Context, missing []Capability) {
	log.Info("Requesting bluetooth permissions: %s", joinCapabilities(missing))
	if err := g.authorizer.Request(ctx, missing); err != nil {
		log.Warning("permission: request failed: %s", err)
	}
}

func joinCapabilities(caps []Capability) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
