package permission

import (
	"context"
	"sort"
	"sync"
)

// Policy is an in-memory Authorizer. Grants are managed by the host through [Policy.Grant] and
// [Policy.Revoke]; requests are recorded as pending and forwarded to OnRequest, which typically
// forwards them to a user.
type Policy struct {
	// OnRequest, if set, is called with the capabilities named in each request. It must not block.
	OnRequest func(caps []Capability)

	lock    sync.Mutex
	granted map[Capability]bool
	pending map[Capability]bool
}

// NewPolicy returns a Policy with the given capabilities already granted.
func NewPolicy(granted ...Capability) *Policy {
	p := &Policy{
		granted: make(map[Capability]bool),
		pending: make(map[Capability]bool),
	}
	p.Grant(granted...)
	return p
}

func (p *Policy) Granted(_ context.Context, c Capability) (bool, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.granted[c], nil
}

func (p *Policy) Request(_ context.Context, caps []Capability) error {
	p.lock.Lock()
	for _, c := range caps {
		if !p.granted[c] {
			p.pending[c] = true
		}
	}
	notify := p.OnRequest
	p.lock.Unlock()
	if notify != nil {
		notify(append([]Capability{}, caps...))
	}
	return nil
}

// Grant marks caps as granted and clears any pending request for them.
func (p *Policy) Grant(caps ...Capability) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, c := range caps {
		p.granted[c] = true
		delete(p.pending, c)
	}
}

// Revoke withdraws caps. Operations already past the gate are not affected.
func (p *Policy) Revoke(caps ...Capability) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, c := range caps {
		delete(p.granted, c)
	}
}

// Pending returns the capabilities requested but not yet granted, in sorted order.
func (p *Policy) Pending() []Capability {
	p.lock.Lock()
	defer p.lock.Unlock()
	var out []Capability
	for c := range p.pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
