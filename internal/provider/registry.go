package provider

import (
	"fmt"
	"sync"

	"conduit/internal/logging"
	"conduit/internal/types"
)

// Registry maps modes to gateways. A mode with no gateway fails fast with
// ErrUnsupportedMode; the core never degrades to a different mode.
type Registry struct {
	mu       sync.RWMutex
	gateways map[types.Mode]Gateway
	realtime RealtimeGateway
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[types.Mode]Gateway)}
}

// Register installs a gateway for its mode, replacing any previous one.
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Mode()] = g
	logging.Provider("registered gateway for mode %s", g.Mode())
}

// RegisterRealtime installs the duplex session gateway.
func (r *Registry) RegisterRealtime(g RealtimeGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime = g
}

// Lookup resolves the gateway for a mode.
func (r *Registry) Lookup(mode types.Mode) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedMode, mode)
	}
	return g, nil
}

// LookupRealtime resolves the realtime gateway.
func (r *Registry) LookupRealtime() (RealtimeGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.realtime == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedMode, types.ModeRealtime)
	}
	return r.realtime, nil
}

// Modes lists registered modes with capability descriptors, in stable order.
func (r *Registry) Modes() []types.ModeCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.ModeCapability
	for _, m := range types.AllModes() {
		if _, ok := r.gateways[m]; ok {
			out = append(out, m.Capability())
		} else if m == types.ModeRealtime && r.realtime != nil {
			out = append(out, m.Capability())
		}
	}
	return out
}
