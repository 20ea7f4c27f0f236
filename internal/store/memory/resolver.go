package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// Resolver maps scopes to delivery configurations. Scope lookup is
// case-insensitive; inactive configurations are treated as absent.
type Resolver struct {
	mu      sync.RWMutex
	configs map[string]*mailq.DeliveryConfig
}

var _ mailq.ConfigResolver = (*Resolver)(nil)

// NewResolver returns a resolver seeded with cfgs.
func NewResolver(cfgs ...*mailq.DeliveryConfig) *Resolver {
	r := &Resolver{configs: make(map[string]*mailq.DeliveryConfig)}
	for _, c := range cfgs {
		r.Set(c)
	}
	return r
}

// Set adds or replaces the configuration of c.Scope.
func (r *Resolver) Set(c *mailq.DeliveryConfig) {
	cp := *c
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[strings.ToLower(c.Scope)] = &cp
}

// Remove drops the configuration of scope.
func (r *Resolver) Remove(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, strings.ToLower(scope))
}

// All returns every configuration, active or not.
func (r *Resolver) All() []*mailq.DeliveryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mailq.DeliveryConfig, 0, len(r.configs))
	for _, c := range r.configs {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (r *Resolver) ResolveDeliveryConfig(ctx context.Context, scope string) (*mailq.DeliveryConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[strings.ToLower(scope)]
	if !ok || !c.Active {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
