// Package store holds persistence helpers shared by the concrete stores.
package store

import (
	"context"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// ChainResolver asks each resolver in turn and returns the first
// configuration found. An error stops the walk; later sources are not consulted.
type ChainResolver struct {
	resolvers []mailq.ConfigResolver
}

var _ mailq.ConfigResolver = (*ChainResolver)(nil)

// Chain builds a ChainResolver. Nil resolvers are skipped.
func Chain(resolvers ...mailq.ConfigResolver) *ChainResolver {
	c := &ChainResolver{}
	for _, r := range resolvers {
		if r != nil {
			c.resolvers = append(c.resolvers, r)
		}
	}
	return c
}

func (c *ChainResolver) ResolveDeliveryConfig(ctx context.Context, scope string) (*mailq.DeliveryConfig, error) {
	for _, r := range c.resolvers {
		cfg, err := r.ResolveDeliveryConfig(ctx, scope)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	return nil, nil
}
