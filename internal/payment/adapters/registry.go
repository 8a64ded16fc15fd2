// Package adapters wires the closed set of gateway implementations
// behind one capability contract.
package adapters

import (
	"strings"

	"github.com/smallbiznis/billingcore/internal/payment/adapters/adyen"
	"github.com/smallbiznis/billingcore/internal/payment/adapters/manual"
	"github.com/smallbiznis/billingcore/internal/payment/adapters/stripe"
	"github.com/smallbiznis/billingcore/internal/payment/domain"
	"go.uber.org/fx"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(factory.Provider()))
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	return registry
}

// NewDefaultRegistry registers every built-in provider.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		stripe.NewFactory(),
		adyen.NewFactory(),
		manual.NewFactory(),
	)
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return factory.NewAdapter(cfg)
}

var Module = fx.Module("payment.adapters",
	fx.Provide(NewDefaultRegistry),
)
