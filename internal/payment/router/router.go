// Package router resolves gateway adapters from persisted provider
// configuration.
package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/payment/adapters"
	"github.com/smallbiznis/billingcore/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Registry *adapters.Registry
}

// Router constructs adapters on demand and caches them per provider.
// A cache entry is keyed by the ProviderConfig row's UpdatedAt, so a
// credential change invalidates it on the next resolve.
type Router struct {
	db       *gorm.DB
	log      *zap.Logger
	registry *adapters.Registry
	timeout  time.Duration
	fallback string

	mu    sync.RWMutex
	cache map[string]cachedAdapter
}

type cachedAdapter struct {
	adapter   domain.Adapter
	updatedAt time.Time
}

func NewRouter(p Params) *Router {
	timeout := time.Duration(p.Cfg.GatewayTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Router{
		db:       p.DB,
		log:      p.Log.Named("payment.router"),
		registry: p.Registry,
		timeout:  timeout,
		fallback: strings.ToLower(strings.TrimSpace(p.Cfg.DefaultGatewayProvider)),
		cache:    map[string]cachedAdapter{},
	}
}

// Resolve returns the adapter for the given provider id, or the
// configured default when the id is empty.
func (r *Router) Resolve(ctx context.Context, provider string) (domain.Adapter, string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = r.fallback
	}
	if provider == "" {
		return nil, "", domain.ErrInvalidProvider
	}
	if !r.registry.ProviderExists(provider) {
		return nil, "", domain.ErrProviderNotFound
	}

	// The manual adapter needs no stored credentials.
	if provider == "manual" {
		adapter, err := r.registry.NewAdapter(provider, domain.AdapterConfig{Provider: provider, Timeout: r.timeout})
		return adapter, provider, err
	}

	row, err := r.loadConfig(ctx, provider)
	if err != nil {
		return nil, "", err
	}

	r.mu.RLock()
	cached, ok := r.cache[provider]
	r.mu.RUnlock()
	if ok && cached.updatedAt.Equal(row.UpdatedAt) {
		return cached.adapter, provider, nil
	}

	adapter, err := r.registry.NewAdapter(provider, domain.AdapterConfig{
		Provider: provider,
		Config:   map[string]any(row.Config),
		Timeout:  r.timeout,
	})
	if err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	r.cache[provider] = cachedAdapter{adapter: adapter, updatedAt: row.UpdatedAt}
	r.mu.Unlock()

	r.log.Info("gateway adapter constructed", zap.String("provider", provider))
	return adapter, provider, nil
}

// Invalidate drops a cached adapter; used after credential updates in
// the same process.
func (r *Router) Invalidate(provider string) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	r.mu.Lock()
	delete(r.cache, provider)
	r.mu.Unlock()
}

// Timeout returns the outbound call bound adapters are constructed with.
func (r *Router) Timeout() time.Duration {
	return r.timeout
}

func (r *Router) loadConfig(ctx context.Context, provider string) (*domain.ProviderConfig, error) {
	var row domain.ProviderConfig
	err := r.db.WithContext(ctx).
		Where("provider = ? AND enabled = ?", provider, true).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, err
	}
	return &row, nil
}

var Module = fx.Module("payment.router",
	fx.Provide(NewRouter),
)
