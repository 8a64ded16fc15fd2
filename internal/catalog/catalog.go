// Package catalog is the boundary to the external product/price
// collaborator consulted when creating a subscription.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/fx"
)

var ErrProductNotFound = errors.New("product_not_found")

// ProductPrice is the catalog answer for a product.
type ProductPrice struct {
	ProductID string
	Name      string
	Amount    int64 // minor units per billing cycle
	Currency  string
}

type PriceLookup interface {
	Lookup(ctx context.Context, productID string) (*ProductPrice, error)
}

var Module = fx.Module("catalog",
	fx.Provide(NewStaticPriceLookup),
	fx.Provide(func(s *StaticPriceLookup) PriceLookup { return s }),
)

// StaticPriceLookup is an in-memory catalog used standalone and in
// tests. Deployments replace it with a client for the catalog service.
type StaticPriceLookup struct {
	mu     sync.RWMutex
	prices map[string]ProductPrice
}

func NewStaticPriceLookup() *StaticPriceLookup {
	return &StaticPriceLookup{prices: map[string]ProductPrice{}}
}

func (s *StaticPriceLookup) Register(price ProductPrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.TrimSpace(price.ProductID)] = price
}

func (s *StaticPriceLookup) Lookup(ctx context.Context, productID string) (*ProductPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[strings.TrimSpace(productID)]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &price, nil
}
