package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/hanko-field/orders/internal/platform/cache"
)

const (
	shippingCacheNamespace = "orders"
	shippingCacheOperation = "shipping-options"
	defaultShippingTTL     = 5 * time.Minute
)

// FlatRateShippingProvider offers the same configured options for every destination.
type FlatRateShippingProvider struct {
	options []ShippingOption
}

// NewFlatRateShippingProvider validates the configured options. Options without
// a currency are offered in any currency.
func NewFlatRateShippingProvider(options []ShippingOption) (*FlatRateShippingProvider, error) {
	if len(options) == 0 {
		return nil, errors.New("flat rate shipping: at least one option is required")
	}
	cleaned := make([]ShippingOption, 0, len(options))
	for _, option := range options {
		option.ID = strings.TrimSpace(option.ID)
		option.Name = strings.TrimSpace(option.Name)
		option.Currency = strings.ToUpper(strings.TrimSpace(option.Currency))
		if option.ID == "" {
			return nil, errors.New("flat rate shipping: option id is required")
		}
		if option.Cost < 0 {
			return nil, fmt.Errorf("flat rate shipping: option %s has negative cost", option.ID)
		}
		if option.Name == "" {
			option.Name = option.ID
		}
		cleaned = append(cleaned, option)
	}
	return &FlatRateShippingProvider{options: cleaned}, nil
}

// GetShippingOptions returns the configured options usable for the request currency.
func (p *FlatRateShippingProvider) GetShippingOptions(_ context.Context, req ShippingRequest) ([]ShippingOption, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	out := make([]ShippingOption, 0, len(p.options))
	for _, option := range p.options {
		if option.Currency != "" && option.Currency != currency {
			continue
		}
		if option.Currency == "" {
			option.Currency = currency
		}
		out = append(out, option)
	}
	return out, nil
}

// CachedShippingProviderDeps wires a shipping provider behind a quote cache.
type CachedShippingProviderDeps struct {
	Next   ShippingProvider
	Cache  cache.Store
	TTL    time.Duration
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// CachedShippingProvider memoises option lists per merchant, destination and
// basket. Cache failures degrade to calling the wrapped provider.
type CachedShippingProvider struct {
	next   ShippingProvider
	cache  cache.Store
	ttl    time.Duration
	logger func(context.Context, string, map[string]any)
}

// NewCachedShippingProvider validates dependencies and applies the default TTL.
func NewCachedShippingProvider(deps CachedShippingProviderDeps) (*CachedShippingProvider, error) {
	if deps.Next == nil {
		return nil, errors.New("shipping cache: shipping provider is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("shipping cache: cache store is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultShippingTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CachedShippingProvider{
		next:   deps.Next,
		cache:  deps.Cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (p *CachedShippingProvider) GetShippingOptions(ctx context.Context, req ShippingRequest) ([]ShippingOption, error) {
	key := shippingCacheKey(req)

	raw, ok, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		p.logger(ctx, "shipping.cache.get.failed", map[string]any{"key": key, "error": err.Error()})
	case ok:
		var options []ShippingOption
		if err := json.Unmarshal(raw, &options); err == nil {
			return options, nil
		}
		p.logger(ctx, "shipping.cache.decode.failed", map[string]any{"key": key})
	}

	options, err := p.next.GetShippingOptions(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return options, nil
	}

	payload, err := json.Marshal(options)
	if err != nil {
		return options, nil
	}
	if err := p.cache.Set(ctx, key, payload, p.ttl); err != nil {
		p.logger(ctx, "shipping.cache.set.failed", map[string]any{"key": key, "error": err.Error()})
	}
	return slices.Clone(options), nil
}

func shippingCacheKey(req ShippingRequest) string {
	addr := req.Destination
	parts := []string{
		strings.TrimSpace(req.MerchantID),
		strings.ToUpper(strings.TrimSpace(req.Currency)),
		strings.ToUpper(strings.TrimSpace(addr.Country)),
		strings.ToUpper(strings.TrimSpace(addr.PostalCode)),
		strings.ToUpper(strings.TrimSpace(addr.State)),
		strings.ToUpper(strings.TrimSpace(addr.City)),
	}

	itemParts := make([]string, len(req.Items))
	for i, item := range req.Items {
		itemParts[i] = fmt.Sprintf("%s,%d", strings.TrimSpace(item.ProductID), item.Quantity)
	}
	sort.Strings(itemParts)
	parts = append(parts, strings.Join(itemParts, ";"))

	return cache.Key(shippingCacheNamespace, shippingCacheOperation, parts...)
}
