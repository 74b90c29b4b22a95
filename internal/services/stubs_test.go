package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/domain/domaintest"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/repositories"
)

// memoryOrderRepo stores snapshots so callers never share aggregate instances
// with the store, and enforces the version check like the real adapters.
type memoryOrderRepo struct {
	mu         sync.Mutex
	orders     map[string]domain.OrderSnapshot
	saves      []domain.OrderSnapshot
	saveCalls  int
	saveErrFn  func(order *domain.Order, call int) error
	pendingErr error
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: make(map[string]domain.OrderSnapshot)}
}

func (r *memoryOrderRepo) Save(_ context.Context, order *domain.Order) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	if r.saveErrFn != nil {
		if err := r.saveErrFn(order, r.saveCalls); err != nil {
			return nil, err
		}
	}
	stored, exists := r.orders[order.ID()]
	if (exists && stored.Version != order.Version()) || (!exists && order.Version() != 0) {
		return nil, repositories.NewStoreError("save", repositories.KindConflict, nil)
	}
	snap := order.Snapshot()
	snap.Version = order.Version() + 1
	r.orders[order.ID()] = snap
	r.saves = append(r.saves, snap)
	order.MarkPersisted(snap.Version)
	return order, nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.orders[orderID]
	if !ok {
		return nil, repositories.NewStoreError("find", repositories.KindNotFound, nil)
	}
	return domain.RehydrateOrder(snap)
}

func (r *memoryOrderRepo) FindByMerchantID(_ context.Context, merchantID string, _ domain.Pagination) (domain.CursorPage[*domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, snap := range r.orders {
		if snap.MerchantID != merchantID {
			continue
		}
		order, err := domain.RehydrateOrder(snap)
		if err != nil {
			return domain.CursorPage[*domain.Order]{}, err
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return domain.CursorPage[*domain.Order]{Items: out}, nil
}

func (r *memoryOrderRepo) FindPendingPayment(_ context.Context, updatedBefore time.Time, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingErr != nil {
		return nil, r.pendingErr
	}
	var out []*domain.Order
	for _, snap := range r.orders {
		if snap.Status != domain.OrderStatusPendingPayment || !snap.UpdatedAt.Before(updatedBefore) {
			continue
		}
		order, err := domain.RehydrateOrder(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt().Before(out[j].UpdatedAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryOrderRepo) put(order *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := order.Snapshot()
	if snap.Version == 0 {
		snap.Version = 1
	}
	r.orders[order.ID()] = snap
}

func (r *memoryOrderRepo) stored(id string) (domain.OrderSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.orders[id]
	return snap, ok
}

func (r *memoryOrderRepo) savedStatuses() []domain.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OrderStatus, 0, len(r.saves))
	for _, snap := range r.saves {
		out = append(out, snap.Status)
	}
	return out
}

type stockCall struct {
	productID string
	quantity  int
}

type stubProducts struct {
	mu         sync.Mutex
	catalogue  map[string]ProductDetails
	outOfStock map[string]bool
	detailsFn  func(ctx context.Context, productID string) (ProductDetails, error)
	stockCalls []stockCall
}

func newStubProducts() *stubProducts {
	return &stubProducts{
		catalogue: map[string]ProductDetails{
			"prod_widget": {ID: "prod_widget", Name: "Widget", Price: 2599},
			"prod_gadget": {ID: "prod_gadget", Name: "Gadget", Price: 1250},
		},
		outOfStock: map[string]bool{},
	}
}

func (s *stubProducts) GetProductDetails(ctx context.Context, productID string) (ProductDetails, error) {
	if s.detailsFn != nil {
		return s.detailsFn(ctx, productID)
	}
	product, ok := s.catalogue[productID]
	if !ok {
		return ProductDetails{}, ErrProductNotFound
	}
	return product, nil
}

func (s *stubProducts) CheckStockAvailability(_ context.Context, productID string, quantity int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stockCalls = append(s.stockCalls, stockCall{productID: productID, quantity: quantity})
	return !s.outOfStock[productID], nil
}

type stubPromotions struct {
	mu         sync.Mutex
	validateFn func(ctx context.Context, code string, promoCtx PromotionContext) (*PromotionResult, error)
	calls      []string
}

func (s *stubPromotions) ValidatePromotion(ctx context.Context, code string, promoCtx PromotionContext) (*PromotionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, code)
	s.mu.Unlock()
	if s.validateFn != nil {
		return s.validateFn(ctx, code, promoCtx)
	}
	return nil, nil
}

type stubShipping struct {
	mu        sync.Mutex
	optionsFn func(ctx context.Context, req ShippingRequest) ([]ShippingOption, error)
	requests  []ShippingRequest
}

func (s *stubShipping) GetShippingOptions(ctx context.Context, req ShippingRequest) ([]ShippingOption, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.optionsFn != nil {
		return s.optionsFn(ctx, req)
	}
	return []ShippingOption{
		{ID: "express", Name: "Express", Cost: 1500, Currency: "USD", EstimatedDays: 2},
		{ID: "standard", Name: "Standard", Cost: 500, Currency: "USD", EstimatedDays: 5},
		{ID: "economy", Name: "Economy", Cost: 500, Currency: "USD", EstimatedDays: 9},
	}, nil
}

type stubPayments struct {
	mu        sync.Mutex
	processFn func(ctx context.Context, req payments.PaymentRequest) (payments.PaymentResult, error)
	lookupFn  func(ctx context.Context, req payments.LookupRequest) (payments.PaymentResult, error)
	requests  []payments.PaymentRequest
	lookups   []payments.LookupRequest
}

func (s *stubPayments) ProcessPayment(ctx context.Context, req payments.PaymentRequest) (payments.PaymentResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.processFn != nil {
		return s.processFn(ctx, req)
	}
	return payments.PaymentResult{Provider: "stripe", TransactionID: "pi_123", Status: payments.StatusSuccess}, nil
}

func (s *stubPayments) LookupPayment(ctx context.Context, req payments.LookupRequest) (payments.PaymentResult, error) {
	s.mu.Lock()
	s.lookups = append(s.lookups, req)
	s.mu.Unlock()
	if s.lookupFn != nil {
		return s.lookupFn(ctx, req)
	}
	return payments.PaymentResult{}, errors.New("lookup not stubbed")
}

type stubProfiles struct {
	profileFn func(ctx context.Context, userID string) (*CustomerProfile, error)
}

func (s *stubProfiles) GetSavedProfile(ctx context.Context, userID string) (*CustomerProfile, error) {
	if s.profileFn != nil {
		return s.profileFn(ctx, userID)
	}
	return nil, nil
}

type stubVerifier struct {
	savedFn func(ctx context.Context, token string) (payments.SavedMethod, error)
}

func (s *stubVerifier) SavedMethod(ctx context.Context, token string) (payments.SavedMethod, error) {
	return s.savedFn(ctx, token)
}

type captureEvents struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (c *captureEvents) PublishOrderEvents(_ context.Context, events ...domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return c.err
}

func (c *captureEvents) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.EventName())
	}
	return out
}

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogs struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogs) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{event: event, fields: fields})
}

func (c *captureLogs) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

func fixedClock() time.Time {
	return domaintest.Now
}

func storeUnavailable() error {
	return repositories.NewStoreError("save", repositories.KindUnavailable, errors.New("connection refused"))
}
