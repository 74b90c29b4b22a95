// Package domaintest builds valid order aggregates for adapter and service tests.
package domaintest

import (
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Now is the reference instant used by fixtures.
var Now = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// Address returns a complete shipping address.
func Address() domain.Address {
	return domain.Address{
		Recipient:  "Ada Lovelace",
		Line1:      "12 Analytical Row",
		City:       "London",
		PostalCode: "N1 9GU",
		Country:    "GB",
	}
}

// OrderOption adjusts fixture parameters before the order is built.
type OrderOption func(*domain.NewOrderParams)

// WithID fixes the order id.
func WithID(id string) OrderOption {
	return func(p *domain.NewOrderParams) { p.ID = id }
}

// WithMerchant sets the merchant id.
func WithMerchant(merchantID string) OrderOption {
	return func(p *domain.NewOrderParams) { p.MerchantID = merchantID }
}

// WithCreatedAt sets the creation instant.
func WithCreatedAt(at time.Time) OrderOption {
	return func(p *domain.NewOrderParams) { p.Now = at }
}

// WithGift attaches an order-level gift option.
func WithGift(message string) OrderOption {
	return func(p *domain.NewOrderParams) { p.Gift = &domain.GiftOption{Wrap: true, Message: message} }
}

// Order builds a PENDING_PAYMENT order with a 2599 widget and two 1250 gadgets (subtotal 5099).
func Order(t testing.TB, opts ...OrderOption) *domain.Order {
	t.Helper()
	params := domain.NewOrderParams{
		MerchantID:      "mer_1",
		CustomerID:      "cus_1",
		Currency:        "USD",
		Customer:        domain.CustomerInformation{Email: "ada@example.com", Name: "Ada"},
		ShippingAddress: Address(),
		ShippingMethod:  "standard",
		Items: []domain.LineItemParams{
			{ProductID: "prod_widget", ProductName: "Widget", Quantity: 1, UnitPrice: 2599},
			{ProductID: "prod_gadget", ProductName: "Gadget", Quantity: 2, UnitPrice: 1250},
		},
		Now: Now,
	}
	for _, opt := range opts {
		opt(&params)
	}
	order, err := domain.NewOrder(params)
	if err != nil {
		t.Fatalf("domaintest: new order: %v", err)
	}
	return order
}
