package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// OrderSnapshot is the storage representation of an Order.
type OrderSnapshot struct {
	ID              string              `json:"id"`
	MerchantID      string              `json:"merchantId"`
	CustomerID      string              `json:"customerId,omitempty"`
	Currency        string              `json:"currency"`
	Status          OrderStatus         `json:"status"`
	Customer        CustomerInformation `json:"customer"`
	ShippingAddress Address             `json:"shippingAddress"`
	ShippingMethod  string              `json:"shippingMethod,omitempty"`
	ShippingCost    int64               `json:"shippingCost"`
	LineItems       []LineItem          `json:"lineItems"`
	Promotions      []AppliedPromotion  `json:"promotions,omitempty"`
	Gift            *GiftOption         `json:"gift,omitempty"`
	TotalAmount     int64               `json:"totalAmount"`
	Payment         *PaymentReference   `json:"payment,omitempty"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Snapshot copies the aggregate state. Pending events are not included.
func (o *Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		ID:              o.id,
		MerchantID:      o.merchantID,
		CustomerID:      o.customerID,
		Currency:        o.currency,
		Status:          o.status,
		Customer:        o.customer,
		ShippingAddress: o.shippingAddress,
		ShippingMethod:  o.shippingMethod,
		ShippingCost:    o.shippingCost,
		LineItems:       cloneLineItems(o.lineItems),
		Promotions:      slices.Clone(o.promotions),
		Gift:            o.Gift(),
		TotalAmount:     o.totalAmount,
		Payment:         o.Payment(),
		Version:         o.version,
		CreatedAt:       o.createdAt,
		UpdatedAt:       o.updatedAt,
	}
}

// RehydrateOrder rebuilds an aggregate from storage, re-checking its invariants.
// No events are recorded.
func RehydrateOrder(s OrderSnapshot) (*Order, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	if strings.TrimSpace(s.MerchantID) == "" {
		return nil, fmt.Errorf("%w: order %s merchant id is required", ErrValidation, s.ID)
	}
	if !s.Status.Valid() {
		return nil, fmt.Errorf("%w: order %s has unknown status %q", ErrValidation, s.ID, s.Status)
	}
	currency, err := NormalizeCurrency(s.Currency)
	if err != nil {
		return nil, err
	}
	if err := s.Customer.Validate(); err != nil {
		return nil, err
	}
	if err := s.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	if s.ShippingCost < 0 {
		return nil, fmt.Errorf("%w: order %s shipping cost is negative", ErrValidation, s.ID)
	}
	if s.TotalAmount < 0 {
		return nil, fmt.Errorf("%w: order %s total is negative", ErrValidation, s.ID)
	}
	for _, item := range s.LineItems {
		if err := item.validate(); err != nil {
			return nil, err
		}
	}
	for _, promo := range s.Promotions {
		if err := promo.Validate(); err != nil {
			return nil, err
		}
	}

	o := &Order{
		id:              s.ID,
		merchantID:      s.MerchantID,
		customerID:      s.CustomerID,
		currency:        currency,
		status:          s.Status,
		customer:        s.Customer,
		shippingAddress: s.ShippingAddress,
		shippingMethod:  s.ShippingMethod,
		shippingCost:    s.ShippingCost,
		lineItems:       cloneLineItems(s.LineItems),
		promotions:      slices.Clone(s.Promotions),
		totalAmount:     s.TotalAmount,
		version:         s.Version,
		createdAt:       s.CreatedAt.UTC(),
		updatedAt:       s.UpdatedAt.UTC(),
	}
	if s.Gift != nil {
		g := *s.Gift
		o.gift = &g
	}
	if s.Payment != nil {
		p := *s.Payment
		o.payment = &p
	}
	return o, nil
}
