package services

import (
	"context"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
)

// CheckoutService turns checkout requests into persisted, charged orders.
type CheckoutService interface {
	Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
	OneClickPurchase(ctx context.Context, req OneClickRequest) (CheckoutResult, error)
}

// OrderService exposes reads and lifecycle changes for existing orders.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListMerchantOrders(ctx context.Context, merchantID string, page domain.Pagination) (domain.CursorPage[*domain.Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionCommand) (*domain.Order, error)
	ReconcilePayment(ctx context.Context, orderID string) (ReconcileResult, error)
}

// CheckoutItem is one requested product and quantity.
type CheckoutItem struct {
	ProductID string             `json:"productId"`
	Quantity  int                `json:"quantity"`
	Gift      *domain.GiftOption `json:"gift,omitempty"`
}

// CheckoutRequest is a standard checkout with explicit customer, address and payment data.
// Exactly one of PaymentMethodID and PaymentToken is expected.
type CheckoutRequest struct {
	MerchantID        string                     `json:"merchantId"`
	CustomerID        string                     `json:"customerId,omitempty"`
	Currency          string                     `json:"currency"`
	Customer          domain.CustomerInformation `json:"customer"`
	ShippingAddress   domain.Address             `json:"shippingAddress"`
	Items             []CheckoutItem             `json:"items"`
	PromotionCodes    []string                   `json:"promotionCodes,omitempty"`
	Gift              *domain.GiftOption         `json:"gift,omitempty"`
	PaymentMethodID   string                     `json:"paymentMethodId,omitempty"`
	PaymentToken      string                     `json:"paymentToken,omitempty"`
	PreferredProvider string                     `json:"preferredProvider,omitempty"`
	Metadata          map[string]string          `json:"metadata,omitempty"`
}

// OneClickRequest checks out with data from the customer's saved profile. Empty
// AddressID and PaymentMethodID select the default entry, or the first when none
// is flagged default.
type OneClickRequest struct {
	MerchantID      string             `json:"merchantId"`
	UserID          string             `json:"userId"`
	Currency        string             `json:"currency"`
	Items           []CheckoutItem     `json:"items"`
	PromotionCodes  []string           `json:"promotionCodes,omitempty"`
	Gift            *domain.GiftOption `json:"gift,omitempty"`
	AddressID       string             `json:"addressId,omitempty"`
	PaymentMethodID string             `json:"paymentMethodId,omitempty"`
	Metadata        map[string]string  `json:"metadata,omitempty"`
}

// CheckoutResult reports the persisted order and the payment outcome. A
// PENDING or REQUIRES_ACTION payment leaves the order in PENDING_PAYMENT.
type CheckoutResult struct {
	Order    *domain.Order
	Payment  payments.PaymentResult
	Totals   domain.CalculatedTotals
	Shipping ShippingOption
}

// TransitionCommand moves an order to TargetStatus. A non-nil ExpectedVersion
// must match the stored version.
type TransitionCommand struct {
	OrderID         string
	TargetStatus    domain.OrderStatus
	ExpectedVersion *int64
	Reason          string
}

// ReconcileResult reports the payment state found for a pending order.
type ReconcileResult struct {
	Order   *domain.Order
	Payment payments.PaymentResult
	Changed bool
}
