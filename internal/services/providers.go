package services

import (
	"context"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
)

// ProductDetails is the catalogue view of a product at checkout time.
type ProductDetails struct {
	ID    string
	Name  string
	Price int64
}

// ProductProvider resolves catalogue data and stock. Unknown products return ErrProductNotFound.
type ProductProvider interface {
	GetProductDetails(ctx context.Context, productID string) (ProductDetails, error)
	CheckStockAvailability(ctx context.Context, productID string, quantity int) (bool, error)
}

// PromotionContext carries the order state a promotion rule may inspect.
type PromotionContext struct {
	MerchantID      string
	CustomerID      string
	Currency        string
	Items           []domain.LineItem
	Subtotal        int64
	ShippingAddress domain.Address
}

// PromotionResult is the monetised outcome of a valid promotion code.
type PromotionResult struct {
	PromotionID    string
	Code           string
	Description    string
	DiscountAmount int64
}

// PromotionProvider validates promotion codes. A nil result means the code does not apply.
type PromotionProvider interface {
	ValidatePromotion(ctx context.Context, code string, promoCtx PromotionContext) (*PromotionResult, error)
}

// ShippingItem is one product and quantity to be shipped.
type ShippingItem struct {
	ProductID string
	Quantity  int
}

// ShippingRequest asks for shipping options towards a destination.
type ShippingRequest struct {
	MerchantID  string
	Currency    string
	Items       []ShippingItem
	Destination domain.Address
}

// ShippingOption is a quoted shipping method.
type ShippingOption struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Cost          int64  `json:"cost"`
	Currency      string `json:"currency,omitempty"`
	EstimatedDays int    `json:"estimatedDays,omitempty"`
}

// ShippingProvider quotes shipping options. An empty list is a valid answer.
type ShippingProvider interface {
	GetShippingOptions(ctx context.Context, req ShippingRequest) ([]ShippingOption, error)
}

// ShippingSelector picks one option from a non-empty list.
type ShippingSelector func(options []ShippingOption) ShippingOption

// LowestCostShipping selects the cheapest option; the first returned wins ties.
func LowestCostShipping(options []ShippingOption) ShippingOption {
	best := options[0]
	for _, option := range options[1:] {
		if option.Cost < best.Cost {
			best = option
		}
	}
	return best
}

// PaymentProvider charges orders and reports the state of earlier attempts.
// payments.Manager satisfies it.
type PaymentProvider interface {
	ProcessPayment(ctx context.Context, req payments.PaymentRequest) (payments.PaymentResult, error)
	LookupPayment(ctx context.Context, req payments.LookupRequest) (payments.PaymentResult, error)
}

// SavedAddress is an address stored on a customer profile.
type SavedAddress struct {
	ID      string
	Address domain.Address
	Default bool
}

// SavedPaymentMethod is a tokenised payment method stored on a customer profile.
type SavedPaymentMethod struct {
	ID       string
	Provider string
	Token    string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
	Default  bool
}

// CustomerProfile is the saved data used by one-click purchase.
type CustomerProfile struct {
	UserID         string
	Customer       domain.CustomerInformation
	Addresses      []SavedAddress
	PaymentMethods []SavedPaymentMethod
}

// CustomerProfileProvider loads saved profiles. A nil profile means none exists.
type CustomerProfileProvider interface {
	GetSavedProfile(ctx context.Context, userID string) (*CustomerProfile, error)
}

// OrderEventPublisher forwards domain events to the event bus.
type OrderEventPublisher interface {
	PublishOrderEvents(ctx context.Context, events ...domain.Event) error
}

// SavedMethodVerifier loads the PSP's current view of a saved payment method.
type SavedMethodVerifier interface {
	SavedMethod(ctx context.Context, token string) (payments.SavedMethod, error)
}
