package firestore

import (
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

type orderDocument struct {
	MerchantID      string                     `firestore:"merchantId"`
	CustomerID      string                     `firestore:"customerId,omitempty"`
	Currency        string                     `firestore:"currency"`
	Status          string                     `firestore:"status"`
	Customer        customerDocument           `firestore:"customer"`
	ShippingAddress orderAddressDocument       `firestore:"shippingAddress"`
	ShippingMethod  string                     `firestore:"shippingMethod,omitempty"`
	ShippingCost    int64                      `firestore:"shippingCost"`
	LineItems       []lineItemDocument         `firestore:"lineItems"`
	Promotions      []appliedPromotionDocument `firestore:"promotions,omitempty"`
	Gift            *giftDocument              `firestore:"gift,omitempty"`
	TotalAmount     int64                      `firestore:"totalAmount"`
	Payment         *paymentDocument           `firestore:"payment,omitempty"`
	Version         int64                      `firestore:"version"`
	CreatedAt       time.Time                  `firestore:"createdAt"`
	UpdatedAt       time.Time                  `firestore:"updatedAt"`
}

type customerDocument struct {
	Email string `firestore:"email"`
	Name  string `firestore:"name,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

type orderAddressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type lineItemDocument struct {
	ID          string        `firestore:"id"`
	ProductID   string        `firestore:"productId"`
	ProductName string        `firestore:"productName"`
	Quantity    int           `firestore:"quantity"`
	UnitPrice   int64         `firestore:"unitPrice"`
	TotalPrice  int64         `firestore:"totalPrice"`
	Gift        *giftDocument `firestore:"gift,omitempty"`
}

type appliedPromotionDocument struct {
	PromotionID    string `firestore:"promotionId"`
	Code           string `firestore:"code,omitempty"`
	Description    string `firestore:"description,omitempty"`
	DiscountAmount int64  `firestore:"discountAmount"`
}

type giftDocument struct {
	Wrap    bool   `firestore:"wrap"`
	Message string `firestore:"message,omitempty"`
}

type paymentDocument struct {
	Provider      string    `firestore:"provider"`
	TransactionID string    `firestore:"transactionId,omitempty"`
	Status        string    `firestore:"status"`
	Message       string    `firestore:"message,omitempty"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newOrderDocument(s domain.OrderSnapshot) orderDocument {
	doc := orderDocument{
		MerchantID:      s.MerchantID,
		CustomerID:      s.CustomerID,
		Currency:        s.Currency,
		Status:          string(s.Status),
		Customer:        customerDocument(s.Customer),
		ShippingAddress: orderAddressDocument(s.ShippingAddress),
		ShippingMethod:  s.ShippingMethod,
		ShippingCost:    s.ShippingCost,
		LineItems:       make([]lineItemDocument, 0, len(s.LineItems)),
		Gift:            newGiftDocument(s.Gift),
		TotalAmount:     s.TotalAmount,
		Version:         s.Version,
		CreatedAt:       s.CreatedAt.UTC(),
		UpdatedAt:       s.UpdatedAt.UTC(),
	}
	for _, item := range s.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Gift:        newGiftDocument(item.Gift),
		})
	}
	for _, promo := range s.Promotions {
		doc.Promotions = append(doc.Promotions, appliedPromotionDocument(promo))
	}
	if s.Payment != nil {
		doc.Payment = &paymentDocument{
			Provider:      s.Payment.Provider,
			TransactionID: s.Payment.TransactionID,
			Status:        s.Payment.Status,
			Message:       s.Payment.Message,
			UpdatedAt:     s.Payment.UpdatedAt.UTC(),
		}
	}
	return doc
}

func (d orderDocument) toSnapshot(id string) domain.OrderSnapshot {
	s := domain.OrderSnapshot{
		ID:              id,
		MerchantID:      d.MerchantID,
		CustomerID:      d.CustomerID,
		Currency:        d.Currency,
		Status:          domain.OrderStatus(d.Status),
		Customer:        domain.CustomerInformation(d.Customer),
		ShippingAddress: domain.Address(d.ShippingAddress),
		ShippingMethod:  d.ShippingMethod,
		ShippingCost:    d.ShippingCost,
		LineItems:       make([]domain.LineItem, 0, len(d.LineItems)),
		Gift:            d.Gift.toDomain(),
		TotalAmount:     d.TotalAmount,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for _, item := range d.LineItems {
		s.LineItems = append(s.LineItems, domain.LineItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Gift:        item.Gift.toDomain(),
		})
	}
	for _, promo := range d.Promotions {
		s.Promotions = append(s.Promotions, domain.AppliedPromotion(promo))
	}
	if d.Payment != nil {
		s.Payment = &domain.PaymentReference{
			Provider:      d.Payment.Provider,
			TransactionID: d.Payment.TransactionID,
			Status:        d.Payment.Status,
			Message:       d.Payment.Message,
			UpdatedAt:     d.Payment.UpdatedAt.UTC(),
		}
	}
	return s
}

func newGiftDocument(g *domain.GiftOption) *giftDocument {
	if g == nil {
		return nil
	}
	return &giftDocument{Wrap: g.Wrap, Message: g.Message}
}

func (g *giftDocument) toDomain() *domain.GiftOption {
	if g == nil {
		return nil
	}
	return &domain.GiftOption{Wrap: g.Wrap, Message: g.Message}
}
