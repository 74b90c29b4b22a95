package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

// Event is a domain event raised by the order aggregate.
type Event interface {
	EventID() string
	EventName() string
	AggregateID() string
	Merchant() string
	OccurredAt() time.Time
}

// OrderPlaced is raised once an order has been persisted for the first time.
type OrderPlaced struct {
	ID          string    `json:"eventId"`
	OrderID     string    `json:"orderId"`
	MerchantID  string    `json:"merchantId"`
	CustomerID  string    `json:"customerId,omitempty"`
	TotalAmount int64     `json:"totalAmount"`
	Currency    string    `json:"currency"`
	At          time.Time `json:"occurredAt"`
}

func (e OrderPlaced) EventID() string       { return e.ID }
func (e OrderPlaced) EventName() string     { return EventOrderPlaced }
func (e OrderPlaced) AggregateID() string   { return e.OrderID }
func (e OrderPlaced) Merchant() string      { return e.MerchantID }
func (e OrderPlaced) OccurredAt() time.Time { return e.At }

// OrderStatusChanged is raised on every accepted status transition.
type OrderStatusChanged struct {
	ID         string      `json:"eventId"`
	OrderID    string      `json:"orderId"`
	MerchantID string      `json:"merchantId"`
	CustomerID string      `json:"customerId,omitempty"`
	OldStatus  OrderStatus `json:"oldStatus"`
	NewStatus  OrderStatus `json:"newStatus"`
	At         time.Time   `json:"occurredAt"`
}

func (e OrderStatusChanged) EventID() string       { return e.ID }
func (e OrderStatusChanged) EventName() string     { return EventOrderStatusChanged }
func (e OrderStatusChanged) AggregateID() string   { return e.OrderID }
func (e OrderStatusChanged) Merchant() string      { return e.MerchantID }
func (e OrderStatusChanged) OccurredAt() time.Time { return e.At }

func newEventID() string {
	return uuid.NewString()
}
