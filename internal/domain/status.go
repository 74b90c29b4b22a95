package domain

import (
	"fmt"
	"slices"
	"strings"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment   OrderStatus = "PENDING_PAYMENT"
	OrderStatusAwaitingShipment OrderStatus = "AWAITING_SHIPMENT"
	OrderStatusProcessing       OrderStatus = "PROCESSING"
	OrderStatusShipped          OrderStatus = "SHIPPED"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
	OrderStatusFailed           OrderStatus = "FAILED"
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment:   {OrderStatusAwaitingShipment, OrderStatusProcessing, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusAwaitingShipment: {OrderStatusProcessing, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusProcessing:       {OrderStatusAwaitingShipment, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:          {OrderStatusDelivered, OrderStatusFailed},
	OrderStatusDelivered:        {OrderStatusCompleted},
	OrderStatusFailed:           {OrderStatusCancelled},
	OrderStatusCompleted:        nil,
	OrderStatusCancelled:        nil,
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, raw)
	}
	return status, nil
}

// Valid reports whether the status is part of the lifecycle.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderStatusTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return slices.Contains(orderStatusTransitions[s], next)
}

// NextStatuses lists the statuses reachable from s.
func (s OrderStatus) NextStatuses() []OrderStatus {
	return slices.Clone(orderStatusTransitions[s])
}

func (s OrderStatus) String() string {
	return string(s)
}

// lineItemsMutable lists statuses in which line items may still be added.
func (s OrderStatus) lineItemsMutable() bool {
	return s == OrderStatusPendingPayment || s == OrderStatusProcessing
}

// advancing reports whether entering s moves the order toward fulfilment.
func (s OrderStatus) advancing() bool {
	return s != OrderStatusCancelled && s != OrderStatusFailed
}
