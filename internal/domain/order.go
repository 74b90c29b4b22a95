package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const orderIDPrefix = "ord_"

var baseCalculator OrderCalculator

// Order is the aggregate root for a single merchant's order. It is not safe
// for concurrent mutation; callers serialise writes through the repository
// version check.
type Order struct {
	id              string
	merchantID      string
	customerID      string
	currency        string
	status          OrderStatus
	customer        CustomerInformation
	shippingAddress Address
	shippingMethod  string
	shippingCost    int64
	lineItems       []LineItem
	promotions      []AppliedPromotion
	gift            *GiftOption
	totalAmount     int64
	payment         *PaymentReference
	version         int64
	createdAt       time.Time
	updatedAt       time.Time

	placedPending bool
	events        []Event
}

// NewOrderParams carries data already resolved against the catalogue.
type NewOrderParams struct {
	ID              string
	MerchantID      string
	CustomerID      string
	Currency        string
	Customer        CustomerInformation
	ShippingAddress Address
	ShippingMethod  string
	Items           []LineItemParams
	Gift            *GiftOption
	Now             time.Time
}

// NewOrder creates an order in PENDING_PAYMENT whose total is the item subtotal.
// The OrderPlaced event is held back until the first PullEvents call.
func NewOrder(p NewOrderParams) (*Order, error) {
	merchantID := strings.TrimSpace(p.MerchantID)
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchant id is required", ErrValidation)
	}
	currency, err := NormalizeCurrency(p.Currency)
	if err != nil {
		return nil, err
	}
	customer, err := NewCustomerInformation(p.Customer.Email, p.Customer.Name, p.Customer.Phone)
	if err != nil {
		return nil, err
	}
	address, err := NewAddress(p.ShippingAddress)
	if err != nil {
		return nil, err
	}

	items := make([]LineItem, 0, len(p.Items))
	for _, params := range p.Items {
		item, err := newLineItem(params)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	var gift *GiftOption
	if p.Gift != nil {
		g, err := NewGiftOption(p.Gift.Wrap, p.Gift.Message)
		if err != nil {
			return nil, err
		}
		gift = &g
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = orderIDPrefix + ulid.Make().String()
	}
	now := normaliseTime(p.Now)

	o := &Order{
		id:              id,
		merchantID:      merchantID,
		customerID:      strings.TrimSpace(p.CustomerID),
		currency:        currency,
		status:          OrderStatusPendingPayment,
		customer:        customer,
		shippingAddress: address,
		shippingMethod:  strings.TrimSpace(p.ShippingMethod),
		lineItems:       items,
		gift:            gift,
		createdAt:       now,
		updatedAt:       now,
		placedPending:   true,
	}
	o.totalAmount = o.Subtotal()
	return o, nil
}

func (o *Order) ID() string                    { return o.id }
func (o *Order) MerchantID() string            { return o.merchantID }
func (o *Order) CustomerID() string            { return o.customerID }
func (o *Order) Currency() string              { return o.currency }
func (o *Order) Status() OrderStatus           { return o.status }
func (o *Order) Customer() CustomerInformation { return o.customer }
func (o *Order) TotalAmount() int64            { return o.totalAmount }
func (o *Order) ShippingCost() int64           { return o.shippingCost }
func (o *Order) Version() int64                { return o.version }
func (o *Order) CreatedAt() time.Time          { return o.createdAt }
func (o *Order) UpdatedAt() time.Time          { return o.updatedAt }

// Shipping returns the destination, method, and cost currently set.
func (o *Order) Shipping() ShippingInformation {
	return ShippingInformation{Address: o.shippingAddress, Method: o.shippingMethod, Cost: o.shippingCost}
}

// LineItems returns a copy of the order lines.
func (o *Order) LineItems() []LineItem { return cloneLineItems(o.lineItems) }

// Promotions returns a copy of the applied promotions.
func (o *Order) Promotions() []AppliedPromotion { return slices.Clone(o.promotions) }

// Gift returns the order level gift option, if any.
func (o *Order) Gift() *GiftOption {
	if o.gift == nil {
		return nil
	}
	g := *o.gift
	return &g
}

// Payment returns the latest recorded payment attempt, if any.
func (o *Order) Payment() *PaymentReference {
	if o.payment == nil {
		return nil
	}
	p := *o.payment
	return &p
}

// Subtotal sums the line totals.
func (o *Order) Subtotal() int64 {
	var subtotal int64
	for _, item := range o.lineItems {
		subtotal = addAmounts(subtotal, item.TotalPrice)
	}
	return subtotal
}

// TotalDiscount sums the applied promotion discounts.
func (o *Order) TotalDiscount() int64 {
	var discount int64
	for _, promo := range o.promotions {
		discount = addAmounts(discount, promo.DiscountAmount)
	}
	return discount
}

// AddLineItem appends a line while the order is PENDING_PAYMENT or PROCESSING.
func (o *Order) AddLineItem(p LineItemParams, at time.Time) (LineItem, error) {
	if !o.status.lineItemsMutable() {
		return LineItem{}, fmt.Errorf("%w: cannot add line items in %s", ErrOrderNotMutable, o.status)
	}
	item, err := newLineItem(p)
	if err != nil {
		return LineItem{}, err
	}
	o.lineItems = append(o.lineItems, item)
	o.recalculate()
	o.touch(at)
	return item.clone(), nil
}

// ApplyPromotion records a promotion while the order is PENDING_PAYMENT.
// Applying a promotion whose id or code is already present is a no-op and
// reports false. The recorded discount is capped at the undiscounted part of
// the subtotal, so promotions never eat into shipping.
func (o *Order) ApplyPromotion(promo AppliedPromotion, at time.Time) (bool, error) {
	if o.status != OrderStatusPendingPayment {
		return false, fmt.Errorf("%w: cannot apply promotions in %s", ErrOrderNotMutable, o.status)
	}
	promo, err := NewAppliedPromotion(promo.PromotionID, promo.Code, promo.Description, promo.DiscountAmount)
	if err != nil {
		return false, err
	}
	for _, existing := range o.promotions {
		if existing.sameAs(promo) {
			return false, nil
		}
	}
	promo.DiscountAmount = min(promo.DiscountAmount, max(o.Subtotal()-o.TotalDiscount(), 0))
	o.promotions = append(o.promotions, promo)
	o.recalculate()
	o.touch(at)
	return true, nil
}

// SetShippingCost replaces the shipping cost and recomputes the total.
func (o *Order) SetShippingCost(cost int64, at time.Time) error {
	if cost < 0 {
		return fmt.Errorf("%w: shipping cost must not be negative", ErrValidation)
	}
	o.shippingCost = cost
	o.recalculate()
	o.touch(at)
	return nil
}

// UpdateShippingDetails replaces the shipping method and cost, and the address
// when one is supplied.
func (o *Order) UpdateShippingDetails(method string, cost int64, addr *Address, at time.Time) error {
	target := o.shippingAddress
	if addr != nil {
		target = *addr
	}
	info, err := NewShippingInformation(target, method, cost)
	if err != nil {
		return err
	}
	o.shippingAddress = info.Address
	o.shippingMethod = info.Method
	o.shippingCost = info.Cost
	o.recalculate()
	o.touch(at)
	return nil
}

// SetCalculatedTotal stores an authoritative total produced by an OrderCalculator.
func (o *Order) SetCalculatedTotal(total int64, at time.Time) error {
	if total < 0 {
		return fmt.Errorf("%w: total amount must not be negative", ErrValidation)
	}
	o.totalAmount = total
	o.touch(at)
	return nil
}

// UpdateStatus moves the order along the lifecycle and records OrderStatusChanged.
// On error the status is left unchanged.
func (o *Order) UpdateStatus(next OrderStatus, at time.Time) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !o.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.status, next)
	}
	if o.status == OrderStatusPendingPayment && next.advancing() && len(o.lineItems) == 0 {
		return fmt.Errorf("%w: order %s has no line items", ErrInvalidTransition, o.id)
	}

	previous := o.status
	o.status = next
	o.touch(at)
	o.events = append(o.events, OrderStatusChanged{
		ID:         newEventID(),
		OrderID:    o.id,
		MerchantID: o.merchantID,
		CustomerID: o.customerID,
		OldStatus:  previous,
		NewStatus:  next,
		At:         o.updatedAt,
	})
	return nil
}

// RecordPayment stores the outcome of the latest payment attempt.
func (o *Order) RecordPayment(ref PaymentReference, at time.Time) {
	ref.Provider = strings.TrimSpace(ref.Provider)
	ref.TransactionID = strings.TrimSpace(ref.TransactionID)
	o.touch(at)
	ref.UpdatedAt = o.updatedAt
	o.payment = &ref
}

// PullEvents returns and clears the recorded events. A pending OrderPlaced
// event is materialised first so it carries the total as last computed.
func (o *Order) PullEvents() []Event {
	var out []Event
	if o.placedPending {
		out = append(out, OrderPlaced{
			ID:          newEventID(),
			OrderID:     o.id,
			MerchantID:  o.merchantID,
			CustomerID:  o.customerID,
			TotalAmount: o.totalAmount,
			Currency:    o.currency,
			At:          o.createdAt,
		})
		o.placedPending = false
	}
	out = append(out, o.events...)
	o.events = nil
	return out
}

// MarkPersisted is called by repositories after a successful save.
func (o *Order) MarkPersisted(version int64) {
	o.version = version
}

func (o *Order) recalculate() {
	o.totalAmount = baseCalculator.Calculate(o.calculationInput()).TotalAmount
}

func (o *Order) calculationInput() CalculationInput {
	return CalculationInput{
		Currency:        o.currency,
		LineItems:       o.lineItems,
		Promotions:      o.promotions,
		ShippingCost:    o.shippingCost,
		ShippingAddress: o.shippingAddress,
	}
}

func (o *Order) touch(at time.Time) {
	at = normaliseTime(at)
	if at.Before(o.updatedAt) {
		at = o.updatedAt
	}
	o.updatedAt = at
}

// normaliseTime stores instants in UTC at microsecond precision, the finest
// resolution every supported store keeps.
func normaliseTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}
