package domain

// CalculatedTotals is the output of an order calculation. It is never stored
// on its own; callers apply TotalAmount to the order.
type CalculatedTotals struct {
	Subtotal      int64 `json:"subtotal"`
	TotalDiscount int64 `json:"totalDiscount"`
	ShippingCost  int64 `json:"shippingCost"`
	Tax           int64 `json:"tax"`
	TotalAmount   int64 `json:"totalAmount"`
}

// CalculationInput is the subset of order state that determines its totals.
type CalculationInput struct {
	Currency        string
	LineItems       []LineItem
	Promotions      []AppliedPromotion
	ShippingCost    int64
	ShippingAddress Address
}

// TaxPolicy computes tax for the discounted, shipping-inclusive amount. It must be pure.
type TaxPolicy func(input CalculationInput, taxable int64) int64

// OrderCalculator derives order totals. The zero value applies no tax.
type OrderCalculator struct {
	tax TaxPolicy
}

// CalculatorOption customises an OrderCalculator.
type CalculatorOption func(*OrderCalculator)

// WithTaxPolicy installs a tax policy applied before the final clamp.
func WithTaxPolicy(policy TaxPolicy) CalculatorOption {
	return func(c *OrderCalculator) {
		c.tax = policy
	}
}

// NewOrderCalculator builds a calculator with the supplied options.
func NewOrderCalculator(opts ...CalculatorOption) OrderCalculator {
	var c OrderCalculator
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// Calculate computes subtotal, discount, shipping, tax, and a total clamped at zero.
func (c OrderCalculator) Calculate(in CalculationInput) CalculatedTotals {
	var totals CalculatedTotals
	for _, item := range in.LineItems {
		totals.Subtotal = addAmounts(totals.Subtotal, item.TotalPrice)
	}
	for _, promo := range in.Promotions {
		totals.TotalDiscount = addAmounts(totals.TotalDiscount, promo.DiscountAmount)
	}
	totals.ShippingCost = in.ShippingCost

	amount := addAmounts(totals.Subtotal, totals.ShippingCost) - totals.TotalDiscount
	if c.tax != nil {
		taxable := max(amount, 0)
		totals.Tax = max(c.tax(in, taxable), 0)
		amount = addAmounts(amount, totals.Tax)
	}
	totals.TotalAmount = max(amount, 0)
	return totals
}

// CalculateOrder runs Calculate against the order's current state.
func (c OrderCalculator) CalculateOrder(o *Order) CalculatedTotals {
	if o == nil {
		return CalculatedTotals{}
	}
	return c.Calculate(o.calculationInput())
}
