package domain

import (
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

const lineItemIDPrefix = "li_"

// LineItem is one product entry within an order. Name and price are snapshots
// taken at order time so later catalogue edits leave history untouched.
type LineItem struct {
	ID          string      `json:"id"`
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	Quantity    int         `json:"quantity"`
	UnitPrice   int64       `json:"unitPrice"`
	TotalPrice  int64       `json:"totalPrice"`
	Gift        *GiftOption `json:"gift,omitempty"`
}

// LineItemParams carries the resolved product data for a new line.
type LineItemParams struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	Gift        *GiftOption
}

func newLineItem(p LineItemParams) (LineItem, error) {
	productID := strings.TrimSpace(p.ProductID)
	if productID == "" {
		return LineItem{}, fmt.Errorf("%w: line item product id is required", ErrValidation)
	}
	if p.Quantity <= 0 {
		return LineItem{}, fmt.Errorf("%w: line item %s quantity must be positive", ErrValidation, productID)
	}
	if p.UnitPrice < 0 {
		return LineItem{}, fmt.Errorf("%w: line item %s unit price must not be negative", ErrValidation, productID)
	}
	total, err := multiplyAmount(p.UnitPrice, p.Quantity)
	if err != nil {
		return LineItem{}, err
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = lineItemIDPrefix + ulid.Make().String()
	}

	item := LineItem{
		ID:          id,
		ProductID:   productID,
		ProductName: strings.TrimSpace(p.ProductName),
		Quantity:    p.Quantity,
		UnitPrice:   p.UnitPrice,
		TotalPrice:  total,
	}
	if p.Gift != nil {
		gift, err := NewGiftOption(p.Gift.Wrap, p.Gift.Message)
		if err != nil {
			return LineItem{}, err
		}
		item.Gift = &gift
	}
	return item, nil
}

// validate re-checks a line loaded from storage, including the stored total.
func (li LineItem) validate() error {
	if strings.TrimSpace(li.ID) == "" {
		return fmt.Errorf("%w: line item id is required", ErrValidation)
	}
	rebuilt, err := newLineItem(LineItemParams{
		ID:        li.ID,
		ProductID: li.ProductID,
		Quantity:  li.Quantity,
		UnitPrice: li.UnitPrice,
	})
	if err != nil {
		return err
	}
	if rebuilt.TotalPrice != li.TotalPrice {
		return fmt.Errorf("%w: line item %s total %d does not match %d x %d", ErrValidation, li.ID, li.TotalPrice, li.Quantity, li.UnitPrice)
	}
	return nil
}

func (li LineItem) clone() LineItem {
	if li.Gift != nil {
		gift := *li.Gift
		li.Gift = &gift
	}
	return li
}

func cloneLineItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	for i, item := range items {
		out[i] = item.clone()
	}
	return out
}
