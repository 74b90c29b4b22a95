package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/services"
)

const (
	productsCollection  = "products"
	inventoryCollection = "inventory"
)

// ProductProvider reads catalogue entries from the products collection and stock
// levels from the inventory collection. Both are keyed by product id.
type ProductProvider struct {
	products *pfirestore.BaseRepository[productDocument]
	stocks   *pfirestore.BaseRepository[stockDocument]
}

var _ services.ProductProvider = (*ProductProvider)(nil)

func NewProductProvider(provider *pfirestore.Provider) (*ProductProvider, error) {
	if provider == nil {
		return nil, errors.New("product provider requires firestore provider")
	}
	return &ProductProvider{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
		stocks:   pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection, nil),
	}, nil
}

// GetProductDetails returns services.ErrProductNotFound for missing or inactive products.
func (p *ProductProvider) GetProductDetails(ctx context.Context, productID string) (services.ProductDetails, error) {
	if p == nil || p.products == nil {
		return services.ProductDetails{}, errors.New("product provider not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return services.ProductDetails{}, fmt.Errorf("%w: product id is required", services.ErrProductNotFound)
	}

	doc, err := p.products.Get(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return services.ProductDetails{}, fmt.Errorf("%w: %s", services.ErrProductNotFound, productID)
		}
		return services.ProductDetails{}, err
	}
	if !doc.Data.Active {
		return services.ProductDetails{}, fmt.Errorf("%w: %s is inactive", services.ErrProductNotFound, productID)
	}
	return services.ProductDetails{
		ID:    doc.ID,
		Name:  strings.TrimSpace(doc.Data.Name),
		Price: doc.Data.Price,
	}, nil
}

// CheckStockAvailability reports whether available stock (on hand minus reserved)
// covers quantity. Products without an inventory document are treated as out of stock.
func (p *ProductProvider) CheckStockAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	if p == nil || p.stocks == nil {
		return false, errors.New("product provider not initialised")
	}
	if quantity <= 0 {
		return false, fmt.Errorf("stock check: quantity must be positive, got %d", quantity)
	}

	doc, err := p.stocks.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	stock := doc.Data
	stock.recalculate()
	return stock.Available >= quantity, nil
}

func isNotFound(err error) bool {
	var ferr *pfirestore.Error
	return errors.As(err, &ferr) && ferr.IsNotFound()
}

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type stockDocument struct {
	SKU         string    `firestore:"sku"`
	OnHand      int       `firestore:"onHand"`
	Reserved    int       `firestore:"reserved"`
	Available   int       `firestore:"available"`
	SafetyStock int       `firestore:"safetyStock"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
}
