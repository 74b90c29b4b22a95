package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// OrderRepository is the durability boundary for order aggregates.
type OrderRepository interface {
	// Save upserts the order. The write succeeds only when the stored version
	// equals order.Version() (zero for a new order); on success the order is
	// marked persisted with the incremented version. Stale writes return a
	// RepositoryError with IsConflict.
	Save(ctx context.Context, order *domain.Order) (*domain.Order, error)
	// FindByID returns a RepositoryError with IsNotFound when the order is absent.
	FindByID(ctx context.Context, orderID string) (*domain.Order, error)
	// FindByMerchantID lists a merchant's orders, newest first.
	FindByMerchantID(ctx context.Context, merchantID string, page domain.Pagination) (domain.CursorPage[*domain.Order], error)
	// FindPendingPayment lists PENDING_PAYMENT orders last updated before the cutoff, oldest first.
	FindPendingPayment(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Order, error)
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}
