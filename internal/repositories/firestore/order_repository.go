package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates as documents in the orders collection.
// Every write runs in a transaction that compares the stored version with the aggregate's.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	txOpts   []pfirestore.TxOption
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		txOpts:   txOpts,
	}, nil
}

func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if order == nil {
		return nil, errors.New("order repository: order is required")
	}

	snapshot := order.Snapshot()
	expected := snapshot.Version
	doc := newOrderDocument(snapshot)
	doc.Version = expected + 1

	err := r.provider.RunTransaction(ctx, "orders.save", func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		current, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			if expected != 0 {
				return pfirestore.NewError("orders.save", codes.FailedPrecondition,
					fmt.Errorf("order %s no longer exists at version %d", snapshot.ID, expected))
			}
			return tx.Create(ref, doc)
		case err != nil:
			return err
		}

		stored, err := current.DataAt("version")
		if err != nil {
			return fmt.Errorf("decode order %s version: %w", snapshot.ID, err)
		}
		if v, _ := stored.(int64); v != expected {
			return pfirestore.NewError("orders.save", codes.FailedPrecondition,
				fmt.Errorf("order %s stored version %v, expected %d", snapshot.ID, stored, expected))
		}
		return tx.Set(ref, doc)
	}, r.txOpts...)
	if err != nil {
		return nil, err
	}

	order.MarkPersisted(doc.Version)
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pfirestore.NewError("orders.get", codes.NotFound, errors.New("order id is required"))
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return rehydrate(doc.ID, doc.Data)
}

func (r *OrderRepository) FindByMerchantID(ctx context.Context, merchantID string, page domain.Pagination) (domain.CursorPage[*domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[*domain.Order]{}, errors.New("order repository not initialised")
	}
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[*domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(page.PageSize)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("merchantId", "==", strings.TrimSpace(merchantID)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[*domain.Order]{}, err
	}

	result := domain.CursorPage[*domain.Order]{Items: make([]*domain.Order, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			last := result.Items[size-1]
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt(), ID: last.ID()})
			if err != nil {
				return domain.CursorPage[*domain.Order]{}, err
			}
			result.NextPageToken = token
			break
		}
		order, err := rehydrate(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[*domain.Order]{}, err
		}
		result.Items = append(result.Items, order)
	}
	return result, nil
}

func (r *OrderRepository) FindPendingPayment(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OrderStatusPendingPayment)).
			Where("updatedAt", "<", updatedBefore.UTC()).
			OrderBy("updatedAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := rehydrate(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func rehydrate(id string, doc orderDocument) (*domain.Order, error) {
	order, err := domain.RehydrateOrder(doc.toSnapshot(id))
	if err != nil {
		return nil, fmt.Errorf("decode order %s: %w", id, err)
	}
	return order, nil
}
