package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/domain/domaintest"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

func newTestRepository(t *testing.T) *OrderRepository {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewOrderRepository(db)
	require.NoError(t, err)
	return repo
}

func requireKind(t *testing.T, err error, check func(repositories.RepositoryError) bool) {
	t.Helper()
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr), "expected repository error, got %v", err)
	assert.True(t, check(repoErr), "unexpected classification for %v", err)
}

func TestOrderRepository_SaveAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	order := domaintest.Order(t, domaintest.WithID("ord_1"), domaintest.WithGift("<b>Enjoy</b>"))
	require.NoError(t, order.SetShippingCost(500, domaintest.Now))

	saved, err := repo.Save(ctx, order)
	require.NoError(t, err)
	assert.Same(t, order, saved)
	assert.Equal(t, int64(1), order.Version())

	loaded, err := repo.FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version())
	assert.Equal(t, int64(5599), loaded.TotalAmount())
	assert.Equal(t, domain.OrderStatusPendingPayment, loaded.Status())
	assert.Len(t, loaded.LineItems(), 2)
	require.NotNil(t, loaded.Gift())
	assert.Equal(t, "Enjoy", loaded.Gift().Message)
	assert.True(t, loaded.CreatedAt().Equal(domaintest.Now))
	assert.Empty(t, loaded.PullEvents())
}

func TestOrderRepository_SaveIncrementsVersion(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	order := domaintest.Order(t, domaintest.WithID("ord_1"))
	_, err := repo.Save(ctx, order)
	require.NoError(t, err)

	require.NoError(t, order.UpdateStatus(domain.OrderStatusProcessing, domaintest.Now.Add(time.Minute)))
	_, err = repo.Save(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, int64(2), order.Version())

	loaded, err := repo.FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, loaded.Status())
	assert.Equal(t, int64(2), loaded.Version())
}

func TestOrderRepository_StaleWriteConflicts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, domaintest.Order(t, domaintest.WithID("ord_1")))
	require.NoError(t, err)

	first, err := repo.FindByID(ctx, "ord_1")
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, "ord_1")
	require.NoError(t, err)

	require.NoError(t, first.UpdateStatus(domain.OrderStatusAwaitingShipment, domaintest.Now))
	_, err = repo.Save(ctx, first)
	require.NoError(t, err)

	require.NoError(t, second.UpdateStatus(domain.OrderStatusCancelled, domaintest.Now))
	_, err = repo.Save(ctx, second)
	requireKind(t, err, repositories.RepositoryError.IsConflict)
	assert.Equal(t, int64(1), second.Version())

	loaded, err := repo.FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingShipment, loaded.Status())
}

func TestOrderRepository_InsertExistingIDConflicts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, domaintest.Order(t, domaintest.WithID("ord_1")))
	require.NoError(t, err)

	_, err = repo.Save(ctx, domaintest.Order(t, domaintest.WithID("ord_1")))
	requireKind(t, err, repositories.RepositoryError.IsConflict)
}

func TestOrderRepository_FindByIDNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.FindByID(context.Background(), "ord_missing")
	requireKind(t, err, repositories.RepositoryError.IsNotFound)
}

func TestOrderRepository_FindByMerchantIDPaginates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o := domaintest.Order(t,
			domaintest.WithID(fmt.Sprintf("ord_%d", i)),
			domaintest.WithCreatedAt(domaintest.Now.Add(time.Duration(i)*time.Minute)),
		)
		_, err := repo.Save(ctx, o)
		require.NoError(t, err)
	}
	// same instant as ord_4; ordered by id descending after it
	_, err := repo.Save(ctx, domaintest.Order(t,
		domaintest.WithID("ord_39"),
		domaintest.WithCreatedAt(domaintest.Now.Add(4*time.Minute)),
	))
	require.NoError(t, err)
	_, err = repo.Save(ctx, domaintest.Order(t, domaintest.WithID("ord_other"), domaintest.WithMerchant("mer_2")))
	require.NoError(t, err)

	var ids []string
	page := domain.Pagination{PageSize: 2}
	for {
		result, err := repo.FindByMerchantID(ctx, "mer_1", page)
		require.NoError(t, err)
		for _, o := range result.Items {
			ids = append(ids, o.ID())
		}
		if result.NextPageToken == "" {
			break
		}
		page.PageToken = result.NextPageToken
	}
	assert.Equal(t, []string{"ord_4", "ord_39", "ord_3", "ord_2", "ord_1", "ord_0"}, ids)
}

func TestOrderRepository_FindByMerchantIDRejectsBadToken(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.FindByMerchantID(context.Background(), "mer_1", domain.Pagination{PageToken: "%%%"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestOrderRepository_FindPendingPayment(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	old := domaintest.Order(t, domaintest.WithID("ord_old"), domaintest.WithCreatedAt(domaintest.Now.Add(-time.Hour)))
	fresh := domaintest.Order(t, domaintest.WithID("ord_fresh"), domaintest.WithCreatedAt(domaintest.Now))
	paid := domaintest.Order(t, domaintest.WithID("ord_paid"), domaintest.WithCreatedAt(domaintest.Now.Add(-2*time.Hour)))
	require.NoError(t, paid.UpdateStatus(domain.OrderStatusAwaitingShipment, domaintest.Now.Add(-2*time.Hour)))
	older := domaintest.Order(t, domaintest.WithID("ord_older"), domaintest.WithCreatedAt(domaintest.Now.Add(-3*time.Hour)))

	for _, o := range []*domain.Order{old, fresh, paid, older} {
		_, err := repo.Save(ctx, o)
		require.NoError(t, err)
	}

	pending, err := repo.FindPendingPayment(ctx, domaintest.Now.Add(-10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "ord_older", pending[0].ID())
	assert.Equal(t, "ord_old", pending[1].ID())

	limited, err := repo.FindPendingPayment(ctx, domaintest.Now.Add(-10*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "ord_older", limited[0].ID())
}
