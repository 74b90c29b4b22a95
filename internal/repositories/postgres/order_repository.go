// Package postgres stores order aggregates in PostgreSQL through pgx. The full
// aggregate is kept as a JSONB document next to the columns used for lookups.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
  id          text PRIMARY KEY,
  merchant_id text NOT NULL,
  status      text NOT NULL,
  version     bigint NOT NULL,
  created_at  timestamptz NOT NULL,
  updated_at  timestamptz NOT NULL,
  payload     jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_merchant_created_idx ON orders (merchant_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS orders_status_updated_idx ON orders (status, updated_at);`

// querier is the subset of pgxpool.Pool used by the repository.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderRepository implements repositories.OrderRepository on PostgreSQL.
type OrderRepository struct {
	db querier
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Open connects a pool to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the orders table and its indexes when absent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func NewOrderRepository(pool *pgxpool.Pool) (*OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("order repository requires postgres pool")
	}
	return &OrderRepository{db: pool}, nil
}

func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, errors.New("order repository: order is required")
	}
	snapshot := order.Snapshot()
	expected := snapshot.Version
	snapshot.Version = expected + 1

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode order %s: %w", snapshot.ID, err)
	}

	var tag pgconn.CommandTag
	if expected == 0 {
		tag, err = r.db.Exec(ctx, `
INSERT INTO orders (id, merchant_id, status, version, created_at, updated_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`,
			snapshot.ID, snapshot.MerchantID, string(snapshot.Status), snapshot.Version,
			snapshot.CreatedAt, snapshot.UpdatedAt, payload)
	} else {
		tag, err = r.db.Exec(ctx, `
UPDATE orders
SET status = $2, version = $3, updated_at = $4, payload = $5
WHERE id = $1 AND version = $6`,
			snapshot.ID, string(snapshot.Status), snapshot.Version, snapshot.UpdatedAt, payload, expected)
	}
	if err != nil {
		return nil, wrapError("orders.save", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, repositories.NewStoreError("orders.save", repositories.KindConflict,
			fmt.Errorf("order %s is not at version %d", snapshot.ID, expected))
	}

	order.MarkPersisted(snapshot.Version)
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM orders WHERE id = $1`, strings.TrimSpace(orderID)).Scan(&payload)
	if err != nil {
		return nil, wrapError("orders.get", err)
	}
	return decodeOrder(payload)
}

func (r *OrderRepository) FindByMerchantID(ctx context.Context, merchantID string, page domain.Pagination) (domain.CursorPage[*domain.Order], error) {
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return domain.CursorPage[*domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(page.PageSize)

	var rows pgx.Rows
	if cursor.IsZero() {
		rows, err = r.db.Query(ctx, `
SELECT payload FROM orders
WHERE merchant_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, merchantID, size+1)
	} else {
		rows, err = r.db.Query(ctx, `
SELECT payload FROM orders
WHERE merchant_id = $1 AND (created_at, id) < ($2, $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`, merchantID, cursor.CreatedAt, cursor.ID, size+1)
	}
	if err != nil {
		return domain.CursorPage[*domain.Order]{}, wrapError("orders.list", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return domain.CursorPage[*domain.Order]{}, err
	}

	result := domain.CursorPage[*domain.Order]{Items: orders}
	if len(orders) > size {
		result.Items = orders[:size]
		last := result.Items[size-1]
		result.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt(), ID: last.ID()})
		if err != nil {
			return domain.CursorPage[*domain.Order]{}, err
		}
	}
	return result, nil
}

func (r *OrderRepository) FindPendingPayment(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	rows, err := r.db.Query(ctx, `
SELECT payload FROM orders
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3`, string(domain.OrderStatusPendingPayment), updatedBefore.UTC(), limit)
	if err != nil {
		return nil, wrapError("orders.pending", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]*domain.Order, error) {
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, wrapError("orders.scan", err)
	}
	orders := make([]*domain.Order, 0, len(payloads))
	for _, payload := range payloads {
		order, err := decodeOrder(payload)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func decodeOrder(payload []byte) (*domain.Order, error) {
	var snapshot domain.OrderSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode order payload: %w", err)
	}
	order, err := domain.RehydrateOrder(snapshot)
	if err != nil {
		return nil, fmt.Errorf("decode order %s: %w", snapshot.ID, err)
	}
	return order, nil
}

// wrapError classifies pgx failures. Context errors pass through unchanged.
func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.KindNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return repositories.NewStoreError(op, repositories.KindConflict, err)
		case "57P01", "57P03", "53300":
			return repositories.NewStoreError(op, repositories.KindUnavailable, err)
		}
		return repositories.NewStoreError(op, repositories.KindUnknown, err)
	}
	if pgconn.Timeout(err) {
		return repositories.NewStoreError(op, repositories.KindUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return repositories.NewStoreError(op, repositories.KindUnavailable, err)
	}
	return repositories.NewStoreError(op, repositories.KindUnknown, err)
}
