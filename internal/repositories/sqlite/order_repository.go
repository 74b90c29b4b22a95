// Package sqlite keeps order aggregates in an embedded SQLite database. It
// backs local runs and tests that should not depend on a network store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
  id          TEXT PRIMARY KEY,
  merchant_id TEXT NOT NULL,
  status      TEXT NOT NULL,
  version     INTEGER NOT NULL,
  created_at  INTEGER NOT NULL,
  updated_at  INTEGER NOT NULL,
  payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_merchant_created_idx ON orders (merchant_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS orders_status_updated_idx ON orders (status, updated_at);`

// Open opens the database at path, enables WAL, and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return db, nil
}

// OrderRepository implements repositories.OrderRepository on SQLite.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(db *sql.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires sqlite database")
	}
	return &OrderRepository{db: db}, nil
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

	var res sql.Result
	if expected == 0 {
		res, err = r.db.ExecContext(ctx, `
INSERT INTO orders (id, merchant_id, status, version, created_at, updated_at, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
			snapshot.ID, snapshot.MerchantID, string(snapshot.Status), snapshot.Version,
			snapshot.CreatedAt.UnixMicro(), snapshot.UpdatedAt.UnixMicro(), string(payload))
	} else {
		res, err = r.db.ExecContext(ctx, `
UPDATE orders
SET status = ?, version = ?, updated_at = ?, payload = ?
WHERE id = ? AND version = ?`,
			string(snapshot.Status), snapshot.Version, snapshot.UpdatedAt.UnixMicro(), string(payload),
			snapshot.ID, expected)
	}
	if err != nil {
		return nil, wrapError("orders.save", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, wrapError("orders.save", err)
	}
	if affected == 0 {
		return nil, repositories.NewStoreError("orders.save", repositories.KindConflict,
			fmt.Errorf("order %s is not at version %d", snapshot.ID, expected))
	}

	order.MarkPersisted(snapshot.Version)
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM orders WHERE id = ?`, strings.TrimSpace(orderID)).Scan(&payload)
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

	var rows *sql.Rows
	if cursor.IsZero() {
		rows, err = r.db.QueryContext(ctx, `
SELECT payload FROM orders
WHERE merchant_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, merchantID, size+1)
	} else {
		at := cursor.CreatedAt.UnixMicro()
		rows, err = r.db.QueryContext(ctx, `
SELECT payload FROM orders
WHERE merchant_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
ORDER BY created_at DESC, id DESC
LIMIT ?`, merchantID, at, at, cursor.ID, size+1)
	}
	if err != nil {
		return domain.CursorPage[*domain.Order]{}, wrapError("orders.list", err)
	}
	orders, err := scanOrders(rows)
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
	rows, err := r.db.QueryContext(ctx, `
SELECT payload FROM orders
WHERE status = ? AND updated_at < ?
ORDER BY updated_at ASC
LIMIT ?`, string(domain.OrderStatusPendingPayment), updatedBefore.UnixMicro(), limit)
	if err != nil {
		return nil, wrapError("orders.pending", err)
	}
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	defer rows.Close()
	var orders []*domain.Order
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapError("orders.scan", err)
		}
		order, err := decodeOrder(payload)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("orders.scan", err)
	}
	return orders, nil
}

func decodeOrder(payload string) (*domain.Order, error) {
	var snapshot domain.OrderSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("decode order payload: %w", err)
	}
	order, err := domain.RehydrateOrder(snapshot)
	if err != nil {
		return nil, fmt.Errorf("decode order %s: %w", snapshot.ID, err)
	}
	return order, nil
}

// wrapError classifies driver failures. Both drivers report lock contention
// through the message text only.
func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.KindNotFound, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"):
		return repositories.NewStoreError(op, repositories.KindConflict, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sqlite_busy"), errors.Is(err, sql.ErrConnDone):
		return repositories.NewStoreError(op, repositories.KindUnavailable, err)
	}
	return repositories.NewStoreError(op, repositories.KindUnknown, err)
}
