package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/orders/internal/repositories"
)

const (
	defaultReconcileGrace       = 10 * time.Minute
	defaultReconcileBatchSize   = 100
	defaultReconcileConcurrency = 4
)

// PaymentReconcilerDeps enumerates collaborators required to construct the reconciler.
type PaymentReconcilerDeps struct {
	Orders      repositories.OrderRepository
	Service     OrderService
	GracePeriod time.Duration
	BatchSize   int
	Concurrency int
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Scanned  int
	Settled  int
	Pending  int
	Failures int
}

// PaymentReconciler settles orders whose payment outcome was unknown at checkout.
type PaymentReconciler struct {
	orders      repositories.OrderRepository
	service     OrderService
	grace       time.Duration
	batchSize   int
	concurrency int
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewPaymentReconciler validates dependencies and applies defaults.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (*PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Service == nil {
		return nil, errors.New("payment reconciler: order service is required")
	}

	grace := deps.GracePeriod
	if grace < 0 {
		grace = defaultReconcileGrace
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatchSize
	}
	workers := deps.Concurrency
	if workers <= 0 {
		workers = defaultReconcileConcurrency
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PaymentReconciler{
		orders:      deps.Orders,
		service:     deps.Service,
		grace:       grace,
		batchSize:   batch,
		concurrency: workers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep reconciles one batch of stale PENDING_PAYMENT orders. Per-order
// failures are counted and logged; only listing failures and cancellation
// abort the sweep.
func (r *PaymentReconciler) Sweep(ctx context.Context) (SweepReport, error) {
	cutoff := r.clock().Add(-r.grace)
	pending, err := r.orders.FindPendingPayment(ctx, cutoff, r.batchSize)
	if err != nil {
		return SweepReport{}, mapRepositoryError(err)
	}

	report := SweepReport{Scanned: len(pending)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, order := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := r.service.ReconcilePayment(gctx, order.ID())

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Failures++
				r.logger(gctx, "order.reconcile.failed", map[string]any{
					"orderID": order.ID(),
					"error":   err.Error(),
				})
			case result.Changed:
				report.Settled++
			default:
				report.Pending++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	r.logger(ctx, "order.reconcile.sweep", map[string]any{
		"cutoff":   cutoff.Format(time.RFC3339),
		"scanned":  report.Scanned,
		"settled":  report.Settled,
		"pending":  report.Pending,
		"failures": report.Failures,
	})
	return report, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (r *PaymentReconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("payment reconciler: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger(ctx, "order.reconcile.sweep.failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
