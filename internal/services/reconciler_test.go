package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/domain/domaintest"
	"github.com/hanko-field/orders/internal/payments"
)

func TestPaymentReconcilerSweepSettlesStaleOrders(t *testing.T) {
	repo := newMemoryOrderRepo()
	for _, id := range []string{"ord_paid", "ord_declined", "ord_waiting", "ord_broken"} {
		repo.put(domaintest.Order(t, domaintest.WithID(id)))
	}
	fresh := domaintest.Order(t, domaintest.WithID("ord_fresh"), domaintest.WithCreatedAt(domaintest.Now.Add(55*time.Minute)))
	repo.put(fresh)

	var inFlight, peak atomic.Int32
	pay := &stubPayments{lookupFn: func(_ context.Context, req payments.LookupRequest) (payments.PaymentResult, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := peak.Load()
			if current <= seen || peak.CompareAndSwap(seen, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		switch req.OrderID {
		case "ord_paid":
			return payments.PaymentResult{Provider: "stripe", TransactionID: "pi_paid", Status: payments.StatusSuccess}, nil
		case "ord_declined":
			return payments.PaymentResult{Provider: "stripe", TransactionID: "pi_declined", Status: payments.StatusFailed}, nil
		case "ord_waiting":
			return payments.PaymentResult{Provider: "stripe", TransactionID: "pi_waiting", Status: payments.StatusPending}, nil
		case "ord_fresh":
			t.Errorf("order inside the grace period must not be reconciled")
		}
		return payments.PaymentResult{}, errors.New("stripe: unavailable")
	}}
	clock := func() time.Time { return domaintest.Now.Add(time.Hour) }
	orderSvc, err := NewOrderService(OrderServiceDeps{Orders: repo, Payments: pay, Clock: clock})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	logs := &captureLogs{}
	reconciler, err := NewPaymentReconciler(PaymentReconcilerDeps{
		Orders:      repo,
		Service:     orderSvc,
		GracePeriod: 10 * time.Minute,
		BatchSize:   10,
		Concurrency: 2,
		Clock:       clock,
		Logger:      logs.log,
	})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}

	report, err := reconciler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	want := SweepReport{Scanned: 4, Settled: 2, Pending: 1, Failures: 1}
	if report != want {
		t.Fatalf("expected %+v, got %+v", want, report)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent lookups, saw %d", peak.Load())
	}

	paid, _ := repo.stored("ord_paid")
	declined, _ := repo.stored("ord_declined")
	waiting, _ := repo.stored("ord_waiting")
	if paid.Status != domain.OrderStatusAwaitingShipment || declined.Status != domain.OrderStatusFailed || waiting.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected statuses paid=%s declined=%s waiting=%s", paid.Status, declined.Status, waiting.Status)
	}
	if !logs.has("order.reconcile.failed") || !logs.has("order.reconcile.sweep") {
		t.Fatalf("expected failure and summary logs")
	}
}

func TestPaymentReconcilerSweepListingFailure(t *testing.T) {
	repo := newMemoryOrderRepo()
	repo.pendingErr = storeUnavailable()
	orderSvc, _ := NewOrderService(OrderServiceDeps{Orders: repo, Payments: &stubPayments{}})
	reconciler, err := NewPaymentReconciler(PaymentReconcilerDeps{Orders: repo, Service: orderSvc})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}

	if _, err := reconciler.Sweep(context.Background()); !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPaymentReconcilerRunStopsOnCancel(t *testing.T) {
	repo := newMemoryOrderRepo()
	orderSvc, _ := NewOrderService(OrderServiceDeps{Orders: repo, Payments: &stubPayments{}})
	reconciler, err := NewPaymentReconciler(PaymentReconcilerDeps{Orders: repo, Service: orderSvc})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := reconciler.Run(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if err := reconciler.Run(context.Background(), 0); err == nil {
		t.Fatalf("expected error for non-positive interval")
	}
}

func TestNewPaymentReconcilerRequiresDependencies(t *testing.T) {
	if _, err := NewPaymentReconciler(PaymentReconcilerDeps{}); err == nil {
		t.Fatalf("expected error")
	}
}
