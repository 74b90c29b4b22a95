package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/repositories"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	// Payments is required only for ReconcilePayment.
	Payments PaymentProvider
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	// LookupTimeout bounds a single PSP status query.
	LookupTimeout time.Duration
	// FailureGrace is how long after its last update an order must wait before
	// a FAILED lookup without a transaction id is accepted as final. It must
	// exceed the checkout payment timeout.
	FailureGrace time.Duration
}

type orderService struct {
	orders        repositories.OrderRepository
	payments      PaymentProvider
	events        OrderEventPublisher
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
	lookupTimeout time.Duration
	failureGrace  time.Duration
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	timeout := deps.LookupTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	grace := deps.FailureGrace
	if grace <= 0 {
		grace = defaultReconcileGrace
	}

	return &orderService{
		orders:   deps.Orders,
		payments: deps.Payments,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:        logger,
		lookupTimeout: timeout,
		failureGrace:  grace,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListMerchantOrders(ctx context.Context, merchantID string, page domain.Pagination) (domain.CursorPage[*domain.Order], error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return domain.CursorPage[*domain.Order]{}, fmt.Errorf("%w: merchant id is required", ErrOrderInvalidInput)
	}
	if page.PageSize < 0 {
		return domain.CursorPage[*domain.Order]{}, fmt.Errorf("%w: page size must not be negative", ErrOrderInvalidInput)
	}
	result, err := s.orders.FindByMerchantID(ctx, merchantID, page)
	if err != nil {
		return domain.CursorPage[*domain.Order]{}, mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionCommand) (*domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, err := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	if cmd.ExpectedVersion != nil && order.Version() != *cmd.ExpectedVersion {
		return nil, fmt.Errorf("%w: expected version %d but was %d", ErrOrderConflict, *cmd.ExpectedVersion, order.Version())
	}

	previous := order.Status()
	if err := order.UpdateStatus(target, s.clock()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %v", ErrOrderInvalidTransition, err)
		}
		return nil, err
	}

	saved, err := s.save(ctx, order)
	if err != nil {
		return nil, err
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"orderID":    saved.ID(),
		"merchantID": saved.MerchantID(),
		"from":       string(previous),
		"to":         string(saved.Status()),
		"version":    saved.Version(),
		"reason":     strings.TrimSpace(cmd.Reason),
	})
	return saved, nil
}

// ReconcilePayment queries the PSP for an order left in PENDING_PAYMENT and
// applies a settled outcome. Orders in any other status are returned unchanged.
func (s *orderService) ReconcilePayment(ctx context.Context, orderID string) (ReconcileResult, error) {
	if s.payments == nil {
		return ReconcileResult{}, fmt.Errorf("%w: payment provider is not configured", ErrOrderUnavailable)
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if order.Status() != domain.OrderStatusPendingPayment {
		return ReconcileResult{Order: order}, nil
	}

	req := payments.LookupRequest{
		OrderID:  order.ID(),
		Currency: order.Currency(),
	}
	if ref := order.Payment(); ref != nil {
		req.Provider = ref.Provider
		req.TransactionID = ref.TransactionID
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	result, err := s.payments.LookupPayment(lookupCtx, req)
	cancel()
	if err != nil {
		return ReconcileResult{Order: order}, fmt.Errorf("%w: payment lookup for %s: %w", ErrOrderUnavailable, order.ID(), err)
	}
	if result.Provider == "" {
		result.Provider = req.Provider
	}

	now := s.clock()
	var target domain.OrderStatus
	switch result.Status {
	case payments.StatusSuccess:
		target = domain.OrderStatusAwaitingShipment
	case payments.StatusFailed:
		// Without a transaction the PSP has not seen the attempt yet; a charge
		// may still be in flight until the grace period has passed.
		if result.TransactionID == "" && now.Sub(order.UpdatedAt()) < s.failureGrace {
			return ReconcileResult{Order: order, Payment: result}, nil
		}
		target = domain.OrderStatusFailed
	default:
		return ReconcileResult{Order: order, Payment: result}, nil
	}

	order.RecordPayment(paymentReference(result), now)
	if err := order.UpdateStatus(target, now); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidTransition, err)
		}
		return ReconcileResult{}, err
	}
	saved, err := s.save(ctx, order)
	if err != nil {
		return ReconcileResult{}, err
	}

	s.logger(ctx, "order.payment.reconciled", map[string]any{
		"orderID":       saved.ID(),
		"paymentStatus": string(result.Status),
		"transactionID": result.TransactionID,
		"status":        string(saved.Status()),
	})
	return ReconcileResult{Order: saved, Payment: result, Changed: true}, nil
}

func (s *orderService) save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	saved, err := s.orders.Save(ctx, order)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if saved == nil {
		saved = order
	}
	publishOrderEvents(ctx, s.events, s.logger, saved)
	return saved, nil
}
