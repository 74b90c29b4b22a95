package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/domain/domaintest"
	"github.com/hanko-field/orders/internal/payments"
)

type checkoutFixture struct {
	repo       *memoryOrderRepo
	products   *stubProducts
	promotions *stubPromotions
	shipping   *stubShipping
	payments   *stubPayments
	profiles   *stubProfiles
	events     *captureEvents
	logs       *captureLogs
}

func newCheckoutFixture(t *testing.T, mutate func(*CheckoutServiceDeps)) (CheckoutService, *checkoutFixture) {
	t.Helper()
	fx := &checkoutFixture{
		repo:       newMemoryOrderRepo(),
		products:   newStubProducts(),
		promotions: &stubPromotions{},
		shipping:   &stubShipping{},
		payments:   &stubPayments{},
		profiles:   &stubProfiles{},
		events:     &captureEvents{},
		logs:       &captureLogs{},
	}
	deps := CheckoutServiceDeps{
		Orders:     fx.repo,
		Products:   fx.products,
		Promotions: fx.promotions,
		Shipping:   fx.shipping,
		Payments:   fx.payments,
		Profiles:   fx.profiles,
		Events:     fx.events,
		Clock:      fixedClock,
		Logger:     fx.logs.log,
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc, fx
}

func standardRequest() CheckoutRequest {
	return CheckoutRequest{
		MerchantID:      "mer_1",
		CustomerID:      "cus_1",
		Currency:        "usd",
		Customer:        domain.CustomerInformation{Email: "ada@example.com", Name: "Ada"},
		ShippingAddress: domaintest.Address(),
		Items: []CheckoutItem{
			{ProductID: "prod_widget", Quantity: 1},
			{ProductID: "prod_gadget", Quantity: 2},
		},
		PaymentMethodID: "pm_card_visa",
	}
}

func requireCheckoutError(t *testing.T, err error) *CheckoutError {
	t.Helper()
	var checkoutErr *CheckoutError
	if !errors.As(err, &checkoutErr) {
		t.Fatalf("expected CheckoutError, got %v", err)
	}
	return checkoutErr
}

func TestCheckoutChargesAndAdvancesOrder(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)

	result, err := svc.Checkout(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	order := result.Order
	if order.Status() != domain.OrderStatusAwaitingShipment {
		t.Fatalf("expected AWAITING_SHIPMENT, got %s", order.Status())
	}
	if order.TotalAmount() != 5599 || result.Totals.TotalAmount != 5599 {
		t.Fatalf("expected total 5599, got order=%d totals=%+v", order.TotalAmount(), result.Totals)
	}
	if result.Shipping.ID != "standard" || order.Shipping().Method != "standard" || order.ShippingCost() != 500 {
		t.Fatalf("expected cheapest first-returned option, got %+v / %+v", result.Shipping, order.Shipping())
	}
	if order.Version() != 2 {
		t.Fatalf("expected version 2 after two saves, got %d", order.Version())
	}

	if len(fx.payments.requests) != 1 {
		t.Fatalf("expected one payment request, got %d", len(fx.payments.requests))
	}
	req := fx.payments.requests[0]
	if req.OrderID != order.ID() || req.Amount != 5599 || req.Currency != "USD" {
		t.Fatalf("unexpected payment request %+v", req)
	}
	if req.IdempotencyKey != "order:"+order.ID() || req.PaymentMethodID != "pm_card_visa" {
		t.Fatalf("unexpected payment identity %+v", req)
	}
	if req.Customer.Email != "ada@example.com" || req.Customer.CustomerID != "cus_1" {
		t.Fatalf("unexpected payment customer %+v", req.Customer)
	}

	statuses := fx.repo.savedStatuses()
	if len(statuses) != 2 || statuses[0] != domain.OrderStatusPendingPayment || statuses[1] != domain.OrderStatusAwaitingShipment {
		t.Fatalf("unexpected save sequence %v", statuses)
	}
	if fx.repo.saves[0].Payment != nil {
		t.Fatalf("order must be persisted before any payment is recorded")
	}
	stored, _ := fx.repo.stored(order.ID())
	if stored.Payment == nil || stored.Payment.TransactionID != "pi_123" || stored.Payment.Status != "SUCCESS" {
		t.Fatalf("expected payment reference to be stored, got %+v", stored.Payment)
	}

	names := fx.events.names()
	if len(names) != 2 || names[0] != domain.EventOrderPlaced || names[1] != domain.EventOrderStatusChanged {
		t.Fatalf("unexpected events %v", names)
	}
	placed := fx.events.events[0].(domain.OrderPlaced)
	if placed.TotalAmount != 5599 || placed.Currency != "USD" || placed.CustomerID != "cus_1" {
		t.Fatalf("unexpected OrderPlaced %+v", placed)
	}
	if !fx.logs.has("checkout.completed") {
		t.Fatalf("expected completion log")
	}
}

func TestCheckoutAppliesPromotionWithFullContext(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.promotions.validateFn = func(_ context.Context, code string, promoCtx PromotionContext) (*PromotionResult, error) {
		if !strings.EqualFold(code, "DISCOUNT10") {
			return nil, nil
		}
		if promoCtx.MerchantID != "mer_1" || promoCtx.CustomerID != "cus_1" || promoCtx.Currency != "USD" {
			t.Fatalf("unexpected promotion context %+v", promoCtx)
		}
		if len(promoCtx.Items) != 2 || promoCtx.ShippingAddress.Country != "GB" {
			t.Fatalf("expected items and destination in context, got %+v", promoCtx)
		}
		if promoCtx.Subtotal <= 2000 {
			return nil, nil
		}
		return &PromotionResult{
			PromotionID:    "promo_discount10",
			Code:           "DISCOUNT10",
			Description:    "10% off orders over $20",
			DiscountAmount: domain.PercentOf(promoCtx.Subtotal, decimal.NewFromInt(10)),
		}, nil
	}

	req := standardRequest()
	req.PromotionCodes = []string{"DISCOUNT10", " discount10 ", "NOPE", ""}
	result, err := svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if len(fx.promotions.calls) != 2 {
		t.Fatalf("expected deduplicated codes to be validated once each, got %v", fx.promotions.calls)
	}
	promos := result.Order.Promotions()
	if len(promos) != 1 || promos[0].DiscountAmount != 510 {
		t.Fatalf("expected a single 510 discount, got %+v", promos)
	}
	if result.Order.TotalAmount() != 5089 {
		t.Fatalf("expected 5099-510+500=5089, got %d", result.Order.TotalAmount())
	}
	if fx.payments.requests[0].Amount != 5089 {
		t.Fatalf("expected discounted amount charged, got %d", fx.payments.requests[0].Amount)
	}
	if !fx.logs.has("checkout.promotion.rejected") {
		t.Fatalf("expected rejected promotion to be logged")
	}
}

func TestCheckoutInsufficientStockNeverPersists(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.products.outOfStock["prod_gadget"] = true

	_, err := svc.Checkout(context.Background(), standardRequest())
	if !errors.Is(err, ErrCheckoutInsufficientStock) || !errors.Is(err, ErrCheckoutFailed) {
		t.Fatalf("expected insufficient stock checkout failure, got %v", err)
	}
	checkoutErr := requireCheckoutError(t, err)
	if checkoutErr.Stage != StageProducts || checkoutErr.Persisted || checkoutErr.OrderID != "" {
		t.Fatalf("unexpected checkout error %+v", checkoutErr)
	}
	if fx.repo.saveCalls != 0 {
		t.Fatalf("expected no save, got %d", fx.repo.saveCalls)
	}
	if len(fx.payments.requests) != 0 || len(fx.events.events) != 0 {
		t.Fatalf("expected no payment or events")
	}
}

func TestCheckoutUnknownProductIsNotFound(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	req := standardRequest()
	req.Items = append(req.Items, CheckoutItem{ProductID: "prod_missing", Quantity: 1})

	_, err := svc.Checkout(context.Background(), req)
	if !errors.Is(err, ErrCheckoutNotFound) || !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if fx.repo.saveCalls != 0 {
		t.Fatalf("expected no save")
	}
}

func TestCheckoutChecksStockForCombinedQuantity(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	req := standardRequest()
	req.Items = []CheckoutItem{
		{ProductID: "prod_gadget", Quantity: 1},
		{ProductID: "prod_widget", Quantity: 1},
		{ProductID: "prod_gadget", Quantity: 2, Gift: &domain.GiftOption{Wrap: true}},
	}

	result, err := svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(fx.products.stockCalls) != 2 {
		t.Fatalf("expected one stock check per product, got %+v", fx.products.stockCalls)
	}
	if fx.products.stockCalls[0] != (stockCall{productID: "prod_gadget", quantity: 3}) {
		t.Fatalf("expected combined gadget quantity, got %+v", fx.products.stockCalls[0])
	}
	items := result.Order.LineItems()
	if len(items) != 3 || items[2].Gift == nil || !items[2].Gift.Wrap {
		t.Fatalf("expected requested lines to be kept separately, got %+v", items)
	}
}

func TestCheckoutPaymentDeclinedMarksOrderFailed(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.payments.processFn = func(context.Context, payments.PaymentRequest) (payments.PaymentResult, error) {
		return payments.PaymentResult{
			Provider:      "stripe",
			TransactionID: "pi_declined",
			Status:        payments.StatusFailed,
			ErrorMessage:  "card_declined",
		}, nil
	}

	result, err := svc.Checkout(context.Background(), standardRequest())
	if !errors.Is(err, ErrCheckoutPaymentFailed) || !errors.Is(err, ErrCheckoutFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	if result.Order != nil {
		t.Fatalf("expected no order on failure")
	}
	checkoutErr := requireCheckoutError(t, err)
	if !checkoutErr.Persisted || checkoutErr.OrderID == "" || checkoutErr.Stage != StagePayment {
		t.Fatalf("unexpected checkout error %+v", checkoutErr)
	}
	if !strings.Contains(err.Error(), "card_declined") {
		t.Fatalf("expected decline reason in error, got %v", err)
	}

	statuses := fx.repo.savedStatuses()
	if len(statuses) != 2 || statuses[0] != domain.OrderStatusPendingPayment || statuses[1] != domain.OrderStatusFailed {
		t.Fatalf("unexpected save sequence %v", statuses)
	}
	stored, _ := fx.repo.stored(checkoutErr.OrderID)
	if stored.Payment == nil || stored.Payment.TransactionID != "pi_declined" {
		t.Fatalf("expected declined attempt to be recorded, got %+v", stored.Payment)
	}

	if len(fx.events.events) != 2 {
		t.Fatalf("expected OrderPlaced and OrderStatusChanged, got %v", fx.events.names())
	}
	changed, ok := fx.events.events[1].(domain.OrderStatusChanged)
	if !ok || changed.OldStatus != domain.OrderStatusPendingPayment || changed.NewStatus != domain.OrderStatusFailed {
		t.Fatalf("unexpected status change event %+v", fx.events.events[1])
	}
}

func TestCheckoutNoShippingOptions(t *testing.T) {
	tests := []struct {
		name    string
		options []ShippingOption
	}{
		{name: "empty"},
		{name: "other currency", options: []ShippingOption{{ID: "jp", Cost: 800, Currency: "JPY"}}},
		{name: "unnamed or negative", options: []ShippingOption{{Cost: 100}, {ID: "bad", Cost: -1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, fx := newCheckoutFixture(t, nil)
			fx.shipping.optionsFn = func(context.Context, ShippingRequest) ([]ShippingOption, error) {
				return tc.options, nil
			}
			_, err := svc.Checkout(context.Background(), standardRequest())
			if !errors.Is(err, ErrCheckoutNoShippingOptions) {
				t.Fatalf("expected no shipping options, got %v", err)
			}
			if len(fx.products.stockCalls) != 0 || fx.repo.saveCalls != 0 {
				t.Fatalf("expected checkout to stop before catalogue lookups")
			}
		})
	}
}

func TestCheckoutProviderTimeoutIsUnavailable(t *testing.T) {
	svc, fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.ProviderTimeout = 10 * time.Millisecond
	})
	fx.shipping.optionsFn = func(ctx context.Context, _ ShippingRequest) ([]ShippingOption, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := svc.Checkout(context.Background(), standardRequest())
	if !errors.Is(err, ErrCheckoutUnavailable) || !errors.Is(err, ErrCheckoutFailed) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to be preserved, got %v", err)
	}
	if requireCheckoutError(t, err).Stage != StageShipping {
		t.Fatalf("expected shipping stage")
	}
}

func TestCheckoutPromotionProviderErrorAbortsBeforePersistence(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.promotions.validateFn = func(context.Context, string, PromotionContext) (*PromotionResult, error) {
		return nil, errors.New("promotions down")
	}
	req := standardRequest()
	req.PromotionCodes = []string{"DISCOUNT10"}

	_, err := svc.Checkout(context.Background(), req)
	if !errors.Is(err, ErrCheckoutUnavailable) || requireCheckoutError(t, err).Stage != StagePromotions {
		t.Fatalf("expected promotion stage failure, got %v", err)
	}
	if fx.repo.saveCalls != 0 {
		t.Fatalf("expected no save")
	}
}

func TestCheckoutRequiresActionLeavesOrderPending(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.payments.processFn = func(context.Context, payments.PaymentRequest) (payments.PaymentResult, error) {
		return payments.PaymentResult{
			Provider:      "stripe",
			TransactionID: "pi_3ds",
			Status:        payments.StatusRequiresAction,
			ClientSecret:  "pi_3ds_secret",
		}, nil
	}

	result, err := svc.Checkout(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.Status() != domain.OrderStatusPendingPayment {
		t.Fatalf("expected PENDING_PAYMENT, got %s", result.Order.Status())
	}
	if result.Payment.Status != payments.StatusRequiresAction || result.Payment.ClientSecret != "pi_3ds_secret" {
		t.Fatalf("unexpected payment result %+v", result.Payment)
	}
	stored, _ := fx.repo.stored(result.Order.ID())
	if stored.Version != 2 || stored.Payment == nil || stored.Payment.TransactionID != "pi_3ds" {
		t.Fatalf("expected pending attempt to be stored, got %+v", stored)
	}
	if names := fx.events.names(); len(names) != 1 {
		t.Fatalf("expected only OrderPlaced, got %v", names)
	}
}

func TestCheckoutPaymentTimeoutResolvedByLookup(t *testing.T) {
	svc, fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.PaymentTimeout = 10 * time.Millisecond
	})
	fx.payments.processFn = func(ctx context.Context, _ payments.PaymentRequest) (payments.PaymentResult, error) {
		<-ctx.Done()
		return payments.PaymentResult{}, ctx.Err()
	}
	fx.payments.lookupFn = func(ctx context.Context, req payments.LookupRequest) (payments.PaymentResult, error) {
		if ctx.Err() != nil {
			t.Fatalf("lookup must not inherit the expired payment deadline")
		}
		return payments.PaymentResult{Provider: "stripe", TransactionID: "pi_late", Status: payments.StatusSuccess}, nil
	}

	result, err := svc.Checkout(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(fx.payments.lookups) != 1 || fx.payments.lookups[0].OrderID != result.Order.ID() {
		t.Fatalf("expected one lookup by order id, got %+v", fx.payments.lookups)
	}
	if result.Order.Status() != domain.OrderStatusAwaitingShipment || result.Payment.TransactionID != "pi_late" {
		t.Fatalf("expected lookup outcome to settle the order, got %s %+v", result.Order.Status(), result.Payment)
	}
	if !fx.logs.has("checkout.payment.timeout") {
		t.Fatalf("expected timeout log")
	}
}

func TestCheckoutPaymentTimeoutUnresolvedStaysPending(t *testing.T) {
	svc, fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.PaymentTimeout = 10 * time.Millisecond
	})
	fx.payments.processFn = func(ctx context.Context, _ payments.PaymentRequest) (payments.PaymentResult, error) {
		<-ctx.Done()
		return payments.PaymentResult{}, ctx.Err()
	}
	fx.payments.lookupFn = func(context.Context, payments.LookupRequest) (payments.PaymentResult, error) {
		return payments.PaymentResult{Provider: "stripe", Status: payments.StatusFailed, ErrorMessage: "no payment attempt recorded"}, nil
	}

	result, err := svc.Checkout(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Payment.Status != payments.StatusPending {
		t.Fatalf("expected PENDING, got %+v", result.Payment)
	}
	if result.Order.Status() != domain.OrderStatusPendingPayment {
		t.Fatalf("expected order to wait for reconciliation, got %s", result.Order.Status())
	}
}

func TestCheckoutPaymentErrorCompensatesToFailed(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.payments.processFn = func(context.Context, payments.PaymentRequest) (payments.PaymentResult, error) {
		return payments.PaymentResult{}, errors.New("stripe: api_error")
	}

	_, err := svc.Checkout(context.Background(), standardRequest())
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	checkoutErr := requireCheckoutError(t, err)
	if checkoutErr.Stage != StagePayment || !checkoutErr.Persisted {
		t.Fatalf("unexpected checkout error %+v", checkoutErr)
	}
	stored, _ := fx.repo.stored(checkoutErr.OrderID)
	if stored.Status != domain.OrderStatusFailed {
		t.Fatalf("expected compensation to mark FAILED, got %s", stored.Status)
	}
	if stored.Payment == nil || !strings.Contains(stored.Payment.Message, "api_error") {
		t.Fatalf("expected failure reason on payment reference, got %+v", stored.Payment)
	}
	if names := fx.events.names(); len(names) != 2 || names[1] != domain.EventOrderStatusChanged {
		t.Fatalf("unexpected events %v", names)
	}
}

func TestCheckoutFinalizeSaveFailureLeavesOrderForReconciler(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.repo.saveErrFn = func(_ *domain.Order, call int) error {
		if call == 2 {
			return storeUnavailable()
		}
		return nil
	}

	_, err := svc.Checkout(context.Background(), standardRequest())
	checkoutErr := requireCheckoutError(t, err)
	if checkoutErr.Stage != StageFinalize || !checkoutErr.Persisted || !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("unexpected checkout error %+v", checkoutErr)
	}
	stored, _ := fx.repo.stored(checkoutErr.OrderID)
	if stored.Status != domain.OrderStatusPendingPayment || stored.Version != 1 {
		t.Fatalf("expected stored order to stay PENDING_PAYMENT v1, got %s v%d", stored.Status, stored.Version)
	}
	if fx.repo.saveCalls != 2 {
		t.Fatalf("expected no compensating save after a captured payment, got %d saves", fx.repo.saveCalls)
	}
}

func TestCheckoutDeclinedSaveFailureRetriesFailedStatus(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.payments.processFn = func(context.Context, payments.PaymentRequest) (payments.PaymentResult, error) {
		return payments.PaymentResult{Provider: "stripe", TransactionID: "pi_declined", Status: payments.StatusFailed, ErrorMessage: "card_declined"}, nil
	}
	fx.repo.saveErrFn = func(_ *domain.Order, call int) error {
		if call == 2 {
			return storeUnavailable()
		}
		return nil
	}

	_, err := svc.Checkout(context.Background(), standardRequest())
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	checkoutErr := requireCheckoutError(t, err)
	if !checkoutErr.Persisted || checkoutErr.Stage != StagePayment {
		t.Fatalf("unexpected checkout error %+v", checkoutErr)
	}
	stored, _ := fx.repo.stored(checkoutErr.OrderID)
	if stored.Status != domain.OrderStatusFailed || fx.repo.saveCalls != 3 {
		t.Fatalf("expected compensating FAILED write, got %s after %d saves", stored.Status, fx.repo.saveCalls)
	}
	if stored.Payment == nil || !strings.Contains(stored.Payment.Message, "card_declined") {
		t.Fatalf("expected decline reason on stored payment, got %+v", stored.Payment)
	}
}

func TestCheckoutPersistFailureReportsNotPersisted(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.repo.saveErrFn = func(*domain.Order, int) error { return storeUnavailable() }

	_, err := svc.Checkout(context.Background(), standardRequest())
	checkoutErr := requireCheckoutError(t, err)
	if checkoutErr.Stage != StagePersist || checkoutErr.Persisted {
		t.Fatalf("unexpected checkout error %+v", checkoutErr)
	}
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected repository unavailability to be preserved, got %v", err)
	}
	if len(fx.payments.requests) != 0 {
		t.Fatalf("payment must not run without a persisted order")
	}
}

func TestCheckoutZeroTotalSkipsPayment(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.products.catalogue["prod_sample"] = ProductDetails{ID: "prod_sample", Name: "Sample", Price: 0}
	fx.shipping.optionsFn = func(context.Context, ShippingRequest) ([]ShippingOption, error) {
		return []ShippingOption{{ID: "pickup", Cost: 0}}, nil
	}
	req := standardRequest()
	req.Items = []CheckoutItem{{ProductID: "prod_sample", Quantity: 1}}

	result, err := svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(fx.payments.requests) != 0 {
		t.Fatalf("expected PSP to be skipped for a zero total")
	}
	if result.Order.Status() != domain.OrderStatusAwaitingShipment || result.Payment.Status != payments.StatusSuccess {
		t.Fatalf("unexpected outcome %s %+v", result.Order.Status(), result.Payment)
	}
}

func TestCheckoutPublishFailureDoesNotFailCheckout(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.events.err = errors.New("bus down")

	if _, err := svc.Checkout(context.Background(), standardRequest()); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !fx.logs.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure to be logged")
	}
}

func TestCheckoutCustomShippingSelector(t *testing.T) {
	svc, _ := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.SelectShipping = func(options []ShippingOption) ShippingOption {
			fastest := options[0]
			for _, option := range options[1:] {
				if option.EstimatedDays < fastest.EstimatedDays {
					fastest = option
				}
			}
			return fastest
		}
	})

	result, err := svc.Checkout(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.ShippingCost() != 1500 || result.Order.TotalAmount() != 6599 {
		t.Fatalf("expected express shipping, got cost=%d total=%d", result.Order.ShippingCost(), result.Order.TotalAmount())
	}
}

func TestCheckoutAppliesTaxPolicy(t *testing.T) {
	svc, fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Calculator = domain.NewOrderCalculator(domain.WithTaxPolicy(func(_ domain.CalculationInput, taxable int64) int64 {
			return domain.PercentOf(taxable, decimal.NewFromInt(20))
		}))
	})

	result, err := svc.Checkout(context.Background(), standardRequest())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Totals.Tax != 1120 || result.Order.TotalAmount() != 6719 {
		t.Fatalf("expected 20%% tax on 5599, got %+v total=%d", result.Totals, result.Order.TotalAmount())
	}
	if fx.payments.requests[0].Amount != 6719 {
		t.Fatalf("expected taxed total to be charged, got %d", fx.payments.requests[0].Amount)
	}
}

func TestCheckoutRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CheckoutRequest)
	}{
		{name: "missing merchant", mutate: func(r *CheckoutRequest) { r.MerchantID = " " }},
		{name: "bad currency", mutate: func(r *CheckoutRequest) { r.Currency = "XYZ1" }},
		{name: "no items", mutate: func(r *CheckoutRequest) { r.Items = nil }},
		{name: "zero quantity", mutate: func(r *CheckoutRequest) { r.Items[0].Quantity = 0 }},
		{name: "bad email", mutate: func(r *CheckoutRequest) { r.Customer.Email = "not-an-email" }},
		{name: "incomplete address", mutate: func(r *CheckoutRequest) { r.ShippingAddress.City = "" }},
		{name: "no payment", mutate: func(r *CheckoutRequest) { r.PaymentMethodID = "" }},
		{name: "both payment inputs", mutate: func(r *CheckoutRequest) { r.PaymentToken = "tok_visa" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, fx := newCheckoutFixture(t, nil)
			req := standardRequest()
			tc.mutate(&req)

			_, err := svc.Checkout(context.Background(), req)
			if !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if errors.Is(err, ErrCheckoutFailed) {
				t.Fatalf("validation errors must not be reported as checkout failures")
			}
			if len(fx.shipping.requests) != 0 {
				t.Fatalf("expected no provider calls")
			}
		})
	}
}

func TestNewCheckoutServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCheckoutService(CheckoutServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func savedProfile() *CustomerProfile {
	home := domaintest.Address()
	office := domaintest.Address()
	office.Line1 = "1 Office Park"
	return &CustomerProfile{
		UserID:   "usr_1",
		Customer: domain.CustomerInformation{Email: "ada@example.com", Name: "Ada"},
		Addresses: []SavedAddress{
			{ID: "addr_home", Address: home},
			{ID: "addr_office", Address: office, Default: true},
		},
		PaymentMethods: []SavedPaymentMethod{
			{ID: "pm_saved_1", Provider: "stripe", Token: "pm_card_visa", ExpMonth: 12, ExpYear: 2030},
			{ID: "pm_saved_2", Provider: "stripe", Token: "pm_card_mastercard", ExpMonth: 12, ExpYear: 2031},
		},
	}
}

func oneClickRequest() OneClickRequest {
	return OneClickRequest{
		MerchantID: "mer_1",
		UserID:     "usr_1",
		Currency:   "USD",
		Items:      []CheckoutItem{{ProductID: "prod_widget", Quantity: 1}},
	}
}

func TestOneClickUsesDefaultAddressAndFirstPaymentMethod(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.profiles.profileFn = func(_ context.Context, userID string) (*CustomerProfile, error) {
		if userID != "usr_1" {
			t.Fatalf("unexpected user %s", userID)
		}
		return savedProfile(), nil
	}

	result, err := svc.OneClickPurchase(context.Background(), oneClickRequest())
	if err != nil {
		t.Fatalf("one-click: %v", err)
	}
	if got := fx.shipping.requests[0].Destination.Line1; got != "1 Office Park" {
		t.Fatalf("expected default address to be quoted, got %s", got)
	}
	if result.Order.Shipping().Address.Line1 != "1 Office Park" || result.Order.CustomerID() != "usr_1" {
		t.Fatalf("unexpected order shipping/customer %+v %s", result.Order.Shipping(), result.Order.CustomerID())
	}
	req := fx.payments.requests[0]
	if req.PaymentMethodID != "pm_card_visa" || req.PreferredProvider != "stripe" {
		t.Fatalf("expected first saved method without a default, got %+v", req)
	}
	if req.Metadata["saved_payment_method_id"] != "pm_saved_1" || req.Metadata["saved_address_id"] != "addr_office" {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}
	if result.Order.TotalAmount() != 3099 {
		t.Fatalf("expected 2599+500, got %d", result.Order.TotalAmount())
	}
}

func TestOneClickSelectsSavedIDs(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.profiles.profileFn = func(context.Context, string) (*CustomerProfile, error) {
		return savedProfile(), nil
	}
	req := oneClickRequest()
	req.AddressID = "addr_home"
	req.PaymentMethodID = "pm_saved_2"

	if _, err := svc.OneClickPurchase(context.Background(), req); err != nil {
		t.Fatalf("one-click: %v", err)
	}
	if fx.shipping.requests[0].Destination.Line1 != domaintest.Address().Line1 {
		t.Fatalf("expected selected address")
	}
	if fx.payments.requests[0].PaymentMethodID != "pm_card_mastercard" {
		t.Fatalf("expected selected payment method, got %s", fx.payments.requests[0].PaymentMethodID)
	}
}

func TestOneClickFailsWithoutSavedData(t *testing.T) {
	tests := []struct {
		name    string
		profile func() *CustomerProfile
		mutate  func(*OneClickRequest)
	}{
		{name: "no profile", profile: func() *CustomerProfile { return nil }},
		{name: "no address", profile: func() *CustomerProfile {
			p := savedProfile()
			p.Addresses = nil
			return p
		}},
		{name: "no payment method", profile: func() *CustomerProfile {
			p := savedProfile()
			p.PaymentMethods = nil
			return p
		}},
		{name: "unknown address id", profile: savedProfile, mutate: func(r *OneClickRequest) { r.AddressID = "addr_gone" }},
		{name: "expired card", profile: func() *CustomerProfile {
			p := savedProfile()
			p.PaymentMethods = p.PaymentMethods[:1]
			p.PaymentMethods[0].ExpYear = 2020
			return p
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, fx := newCheckoutFixture(t, nil)
			fx.profiles.profileFn = func(context.Context, string) (*CustomerProfile, error) {
				return tc.profile(), nil
			}
			req := oneClickRequest()
			if tc.mutate != nil {
				tc.mutate(&req)
			}

			_, err := svc.OneClickPurchase(context.Background(), req)
			if !errors.Is(err, ErrCheckoutProfileIncomplete) || !errors.Is(err, ErrCheckoutFailed) {
				t.Fatalf("expected incomplete profile failure, got %v", err)
			}
			if requireCheckoutError(t, err).Stage != StageProfile {
				t.Fatalf("expected profile stage")
			}
			if len(fx.shipping.requests) != 0 || fx.repo.saveCalls != 0 {
				t.Fatalf("expected no further steps")
			}
		})
	}
}

func TestOneClickVerifiesSavedCardWithPSP(t *testing.T) {
	cases := map[string]struct {
		method payments.SavedMethod
		want   error
	}{
		"expired at psp": {method: payments.SavedMethod{ExpMonth: 1, ExpYear: 2024, CustomerID: "cus_1"}, want: payments.ErrSavedMethodExpired},
		"detached":       {method: payments.SavedMethod{ExpMonth: 12, ExpYear: 2099}, want: payments.ErrSavedMethodDetached},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			verifier := &stubVerifier{savedFn: func(_ context.Context, token string) (payments.SavedMethod, error) {
				if token != "pm_card_visa" {
					t.Fatalf("unexpected token %s", token)
				}
				method := tc.method
				method.Token = token
				return method, nil
			}}
			svc, fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
				deps.Verifier = verifier
			})
			fx.profiles.profileFn = func(context.Context, string) (*CustomerProfile, error) {
				return savedProfile(), nil
			}

			_, err := svc.OneClickPurchase(context.Background(), oneClickRequest())
			if !errors.Is(err, ErrCheckoutProfileIncomplete) || !errors.Is(err, tc.want) {
				t.Fatalf("expected profile failure wrapping %v, got %v", tc.want, err)
			}
			if fx.repo.saveCalls != 0 {
				t.Fatalf("expected no order to be stored")
			}
		})
	}
}

func TestOneClickAcceptsChargeableSavedCard(t *testing.T) {
	verifier := &stubVerifier{savedFn: func(_ context.Context, token string) (payments.SavedMethod, error) {
		return payments.SavedMethod{Token: token, ExpMonth: 12, ExpYear: 2099, CustomerID: "cus_1"}, nil
	}}
	svc, fx := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Verifier = verifier
	})
	fx.profiles.profileFn = func(context.Context, string) (*CustomerProfile, error) {
		return savedProfile(), nil
	}

	if _, err := svc.OneClickPurchase(context.Background(), oneClickRequest()); err != nil {
		t.Fatalf("one-click with chargeable card: %v", err)
	}
}

func TestOneClickProfileProviderErrorIsUnavailable(t *testing.T) {
	svc, fx := newCheckoutFixture(t, nil)
	fx.profiles.profileFn = func(context.Context, string) (*CustomerProfile, error) {
		return nil, errors.New("firestore unavailable")
	}

	_, err := svc.OneClickPurchase(context.Background(), oneClickRequest())
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestOneClickRequiresUserID(t *testing.T) {
	svc, _ := newCheckoutFixture(t, nil)
	req := oneClickRequest()
	req.UserID = ""

	if _, err := svc.OneClickPurchase(context.Background(), req); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
