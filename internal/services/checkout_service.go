package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	defaultProviderTimeout = 5 * time.Second
	defaultPaymentTimeout  = 20 * time.Second

	checkoutFlowStandard = "standard"
	checkoutFlowOneClick = "one_click"

	paymentOutcomeUnknown = "payment outcome unknown after timeout"
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders     repositories.OrderRepository
	Products   ProductProvider
	Promotions PromotionProvider
	Shipping   ShippingProvider
	Payments   PaymentProvider
	// Profiles is required only for one-click purchase.
	Profiles CustomerProfileProvider
	// Verifier, when set, rejects expired saved cards before one-click checkout.
	Verifier SavedMethodVerifier

	Events          OrderEventPublisher
	Calculator      domain.OrderCalculator
	SelectShipping  ShippingSelector
	ProviderTimeout time.Duration
	PaymentTimeout  time.Duration
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
	Meter           metric.Meter
}

type checkoutService struct {
	orders          repositories.OrderRepository
	products        ProductProvider
	promotions      PromotionProvider
	shipping        ShippingProvider
	payments        PaymentProvider
	profiles        CustomerProfileProvider
	verifier        SavedMethodVerifier
	events          OrderEventPublisher
	calculator      domain.OrderCalculator
	selectShipping  ShippingSelector
	providerTimeout time.Duration
	paymentTimeout  time.Duration
	now             func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
	telemetry       checkoutTelemetry
}

// checkoutInput is a validated request shared by both entry flows.
type checkoutInput struct {
	flow              string
	merchantID        string
	customerID        string
	currency          string
	customer          domain.CustomerInformation
	address           domain.Address
	items             []CheckoutItem
	promotionCodes    []string
	gift              *domain.GiftOption
	paymentMethodID   string
	paymentToken      string
	preferredProvider string
	metadata          map[string]string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product provider is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("checkout service: promotion provider is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout service: shipping provider is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	selector := deps.SelectShipping
	if selector == nil {
		selector = LowestCostShipping
	}
	providerTimeout := deps.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}
	paymentTimeout := deps.PaymentTimeout
	if paymentTimeout <= 0 {
		paymentTimeout = defaultPaymentTimeout
	}

	return &checkoutService{
		orders:          deps.Orders,
		products:        deps.Products,
		promotions:      deps.Promotions,
		shipping:        deps.Shipping,
		payments:        deps.Payments,
		profiles:        deps.Profiles,
		verifier:        deps.Verifier,
		events:          deps.Events,
		calculator:      deps.Calculator,
		selectShipping:  selector,
		providerTimeout: providerTimeout,
		paymentTimeout:  paymentTimeout,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		telemetry: newCheckoutTelemetry(deps.Meter),
	}, nil
}

// Checkout runs the standard flow: shipping, catalogue, order creation,
// promotions, totals, persistence, then payment.
func (s *checkoutService) Checkout(ctx context.Context, req CheckoutRequest) (result CheckoutResult, err error) {
	ctx, span := observability.StartSpan(ctx, "checkout.standard",
		attribute.String("merchant.id", strings.TrimSpace(req.MerchantID)))
	started := s.now()
	defer func() {
		s.finish(ctx, checkoutFlowStandard, started, result, err)
		observability.EndSpan(span, err)
	}()

	in, err := prepareStandardCheckout(req)
	if err != nil {
		return CheckoutResult{}, err
	}
	return s.run(ctx, in)
}

// OneClickPurchase resolves customer, address and payment method from the saved
// profile and then follows the standard flow.
func (s *checkoutService) OneClickPurchase(ctx context.Context, req OneClickRequest) (result CheckoutResult, err error) {
	ctx, span := observability.StartSpan(ctx, "checkout.one_click",
		attribute.String("merchant.id", strings.TrimSpace(req.MerchantID)))
	started := s.now()
	defer func() {
		s.finish(ctx, checkoutFlowOneClick, started, result, err)
		observability.EndSpan(span, err)
	}()

	in, err := s.prepareOneClick(ctx, req)
	if err != nil {
		return CheckoutResult{}, err
	}
	return s.run(ctx, in)
}

func (s *checkoutService) run(ctx context.Context, in checkoutInput) (CheckoutResult, error) {
	option, err := s.resolveShipping(ctx, in)
	if err != nil {
		return CheckoutResult{}, err
	}

	lines, err := s.resolveProducts(ctx, in.items)
	if err != nil {
		return CheckoutResult{}, err
	}

	now := s.now()
	order, err := domain.NewOrder(domain.NewOrderParams{
		MerchantID:      in.merchantID,
		CustomerID:      in.customerID,
		Currency:        in.currency,
		Customer:        in.customer,
		ShippingAddress: in.address,
		ShippingMethod:  shippingMethodName(option),
		Items:           lines,
		Gift:            in.gift,
		Now:             now,
	})
	if err != nil {
		return CheckoutResult{}, checkoutFailure(StageCreate, ErrCheckoutInvalidInput, err)
	}
	if err := order.UpdateShippingDetails(shippingMethodName(option), option.Cost, nil, now); err != nil {
		return CheckoutResult{}, checkoutFailure(StageCreate, ErrCheckoutInvalidInput, err)
	}

	if err := s.applyPromotions(ctx, order, in.promotionCodes); err != nil {
		return CheckoutResult{}, err
	}

	totals := s.calculator.CalculateOrder(order)
	if err := order.SetCalculatedTotal(totals.TotalAmount, s.now()); err != nil {
		return CheckoutResult{}, checkoutFailure(StageCreate, ErrCheckoutInvalidInput, err)
	}

	order, err = s.save(ctx, order)
	if err != nil {
		return CheckoutResult{}, checkoutFailure(StagePersist, ErrCheckoutUnavailable, err)
	}

	payment, err := s.charge(ctx, order, in)
	if err != nil {
		return CheckoutResult{}, s.compensate(ctx, order, err)
	}

	order, err = s.settle(ctx, order, payment)
	if err != nil {
		return CheckoutResult{}, err
	}

	return CheckoutResult{
		Order:    order,
		Payment:  payment,
		Totals:   totals,
		Shipping: option,
	}, nil
}

func prepareStandardCheckout(req CheckoutRequest) (checkoutInput, error) {
	in, err := prepareCommon(checkoutFlowStandard, req.MerchantID, req.Currency, req.Items, req.PromotionCodes, req.Gift, req.Metadata)
	if err != nil {
		return checkoutInput{}, err
	}

	customer, err := domain.NewCustomerInformation(req.Customer.Email, req.Customer.Name, req.Customer.Phone)
	if err != nil {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, err)
	}
	address, err := domain.NewAddress(req.ShippingAddress)
	if err != nil {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, err)
	}

	in.customerID = strings.TrimSpace(req.CustomerID)
	in.customer = customer
	in.address = address
	in.paymentMethodID = strings.TrimSpace(req.PaymentMethodID)
	in.paymentToken = strings.TrimSpace(req.PaymentToken)
	in.preferredProvider = strings.TrimSpace(req.PreferredProvider)
	if in.paymentMethodID == "" && in.paymentToken == "" {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, errors.New("payment method id or payment token is required"))
	}
	if in.paymentMethodID != "" && in.paymentToken != "" {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, errors.New("payment method id and payment token are mutually exclusive"))
	}
	return in, nil
}

func (s *checkoutService) prepareOneClick(ctx context.Context, req OneClickRequest) (checkoutInput, error) {
	in, err := prepareCommon(checkoutFlowOneClick, req.MerchantID, req.Currency, req.Items, req.PromotionCodes, req.Gift, req.Metadata)
	if err != nil {
		return checkoutInput{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, errors.New("user id is required"))
	}
	if s.profiles == nil {
		return checkoutInput{}, checkoutFailure(StageProfile, ErrCheckoutUnavailable, errors.New("customer profile provider is not configured"))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	profile, err := s.profiles.GetSavedProfile(callCtx, userID)
	cancel()
	if err != nil {
		return checkoutInput{}, providerFailure(StageProfile, "customer profile provider", err)
	}
	if profile == nil {
		return checkoutInput{}, checkoutFailure(StageProfile, ErrCheckoutProfileIncomplete, fmt.Errorf("user %s has no saved profile", userID))
	}

	customer, err := domain.NewCustomerInformation(profile.Customer.Email, profile.Customer.Name, profile.Customer.Phone)
	if err != nil {
		return checkoutInput{}, checkoutFailure(StageProfile, ErrCheckoutProfileIncomplete, err)
	}
	saved, ok := pickSavedAddress(profile.Addresses, req.AddressID)
	if !ok {
		return checkoutInput{}, checkoutFailure(StageProfile, ErrCheckoutProfileIncomplete, savedEntryMissing("address", req.AddressID))
	}
	address, err := domain.NewAddress(saved.Address)
	if err != nil {
		return checkoutInput{}, checkoutFailure(StageProfile, ErrCheckoutProfileIncomplete, err)
	}
	method, ok := pickSavedPaymentMethod(profile.PaymentMethods, req.PaymentMethodID)
	if !ok {
		return checkoutInput{}, checkoutFailure(StageProfile, ErrCheckoutProfileIncomplete, savedEntryMissing("payment method", req.PaymentMethodID))
	}
	if err := s.verifySavedMethod(ctx, method); err != nil {
		return checkoutInput{}, err
	}

	in.customerID = userID
	in.customer = customer
	in.address = address
	in.paymentMethodID = strings.TrimSpace(method.Token)
	in.preferredProvider = strings.TrimSpace(method.Provider)
	if in.metadata == nil {
		in.metadata = make(map[string]string, 2)
	}
	in.metadata["saved_address_id"] = saved.ID
	in.metadata["saved_payment_method_id"] = method.ID
	return in, nil
}

func prepareCommon(flow, merchantID, currency string, items []CheckoutItem, codes []string, gift *domain.GiftOption, metadata map[string]string) (checkoutInput, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, errors.New("merchant id is required"))
	}
	normalised, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, err)
	}
	if len(items) == 0 {
		return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, errors.New("at least one item is required"))
	}
	cleaned := make([]CheckoutItem, 0, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, fmt.Errorf("item %d: product id is required", i))
		}
		if item.Quantity <= 0 {
			return checkoutInput{}, checkoutFailure(StageValidate, ErrCheckoutInvalidInput, fmt.Errorf("item %s: quantity must be positive", item.ProductID))
		}
		cleaned = append(cleaned, item)
	}

	var meta map[string]string
	if len(metadata) > 0 {
		meta = maps.Clone(metadata)
	}

	return checkoutInput{
		flow:           flow,
		merchantID:     merchantID,
		currency:       normalised,
		items:          cleaned,
		promotionCodes: uniqueCodes(codes),
		gift:           gift,
		metadata:       meta,
	}, nil
}

func (s *checkoutService) verifySavedMethod(ctx context.Context, method SavedPaymentMethod) error {
	stored := payments.SavedMethod{ExpMonth: method.ExpMonth, ExpYear: method.ExpYear}
	if stored.Expired(s.now()) {
		return checkoutFailure(StageProfile, ErrCheckoutProfileIncomplete,
			fmt.Errorf("saved payment method %s: %w", method.ID, payments.ErrSavedMethodExpired))
	}
	if s.verifier == nil || strings.TrimSpace(method.Token) == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	current, err := s.verifier.SavedMethod(callCtx, method.Token)
	cancel()
	if err != nil {
		return providerFailure(StageProfile, "payment method verifier", err)
	}
	if err := current.Chargeable(s.now()); err != nil {
		return checkoutFailure(StageProfile, ErrCheckoutProfileIncomplete, fmt.Errorf("saved payment method %s: %w", method.ID, err))
	}
	return nil
}

func (s *checkoutService) resolveShipping(ctx context.Context, in checkoutInput) (ShippingOption, error) {
	req := ShippingRequest{
		MerchantID:  in.merchantID,
		Currency:    in.currency,
		Items:       shippingItems(in.items),
		Destination: in.address,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	options, err := s.shipping.GetShippingOptions(callCtx, req)
	cancel()
	if err != nil {
		return ShippingOption{}, providerFailure(StageShipping, "shipping provider", err)
	}

	usable := make([]ShippingOption, 0, len(options))
	for _, option := range options {
		if option.Cost < 0 || shippingMethodName(option) == "" {
			continue
		}
		if option.Currency != "" && !strings.EqualFold(option.Currency, in.currency) {
			continue
		}
		usable = append(usable, option)
	}
	if len(usable) == 0 {
		return ShippingOption{}, checkoutFailure(StageShipping, ErrCheckoutNoShippingOptions, nil)
	}
	return s.selectShipping(usable), nil
}

// resolveProducts snapshots catalogue data and checks stock per product for the
// combined quantity across requested lines.
func (s *checkoutService) resolveProducts(ctx context.Context, items []CheckoutItem) ([]domain.LineItemParams, error) {
	details := make(map[string]ProductDetails, len(items))
	quantities := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := quantities[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	for _, productID := range order {
		callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
		product, err := s.products.GetProductDetails(callCtx, productID)
		cancel()
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return nil, checkoutFailure(StageProducts, ErrCheckoutNotFound, fmt.Errorf("product %s: %w", productID, err))
			}
			return nil, providerFailure(StageProducts, "product provider", err)
		}

		callCtx, cancel = context.WithTimeout(ctx, s.providerTimeout)
		available, err := s.products.CheckStockAvailability(callCtx, productID, quantities[productID])
		cancel()
		if err != nil {
			return nil, providerFailure(StageProducts, "product provider", err)
		}
		if !available {
			return nil, checkoutFailure(StageProducts, ErrCheckoutInsufficientStock, fmt.Errorf("product %s quantity %d", productID, quantities[productID]))
		}
		details[productID] = product
	}

	lines := make([]domain.LineItemParams, 0, len(items))
	for _, item := range items {
		product := details[item.ProductID]
		name := strings.TrimSpace(product.Name)
		if name == "" {
			name = item.ProductID
		}
		lines = append(lines, domain.LineItemParams{
			ProductID:   item.ProductID,
			ProductName: name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			Gift:        item.Gift,
		})
	}
	return lines, nil
}

func (s *checkoutService) applyPromotions(ctx context.Context, order *domain.Order, codes []string) error {
	for _, code := range codes {
		promoCtx := PromotionContext{
			MerchantID:      order.MerchantID(),
			CustomerID:      order.CustomerID(),
			Currency:        order.Currency(),
			Items:           order.LineItems(),
			Subtotal:        order.Subtotal(),
			ShippingAddress: order.Shipping().Address,
		}

		callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
		promo, err := s.promotions.ValidatePromotion(callCtx, code, promoCtx)
		cancel()
		if err != nil {
			return providerFailure(StagePromotions, "promotion provider", err)
		}
		if promo == nil {
			s.logger(ctx, "checkout.promotion.rejected", map[string]any{
				"merchantID": order.MerchantID(),
				"code":       code,
			})
			continue
		}

		promoCode := promo.Code
		if strings.TrimSpace(promoCode) == "" {
			promoCode = code
		}
		applied, err := order.ApplyPromotion(domain.AppliedPromotion{
			PromotionID:    promo.PromotionID,
			Code:           promoCode,
			Description:    promo.Description,
			DiscountAmount: promo.DiscountAmount,
		}, s.now())
		if err != nil {
			return checkoutFailure(StagePromotions, ErrCheckoutFailed, fmt.Errorf("promotion %s: %w", code, err))
		}
		if !applied {
			s.logger(ctx, "checkout.promotion.duplicate", map[string]any{
				"merchantID":  order.MerchantID(),
				"code":        code,
				"promotionID": promo.PromotionID,
			})
		}
	}
	return nil
}

// charge invokes the PSP for the persisted order. An ambiguous outcome, where
// the call timed out or was cancelled, is resolved by a single status lookup;
// if that cannot settle it the result is PENDING.
func (s *checkoutService) charge(ctx context.Context, order *domain.Order, in checkoutInput) (payments.PaymentResult, error) {
	if order.TotalAmount() == 0 {
		s.logger(ctx, "checkout.payment.skipped", map[string]any{
			"orderID": order.ID(),
			"reason":  "zero total",
		})
		return payments.PaymentResult{Status: payments.StatusSuccess}, nil
	}

	req := payments.PaymentRequest{
		OrderID:    order.ID(),
		MerchantID: order.MerchantID(),
		Amount:     order.TotalAmount(),
		Currency:   order.Currency(),
		Customer: payments.CustomerDetails{
			CustomerID: order.CustomerID(),
			Email:      order.Customer().Email,
			Name:       order.Customer().Name,
			Phone:      order.Customer().Phone,
		},
		PaymentMethodID:   in.paymentMethodID,
		PaymentToken:      in.paymentToken,
		PreferredProvider: in.preferredProvider,
		IdempotencyKey:    "order:" + order.ID(),
		Metadata:          in.metadata,
	}

	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	result, err := s.payments.ProcessPayment(payCtx, req)
	cancel()
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return payments.PaymentResult{}, providerFailure(StagePayment, "payment provider", err)
	}

	s.logger(ctx, "checkout.payment.timeout", map[string]any{
		"orderID": order.ID(),
		"error":   err.Error(),
	})
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.providerTimeout)
	defer cancel()
	result, lookupErr := s.payments.LookupPayment(lookupCtx, payments.LookupRequest{
		OrderID:  order.ID(),
		Provider: in.preferredProvider,
		Currency: order.Currency(),
	})
	switch {
	case lookupErr != nil:
		s.logger(ctx, "checkout.payment.lookup.failed", map[string]any{
			"orderID": order.ID(),
			"error":   lookupErr.Error(),
		})
		return payments.PaymentResult{Provider: in.preferredProvider, Status: payments.StatusPending, ErrorMessage: paymentOutcomeUnknown}, nil
	case result.Status == payments.StatusFailed && result.TransactionID == "":
		// No attempt visible yet; the original request may still land.
		result.Status = payments.StatusPending
		result.ErrorMessage = paymentOutcomeUnknown
	}
	return result, nil
}

// settle applies the payment outcome to the order and persists it.
func (s *checkoutService) settle(ctx context.Context, order *domain.Order, payment payments.PaymentResult) (*domain.Order, error) {
	now := s.now()
	order.RecordPayment(paymentReference(payment), now)

	var declined bool
	switch payment.Status {
	case payments.StatusSuccess:
		if err := order.UpdateStatus(domain.OrderStatusAwaitingShipment, now); err != nil {
			return nil, s.compensate(ctx, order, checkoutFailure(StageFinalize, ErrCheckoutFailed, err))
		}
	case payments.StatusFailed:
		if err := order.UpdateStatus(domain.OrderStatusFailed, now); err != nil {
			return nil, s.compensate(ctx, order, checkoutFailure(StageFinalize, ErrCheckoutFailed, err))
		}
		declined = true
	case payments.StatusPending, payments.StatusRequiresAction:
	default:
		return nil, s.compensate(ctx, order, checkoutFailure(StagePayment, ErrCheckoutFailed, fmt.Errorf("unknown payment status %q", payment.Status)))
	}

	var declineErr error
	if declined {
		reason := payment.ErrorMessage
		if reason == "" {
			reason = "payment was declined"
		}
		declineErr = fmt.Errorf("%w: %s", ErrCheckoutPaymentFailed, reason)
	}

	saved, err := s.save(ctx, order)
	if err != nil {
		s.logger(ctx, "checkout.finalize.failed", map[string]any{
			"orderID":       order.ID(),
			"paymentStatus": string(payment.Status),
			"error":         err.Error(),
		})
		if declined {
			// Nothing was captured, so retry the FAILED write from the stored copy.
			return nil, s.compensate(ctx, order, &CheckoutError{Stage: StagePayment, Err: declineErr})
		}
		// The stored order is still PENDING_PAYMENT; the reconciler settles it
		// from the PSP. Marking it FAILED here could discard a captured payment.
		return nil, &CheckoutError{
			Stage:     StageFinalize,
			OrderID:   order.ID(),
			Persisted: true,
			Err:       fmt.Errorf("%w: %w", ErrCheckoutUnavailable, err),
		}
	}

	if declined {
		return nil, &CheckoutError{
			Stage:     StagePayment,
			OrderID:   saved.ID(),
			Persisted: true,
			Err:       declineErr,
		}
	}
	return saved, nil
}

// compensate marks a persisted order FAILED after an unexpected error. It
// reloads the stored copy so a half-applied in-memory mutation is never
// written, and runs detached from the caller's cancellation.
func (s *checkoutService) compensate(ctx context.Context, order *domain.Order, cause error) error {
	var checkoutErr *CheckoutError
	if !errors.As(cause, &checkoutErr) {
		checkoutErr = checkoutFailure(StageFinalize, ErrCheckoutFailed, cause)
	}
	checkoutErr.OrderID = order.ID()
	checkoutErr.Persisted = true

	ctx = context.WithoutCancel(ctx)
	current, err := s.orders.FindByID(ctx, order.ID())
	if err != nil {
		s.logCompensationFailure(ctx, order.ID(), err)
		return checkoutErr
	}
	if current.Status() != domain.OrderStatusPendingPayment {
		return checkoutErr
	}

	now := s.now()
	current.RecordPayment(domain.PaymentReference{
		Status:  string(payments.StatusFailed),
		Message: checkoutErr.Err.Error(),
	}, now)
	if err := current.UpdateStatus(domain.OrderStatusFailed, now); err != nil {
		s.logCompensationFailure(ctx, order.ID(), err)
		return checkoutErr
	}
	if _, err := s.save(ctx, current); err != nil {
		s.logCompensationFailure(ctx, order.ID(), err)
	}
	return checkoutErr
}

func (s *checkoutService) logCompensationFailure(ctx context.Context, orderID string, err error) {
	s.logger(ctx, "checkout.compensation.failed", map[string]any{
		"orderID": orderID,
		"error":   err.Error(),
	})
}

// save persists the order and publishes the events it recorded. Events are
// only pulled after a successful write.
func (s *checkoutService) save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
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

func (s *checkoutService) finish(ctx context.Context, flow string, started time.Time, result CheckoutResult, err error) {
	s.telemetry.record(ctx, flow, result.Payment.Status, err, s.now().Sub(started))
	if err != nil {
		fields := map[string]any{
			"flow":  flow,
			"error": err.Error(),
		}
		var checkoutErr *CheckoutError
		if errors.As(err, &checkoutErr) {
			fields["stage"] = string(checkoutErr.Stage)
			fields["orderID"] = checkoutErr.OrderID
			fields["persisted"] = checkoutErr.Persisted
		}
		s.logger(ctx, "checkout.failed", fields)
		return
	}
	s.logger(ctx, "checkout.completed", map[string]any{
		"flow":          flow,
		"orderID":       result.Order.ID(),
		"merchantID":    result.Order.MerchantID(),
		"status":        string(result.Order.Status()),
		"paymentStatus": string(result.Payment.Status),
		"totalAmount":   result.Order.TotalAmount(),
		"currency":      result.Order.Currency(),
		"email":         result.Order.Customer().Email,
	})
}

func publishOrderEvents(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), order *domain.Order) {
	events := order.PullEvents()
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.PublishOrderEvents(ctx, events...); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"orderID": order.ID(),
			"count":   len(events),
			"error":   err.Error(),
		})
	}
}

func paymentReference(result payments.PaymentResult) domain.PaymentReference {
	return domain.PaymentReference{
		Provider:      result.Provider,
		TransactionID: result.TransactionID,
		Status:        string(result.Status),
		Message:       result.ErrorMessage,
	}
}

func shippingMethodName(option ShippingOption) string {
	if id := strings.TrimSpace(option.ID); id != "" {
		return id
	}
	return strings.TrimSpace(option.Name)
}

func shippingItems(items []CheckoutItem) []ShippingItem {
	out := make([]ShippingItem, 0, len(items))
	for _, item := range items {
		out = append(out, ShippingItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

func uniqueCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		key := strings.ToUpper(code)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, code)
	}
	return out
}

func pickSavedAddress(addresses []SavedAddress, id string) (SavedAddress, bool) {
	id = strings.TrimSpace(id)
	if id != "" {
		for _, addr := range addresses {
			if addr.ID == id {
				return addr, true
			}
		}
		return SavedAddress{}, false
	}
	for _, addr := range addresses {
		if addr.Default {
			return addr, true
		}
	}
	if len(addresses) > 0 {
		return addresses[0], true
	}
	return SavedAddress{}, false
}

func pickSavedPaymentMethod(methods []SavedPaymentMethod, id string) (SavedPaymentMethod, bool) {
	id = strings.TrimSpace(id)
	if id != "" {
		for _, method := range methods {
			if method.ID == id {
				return method, true
			}
		}
		return SavedPaymentMethod{}, false
	}
	for _, method := range methods {
		if method.Default {
			return method, true
		}
	}
	if len(methods) > 0 {
		return methods[0], true
	}
	return SavedPaymentMethod{}, false
}

func savedEntryMissing(kind, id string) error {
	if strings.TrimSpace(id) != "" {
		return fmt.Errorf("saved %s %s not found", kind, strings.TrimSpace(id))
	}
	return fmt.Errorf("no saved %s", kind)
}
