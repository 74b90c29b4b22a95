package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/orders/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied malformed checkout data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutNotFound indicates a referenced product does not exist.
	ErrCheckoutNotFound = errors.New("checkout: not found")
	// ErrCheckoutFailed is the umbrella for business and provider failures during checkout.
	ErrCheckoutFailed = errors.New("checkout: failed")

	// ErrCheckoutInsufficientStock indicates a requested quantity is not available.
	ErrCheckoutInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrCheckoutFailed)
	// ErrCheckoutNoShippingOptions indicates no usable shipping option was returned.
	ErrCheckoutNoShippingOptions = fmt.Errorf("%w: no shipping options", ErrCheckoutFailed)
	// ErrCheckoutPaymentFailed indicates the payment provider declined the payment.
	ErrCheckoutPaymentFailed = fmt.Errorf("%w: payment declined", ErrCheckoutFailed)
	// ErrCheckoutProfileIncomplete indicates a one-click profile lacks an address or payment method.
	ErrCheckoutProfileIncomplete = fmt.Errorf("%w: saved profile incomplete", ErrCheckoutFailed)
	// ErrCheckoutUnavailable indicates a provider or the store failed or timed out.
	ErrCheckoutUnavailable = fmt.Errorf("%w: provider unavailable", ErrCheckoutFailed)

	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates a status change outside the lifecycle.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent modification won the version check.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the store or payment provider could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")

	// ErrProductNotFound is returned by ProductProvider implementations for unknown products.
	ErrProductNotFound = errors.New("product not found")
)

// CheckoutStage names the step of the checkout flow that failed.
type CheckoutStage string

const (
	StageValidate   CheckoutStage = "validate"
	StageProfile    CheckoutStage = "profile"
	StageShipping   CheckoutStage = "shipping"
	StageProducts   CheckoutStage = "products"
	StageCreate     CheckoutStage = "create"
	StagePromotions CheckoutStage = "promotions"
	StagePersist    CheckoutStage = "persist"
	StagePayment    CheckoutStage = "payment"
	StageFinalize   CheckoutStage = "finalize"
)

// CheckoutError describes a checkout that did not complete. Persisted tells
// whether an order record exists; such an order is FAILED unless payment was
// left pending for reconciliation, and must not be reused for a retry.
type CheckoutError struct {
	Stage     CheckoutStage
	OrderID   string
	Persisted bool
	Err       error
}

func (e *CheckoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.OrderID != "" {
		return fmt.Sprintf("checkout %s failed for order %s: %v", e.Stage, e.OrderID, e.Err)
	}
	return fmt.Sprintf("checkout %s failed: %v", e.Stage, e.Err)
}

func (e *CheckoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func checkoutFailure(stage CheckoutStage, kind error, cause error) *CheckoutError {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &CheckoutError{Stage: stage, Err: err}
}

// providerFailure classifies an error returned by a collaborator. Timeouts and
// transport errors are indistinguishable to the caller and both mean unavailable.
func providerFailure(stage CheckoutStage, name string, err error) *CheckoutError {
	if errors.Is(err, context.DeadlineExceeded) {
		return checkoutFailure(stage, ErrCheckoutUnavailable, fmt.Errorf("%s timed out: %w", name, err))
	}
	return checkoutFailure(stage, ErrCheckoutUnavailable, fmt.Errorf("%s: %w", name, err))
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: repository: %w", ErrOrderUnavailable, err)
		}
	}

	return err
}
