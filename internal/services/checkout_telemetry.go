package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/observability"
)

type checkoutTelemetry struct {
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

func newCheckoutTelemetry(meter metric.Meter) checkoutTelemetry {
	if meter == nil {
		meter = observability.Meter()
	}
	var t checkoutTelemetry
	if counter, err := meter.Int64Counter("orders.checkout.outcomes",
		metric.WithDescription("Checkout attempts by outcome and failing stage.")); err == nil {
		t.outcomes = counter
	}
	if histogram, err := meter.Float64Histogram("orders.checkout.duration",
		metric.WithDescription("Checkout latency including payment."),
		metric.WithUnit("s")); err == nil {
		t.duration = histogram
	}
	return t
}

func (t checkoutTelemetry) record(ctx context.Context, flow string, payment payments.Status, err error, elapsed time.Duration) {
	outcome, stage := checkoutOutcome(payment, err)
	attrs := metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
	)
	if t.outcomes != nil {
		t.outcomes.Add(ctx, 1, attrs)
	}
	if t.duration != nil {
		t.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func checkoutOutcome(payment payments.Status, err error) (string, string) {
	if err == nil {
		return strings.ToLower(string(payment)), string(StageFinalize)
	}
	stage := "unknown"
	var checkoutErr *CheckoutError
	if errors.As(err, &checkoutErr) {
		stage = string(checkoutErr.Stage)
	}
	switch {
	case errors.Is(err, ErrCheckoutPaymentFailed):
		return "declined", stage
	case errors.Is(err, ErrCheckoutInvalidInput), errors.Is(err, ErrCheckoutNotFound):
		return "rejected", stage
	case errors.Is(err, ErrCheckoutUnavailable):
		return "unavailable", stage
	default:
		return "failed", stage
	}
}
