package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns the meter for order instruments. It resolves the global
// provider on each call so providers installed after init are honoured.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
