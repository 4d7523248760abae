// Package metrics owns the OpenTelemetry instruments recorded by checkout
// and the order lifecycle.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/safar/go-storefront"

type Recorder struct {
	checkoutAttempts metric.Int64Counter
	checkoutDuration metric.Float64Histogram
	transitions      metric.Int64Counter
}

// New registers the instruments on meter. A nil meter falls back to the
// global provider, which is a no-op until an SDK is installed.
func New(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	attempts, err := meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkout.attempts counter: %w", err)
	}

	duration, err := meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkout.duration histogram: %w", err)
	}

	transitions, err := meter.Int64Counter("order.transitions",
		metric.WithDescription("Lifecycle events by kind and whether they changed the order"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order.transitions counter: %w", err)
	}

	return &Recorder{
		checkoutAttempts: attempts,
		checkoutDuration: duration,
		transitions:      transitions,
	}, nil
}

// CheckoutAttempt records one finished checkout. outcome is "ok" or the
// machine-readable error code.
func (r *Recorder) CheckoutAttempt(ctx context.Context, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.checkoutAttempts.Add(ctx, 1, attrs)
	r.checkoutDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (r *Recorder) Transition(ctx context.Context, event string, applied bool) {
	if r == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.Bool("applied", applied),
	))
}
