package shaper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the instruments for shaping operations.
type Metrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	tracer     trace.Tracer
}

func newShaperMetrics(meter metric.Meter, tracer trace.Tracer, m *manager) (*Metrics, error) {
	operations, err := meter.Int64Counter(
		"netshape_shaping_operations_total",
		metric.WithDescription("Total number of shaping operations"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"netshape_shaping_operation_duration_seconds",
		metric.WithDescription("Time to apply or reset shaping on an interface"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	shaped, err := meter.Int64ObservableGauge(
		"netshape_shaped_interfaces",
		metric.WithDescription("Number of interfaces shaped by this process"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(shaped, int64(m.shapedCount()))
			return nil
		},
		shaped,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operations: operations,
		duration:   duration,
		tracer:     tracer,
	}, nil
}

// recordOperation records the outcome and duration of an apply or reset.
func (m *manager) recordOperation(ctx context.Context, operation string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.metrics.operations.Add(ctx, 1, attrs)
	m.metrics.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
