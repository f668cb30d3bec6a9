package circulation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	borrows      metric.Int64Counter
	returns      metric.Int64Counter
	reservations metric.Int64Counter
	conflicts    metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("bibliotheca/circulation")

	var m metrics
	var err error
	if m.borrows, err = meter.Int64Counter("circulation.borrows",
		metric.WithDescription("Loans created, immediate or scheduled")); err != nil {
		return nil, err
	}
	if m.returns, err = meter.Int64Counter("circulation.returns",
		metric.WithDescription("Loans returned")); err != nil {
		return nil, err
	}
	if m.reservations, err = meter.Int64Counter("circulation.reservations",
		metric.WithDescription("Reservations created")); err != nil {
		return nil, err
	}
	if m.conflicts, err = meter.Int64Counter("circulation.conflicts",
		metric.WithDescription("Writes rejected by a concurrent change")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) conflict(ctx context.Context, op string) {
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
