package session

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records session lifecycle counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	created  metric.Int64Counter
	closed   metric.Int64Counter
	active   metric.Int64UpDownCounter
	events   metric.Int64Counter
	payments metric.Int64Counter
}

// NewMetrics registers session instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.created, err = meter.Int64Counter("kiosk.sessions.created",
		metric.WithDescription("Sessions opened")); err != nil {
		return nil, errors.Wrap(err, "sessions.created")
	}
	if m.closed, err = meter.Int64Counter("kiosk.sessions.closed",
		metric.WithDescription("Sessions closed, by reason")); err != nil {
		return nil, errors.Wrap(err, "sessions.closed")
	}
	if m.active, err = meter.Int64UpDownCounter("kiosk.sessions.active",
		metric.WithDescription("Sessions not yet closed")); err != nil {
		return nil, errors.Wrap(err, "sessions.active")
	}
	if m.events, err = meter.Int64Counter("kiosk.session.events",
		metric.WithDescription("Committed session events, by kind")); err != nil {
		return nil, errors.Wrap(err, "session.events")
	}
	if m.payments, err = meter.Int64Counter("kiosk.payments.outcome",
		metric.WithDescription("Payment outcomes")); err != nil {
		return nil, errors.Wrap(err, "payments.outcome")
	}
	return &m, nil
}

func (m *Metrics) sessionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.created.Add(ctx, 1)
	m.active.Add(ctx, 1)
}

func (m *Metrics) sessionClosed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.closed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.active.Add(ctx, -1)
}

func (m *Metrics) event(ctx context.Context, kind Kind) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) payment(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
