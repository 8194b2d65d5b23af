package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event outcomes recorded on duckslack.events.
const (
	OutcomeAnswered = "answered"
	OutcomeIgnored  = "ignored"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
)

// Metrics holds the bot's instruments. A nil *Metrics records nothing.
type Metrics struct {
	events   metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates the instruments on m.
func NewMetrics(m metric.Meter) (*Metrics, error) {
	events, err := m.Int64Counter("duckslack.events",
		metric.WithDescription("Slack events handled, by event type and outcome"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := m.Float64Histogram("duckslack.query.duration",
		metric.WithDescription("Backend query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	errs, err := m.Int64Counter("duckslack.query.errors",
		metric.WithDescription("Backend queries that ended in an error summary"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{events: events, duration: duration, errors: errs}, nil
}

// Event counts one handled Slack event.
func (m *Metrics) Event(ctx context.Context, event, outcome string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

// Query records one backend query that started at start.
func (m *Metrics) Query(ctx context.Context, start time.Time, failed bool) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Bool("failed", failed)))
	if failed {
		m.errors.Add(ctx, 1)
	}
}
