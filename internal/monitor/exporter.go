package monitor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tjfontaine/completion-gateway/internal/monitor"

// Exporter flushes session snapshots to OpenTelemetry counters.
type Exporter struct {
	events      metric.Int64Counter
	parseErrors metric.Int64Counter
	unknown     metric.Int64Counter
	mismatches  metric.Int64Counter
	dropped     metric.Int64Counter
	sessions    metric.Int64Counter
}

// NewExporter registers the monitor instruments on the provider's meter.
func NewExporter(mp metric.MeterProvider) (*Exporter, error) {
	m := mp.Meter(instrumentationName)
	var (
		e   Exporter
		err error
	)
	if e.events, err = m.Int64Counter("gateway.stream.events", metric.WithDescription("Events delivered, by type")); err != nil {
		return nil, err
	}
	if e.parseErrors, err = m.Int64Counter("gateway.stream.parse_errors", metric.WithDescription("Malformed upstream payloads")); err != nil {
		return nil, err
	}
	if e.unknown, err = m.Int64Counter("gateway.stream.unknown_types", metric.WithDescription("Events outside the canonical vocabulary")); err != nil {
		return nil, err
	}
	if e.mismatches, err = m.Int64Counter("gateway.stream.field_mismatches", metric.WithDescription("Events missing a required field")); err != nil {
		return nil, err
	}
	if e.dropped, err = m.Int64Counter("gateway.stream.observer_dropped", metric.WithDescription("Observations dropped by a full monitor buffer")); err != nil {
		return nil, err
	}
	if e.sessions, err = m.Int64Counter("gateway.stream.sessions", metric.WithDescription("Completed sessions, by health")); err != nil {
		return nil, err
	}
	return &e, nil
}

// Export adds one session's counters. A nil exporter is a no-op.
func (e *Exporter) Export(ctx context.Context, s Snapshot, attrs ...attribute.KeyValue) {
	if e == nil {
		return
	}
	base := metric.WithAttributes(attrs...)
	for typ, n := range s.EventCounts {
		e.events.Add(ctx, int64(n), base, metric.WithAttributes(attribute.String("event_type", typ)))
	}
	if s.ParseErrors > 0 {
		e.parseErrors.Add(ctx, int64(s.ParseErrors), base)
	}
	if s.UnknownTypes > 0 {
		e.unknown.Add(ctx, int64(s.UnknownTypes), base)
	}
	if s.FieldMismatches > 0 {
		e.mismatches.Add(ctx, int64(s.FieldMismatches), base)
	}
	if s.ObserverDropped > 0 {
		e.dropped.Add(ctx, int64(s.ObserverDropped), base)
	}
	e.sessions.Add(ctx, 1, base, metric.WithAttributes(attribute.Bool("has_errors", s.HasErrors)))
}
