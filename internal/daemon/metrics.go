package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds sweep metrics using OTEL semantic conventions.
type Metrics struct {
	sweeps        metric.Int64Counter
	sweepDuration metric.Float64Histogram
	auditEntries  metric.Int64Gauge
	drafts        metric.Int64Gauge
}

// NewMetrics creates the daemon's instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("draftgate.daemon")

	sweeps, err := meter.Int64Counter(
		"draftgate.daemon.sweeps",
		metric.WithDescription("Number of integrity sweeps run"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"draftgate.daemon.sweep.duration",
		metric.WithDescription("Duration of integrity sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	auditEntries, err := meter.Int64Gauge(
		"draftgate.audit.entries",
		metric.WithDescription("Entries in the audit log"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	drafts, err := meter.Int64Gauge(
		"draftgate.drafts",
		metric.WithDescription("Drafts in the store by status"),
		metric.WithUnit("{draft}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sweeps:        sweeps,
		sweepDuration: sweepDuration,
		auditEntries:  auditEntries,
		drafts:        drafts,
	}, nil
}

// RecordSweep records one sweep with its outcome.
func (m *Metrics) RecordSweep(ctx context.Context, status string) {
	m.sweeps.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSweepDuration records how long a sweep took.
func (m *Metrics) RecordSweepDuration(ctx context.Context, durationSeconds float64, status string) {
	m.sweepDuration.Record(ctx, durationSeconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordAuditEntries records the audit log's entry count.
func (m *Metrics) RecordAuditEntries(ctx context.Context, count int64) {
	m.auditEntries.Record(ctx, count)
}

// RecordDrafts records the draft count for one status.
func (m *Metrics) RecordDrafts(ctx context.Context, status string, count int64) {
	m.drafts.Record(ctx, count,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
