package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Counter helpers. Instruments are created by InitOTEL; before that
// (and in tests that skip OTEL setup) these are no-ops.

func CountEvaluation(ctx context.Context, outcome string) {
	if EvaluationsTotal == nil {
		return
	}
	EvaluationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func CountAuditAppend(ctx context.Context, kind string) {
	if AuditAppendsTotal == nil {
		return
	}
	AuditAppendsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func CountDraftBuilt(ctx context.Context, artifacts int) {
	if DraftsBuiltTotal == nil {
		return
	}
	DraftsBuiltTotal.Add(ctx, 1, metric.WithAttributes(attribute.Int("artifacts", artifacts)))
}

func CountApply(ctx context.Context, applied, skipped int) {
	if ArtifactsApplied != nil {
		ArtifactsApplied.Add(ctx, int64(applied))
	}
	if ArtifactsSkipped != nil {
		ArtifactsSkipped.Add(ctx, int64(skipped))
	}
}

func CountConflicts(ctx context.Context, n int) {
	if ConflictsFound == nil || n == 0 {
		return
	}
	ConflictsFound.Add(ctx, int64(n))
}

func CountWarnings(ctx context.Context, n int) {
	if SupervisorWarnings == nil || n == 0 {
		return
	}
	SupervisorWarnings.Add(ctx, int64(n))
}

func ObserveApplyDuration(ctx context.Context, seconds float64) {
	if ApplyDuration == nil {
		return
	}
	ApplyDuration.Record(ctx, seconds)
}
