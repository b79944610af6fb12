package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry so log lines can
// be correlated with spans.
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with trace correlation for the mediation core.
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a logger scoped to one component.
func NewLogger(component string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stderr).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger carrying ctx for trace propagation.
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for the decision pipeline.

func (l *Logger) LogDecision(ctx context.Context, agentID, target, outcome string, considered int) {
	l.WithContext(ctx).Info().
		Str("agent_id", agentID).
		Str("target", target).
		Str("outcome", outcome).
		Int("grants_considered", considered).
		Msg("policy decision")
}

func (l *Logger) LogAuditError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("audit log operation failed")
}

func (l *Logger) LogDraftBuilt(ctx context.Context, draftID, workspaceID string, artifacts int) {
	l.WithContext(ctx).Info().
		Str("draft_id", draftID).
		Str("workspace_id", workspaceID).
		Int("artifacts", artifacts).
		Msg("draft built")
}

func (l *Logger) LogApplyResult(ctx context.Context, draftID string, applied, skipped, conflicts, warnings int) {
	l.WithContext(ctx).Info().
		Str("draft_id", draftID).
		Int("applied", applied).
		Int("skipped", skipped).
		Int("conflicts", conflicts).
		Int("warnings", warnings).
		Msg("apply finished")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}
