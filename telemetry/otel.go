package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	promclient "github.com/prometheus/client_golang/prometheus"
)

const instrumentationName = "github.com/draftgate/draftgate"

// Global telemetry handles.
var (
	Tracer = otel.Tracer(instrumentationName)
	Meter  = otel.Meter(instrumentationName)

	// PrometheusRegistry serves pull-based scraping; the OTEL exporter
	// registers itself here (dual export pattern).
	PrometheusRegistry *promclient.Registry

	// Pipeline metrics.
	EvaluationsTotal   metric.Int64Counter
	AuditAppendsTotal  metric.Int64Counter
	DraftsBuiltTotal   metric.Int64Counter
	ArtifactsApplied   metric.Int64Counter
	ArtifactsSkipped   metric.Int64Counter
	ConflictsFound     metric.Int64Counter
	SupervisorWarnings metric.Int64Counter
	ApplyDuration      metric.Float64Histogram
)

// Config for OTEL initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTELEndpoint   string // e.g. "localhost:4317"
	Insecure       bool
}

// InitOTEL initializes tracing and metrics. The returned shutdown
// function flushes both providers.
func InitOTEL(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	cfg = applyConfigDefaults(cfg)

	res, err := createOTELResource(cfg)
	if err != nil {
		return nil, err
	}

	return setupProviders(ctx, cfg, res)
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.OTELEndpoint == "" {
		cfg.OTELEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "draftgate"
	}
	return cfg
}

func createOTELResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func setupProviders(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	traceShutdown, err := setupTraceProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to setup traces: %w", err)
	}

	metricShutdown, err := setupMetricProvider(ctx, cfg, res)
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if err := initMetrics(); err != nil {
		_ = traceShutdown(ctx)
		_ = metricShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return func(ctx context.Context) error {
		var err error
		if e := traceShutdown(ctx); e != nil {
			err = fmt.Errorf("trace shutdown failed: %w", e)
		}
		if e := metricShutdown(ctx); e != nil && err == nil {
			err = fmt.Errorf("metric shutdown failed: %w", e)
		}
		return err
	}, nil
}

func setupTraceProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTELEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = provider.Tracer(instrumentationName)

	return provider.Shutdown, nil
}

// setupMetricProvider configures dual export: Prometheus registry for
// pull-based scraping plus optional OTLP push.
func setupMetricProvider(ctx context.Context, cfg Config, res *resource.Resource) (func(context.Context) error, error) {
	registry := promclient.NewRegistry()
	PrometheusRegistry = registry

	prometheusExporter, err := prometheus.New(
		prometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	readers := []sdkmetric.Reader{prometheusExporter}

	if cfg.OTELEndpoint != "" {
		otlpOpts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.OTELEndpoint),
		}
		if cfg.Insecure {
			otlpOpts = append(otlpOpts, otlpmetricgrpc.WithDialOption(
				grpc.WithTransportCredentials(insecure.NewCredentials()),
			))
		}
		exporter, err := otlpmetricgrpc.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		))
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(reader))
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(provider)
	Meter = provider.Meter(instrumentationName)

	return provider.Shutdown, nil
}

func initMetrics() error {
	var err error

	if EvaluationsTotal, err = Meter.Int64Counter(
		"draftgate_evaluations_total",
		metric.WithDescription("Policy evaluations by outcome"),
	); err != nil {
		return err
	}
	if AuditAppendsTotal, err = Meter.Int64Counter(
		"draftgate_audit_appends_total",
		metric.WithDescription("Entries appended to the audit log"),
	); err != nil {
		return err
	}
	if DraftsBuiltTotal, err = Meter.Int64Counter(
		"draftgate_drafts_built_total",
		metric.WithDescription("Draft packages built from overlays"),
	); err != nil {
		return err
	}
	if ArtifactsApplied, err = Meter.Int64Counter(
		"draftgate_artifacts_applied_total",
		metric.WithDescription("Approved artifacts copied to the source root"),
	); err != nil {
		return err
	}
	if ArtifactsSkipped, err = Meter.Int64Counter(
		"draftgate_artifacts_skipped_total",
		metric.WithDescription("Artifacts left untouched during apply"),
	); err != nil {
		return err
	}
	if ConflictsFound, err = Meter.Int64Counter(
		"draftgate_conflicts_found_total",
		metric.WithDescription("Source conflicts detected at apply time"),
	); err != nil {
		return err
	}
	if SupervisorWarnings, err = Meter.Int64Counter(
		"draftgate_supervisor_warnings_total",
		metric.WithDescription("Dependency warnings raised by the supervisor"),
	); err != nil {
		return err
	}
	if ApplyDuration, err = Meter.Float64Histogram(
		"draftgate_apply_duration_seconds",
		metric.WithDescription("Duration of draft apply attempts"),
	); err != nil {
		return err
	}

	return nil
}
