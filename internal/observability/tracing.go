package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/mosaicfit/internal/logging"
)

// TracerName identifies spans emitted by mosaicfit.
const TracerName = "github.com/signalsfoundry/mosaicfit"

// Span exporters accepted in TracingConfig.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig selects where the stage spans of a run go.
type TracingConfig struct {
	// Exporter is one of the Exporter constants; empty means none.
	Exporter string
	// Endpoint is the OTLP gRPC collector address.
	Endpoint       string
	SampleRatio    float64
	ServiceVersion string
	// Writer receives stdout spans; nil means stderr.
	Writer io.Writer
}

// Enabled reports whether spans are exported at all.
func (c TracingConfig) Enabled() bool {
	e := strings.ToLower(c.Exporter)
	return e != "" && e != ExporterNone
}

// TracingConfigFromEnv reads MOSAICFIT_TRACING_EXPORTER,
// MOSAICFIT_TRACING_ENDPOINT and MOSAICFIT_TRACING_SAMPLE_RATIO. An invalid
// ratio falls back to sampling every run.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Exporter:    strings.ToLower(os.Getenv("MOSAICFIT_TRACING_EXPORTER")),
		Endpoint:    os.Getenv("MOSAICFIT_TRACING_ENDPOINT"),
		SampleRatio: 1,
	}
	if raw := os.Getenv("MOSAICFIT_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

// SetupTracing installs the global tracer provider for a run and returns the
// function that flushes it. With tracing disabled the provider is a noop and
// the flush does nothing.
func SetupTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	opt, err := spanProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", "mosaicfit"),
		attribute.String("service.namespace", "astrometry"),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		opt,
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Debug(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// spanProcessor picks the exporter. Stdout spans are written as each stage
// ends; OTLP spans are batched and flushed at shutdown.
func spanProcessor(ctx context.Context, cfg TracingConfig) (sdktrace.TracerProviderOption, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return sdktrace.WithSyncer(exp), nil
	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return sdktrace.WithBatcher(exp), nil
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %q", cfg.Exporter)
	}
}

// FlushTracing runs flush with its own deadline so spans still leave the
// process after the run context was cancelled.
func FlushTracing(flush func(context.Context) error, timeout time.Duration, log logging.Logger) {
	if flush == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := flush(ctx); err != nil {
		log.Warn(ctx, "tracing flush failed", logging.Err(err))
	}
}

// Tracer returns the tracer used for pipeline spans.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartStage opens the span for one pipeline stage.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mosaicfit."+stage, trace.WithAttributes(attribute.String("mosaicfit.stage", stage)))
}

// EndStage closes a stage span, marking it failed with the run's failure
// class when err is non-nil.
func EndStage(span trace.Span, err error, failure string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("mosaicfit.failure", failure))
	}
	span.End()
}
