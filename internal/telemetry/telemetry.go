// Package telemetry wires OpenTelemetry tracing and metrics for the
// dispatcher. Without an OTLP endpoint the SDK providers still run, so
// instruments work, but nothing leaves the process.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ppiankov/repogate"

// Options configures New.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is an OTLP gRPC host:port. Empty disables export.
	Endpoint string
	Insecure bool
	Logger   *slog.Logger
}

// Provider owns the tracer and meter providers and the dispatch
// instruments.
type Provider struct {
	tracer    trace.Tracer
	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	active    metric.Int64UpDownCounter
	shutdowns []func(context.Context) error
}

// New builds SDK providers with OTLP gRPC exporters when an endpoint
// is configured.
func New(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "repogate"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
	)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if opts.Endpoint != "" {
		tOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		mOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			tOpts = append(tOpts, otlptracegrpc.WithInsecure())
			mOpts = append(mOpts, otlpmetricgrpc.WithInsecure())
		}
		traceExp, err := otlptracegrpc.New(ctx, tOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx, mOpts...)
		if err != nil {
			_ = traceExp.Shutdown(ctx)
			return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExp))
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second)),
		))
		opts.Logger.Info("telemetry export enabled", "endpoint", opts.Endpoint, "insecure", opts.Insecure)
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	p, err := NewWithProviders(tp, mp, opts.ServiceVersion)
	if err != nil {
		return nil, err
	}
	p.shutdowns = append(p.shutdowns, tp.Shutdown, mp.Shutdown)
	return p, nil
}

// NewWithProviders builds instruments on caller-owned providers.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider, version string) (*Provider, error) {
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion(version))
	p := &Provider{
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(version)),
	}

	var err error
	p.requests, err = meter.Int64Counter("repogate.dispatch.requests",
		metric.WithDescription("Operation attempts by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: requests counter: %w", err)
	}
	p.duration, err = meter.Float64Histogram("repogate.dispatch.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: duration histogram: %w", err)
	}
	p.active, err = meter.Int64UpDownCounter("repogate.dispatch.active",
		metric.WithDescription("Operations currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: active counter: %w", err)
	}
	return p, nil
}

// Span tracks one dispatch.
type Span struct {
	p     *Provider
	span  trace.Span
	op    string
	start time.Time
}

// StartDispatch opens a span for op.
func (p *Provider) StartDispatch(ctx context.Context, op, correlationID string) (context.Context, *Span) {
	ctx, span := p.tracer.Start(ctx, "dispatch "+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("repogate.operation", op),
			attribute.String("repogate.correlation_id", correlationID),
		),
	)
	p.active.Add(ctx, 1, metric.WithAttributes(attribute.String("repogate.operation", op)))
	return ctx, &Span{p: p, span: span, op: op, start: time.Now()}
}

// Event annotates the span with a state transition.
func (s *Span) Event(name string) {
	s.span.AddEvent(name)
}

// End records the outcome and closes the span. kind is empty on success.
func (s *Span) End(ctx context.Context, outcome, kind string) {
	attrs := metric.WithAttributes(
		attribute.String("repogate.operation", s.op),
		attribute.String("repogate.outcome", outcome),
		attribute.String("repogate.error_kind", kind),
	)
	s.p.requests.Add(ctx, 1, attrs)
	s.p.duration.Record(ctx, time.Since(s.start).Seconds(), attrs)
	s.p.active.Add(ctx, -1, metric.WithAttributes(attribute.String("repogate.operation", s.op)))

	s.span.SetAttributes(attribute.String("repogate.outcome", outcome))
	if kind != "" {
		s.span.SetAttributes(attribute.String("repogate.error_kind", kind))
		s.span.SetStatus(codes.Error, kind)
	}
	s.span.End()
}

// Shutdown flushes and stops providers created by New.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
