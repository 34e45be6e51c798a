package observability

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerConfig holds tracer configuration.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	CollectorAddr  string
	Enabled        bool
	SampleRate     float64 // 0.0 - 1.0
}

// InitTracer initializes OpenTelemetry tracing with an OTLP exporter.
func InitTracer(config TracerConfig) (trace.TracerProvider, io.Closer, error) {
	if !config.Enabled {
		log.Info().Msg("distributed tracing is disabled")
		return trace.NewNoopTracerProvider(), io.NopCloser(nil), nil
	}

	ctx := context.Background()

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.CollectorAddr),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler tracesdk.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = tracesdk.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = tracesdk.NeverSample()
	default:
		sampler = tracesdk.TraceIDRatioBased(config.SampleRate)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", config.ServiceName).
		Str("endpoint", config.CollectorAddr).
		Float64("sample_rate", config.SampleRate).
		Msg("distributed tracing initialized with OTLP")

	return tp, &tracerCloser{tp: tp}, nil
}

type tracerCloser struct {
	tp *tracesdk.TracerProvider
}

func (c *tracerCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.tp.Shutdown(ctx)
}

// Tracer wraps an OpenTelemetry tracer with convenience methods.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartSpan starts a new span.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartSpanWithKind starts a new span with an explicit kind.
func (t *Tracer) StartSpanWithKind(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// SetStatus sets the status of the current span.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// Common attribute keys for the screening domain.
var (
	AttrEntityKey        = attribute.Key("entity.key")
	AttrEntityType       = attribute.Key("entity.type")
	AttrScreeningStatus  = attribute.Key("screening.status")
	AttrScreeningOutcome = attribute.Key("screening.dispatch_outcome")

	AttrSanctionsHit       = attribute.Key("sanctions.hit")
	AttrSanctionsRiskLevel = attribute.Key("sanctions.risk_level")
	AttrSanctionsRegime    = attribute.Key("sanctions.regime")

	AttrDBOperation = attribute.Key("db.operation")
	AttrDBTable     = attribute.Key("db.table")

	AttrRedisOperation = attribute.Key("redis.operation")
	AttrRedisKey       = attribute.Key("redis.key")

	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPURL        = attribute.Key("http.url")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
)

// TraceScreen creates a span for a single screening request.
func TraceScreen(ctx context.Context, tracer *Tracer, entityKey, entityType string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "dispatch.screen",
		AttrEntityKey.String(entityKey),
		AttrEntityType.String(entityType),
	)
}

// TraceMatch creates a span for a watchlist match pass.
func TraceMatch(ctx context.Context, tracer *Tracer, entityType string) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "matching.match",
		AttrEntityType.String(entityType),
	)
}

// TraceRefreshSweep creates a span for a watchlist refresh-and-delta-sweep run.
func TraceRefreshSweep(ctx context.Context, tracer *Tracer) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, "refresh.sweep")
}

// TraceDBQuery creates a span for a database query.
func TraceDBQuery(ctx context.Context, tracer *Tracer, operation, table string) (context.Context, trace.Span) {
	return tracer.StartSpanWithKind(ctx, "db.query", trace.SpanKindClient,
		AttrDBOperation.String(operation),
		AttrDBTable.String(table),
		semconv.DBSystemPostgreSQL,
	)
}

// TraceRedisOperation creates a span for a Redis operation.
func TraceRedisOperation(ctx context.Context, tracer *Tracer, operation, key string) (context.Context, trace.Span) {
	return tracer.StartSpanWithKind(ctx, "redis."+operation, trace.SpanKindClient,
		AttrRedisOperation.String(operation),
		AttrRedisKey.String(key),
		semconv.DBSystemRedis,
	)
}
