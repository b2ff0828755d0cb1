package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "codexverse-api"

// Tracer is the process-wide tracer. It is a no-op until InitTracing
// installs a provider.
var Tracer trace.Tracer = otel.Tracer(defaultServiceName)

// dbSystem labels repository spans; InitTracing sets it from the driver.
var dbSystem = "postgresql"

// TracingConfig configures InitTracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	Exporter       string // "stdout" or "otlp"
	OTLPEndpoint   string
	SamplerRatio   float64
	// DBDriver is the database/sql driver name ("postgres", "sqlite").
	DBDriver string
}

// InitTracing installs the global tracer provider and W3C propagators. The
// returned function flushes and stops the provider.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.DBDriver != "" {
		dbSystem = dbSystemFor(cfg.DBDriver)
	}
	if !cfg.Enabled {
		Tracer = otel.Tracer(cfg.ServiceName)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplerRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	Tracer = tp.Tracer(cfg.ServiceName)

	return tp.Shutdown, nil
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(context.Background(), opts...)
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// samplerFor maps a ratio to a sampler; ratios in (0,1) respect the parent
// decision.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func dbSystemFor(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return "postgresql"
	}
}

// TraceLayer starts spans for the storage and realtime layers.
type TraceLayer struct {
	tracer   trace.Tracer
	dbSystem string
}

// NewTraceLayer binds a TraceLayer to tracer. An empty system defaults to
// the one InitTracing derived from the driver.
func NewTraceLayer(tracer trace.Tracer, system string) *TraceLayer {
	if system == "" {
		system = dbSystem
	}
	return &TraceLayer{tracer: tracer, dbSystem: system}
}

// GetTraceLayer returns a TraceLayer on the global Tracer.
func GetTraceLayer() *TraceLayer {
	return NewTraceLayer(Tracer, "")
}

func (l *TraceLayer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// TraceRepositoryMethod starts a span named repository.<method>.
func (l *TraceLayer) TraceRepositoryMethod(ctx context.Context, method, table string) (context.Context, trace.Span) {
	return l.start(ctx, "repository."+method, trace.SpanKindInternal,
		attribute.String("db.system", l.dbSystem),
		attribute.String("db.operation", method),
		attribute.String("db.sql.table", table),
	)
}

// TraceRedisOperation starts a client span named redis.<op>.
func (l *TraceLayer) TraceRedisOperation(ctx context.Context, op string) (context.Context, trace.Span) {
	return l.start(ctx, "redis."+op, trace.SpanKindClient,
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", op),
	)
}

// TraceWebSocket starts a span for one inbound socket event.
func (l *TraceLayer) TraceWebSocket(ctx context.Context, hub, eventType string) (context.Context, trace.Span) {
	return l.start(ctx, "websocket."+eventType, trace.SpanKindServer,
		attribute.String("websocket.hub", hub),
		attribute.String("websocket.event", eventType),
	)
}
