// Package observability wires OpenTelemetry tracing for turns and model calls.
package observability

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultServiceName is the service name reported on traces
const DefaultServiceName = "recall"

var (
	mu             sync.RWMutex
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// Config holds tracing configuration
type Config struct {
	// ServiceName is the name of the service (defaults to "recall")
	ServiceName string

	// Enabled controls whether spans are exported
	Enabled bool

	// ExporterType specifies the exporter: "otlp", "stdout", or "none"
	ExporterType string

	// OTLPEndpoint is the OTLP/HTTP endpoint (host:port)
	OTLPEndpoint string

	// OTLPHeaders are additional headers for OTLP requests (e.g., authorization)
	OTLPHeaders map[string]string
}

// ConfigFromEnv reads the standard OpenTelemetry environment variables:
// OTEL_SERVICE_NAME, OTEL_TRACES_ENABLED, OTEL_TRACES_EXPORTER,
// OTEL_EXPORTER_OTLP_ENDPOINT and OTEL_EXPORTER_OTLP_HEADERS.
func ConfigFromEnv() Config {
	return Config{
		ServiceName:  getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
		Enabled:      getEnv("OTEL_TRACES_ENABLED", "false") == "true",
		ExporterType: getEnv("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTLPHeaders:  parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	}
}

// Init installs the global tracer provider
func Init(config Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}

	if !config.Enabled || config.ExporterType == "none" || config.ExporterType == "" {
		logger.Debug("tracing disabled")
		setTracer(nil, otel.GetTracerProvider().Tracer(config.ServiceName))
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(config.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch config.ExporterType {
	case "otlp":
		exporter, err = createOTLPExporter(config)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	default:
		return fmt.Errorf("unknown exporter type: %s", config.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	setTracer(tp, tp.Tracer(config.ServiceName))

	logger.Info("tracing initialized",
		zap.String("exporter", config.ExporterType),
		zap.String("endpoint", config.OTLPEndpoint))
	return nil
}

// Shutdown flushes and stops the tracer provider
func Shutdown(ctx context.Context) error {
	mu.RLock()
	tp := tracerProvider
	mu.RUnlock()
	if tp == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	return tp.Shutdown(ctx)
}

// StartSpan starts a span as a child of ctx. The global no-op tracer is
// used until Init is called.
func StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, trace.Span) {
	mu.RLock()
	tr := tracer
	mu.RUnlock()
	if tr == nil {
		tr = otel.GetTracerProvider().Tracer(DefaultServiceName)
	}

	ctx, span := tr.Start(ctx, name)
	if len(attrs) > 0 {
		kvs := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kvs = append(kvs, convertToAttribute(k, v))
		}
		span.SetAttributes(kvs...)
	}
	return ctx, span
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func setTracer(tp *sdktrace.TracerProvider, tr trace.Tracer) {
	mu.Lock()
	defer mu.Unlock()
	tracerProvider = tp
	tracer = tr
}

func createOTLPExporter(config Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
	}
	if len(config.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(config.OTLPHeaders))
	}

	client := otlptracehttp.NewClient(opts...)
	return otlptrace.New(context.Background(), client)
}

func convertToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseHeaders parses "key1=value1,key2=value2"
func parseHeaders(headerStr string) map[string]string {
	if headerStr == "" {
		return nil
	}

	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}
