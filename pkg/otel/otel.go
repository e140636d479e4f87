// Package otel configures OpenTelemetry tracing for the simulation and
// causality engines and provides span helpers with the common attribute
// vocabulary.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry configuration.
type Config struct {
	ServiceName          string
	ServiceVersion       string
	Environment          string
	CollectorEndpoint    string
	CollectorInsecure    bool
	SamplingRate         float64 // 0.0 to 1.0 (1.0 = always sample)
	MaxEventsPerSpan     int
	MaxAttributesPerSpan int
}

// DefaultConfig returns production defaults.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:          serviceName,
		ServiceVersion:       "1.0.0",
		Environment:          "production",
		CollectorEndpoint:    "localhost:4317",
		CollectorInsecure:    true, // Use TLS in production
		SamplingRate:         1.0,
		MaxEventsPerSpan:     128,
		MaxAttributesPerSpan: 128,
	}
}

// InitTracer initializes OpenTelemetry tracing and installs the global
// tracer provider and propagators.
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("prospect")
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.CollectorEndpoint),
		otlptracegrpc.WithInsecure(), // Use WithTLSCredentials in production
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		sdktrace.WithSpanLimits(sdktrace.SpanLimits{
			EventCountLimit:     config.MaxEventsPerSpan,
			AttributeCountLimit: config.MaxAttributesPerSpan,
		}),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown gracefully shuts down the tracer provider.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan is a convenience wrapper for starting a span with common attributes.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)

	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return ctx, span
}

// RecordError records an error on a span with optional message.
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}

	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys.
const (
	// Simulation run attributes
	AttrRunScenarios = attribute.Key("run.scenarios")
	AttrRunVariables = attribute.Key("run.variables")
	AttrRunDropped   = attribute.Key("run.dropped_batches")
	AttrRunPartial   = attribute.Key("run.partial")
	AttrRunCacheHit  = attribute.Key("run.cache_hit")

	// Temporal event attributes
	AttrEventID     = attribute.Key("event.id")
	AttrEventType   = attribute.Key("event.type")
	AttrEventDomain = attribute.Key("event.domain")
	AttrEventImpact = attribute.Key("event.impact")

	// Causal chain attributes
	AttrChainOutcome    = attribute.Key("chain.outcome_id")
	AttrChainLength     = attribute.Key("chain.length")
	AttrChainStrength   = attribute.Key("chain.strength")
	AttrChainConfidence = attribute.Key("chain.confidence")

	// Performance attributes
	AttrLatencyMs = attribute.Key("latency.ms")
)

// RunAttributes describes a scenario analysis run.
func RunAttributes(scenarios, variables, droppedBatches int, partial bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunScenarios.Int(scenarios),
		AttrRunVariables.Int(variables),
		AttrRunDropped.Int(droppedBatches),
		AttrRunPartial.Bool(partial),
	}
}

// EventAttributes describes a recorded temporal event.
func EventAttributes(id, eventType, domain string, impact float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventID.String(id),
		AttrEventType.String(eventType),
		AttrEventDomain.String(domain),
		AttrEventImpact.Float64(impact),
	}
}

// ChainAttributes describes a traced causal chain.
func ChainAttributes(outcomeID string, length int, strength, confidence float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrChainOutcome.String(outcomeID),
		AttrChainLength.Int(length),
		AttrChainStrength.Float64(strength),
		AttrChainConfidence.Float64(confidence),
	}
}
