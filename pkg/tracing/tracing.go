// Package tracing wraps an OpenTelemetry TracerProvider around
// dispatcher work-item handling and ack-engine publish/ack pairs so an
// operator can follow one event from SendEvent through to PubAck in a
// trace viewer. It is a no-op unless Init is called with Config.Enabled
// set.
//
// Grounded on the retrieval pack's internal/observability package
// (oriys-nova): a package-level Provider guarded by Init/Shutdown,
// an otlptracehttp exporter, and a Tracer() accessor other packages
// call without threading a *Provider through every constructor.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether and where spans are exported.
type Config struct {
	Enabled     bool
	Endpoint    string // host:port of an OTLP/HTTP collector, e.g. localhost:4318
	ServiceName string
	SampleRate  float64 // 0..1; 0 defaults to AlwaysSample
}

type provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

var global = &provider{tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init installs the global tracer. Called once at process start;
// Config.Enabled false (the default) leaves the no-op tracer in place.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "linkcore"
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return fmt.Errorf("tracing: build resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("tracing: build otlp exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}
	return nil
}

// Shutdown flushes and closes the tracer provider, if one was started.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Tracer returns the process-wide tracer; a no-op tracer before Init
// is ever called with Config.Enabled.
func Tracer() trace.Tracer { return global.tracer }

// StartWorkItem opens a span around one dispatcher work-item handling,
// tagged with the link it concerns.
func StartWorkItem(ctx context.Context, link, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "dispatcher.handle",
		trace.WithAttributes(
			attribute.String("linkcore.link", link),
			attribute.String("linkcore.work_item", kind),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartPublish opens a span around one ack-engine publish attempt,
// closed by EndPublish once the PubAck (or a timeout) resolves it.
func StartPublish(ctx context.Context, link string, eventID uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ackengine.publish",
		trace.WithAttributes(
			attribute.String("linkcore.link", link),
			attribute.Int64("linkcore.event_id", int64(eventID)),
		),
	)
}

// EndPublish closes a publish span, marking it errored if err is set
// (e.g. an ack timeout rather than a PubAck).
func EndPublish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
