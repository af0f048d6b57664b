package otelexport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/recall/internal/tracing"
)

// Config configures the OpenTelemetry OTLP exporter.
type Config struct {
	Endpoint    string            // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            // "grpc" (default) or "http"
	Insecure    bool              // skip TLS for local dev
	ServiceName string            // OTEL service name (default "recall")
	Headers     map[string]string // extra headers (auth tokens, etc.)
}

// Exporter converts pipeline spans to OTel spans and exports via OTLP.
// It implements the tracing.SpanExporter interface.
type Exporter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New creates an OTLP exporter with the given config.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "recall"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default: // "grpc"
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)

	return &Exporter{
		provider: tp,
		tracer:   tp.Tracer("recall"),
	}, nil
}

// ExportSpans converts pipeline spans to OTel spans and exports them.
// Called by the Collector during flush.
func (e *Exporter) ExportSpans(ctx context.Context, spans []tracing.Span) {
	if e == nil || len(spans) == 0 {
		return
	}

	for _, s := range spans {
		e.exportSpan(ctx, s)
	}
}

func (e *Exporter) exportSpan(ctx context.Context, s tracing.Span) {
	traceID := uuidToTraceID(s.TraceID)

	attrs := []attribute.KeyValue{
		attribute.String("recall.session", s.Session),
		attribute.String("recall.status", s.Status),
	}
	if d := s.Duration(); d > 0 {
		attrs = append(attrs, attribute.Int64("recall.duration_ms", d.Milliseconds()))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, attribute.String("recall."+k, v))
	}

	// Create parent context if a parent span exists
	parentCtx := ctx
	if s.ParentID != uuid.Nil {
		parentSpanCtx := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     uuidToSpanID(s.ParentID),
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		parentCtx = trace.ContextWithRemoteSpanContext(parentCtx, parentSpanCtx)
	}

	// Store queries are client calls; everything else is internal work.
	kind := trace.SpanKindInternal
	if strings.HasPrefix(s.Name, "query.") {
		kind = trace.SpanKindClient
	}

	_, span := e.tracer.Start(parentCtx, s.Name,
		trace.WithTimestamp(s.Start),
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)

	// The SDK generates its own IDs; keep ours as attributes for
	// correlation with local logs.
	span.SetAttributes(
		attribute.String("recall.trace_id", s.TraceID.String()),
		attribute.String("recall.span_id", s.ID.String()),
	)

	switch s.Status {
	case tracing.StatusFailed, tracing.StatusTimedOut:
		span.SetStatus(codes.Error, s.Err)
		if s.Err != "" {
			span.RecordError(fmt.Errorf("%s", s.Err))
		}
	default:
		span.SetStatus(codes.Ok, "")
	}

	end := s.End
	if end.IsZero() {
		end = s.Start
	}
	span.End(trace.WithTimestamp(end))
}

// Shutdown gracefully shuts down the OTel exporter, flushing remaining spans.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	slog.Info("otel exporter shutting down")
	return e.provider.Shutdown(ctx)
}

// uuidToTraceID converts a UUID to an OTel TraceID (16 bytes).
func uuidToTraceID(id [16]byte) trace.TraceID {
	return trace.TraceID(id)
}

// uuidToSpanID converts a UUID to an OTel SpanID (8 bytes, uses last 8 bytes of UUID).
func uuidToSpanID(id [16]byte) trace.SpanID {
	var sid trace.SpanID
	copy(sid[:], id[8:16])
	return sid
}
