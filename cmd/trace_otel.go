//go:build otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/tracing"
	"github.com/nextlevelbuilder/recall/internal/tracing/otelexport"
)

// initOTelExporter wires the OTLP span exporter into the collector
// when tracing is configured. Only compiled with -tags otel.
func initOTelExporter(ctx context.Context, cfg *config.Config, collector *tracing.Collector) {
	if collector == nil {
		return
	}
	if cfg.Tracing.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set tracing.otlp_endpoint)")
		return
	}

	exp, err := otelexport.New(ctx, otelexport.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Protocol:    cfg.Tracing.Protocol,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Headers:     cfg.Tracing.Headers,
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return
	}

	collector.SetExporter(exp)
	slog.Info("OpenTelemetry OTLP export enabled",
		"endpoint", cfg.Tracing.Endpoint,
		"protocol", cfg.Tracing.Protocol,
	)
}
