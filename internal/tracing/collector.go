// Package tracing buffers pipeline spans and ships them to an optional
// external exporter in batches.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
)

// Span statuses.
const (
	StatusOK       = "ok"
	StatusTimedOut = "timed_out"
	StatusFailed   = "failed"
)

// Span is one timed stage of a pipeline run. Spans with the same
// TraceID belong to one run; ParentID is zero for the root span.
type Span struct {
	ID       uuid.UUID
	TraceID  uuid.UUID
	ParentID uuid.UUID
	Name     string
	Session  string
	Start    time.Time
	End      time.Time
	Status   string
	Err      string
	Attrs    map[string]string
}

// Duration returns the span's wall time.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// SpanExporter is implemented by backends that receive span batches
// (e.g. OpenTelemetry OTLP). Keeping this as an interface lets the OTel
// dependency live in a separate sub-package that is only linked in when
// the binary is built with -tags otel.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []Span)
	Shutdown(ctx context.Context) error
}

// Collector buffers spans in memory and periodically flushes them in
// batches. Emitting never blocks the pipeline; spans are dropped when
// the buffer is full.
type Collector struct {
	spanCh   chan Span
	stopCh   chan struct{}
	wg       sync.WaitGroup
	exporter SpanExporter // optional external exporter (nil = log only)
}

// NewCollector creates a collector with the default buffer size.
func NewCollector() *Collector {
	return &Collector{
		spanCh: make(chan Span, defaultBufferSize),
		stopCh: make(chan struct{}),
	}
}

// SetExporter attaches an external span exporter. Call before Start.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.exporter = exp
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.flushLoop()
	slog.Info("tracing: collector started")
}

// Stop shuts the collector down, flushing remaining spans.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()

	if c.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.exporter.Shutdown(ctx); err != nil {
			slog.Warn("tracing: exporter shutdown failed", "error", err)
		}
	}

	slog.Info("tracing: collector stopped")
}

// Emit enqueues a span for the next flush. Non-blocking: drops the
// span when the buffer is full.
func (c *Collector) Emit(span Span) {
	if span.ID == uuid.Nil {
		span.ID = uuid.Must(uuid.NewV7())
	}
	if span.Status == "" {
		span.Status = StatusOK
	}

	select {
	case c.spanCh <- span:
	default:
		slog.Warn("tracing: span buffer full, dropping span", "name", span.Name)
	}
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	// Drain span channel
	var spans []Span
	for {
		select {
		case span := <-c.spanCh:
			spans = append(spans, span)
		default:
			goto done
		}
	}
done:
	if len(spans) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.exporter != nil {
		c.exporter.ExportSpans(ctx, spans)
	}
	slog.Debug("tracing: flushed spans", "count", len(spans))
}
