package tracing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeExporter struct {
	mu       sync.Mutex
	spans    []Span
	shutdown bool
}

func (f *fakeExporter) ExportSpans(_ context.Context, spans []Span) {
	f.mu.Lock()
	f.spans = append(f.spans, spans...)
	f.mu.Unlock()
}

func (f *fakeExporter) Shutdown(context.Context) error {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
	return nil
}

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spans)
}

func TestEmitFillsDefaults(t *testing.T) {
	c := NewCollector()
	c.Emit(Span{Name: "synthesize", Start: time.Now(), End: time.Now()})

	span := <-c.spanCh
	if span.ID == uuid.Nil {
		t.Error("expected generated span ID")
	}
	if span.Status != StatusOK {
		t.Errorf("expected default status ok, got %q", span.Status)
	}
}

func TestStopFlushesToExporter(t *testing.T) {
	exp := &fakeExporter{}
	c := NewCollector()
	c.SetExporter(exp)
	c.Start()

	trace := uuid.New()
	for _, name := range []string{"bootstrap.load", "query.preferences", "synthesize"} {
		c.Emit(Span{TraceID: trace, Name: name, Start: time.Now(), End: time.Now()})
	}
	c.Stop()

	if exp.count() != 3 {
		t.Errorf("expected 3 exported spans, got %d", exp.count())
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()
	if !exp.shutdown {
		t.Error("expected exporter shutdown on Stop")
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	c := NewCollector()
	// No flush loop running; fill the buffer past capacity.
	for i := 0; i < defaultBufferSize+10; i++ {
		c.Emit(Span{Name: "present", Start: time.Now(), End: time.Now()})
	}
	if len(c.spanCh) != defaultBufferSize {
		t.Errorf("expected buffer capped at %d, got %d", defaultBufferSize, len(c.spanCh))
	}
}

func TestSpanDuration(t *testing.T) {
	start := time.Now()
	s := Span{Start: start, End: start.Add(250 * time.Millisecond)}
	if s.Duration() != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", s.Duration())
	}
}
