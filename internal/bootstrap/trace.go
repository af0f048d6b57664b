package bootstrap

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/recall/internal/retrieve"
	"github.com/nextlevelbuilder/recall/internal/tracing"
)

// stageTimes marks the stage boundaries of one pipeline run.
type stageTimes struct {
	start        time.Time
	fetchStart   time.Time
	synthStart   time.Time
	presentStart time.Time
	end          time.Time
}

// emitTrace converts one pipeline run into spans: a root span for the
// whole load, a fetch span with one child per query, then synthesize
// and present. No-op without a collector.
func (l *Loader) emitTrace(sessionID string, t stageTimes, batch retrieve.Batch) {
	if l.Tracer == nil {
		return
	}

	traceID := uuid.Must(uuid.NewV7())
	rootID := uuid.Must(uuid.NewV7())
	fetchID := uuid.Must(uuid.NewV7())

	l.Tracer.Emit(tracing.Span{
		ID:      rootID,
		TraceID: traceID,
		Name:    "bootstrap.load",
		Session: sessionID,
		Start:   t.start,
		End:     t.end,
		Attrs: map[string]string{
			"degraded": strconv.FormatBool(batch.Degraded()),
		},
	})

	fetchStatus := tracing.StatusOK
	if batch.TimedOut() {
		fetchStatus = tracing.StatusTimedOut
	}
	l.Tracer.Emit(tracing.Span{
		ID:       fetchID,
		TraceID:  traceID,
		ParentID: rootID,
		Name:     "parallel_fetch",
		Session:  sessionID,
		Start:    t.fetchStart,
		End:      t.synthStart,
		Status:   fetchStatus,
		Attrs: map[string]string{
			"elapsed_ms": strconv.FormatInt(batch.Elapsed.Milliseconds(), 10),
		},
	})

	for q, res := range batch.Results {
		span := tracing.Span{
			TraceID:  traceID,
			ParentID: fetchID,
			Name:     "query." + string(q),
			Session:  sessionID,
			Start:    t.fetchStart,
			End:      t.fetchStart.Add(res.Latency),
			Status:   queryStatus(res.Status),
		}
		if res.Err != nil {
			span.Err = res.Err.Error()
		}
		l.Tracer.Emit(span)
	}

	l.Tracer.Emit(tracing.Span{
		TraceID:  traceID,
		ParentID: rootID,
		Name:     "synthesize",
		Session:  sessionID,
		Start:    t.synthStart,
		End:      t.presentStart,
	})
	l.Tracer.Emit(tracing.Span{
		TraceID:  traceID,
		ParentID: rootID,
		Name:     "present",
		Session:  sessionID,
		Start:    t.presentStart,
		End:      t.end,
	})
}

func queryStatus(s retrieve.Status) string {
	switch s {
	case retrieve.StatusTimedOut:
		return tracing.StatusTimedOut
	case retrieve.StatusFailed:
		return tracing.StatusFailed
	default:
		return tracing.StatusOK
	}
}
