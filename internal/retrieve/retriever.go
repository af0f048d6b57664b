package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/recall/internal/session"
	"github.com/nextlevelbuilder/recall/internal/store"
)

// DefaultTimeout is the shared deadline for one retrieval batch.
const DefaultTimeout = 2000 * time.Millisecond

// Retriever fans the fixed queries out over one worker each. Queries
// are isolated: a failure or hang in one never blocks the others, and
// results arriving after the deadline are discarded.
type Retriever struct {
	Store     store.Store
	StatePath string
	// ProjectScope optionally adds per-project hints to the
	// preferences query.
	ProjectScope string
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

func (r *Retriever) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Run executes the batch and always returns, at the latest once the
// shared deadline expires.
func (r *Retriever) Run(ctx context.Context) Batch {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[Query]Result, len(Queries))
	)
	var eg errgroup.Group
	for _, q := range Queries {
		eg.Go(func() error {
			res := r.runQuery(ctx, q)
			mu.Lock()
			results[q] = res
			mu.Unlock()
			return nil
		})
	}
	eg.Wait()

	b := Batch{Results: results, Elapsed: time.Since(start)}
	for _, q := range Queries {
		res := b.Results[q]
		if res.Status == StatusTimedOut || res.Status == StatusFailed {
			slog.Warn("retrieve: query degraded",
				"query", q, "status", res.Status, "latency", res.Latency, "error", res.Err)
		}
	}
	return b
}

// runQuery runs one query in its own goroutine so a hung backend can be
// abandoned at the deadline. The inner send is buffered; a late result
// lands in the channel and is dropped with it. A panicking backend is
// contained here and reported as a failed query.
func (r *Retriever) runQuery(ctx context.Context, q Query) Result {
	start := time.Now()
	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- Result{Query: q, Status: StatusFailed, Err: fmt.Errorf("query panic: %v", p)}
			}
		}()
		ch <- r.fetch(ctx, q)
	}()

	select {
	case res := <-ch:
		res.Latency = time.Since(start)
		return res
	case <-ctx.Done():
		return Result{Query: q, Status: StatusTimedOut, Err: ctx.Err(), Latency: time.Since(start)}
	}
}

func (r *Retriever) fetch(ctx context.Context, q Query) Result {
	res := Result{Query: q}
	switch q {
	case QueryPreferences:
		prefs, err := r.Store.Preferences(ctx, store.ScopeUserPreferences)
		if err != nil {
			return failed(res, err)
		}
		if r.ProjectScope != "" {
			hints, err := r.Store.Preferences(ctx, r.ProjectScope)
			if err != nil {
				slog.Debug("retrieve: project hints unavailable", "scope", r.ProjectScope, "error", err)
			} else {
				prefs = append(prefs, hints...)
			}
		}
		res.Preferences = prefs
		res.Status = statusFor(len(prefs))

	case QueryEpisodic:
		events, err := r.Store.EventsWithin(ctx, store.EpisodicWindow)
		if err != nil {
			return failed(res, err)
		}
		res.Events = events
		res.Status = statusFor(len(events))

	case QueryKnowledge:
		entries, err := r.Store.TopKnowledge(ctx, store.KnowledgeTopK)
		if err != nil {
			return failed(res, err)
		}
		res.Knowledge = entries
		res.Status = statusFor(len(entries))

	case QuerySessionState:
		st, err := session.Load(r.StatePath)
		if err != nil {
			// Corrupt state reads as a clean slate.
			slog.Debug("retrieve: session state unreadable", "path", r.StatePath, "error", err)
		}
		res.Session = st
		if st.CurrentBranch == "" && !st.UncommittedChanges &&
			len(st.UncommittedFiles) == 0 && len(st.SpecsInProgress) == 0 {
			res.Status = StatusEmpty
		} else {
			res.Status = StatusSuccess
		}
	}
	return res
}

func failed(res Result, err error) Result {
	res.Err = err
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		res.Status = StatusTimedOut
	} else {
		res.Status = StatusFailed
	}
	return res
}

func statusFor(n int) Status {
	if n == 0 {
		return StatusEmpty
	}
	return StatusSuccess
}
