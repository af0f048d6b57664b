// Package retention ages out stored memory on a cron schedule:
// episodic events past their TTL are pruned, and knowledge unused for
// too long decays toward a confidence floor.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/recall/internal/bus"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/pkg/protocol"
)

// sweepTimeout bounds one sweep across both statements.
const sweepTimeout = time.Minute

// Result counts what a single sweep removed or decayed.
type Result struct {
	EventsPruned     int64     `json:"events_pruned"`
	KnowledgeDecayed int64     `json:"knowledge_decayed"`
	SweptAt          time.Time `json:"swept_at"`
}

// Sweeper runs retention sweeps against a store on a cron schedule.
type Sweeper struct {
	store      store.Store
	cast       bus.Broadcaster
	expr       string
	eventTTL   time.Duration
	decayAfter time.Duration
	factor     float64
	floor      float64
	retryCfg   RetryConfig

	running  bool
	stopChan chan struct{}
	mu       sync.Mutex
	nextRun  time.Time
}

// New builds a sweeper from the retention config. The cron expression
// is validated up front; cast may be nil when nothing listens.
func New(cfg config.RetentionConfig, st store.Store, cast bus.Broadcaster) (*Sweeper, error) {
	gx := gronx.New()
	if !gx.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid cron expression: %s", cfg.Schedule)
	}
	return &Sweeper{
		store:      st,
		cast:       cast,
		expr:       cfg.Schedule,
		eventTTL:   time.Duration(cfg.EventTTLHours) * time.Hour,
		decayAfter: time.Duration(cfg.DecayAfterDays) * 24 * time.Hour,
		factor:     cfg.DecayFactor,
		floor:      cfg.ConfidenceFloor,
		retryCfg:   DefaultRetryConfig(),
	}, nil
}

// SetRetryConfig overrides the default retry configuration.
func (s *Sweeper) SetRetryConfig(cfg RetryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCfg = cfg
}

// Start begins the scheduling loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.nextRun = s.computeNext(time.Now())
	s.stopChan = make(chan struct{})
	s.running = true

	go s.runLoop(s.stopChan)

	slog.Info("retention: sweeper started", "schedule", s.expr, "next_run", s.nextRun.Format(time.RFC3339))
}

// Stop halts the scheduling loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopChan)
	s.running = false
	slog.Info("retention: sweeper stopped")
}

// NextRun reports when the next sweep fires. Zero when stopped or the
// next tick could not be computed.
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// SweepNow runs one sweep immediately, outside the schedule.
func (s *Sweeper) SweepNow(ctx context.Context) (Result, error) {
	return s.sweep(ctx)
}

func (s *Sweeper) runLoop(stopChan chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Sweeper) check() {
	s.mu.Lock()
	if s.nextRun.IsZero() || time.Now().Before(s.nextRun) {
		s.mu.Unlock()
		return
	}
	// Clear nextRun so a slow sweep cannot fire twice.
	s.nextRun = time.Time{}
	retryCfg := s.retryCfg
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	res, attempts, err := executeWithRetry(ctx, s.sweep, retryCfg)
	cancel()
	if err != nil {
		slog.Error("retention: sweep failed", "attempts", attempts, "error", err)
	} else {
		slog.Info("retention: sweep done",
			"events_pruned", res.EventsPruned,
			"knowledge_decayed", res.KnowledgeDecayed,
			"attempts", attempts)
	}

	s.mu.Lock()
	if s.running {
		s.nextRun = s.computeNext(time.Now())
	}
	s.mu.Unlock()
}

func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	now := time.Now().UTC()
	res := Result{SweptAt: now}

	if s.eventTTL > 0 {
		pruned, err := s.store.PruneEvents(ctx, now.Add(-s.eventTTL))
		if err != nil {
			return res, fmt.Errorf("prune events: %w", err)
		}
		res.EventsPruned = pruned
	}

	if s.decayAfter > 0 {
		decayed, err := s.store.DecayKnowledge(ctx, now.Add(-s.decayAfter), s.factor, s.floor)
		if err != nil {
			return res, fmt.Errorf("decay knowledge: %w", err)
		}
		res.KnowledgeDecayed = decayed
	}

	if s.cast != nil && (res.EventsPruned > 0 || res.KnowledgeDecayed > 0) {
		s.cast.Broadcast(bus.Event{Name: protocol.EventSwept, Payload: res})
	}
	return res, nil
}

func (s *Sweeper) computeNext(after time.Time) time.Time {
	next, err := gronx.NextTickAfter(s.expr, after, false)
	if err != nil {
		slog.Error("retention: failed to compute next run", "expr", s.expr, "error", err)
		return time.Time{}
	}
	return next
}
