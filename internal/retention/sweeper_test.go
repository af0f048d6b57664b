package retention

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/recall/internal/bus"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/internal/store/sqlite"
	"github.com/nextlevelbuilder/recall/pkg/protocol"
)

func testCfg() config.RetentionConfig {
	return config.RetentionConfig{
		Schedule:        "0 * * * *",
		EventTTLHours:   72,
		DecayAfterDays:  90,
		DecayFactor:     0.9,
		ConfidenceFloor: 0.1,
	}
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func recordAt(t *testing.T, st store.Store, age time.Duration) {
	t.Helper()
	err := st.RecordEvent(context.Background(), store.EpisodicEvent{
		ID:        store.GenNewID().String(),
		EventType: store.EventSpawn,
		AgentID:   "coder-1",
		AgentType: "coder",
		Timestamp: time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
}

func learnAt(t *testing.T, st store.Store, topic string, confidence float64, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	if err := st.LearnKnowledge(ctx, topic, "pattern for "+topic, confidence); err != nil {
		t.Fatalf("learn %s: %v", topic, err)
	}
	if age > 0 {
		if err := st.TouchKnowledge(ctx, topic, time.Now().UTC().Add(-age)); err != nil {
			t.Fatalf("backdate %s: %v", topic, err)
		}
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	cfg := testCfg()
	cfg.Schedule = "not-a-cron"
	if _, err := New(cfg, newStore(t), nil); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSweepPrunesAndDecays(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	recordAt(t, st, 100*time.Hour) // past the 72h TTL
	recordAt(t, st, 90*time.Hour)
	recordAt(t, st, time.Hour)

	learnAt(t, st, "stale-topic", 0.8, 100*24*time.Hour) // unused past 90d
	learnAt(t, st, "floor-topic", 0.1, 100*24*time.Hour) // already at floor
	learnAt(t, st, "fresh-topic", 0.9, 0)

	sw, err := New(testCfg(), st, nil)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	res, err := sw.SweepNow(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.EventsPruned != 2 {
		t.Errorf("expected 2 events pruned, got %d", res.EventsPruned)
	}
	if res.KnowledgeDecayed != 2 {
		t.Errorf("expected 2 knowledge rows aged, got %d", res.KnowledgeDecayed)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Events != 1 {
		t.Errorf("expected 1 event left, got %d", stats.Events)
	}

	know, err := st.TopKnowledge(ctx, 10)
	if err != nil {
		t.Fatalf("top knowledge: %v", err)
	}
	if len(know) != 2 {
		t.Fatalf("expected 2 knowledge rows left, got %d", len(know))
	}
	byTopic := map[string]float64{}
	for _, k := range know {
		byTopic[k.Topic] = k.Confidence
	}
	if _, ok := byTopic["floor-topic"]; ok {
		t.Error("floor-topic should have been deleted")
	}
	if c := byTopic["fresh-topic"]; c != 0.9 {
		t.Errorf("fresh-topic confidence changed: %v", c)
	}
	if c := byTopic["stale-topic"]; math.Abs(c-0.72) > 1e-6 {
		t.Errorf("stale-topic expected ~0.72, got %v", c)
	}
}

func TestSweepBroadcastsWhenSomethingAged(t *testing.T) {
	st := newStore(t)
	recordAt(t, st, 100*time.Hour)

	feed := bus.New()
	defer feed.Close()

	var mu sync.Mutex
	var seen []bus.Event
	feed.Subscribe("capture", func(ev bus.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	sw, err := New(testCfg(), st, feed)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if _, err := sw.SweepNow(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(seen))
	}
	if seen[0].Name != protocol.EventSwept {
		t.Errorf("expected %s event, got %s", protocol.EventSwept, seen[0].Name)
	}
	res, ok := seen[0].Payload.(Result)
	if !ok {
		t.Fatalf("unexpected payload type %T", seen[0].Payload)
	}
	if res.EventsPruned != 1 {
		t.Errorf("expected 1 pruned in payload, got %d", res.EventsPruned)
	}
}

func TestSweepSilentWhenNothingAged(t *testing.T) {
	st := newStore(t)
	recordAt(t, st, time.Hour)

	feed := bus.New()
	defer feed.Close()

	var mu sync.Mutex
	count := 0
	feed.Subscribe("capture", func(bus.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	sw, err := New(testCfg(), st, feed)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if _, err := sw.SweepNow(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("expected no broadcast for an empty sweep, got %d", count)
	}
}

func TestSweepSkipsDisabledStages(t *testing.T) {
	st := newStore(t)
	recordAt(t, st, 100*time.Hour)
	learnAt(t, st, "stale-topic", 0.8, 100*24*time.Hour)

	cfg := testCfg()
	cfg.EventTTLHours = 0
	cfg.DecayAfterDays = 0
	sw, err := New(cfg, st, nil)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	res, err := sw.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.EventsPruned != 0 || res.KnowledgeDecayed != 0 {
		t.Errorf("disabled stages should not touch anything, got %+v", res)
	}
}

func TestComputeNextHourly(t *testing.T) {
	sw, err := New(testCfg(), newStore(t), nil)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	at := time.Date(2025, 3, 10, 12, 34, 56, 0, time.UTC)
	next := sw.computeNext(at)
	want := time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, next)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	sw, err := New(testCfg(), newStore(t), nil)
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	sw.Start()
	sw.Start()
	if sw.NextRun().IsZero() {
		t.Error("expected a next run while started")
	}
	sw.Stop()
	sw.Stop()
}

func TestExecuteWithRetry_SuccessAfterRetries(t *testing.T) {
	calls := 0
	res, attempts, err := executeWithRetry(context.Background(), func(context.Context) (Result, error) {
		calls++
		if calls < 3 {
			return Result{}, fmt.Errorf("fail-%d", calls)
		}
		return Result{EventsPruned: 7}, nil
	}, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EventsPruned != 7 {
		t.Errorf("expected result from the successful attempt, got %+v", res)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetry_AllFail(t *testing.T) {
	calls := 0
	_, attempts, err := executeWithRetry(context.Background(), func(context.Context) (Result, error) {
		calls++
		return Result{}, fmt.Errorf("always-fail")
	}, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	if err == nil {
		t.Fatal("expected error after all retries")
	}
	if calls != 3 { // 1 initial + 2 retries
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, _, err := executeWithRetry(ctx, func(context.Context) (Result, error) {
		calls++
		return Result{}, fmt.Errorf("fail")
	}, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancel stopped retries, got %d", calls)
	}
}

func TestBackoffWithJitter_CapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	max := 200 * time.Millisecond

	d := backoffWithJitter(base, max, 10)
	if d < 150*time.Millisecond || d > 250*time.Millisecond {
		t.Errorf("expected capped at ~200ms, got %v", d)
	}
}
