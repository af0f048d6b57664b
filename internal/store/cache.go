package store

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	cacheSize = 64
	// CacheTTL bounds staleness for preference and knowledge reads.
	CacheTTL = 30 * time.Second
)

// Cached wraps a Store with a read-through cache for preferences and
// knowledge. Episodic events are never cached; their freshness is the whole
// point of the recent-activity window.
type Cached struct {
	inner Store

	prefs     *expirable.LRU[string, []PreferenceRecord]
	knowledge *expirable.LRU[int, []SemanticKnowledge]
}

// NewCached decorates inner with an expiring LRU. A zero ttl falls back to
// CacheTTL.
func NewCached(inner Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = CacheTTL
	}
	return &Cached{
		inner:     inner,
		prefs:     expirable.NewLRU[string, []PreferenceRecord](cacheSize, nil, ttl),
		knowledge: expirable.NewLRU[int, []SemanticKnowledge](cacheSize, nil, ttl),
	}
}

func (c *Cached) Preferences(ctx context.Context, scope string) ([]PreferenceRecord, error) {
	if hit, ok := c.prefs.Get(scope); ok {
		return slices.Clone(hit), nil
	}
	recs, err := c.inner.Preferences(ctx, scope)
	if err != nil {
		return nil, err
	}
	c.prefs.Add(scope, slices.Clone(recs))
	return recs, nil
}

func (c *Cached) TopKnowledge(ctx context.Context, k int) ([]SemanticKnowledge, error) {
	if hit, ok := c.knowledge.Get(k); ok {
		return slices.Clone(hit), nil
	}
	recs, err := c.inner.TopKnowledge(ctx, k)
	if err != nil {
		return nil, err
	}
	c.knowledge.Add(k, slices.Clone(recs))
	return recs, nil
}

func (c *Cached) EventsWithin(ctx context.Context, window time.Duration) ([]EpisodicEvent, error) {
	return c.inner.EventsWithin(ctx, window)
}

func (c *Cached) RecordEvent(ctx context.Context, ev EpisodicEvent) error {
	return c.inner.RecordEvent(ctx, ev)
}

func (c *Cached) PutHint(ctx context.Context, scope, key, hint string) error {
	if err := c.inner.PutHint(ctx, scope, key, hint); err != nil {
		return err
	}
	c.prefs.Remove(scope)
	return nil
}

func (c *Cached) LearnKnowledge(ctx context.Context, topic, pattern string, confidence float64) error {
	if err := c.inner.LearnKnowledge(ctx, topic, pattern, confidence); err != nil {
		return err
	}
	c.knowledge.Purge()
	return nil
}

func (c *Cached) TouchKnowledge(ctx context.Context, topic string, usedAt time.Time) error {
	if err := c.inner.TouchKnowledge(ctx, topic, usedAt); err != nil {
		return err
	}
	c.knowledge.Purge()
	return nil
}

func (c *Cached) ForgetMemory(ctx context.Context, scope, memoryType, key string) error {
	if err := c.inner.ForgetMemory(ctx, scope, memoryType, key); err != nil {
		return err
	}
	switch memoryType {
	case MemoryContextHint:
		c.prefs.Remove(scope)
	case MemorySemantic:
		c.knowledge.Purge()
	}
	return nil
}

func (c *Cached) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.inner.PruneEvents(ctx, cutoff)
}

func (c *Cached) DecayKnowledge(ctx context.Context, cutoff time.Time, factor, floor float64) (int64, error) {
	n, err := c.inner.DecayKnowledge(ctx, cutoff, factor, floor)
	if n > 0 {
		c.knowledge.Purge()
	}
	return n, err
}

func (c *Cached) Dump(ctx context.Context) (Dump, error) {
	return c.inner.Dump(ctx)
}

func (c *Cached) Stats(ctx context.Context) (Stats, error) {
	return c.inner.Stats(ctx)
}

func (c *Cached) Close() error {
	c.prefs.Purge()
	c.knowledge.Purge()
	return c.inner.Close()
}

// Unwrap exposes the inner backend for capability probes.
func (c *Cached) Unwrap() Store {
	return c.inner
}

// AsSessionRegistry digs through decorators looking for a backend that
// keeps a central session registry. Standalone sqlite does not; the
// local state file is the registry there.
func AsSessionRegistry(s Store) (SessionRegistry, bool) {
	for {
		if reg, ok := s.(SessionRegistry); ok {
			return reg, true
		}
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
}
