package cache

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tod/internal/metrics"
)

// Kind names one cached collection.
type Kind string

const (
	KindProjects Kind = "projects"
	KindLabels   Kind = "labels"

	sectionsPrefix = "sections:"
)

// SectionsKind is the kind holding the sections of one project.
func SectionsKind(projectID string) Kind {
	return Kind(sectionsPrefix + projectID)
}

// family drops the per-project suffix so metric labels stay bounded.
func (k Kind) family() string {
	if strings.HasPrefix(string(k), sectionsPrefix) {
		return "sections"
	}
	return string(k)
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// Options configures a Metadata cache.
type Options struct {
	// TTL bounds the age of a cached collection; non-positive means five minutes.
	TTL      time.Duration
	Capacity int
	Now      func() time.Time
	Metrics  *metrics.Metrics
}

// Metadata caches remote collections by kind for a bounded time.
type Metadata struct {
	entries *LRU[Kind, entry]
	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewMetadata creates a metadata cache.
func NewMetadata(opts Options, logger zerolog.Logger) *Metadata {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Capacity < 1 {
		opts.Capacity = 64
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	m := &Metadata{
		now:     opts.Now,
		metrics: opts.Metrics,
		logger:  logger.With().Str("component", "cache").Logger(),
	}
	m.entries = NewLRU[Kind, entry](opts.Capacity,
		WithTTL[Kind, entry](opts.TTL),
		WithClock[Kind, entry](opts.Now),
		WithOnEvict[Kind, entry](m.evicted),
	)
	m.metrics.ObserveCacheHitRate(m.HitRate)
	return m
}

// evicted runs under the LRU lock when an entry ages out or is pushed out by capacity.
func (m *Metadata) evicted(kind Kind, e entry) {
	m.metrics.RecordCache(kind.family(), "evict")
	m.logger.Debug().Str("kind", string(kind)).Dur("age", m.now().Sub(e.fetchedAt)).Msg("cache entry dropped")
}

func (m *Metadata) store(kind Kind, value any) {
	m.entries.Put(kind, entry{value: value, fetchedAt: m.now()})
}

// Invalidate drops one kind so the next lookup fetches afresh.
func (m *Metadata) Invalidate(kind Kind) {
	if m.entries.Delete(kind) {
		m.metrics.RecordCache(kind.family(), "invalidate")
		m.logger.Debug().Str("kind", string(kind)).Msg("cache entry invalidated")
	}
}

// InvalidateAll drops every entry.
func (m *Metadata) InvalidateAll() {
	for _, kind := range m.entries.Keys() {
		m.Invalidate(kind)
	}
	m.entries.Clear()
	m.logger.Debug().Msg("cache cleared")
}

// HitRate is the share of lookups answered from the cache so far.
func (m *Metadata) HitRate() float64 {
	return m.entries.Stats().HitRate()
}

// Age reports how long ago kind was fetched, if it is cached.
func (m *Metadata) Age(kind Kind) (time.Duration, bool) {
	e, ok := m.entries.Peek(kind)
	if !ok {
		return 0, false
	}
	return m.now().Sub(e.fetchedAt), true
}

// GetOrFetch returns the cached value of kind while it is within the TTL and
// otherwise calls fetch and caches its result. Failed fetches are not cached.
func GetOrFetch[T any](ctx context.Context, m *Metadata, kind Kind, fetch func(context.Context) (T, error)) (T, error) {
	if e, ok := m.entries.Get(kind); ok {
		if v, ok := e.value.(T); ok {
			m.metrics.RecordCache(kind.family(), "hit")
			m.logger.Debug().Str("kind", string(kind)).Msg("cache hit")
			return v, nil
		}
	}

	m.metrics.RecordCache(kind.family(), "miss")
	m.logger.Debug().Str("kind", string(kind)).Msg("cache miss")

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	m.store(kind, v)
	return v, nil
}
