// Package snapshot serves purchase aggregates through the cache.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CacheKey is the cache key holding the current aggregate snapshot.
const CacheKey = "aggregates"

var tracer = otel.Tracer("kestrel-snapshot")

// AggregateSource fetches per-customer purchase aggregates.
type AggregateSource interface {
	ListPurchaseAggregates(ctx context.Context, asOf time.Time) ([]domain.PurchaseAggregate, error)
}

// Snapshot is a set of aggregates computed at a single instant.
type Snapshot struct {
	AsOf       time.Time                  `json:"as_of"`
	Aggregates []domain.PurchaseAggregate `json:"aggregates"`
}

// Service reads aggregates through a cache. A nil cache or a zero TTL
// sends every call to the source.
type Service struct {
	source AggregateSource
	cache  domain.Cache
	ttl    time.Duration
	now    func() time.Time

	// mu guards generation. A snapshot loaded under an older generation
	// is never written back to the cache.
	mu         sync.Mutex
	generation uint64
}

// NewService creates a snapshot service.
func NewService(source AggregateSource, c domain.Cache, ttl time.Duration) *Service {
	return &Service{
		source: source,
		cache:  c,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Aggregates returns the current snapshot, computing and caching it on a miss.
// Cache failures are logged and never fail the call.
func (s *Service) Aggregates(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "snapshot.Aggregates")
	defer span.End()

	if s.cachingEnabled() {
		var snap Snapshot
		found, err := cache.GetJSON(ctx, s.cache, CacheKey, &snap)
		if err != nil {
			slog.Warn("snapshot cache read failed", "error", err)
		}
		if found {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &snap, nil
		}
	}

	gen := s.currentGeneration()

	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("cache.hit", false),
		attribute.Int("customers", len(snap.Aggregates)),
	)

	if s.cachingEnabled() {
		s.store(ctx, gen, snap)
	}

	return snap, nil
}

// store caches snap unless an invalidation happened while it was loading.
func (s *Service) store(ctx context.Context, gen uint64, snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		slog.Debug("discarding snapshot loaded before invalidation", "customers", len(snap.Aggregates))
		return
	}
	if err := cache.SetJSON(ctx, s.cache, CacheKey, snap, s.ttl); err != nil {
		slog.Warn("snapshot cache write failed", "error", err)
	}
}

func (s *Service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Invalidate drops the cached snapshot so the next read recomputes it.
func (s *Service) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, CacheKey); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context) (*Snapshot, error) {
	asOf := s.now().UTC()

	aggs, err := s.source.ListPurchaseAggregates(ctx, asOf)
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		return nil, fmt.Errorf("list purchase aggregates: %w", err)
	}
	if aggs == nil {
		aggs = []domain.PurchaseAggregate{}
	}

	return &Snapshot{AsOf: asOf, Aggregates: aggs}, nil
}

func (s *Service) cachingEnabled() bool {
	return s.cache != nil && s.ttl > 0
}
