package snapshot

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

type countingSource struct {
	calls int
	aggs  []domain.PurchaseAggregate
	err   error
}

func (s *countingSource) ListPurchaseAggregates(ctx context.Context, asOf time.Time) ([]domain.PurchaseAggregate, error) {
	s.calls++
	return s.aggs, s.err
}

// gatedSource blocks its first fetch until release is closed.
type gatedSource struct {
	mu        sync.Mutex
	frequency int
	calls     int
	entered   chan struct{}
	release   chan struct{}
}

func (s *gatedSource) ListPurchaseAggregates(ctx context.Context, asOf time.Time) ([]domain.PurchaseAggregate, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	freq := s.frequency
	s.mu.Unlock()

	if first {
		close(s.entered)
		<-s.release
	}
	return []domain.PurchaseAggregate{{CustomerID: "cust-001", Frequency: freq, Monetary: 10}}, nil
}

func (s *gatedSource) setFrequency(f int) {
	s.mu.Lock()
	s.frequency = f
	s.mu.Unlock()
}

func TestAggregatesInvalidatedDuringLoad(t *testing.T) {
	ctx := context.Background()
	source := &gatedSource{
		frequency: 1,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	svc := NewService(source, cache.NewLRUCache(10), time.Minute)

	done := make(chan *Snapshot, 1)
	go func() {
		snap, err := svc.Aggregates(ctx)
		if err != nil {
			t.Errorf("Aggregates failed: %v", err)
		}
		done <- snap
	}()

	<-source.entered

	// A sync lands while the first load is still in flight.
	source.setFrequency(2)
	if err := svc.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	close(source.release)

	if snap := <-done; snap == nil || snap.Aggregates[0].Frequency != 1 {
		t.Fatalf("in-flight load should return what it read, got %+v", snap)
	}

	snap, err := svc.Aggregates(ctx)
	if err != nil {
		t.Fatalf("Aggregates failed: %v", err)
	}
	if got := snap.Aggregates[0].Frequency; got != 2 {
		t.Errorf("expected frequency 2 after invalidation, got %d", got)
	}

	// The fresh load is cached as usual.
	_, _ = svc.Aggregates(ctx)
	if source.calls != 2 {
		t.Errorf("expected 2 source calls, got %d", source.calls)
	}
}

func TestAggregatesCaching(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{aggs: []domain.PurchaseAggregate{
		{CustomerID: "cust-001", Frequency: 3, Monetary: 120},
		{CustomerID: "cust-002", Frequency: 1, Monetary: 40},
	}}
	svc := NewService(source, cache.NewLRUCache(10), time.Minute)

	t.Run("MissThenHit", func(t *testing.T) {
		first, err := svc.Aggregates(ctx)
		if err != nil {
			t.Fatalf("Aggregates failed: %v", err)
		}
		second, err := svc.Aggregates(ctx)
		if err != nil {
			t.Fatalf("Aggregates failed: %v", err)
		}

		if source.calls != 1 {
			t.Errorf("expected 1 source call, got %d", source.calls)
		}
		if len(second.Aggregates) != 2 || second.Aggregates[0].Monetary != 120 {
			t.Errorf("unexpected cached aggregates: %+v", second.Aggregates)
		}
		if !first.AsOf.Equal(second.AsOf) {
			t.Errorf("cached snapshot should keep its as-of time")
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		if err := svc.Invalidate(ctx); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		if _, err := svc.Aggregates(ctx); err != nil {
			t.Fatalf("Aggregates failed: %v", err)
		}
		if source.calls != 2 {
			t.Errorf("expected reload after invalidate, got %d calls", source.calls)
		}
	})
}

func TestAggregatesWithoutCaching(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{}

	for _, svc := range []*Service{
		NewService(source, cache.NewLRUCache(10), 0),
		NewService(source, nil, time.Minute),
	} {
		snap, err := svc.Aggregates(ctx)
		if err != nil {
			t.Fatalf("Aggregates failed: %v", err)
		}
		if snap.Aggregates == nil {
			t.Error("expected empty, non-nil aggregates")
		}
		_, _ = svc.Aggregates(ctx)
		if err := svc.Invalidate(ctx); err != nil {
			t.Errorf("Invalidate failed: %v", err)
		}
	}

	if source.calls != 4 {
		t.Errorf("expected every call to reach the source, got %d", source.calls)
	}
}

func TestAggregatesSourceError(t *testing.T) {
	boom := errors.New("connection refused")
	source := &countingSource{err: boom}
	svc := NewService(source, cache.NewLRUCache(10), time.Minute)

	if _, err := svc.Aggregates(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}

	// Failures are not cached.
	_, _ = svc.Aggregates(context.Background())
	if source.calls != 2 {
		t.Errorf("expected 2 source calls, got %d", source.calls)
	}
}

func TestAggregatesFromRepository(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "snapshot-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	svc := NewService(repo, cache.NewLRUCache(10), time.Minute)
	svc.now = func() time.Time { return now }

	_ = repo.SaveCustomer(ctx, &domain.Customer{ID: "cust-001", Name: "Ada", Email: "ada@example.com"})
	_ = repo.SaveOrder(ctx, &domain.Order{
		ID: "ord-001", CustomerID: "cust-001", Total: 99.5,
		OrderedAt: now.AddDate(0, 0, -3),
	})

	snap, err := svc.Aggregates(ctx)
	if err != nil {
		t.Fatalf("Aggregates failed: %v", err)
	}
	if len(snap.Aggregates) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(snap.Aggregates))
	}
	if got := snap.Aggregates[0]; got.RecencyDays != 3 || got.Monetary != 99.5 {
		t.Errorf("unexpected aggregate: %+v", got)
	}
	if !snap.AsOf.Equal(now) {
		t.Errorf("expected as-of %s, got %s", now, snap.AsOf)
	}

	// A new order is invisible until the snapshot is invalidated.
	_ = repo.SaveOrder(ctx, &domain.Order{
		ID: "ord-002", CustomerID: "cust-001", Total: 10,
		OrderedAt: now.AddDate(0, 0, -1),
	})

	snap, _ = svc.Aggregates(ctx)
	if snap.Aggregates[0].Frequency != 1 {
		t.Errorf("expected cached frequency 1, got %d", snap.Aggregates[0].Frequency)
	}

	_ = svc.Invalidate(ctx)
	snap, _ = svc.Aggregates(ctx)
	if snap.Aggregates[0].Frequency != 2 || snap.Aggregates[0].RecencyDays != 1 {
		t.Errorf("expected refreshed aggregate, got %+v", snap.Aggregates[0])
	}
}
