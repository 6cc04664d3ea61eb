package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/snapshot"
)

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testBatch(runID string) domain.SyncBatch {
	now := time.Now().UTC()
	return domain.SyncBatch{
		RunID:      runID,
		Source:     "hubspot",
		ReceivedAt: now,
		Customers: []domain.Customer{
			{ID: "cust-001", Name: "Ada", Email: "ada@example.com"},
			{ID: "cust-002", Name: "Grace", Email: "grace@example.com"},
		},
		Products: []domain.Product{
			{ID: "prod-001", Name: "Widget", Price: 10},
		},
		Orders: []domain.Order{
			{
				ID: "ord-001", CustomerID: "cust-001", Total: 20, OrderedAt: now.AddDate(0, 0, -2),
				Items: []domain.OrderItem{{ProductID: "prod-001", Quantity: 2, UnitPrice: 10}},
			},
		},
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	worker := NewWorker(eventBus, nil, nil)

	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := worker.GetStats()
	if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicSyncBatch {
		t.Errorf("unexpected stats after start: %+v", stats)
	}

	if err := worker.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	if stats := worker.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}

func TestProcessSyncBatch(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	snapshots := snapshot.NewService(repo, cache.NewLRUCache(10), time.Minute)
	ctx := context.Background()

	// Prime the cache so the batch has something to invalidate.
	before, err := snapshots.Aggregates(ctx)
	if err != nil {
		t.Fatalf("Aggregates failed: %v", err)
	}
	if len(before.Aggregates) != 0 {
		t.Fatalf("expected empty snapshot, got %d", len(before.Aggregates))
	}

	worker := NewWorker(eventBus, repo, snapshots)
	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	completed := make(chan domain.SyncRun, 1)
	eventBus.Subscribe(ctx, domain.TopicSyncCompleted, func(ctx context.Context, msg *domain.Message) error {
		var run domain.SyncRun
		if err := json.Unmarshal(msg.Payload, &run); err != nil {
			return err
		}
		completed <- run
		return nil
	})

	payload, _ := json.Marshal(testBatch("run-001"))
	if err := eventBus.Publish(ctx, domain.TopicSyncBatch, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var run domain.SyncRun
	select {
	case run = <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sync completion")
	}

	if run.ID != "run-001" || run.Status != domain.SyncStatusCompleted || run.Records != 4 {
		t.Errorf("unexpected run: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("expected finished time")
	}

	stored, err := repo.LatestSyncRun(ctx)
	if err != nil {
		t.Fatalf("LatestSyncRun failed: %v", err)
	}
	if stored.ID != "run-001" || stored.Status != domain.SyncStatusCompleted {
		t.Errorf("unexpected stored run: %+v", stored)
	}

	after, err := snapshots.Aggregates(ctx)
	if err != nil {
		t.Fatalf("Aggregates failed: %v", err)
	}
	if len(after.Aggregates) != 1 || after.Aggregates[0].CustomerID != "cust-001" {
		t.Errorf("expected snapshot to be refreshed, got %+v", after.Aggregates)
	}

	if stats := worker.GetStats(); stats.Processed != 1 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

type failingStore struct {
	saved    atomic.Int32
	failOn   string
	lastRun  *domain.SyncRun
	runSaves atomic.Int32
}

func (s *failingStore) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	s.saved.Add(1)
	return nil
}

func (s *failingStore) SaveProduct(ctx context.Context, p *domain.Product) error {
	if p.ID == s.failOn {
		return errors.New("constraint violation")
	}
	s.saved.Add(1)
	return nil
}

func (s *failingStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	s.saved.Add(1)
	return nil
}

func (s *failingStore) SaveSyncRun(ctx context.Context, run *domain.SyncRun) error {
	s.lastRun = run
	s.runSaves.Add(1)
	return nil
}

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestProcessFailure(t *testing.T) {
	store := &failingStore{failOn: "prod-001"}
	inv := &countingInvalidator{}
	worker := NewWorker(bus.NewChannelBus(10), store, inv)

	fixed := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return fixed }

	batch := testBatch("run-002")
	batch.ReceivedAt = time.Time{}

	run := worker.process(context.Background(), &batch)

	if run.Status != domain.SyncStatusFailed {
		t.Errorf("expected failed run, got %s", run.Status)
	}
	if run.Records != 2 {
		t.Errorf("expected 2 records written before failure, got %d", run.Records)
	}
	if run.Error == "" {
		t.Error("expected error message")
	}
	if !run.StartedAt.Equal(fixed) {
		t.Errorf("expected start time from clock, got %s", run.StartedAt)
	}
	if store.saved.Load() != 2 {
		t.Errorf("orders must not be written after a failure, saved %d", store.saved.Load())
	}
	if store.runSaves.Load() != 1 || store.lastRun.Status != domain.SyncStatusFailed {
		t.Errorf("expected failed run to be stored, got %+v", store.lastRun)
	}
	if inv.calls.Load() != 1 {
		t.Errorf("partial writes should invalidate the snapshot, got %d calls", inv.calls.Load())
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	store := &failingStore{}
	inv := &countingInvalidator{}
	worker := NewWorker(bus.NewChannelBus(10), store, inv)

	batch := domain.SyncBatch{RunID: "run-003", Source: "csv"}
	run := worker.process(context.Background(), &batch)

	if run.Status != domain.SyncStatusCompleted || run.Records != 0 {
		t.Errorf("unexpected run: %+v", run)
	}
	if inv.calls.Load() != 0 {
		t.Error("empty batches should not invalidate the snapshot")
	}
}

func TestMalformedPayload(t *testing.T) {
	store := &failingStore{}
	worker := NewWorker(bus.NewChannelBus(10), store, nil)

	err := worker.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("{broken")})
	if err == nil {
		t.Error("expected parse error")
	}
	if store.runSaves.Load() != 0 {
		t.Error("malformed payloads must not record a run")
	}
	if stats := worker.GetStats(); stats.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", stats.Failed)
	}
}
