// Package worker ingests CRM sync batches from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store persists synced records and sync runs.
type Store interface {
	SaveCustomer(ctx context.Context, c *domain.Customer) error
	SaveProduct(ctx context.Context, p *domain.Product) error
	SaveOrder(ctx context.Context, o *domain.Order) error
	SaveSyncRun(ctx context.Context, run *domain.SyncRun) error
}

// Invalidator drops cached analytics after new data lands.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Worker consumes sync batches, writes them to the store and announces
// each finished run on TopicSyncCompleted.
type Worker struct {
	bus       domain.EventBus
	store     Store
	snapshots Invalidator
	now       func() time.Time

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a sync worker. snapshots may be nil.
func NewWorker(bus domain.EventBus, store Store, snapshots Invalidator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		store:     store,
		snapshots: snapshots,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to TopicSyncBatch.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicSyncBatch, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicSyncBatch, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("sync worker started", "topic", domain.TopicSyncBatch)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var batch domain.SyncBatch
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		slog.Error("failed to parse sync batch",
			"message_id", msg.ID,
			"error", err,
		)
		w.count(false)
		return err
	}

	if batch.RunID == "" {
		batch.RunID = msg.ID
	}

	run := w.process(ctx, &batch)
	w.count(run.Status == domain.SyncStatusCompleted)

	payload, _ := json.Marshal(run)
	if err := w.bus.Publish(ctx, domain.TopicSyncCompleted, payload); err != nil {
		slog.Error("failed to publish sync completion",
			"run_id", run.ID,
			"error", err,
		)
	}

	return nil
}

// process writes the batch and records the outcome. Records are written
// customers first, then products, then orders; the first failure stops
// the batch and marks the run failed.
func (w *Worker) process(ctx context.Context, batch *domain.SyncBatch) *domain.SyncRun {
	started := batch.ReceivedAt
	if started.IsZero() {
		started = w.now()
	}

	run := &domain.SyncRun{
		ID:        batch.RunID,
		Source:    batch.Source,
		Status:    domain.SyncStatusCompleted,
		StartedAt: started,
	}

	written, err := w.persist(ctx, batch)
	run.Records = written
	if err != nil {
		run.Status = domain.SyncStatusFailed
		run.Error = err.Error()
	}

	if written > 0 && w.snapshots != nil {
		if err := w.snapshots.Invalidate(ctx); err != nil {
			slog.Warn("failed to invalidate snapshot", "run_id", run.ID, "error", err)
		}
	}

	finished := w.now()
	run.FinishedAt = &finished

	if err := w.store.SaveSyncRun(ctx, run); err != nil {
		slog.Error("failed to save sync run", "run_id", run.ID, "error", err)
	}

	slog.Info("sync batch processed",
		"run_id", run.ID,
		"source", run.Source,
		"status", run.Status,
		"records", run.Records,
		"size", batch.Size(),
		"duration_ms", finished.Sub(started).Milliseconds(),
	)

	return run
}

func (w *Worker) persist(ctx context.Context, batch *domain.SyncBatch) (int, error) {
	written := 0

	for i := range batch.Customers {
		if err := w.store.SaveCustomer(ctx, &batch.Customers[i]); err != nil {
			return written, fmt.Errorf("customer %s: %w", batch.Customers[i].ID, err)
		}
		written++
	}

	for i := range batch.Products {
		if err := w.store.SaveProduct(ctx, &batch.Products[i]); err != nil {
			return written, fmt.Errorf("product %s: %w", batch.Products[i].ID, err)
		}
		written++
	}

	for i := range batch.Orders {
		if err := w.store.SaveOrder(ctx, &batch.Orders[i]); err != nil {
			return written, fmt.Errorf("order %s: %w", batch.Orders[i].ID, err)
		}
		written++
	}

	return written, nil
}

func (w *Worker) count(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.processed++
	} else {
		w.failed++
	}
}

// Stop cancels processing and removes all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("sync worker stopped")
	return nil
}

// Stats reports worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
