package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/audience"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rfm"
	"github.com/opensource-finance/kestrel/internal/snapshot"
)

// Snapshots serves cached purchase aggregates.
type Snapshots interface {
	Aggregates(ctx context.Context) (*snapshot.Snapshot, error)
	Invalidate(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	snapshots Snapshots
	audiences *audience.Engine
	analytics domain.AnalyticsConfig
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, snapshots Snapshots, audiences *audience.Engine, analytics domain.AnalyticsConfig, version string) *Handler {
	if analytics.DefaultLimit <= 0 {
		analytics.DefaultLimit = rfm.DefaultLimit
	}
	if analytics.ProductLimit <= 0 {
		analytics.ProductLimit = 20
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		snapshots: snapshots,
		audiences: audiences,
		analytics: analytics,
		version:   version,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports the status of every backing service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("database", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server can serve analytics.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// ANALYTICS HANDLERS
// ============================================================================

// RFMAnalysis handles GET /rfm/analysis.
// Query parameters: segment (exact segment name) and limit (positive integer).
func (h *Handler) RFMAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, ok := h.fetchSnapshot(w, r)
	if !ok {
		return
	}

	opts := rfm.Options{
		Segment: r.URL.Query().Get("segment"),
		Limit:   queryLimit(r, "limit", h.analytics.DefaultLimit),
	}

	result := rfm.Analyze(snap.Aggregates, opts)

	slog.Debug("rfm analysis",
		"customers", result.TotalCustomers,
		"returned", len(result.Customers),
		"segment", opts.Segment,
		"limit", opts.Limit,
		"trace_id", GetTraceID(ctx),
	)

	writeJSON(w, http.StatusOK, result)
}

// Segments handles GET /rfm/segments.
func (h *Handler) Segments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": rfm.SegmentCatalog(),
	})
}

// ProductAnalytics handles GET /products/analytics.
func (h *Handler) ProductAnalytics(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, "limit", h.analytics.ProductLimit)

	stats, err := h.repo.ProductAnalytics(r.Context(), limit)
	if err != nil {
		slog.Error("failed to fetch product analytics", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch product analytics"})
		return
	}
	if stats == nil {
		stats = []domain.ProductStats{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"products": stats,
		"count":    len(stats),
	})
}

// DashboardResponse is the response for GET /dashboard/overview.
type DashboardResponse struct {
	Overview *domain.SalesOverview                    `json:"overview"`
	Segments map[domain.Segment]domain.SegmentSummary `json:"segments"`
	AsOf     time.Time                                `json:"as_of"`
}

// DashboardOverview handles GET /dashboard/overview.
func (h *Handler) DashboardOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.repo.SalesOverview(r.Context())
	if err != nil {
		slog.Error("failed to fetch sales overview", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch sales overview"})
		return
	}

	snap, ok := h.fetchSnapshot(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, DashboardResponse{
		Overview: overview,
		Segments: rfm.Summarize(rfm.ClassifyAll(snap.Aggregates)),
		AsOf:     snap.AsOf,
	})
}

// ============================================================================
// SYNC HANDLERS
// ============================================================================

// SyncRequest is the request body for POST /sync/events.
type SyncRequest struct {
	Source    string            `json:"source"`
	Customers []domain.Customer `json:"customers"`
	Products  []domain.Product  `json:"products"`
	Orders    []domain.Order    `json:"orders"`
}

// SyncEvents handles POST /sync/events. The batch is queued on the bus and
// written by the sync worker.
func (h *Handler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}

	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "source is required"})
		return
	}

	for i := range req.Orders {
		if err := req.Orders[i].Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	batch := domain.SyncBatch{
		RunID:      uuid.New().String(),
		Source:     req.Source,
		ReceivedAt: time.Now().UTC(),
		Customers:  req.Customers,
		Products:   req.Products,
		Orders:     req.Orders,
	}
	if batch.Size() == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "batch contains no records"})
		return
	}

	run := &domain.SyncRun{
		ID:        batch.RunID,
		Source:    batch.Source,
		Status:    domain.SyncStatusPending,
		StartedAt: batch.ReceivedAt,
	}
	if err := h.repo.SaveSyncRun(ctx, run); err != nil {
		slog.Error("failed to save sync run", "run_id", run.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to record sync run"})
		return
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to encode batch"})
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicSyncBatch, payload); err != nil {
		slog.Error("failed to publish sync batch", "run_id", run.ID, "error", err)

		finished := time.Now().UTC()
		run.Status = domain.SyncStatusFailed
		run.Error = err.Error()
		run.FinishedAt = &finished
		_ = h.repo.SaveSyncRun(ctx, run)

		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "sync queue unavailable"})
		return
	}

	slog.Info("sync batch queued",
		"run_id", run.ID,
		"source", run.Source,
		"records", batch.Size(),
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"records": batch.Size(),
	})
}

// SyncStatus handles GET /sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	latest, err := h.repo.LatestSyncRun(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to fetch latest sync run", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch sync status"})
		return
	}

	total, err := h.repo.CountSyncRuns(ctx)
	if err != nil {
		slog.Error("failed to count sync runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch sync status"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"latest":     latest,
		"total_runs": total,
	})
}

// fetchSnapshot writes a 500 and reports false when aggregates cannot be read.
func (h *Handler) fetchSnapshot(w http.ResponseWriter, r *http.Request) (*snapshot.Snapshot, bool) {
	snap, err := h.snapshots.Aggregates(r.Context())
	if err != nil {
		slog.Error("failed to fetch purchase data",
			"error", err,
			"trace_id", GetTraceID(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch purchase data"})
		return nil, false
	}
	return snap, true
}

// queryLimit parses a positive integer query parameter. Missing, malformed
// and non-positive values all fall back to def.
func queryLimit(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
