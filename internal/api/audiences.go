package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/audience"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rfm"
)

// AudienceRequest is the request body for creating or updating an audience.
type AudienceRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// ListAudiences handles GET /audiences.
func (h *Handler) ListAudiences(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListAudiences(r.Context())
	if err != nil {
		slog.Error("failed to list audiences", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list audiences"})
		return
	}
	if list == nil {
		list = []*domain.Audience{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audiences": list,
		"count":     len(list),
		"loaded":    h.audiences.Count(),
	})
}

// GetAudience handles GET /audiences/{id}.
func (h *Handler) GetAudience(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookupAudience(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CreateAudience handles POST /audiences. The audience is usable immediately.
// A caller-supplied id that is already in use is rejected with 409.
func (h *Handler) CreateAudience(w http.ResponseWriter, r *http.Request) {
	var req AudienceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	} else {
		_, err := h.repo.GetAudience(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusConflict, errorResponse{Error: "audience already exists"})
			return
		case !errors.Is(err, repository.ErrNotFound):
			slog.Error("failed to get audience", "id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create audience"})
			return
		}
	}

	a := &domain.Audience{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}

	h.saveAudience(w, r, a, http.StatusCreated)
}

// UpdateAudience handles PUT /audiences/{id}.
func (h *Handler) UpdateAudience(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.lookupAudience(w, r)
	if !ok {
		return
	}

	var req AudienceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Expression != "" {
		existing.Expression = req.Expression
	}
	existing.Description = req.Description
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}

	h.saveAudience(w, r, existing, http.StatusOK)
}

// DeleteAudience handles DELETE /audiences/{id}.
func (h *Handler) DeleteAudience(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.DeleteAudience(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "audience not found"})
			return
		}
		slog.Error("failed to delete audience", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to delete audience"})
		return
	}

	h.audiences.Unload(id)

	slog.Info("audience deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadAudiences handles POST /audiences/reload.
func (h *Handler) ReloadAudiences(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListAudiences(r.Context())
	if err != nil {
		slog.Error("failed to list audiences", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load audiences"})
		return
	}

	if err := h.audiences.Reload(list); err != nil {
		slog.Error("failed to reload audiences", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	slog.Info("audiences reloaded", "count", h.audiences.Count())
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded": h.audiences.Count(),
	})
}

// AudienceCustomers handles GET /audiences/{id}/customers.
// The optional limit parameter caps the returned customers.
func (h *Handler) AudienceCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	a, ok := h.lookupAudience(w, r)
	if !ok {
		return
	}
	if !a.Enabled {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "audience is disabled"})
		return
	}

	snap, ok := h.fetchSnapshot(w, r)
	if !ok {
		return
	}

	members, err := h.audiences.Members(ctx, a.ID, rfm.ClassifyAll(snap.Aggregates))
	if err != nil {
		if errors.Is(err, audience.ErrNotLoaded) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "audience is not loaded, call POST /audiences/reload"})
			return
		}
		slog.Error("audience evaluation failed", "id", a.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audience evaluation failed"})
		return
	}

	total := len(members)
	if limit := queryLimit(r, "limit", h.analytics.DefaultLimit); total > limit {
		members = members[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audience_id": a.ID,
		"total":       total,
		"customers":   members,
	})
}

func (h *Handler) saveAudience(w http.ResponseWriter, r *http.Request, a *domain.Audience, status int) {
	if a.Name == "" || a.Expression == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and expression are required"})
		return
	}

	if err := h.audiences.Validate(a.Expression); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid CEL expression: " + err.Error()})
		return
	}

	if err := h.repo.SaveAudience(r.Context(), a); err != nil {
		slog.Error("failed to save audience", "id", a.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to save audience"})
		return
	}

	if err := h.audiences.Load(a); err != nil {
		slog.Error("failed to load audience", "id", a.ID, "error", err)
	}

	slog.Info("audience saved", "id", a.ID, "name", a.Name, "enabled", a.Enabled)
	writeJSON(w, status, a)
}

func (h *Handler) lookupAudience(w http.ResponseWriter, r *http.Request) (*domain.Audience, bool) {
	id := chi.URLParam(r, "id")

	a, err := h.repo.GetAudience(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "audience not found"})
			return nil, false
		}
		slog.Error("failed to get audience", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to get audience"})
		return nil, false
	}
	return a, true
}
