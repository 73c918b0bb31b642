package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"renderdesk/internal/httpkit"
	"renderdesk/internal/jobview"
	"renderdesk/internal/metrics"
	"renderdesk/internal/models"
	"renderdesk/internal/pkg/errors"
	"renderdesk/internal/pkg/logger"
	"renderdesk/internal/reconciler"
	"renderdesk/internal/registry"
)

// createdAtLayout matches the ISO timestamps browsers produce with toISOString.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

type RegisterJobRequest struct {
	JobID       string   `json:"jobId"`
	Client      string   `json:"client"`
	ModelName   string   `json:"modelName"`
	VariantName *string  `json:"variantName"`
	View        string   `json:"view"`
	Views       []string `json:"views"`
	Background  string   `json:"background"`
	Resolution  string   `json:"resolution"`
	Format      string   `json:"format"`
	CreatedAt   string   `json:"createdAt"`
}

func (req RegisterJobRequest) validate() error {
	for _, f := range []struct{ name, value string }{
		{"jobId", req.JobID},
		{"client", req.Client},
		{"modelName", req.ModelName},
	} {
		if f.value == "" {
			return errors.ValidationField(f.name, "Missing required fields: jobId, client, modelName")
		}
	}
	return nil
}

func (req RegisterJobRequest) meta(now time.Time) models.RenderJobMeta {
	createdAt := req.CreatedAt
	if createdAt == "" {
		createdAt = now.UTC().Format(createdAtLayout)
	}
	return models.RenderJobMeta{
		JobID:       req.JobID,
		Client:      req.Client,
		ModelName:   req.ModelName,
		VariantName: req.VariantName,
		View:        req.View,
		Views:       req.Views,
		Background:  req.Background,
		Resolution:  req.Resolution,
		Format:      req.Format,
		CreatedAt:   createdAt,
		Status:      models.StatusPending,
	}
}

// RegisterJob records a submitted render as pending. Resubmitting a
// model/variant that is still active is accepted unless blockDuplicates is
// set, in which case it is refused with 409.
func (h *Handler) RegisterJob(w http.ResponseWriter, r *http.Request) error {
	var req RegisterJobRequest
	if err := httpkit.DecodeJSON(w, r, &req); err != nil {
		metrics.JobRegistered(metrics.ResultInvalid)
		return errors.WrapWithCode(err, errors.CodeValidation, "renderjobs.register", "invalid json body")
	}
	if err := req.validate(); err != nil {
		metrics.JobRegistered(metrics.ResultInvalid)
		return err
	}

	meta := req.meta(time.Now())
	ctx := logger.ContextWithJobID(logger.ContextWithClient(r.Context(), meta.Client), meta.JobID)

	if err := h.register(ctx, meta); err != nil {
		return err
	}

	metrics.JobRegistered(metrics.ResultAccepted)
	h.log.FromContext(ctx).Info("render job registered",
		"model", meta.ModelName,
		"variant", meta.Variant(),
	)
	httpkit.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
	return nil
}

func (h *Handler) register(ctx context.Context, meta models.RenderJobMeta) error {
	if !h.blockDuplicates {
		if err := h.store.Register(ctx, meta); err != nil {
			return unavailable(err, "renderjobs.register")
		}
		return nil
	}

	blockedBy, err := h.store.TryRegister(ctx, meta)
	switch {
	case errors.Is(err, registry.ErrBlocked):
		metrics.JobRegistered(metrics.ResultBlocked)
		return errors.RenderBlocked(blockedBy).
			WithField("modelName", meta.ModelName).
			WithField("variantName", meta.Variant())
	case err != nil:
		return unavailable(err, "renderjobs.register")
	}
	return nil
}

// ListJobs returns the caller's bounded job view built from the worker queue,
// and refreshes the registry with the statuses it saw.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) error {
	ctx, client, err := h.tenant(r)
	if err != nil {
		return err
	}
	log := h.log.FromContext(ctx)

	upstream, err := h.worker.FetchQueue(ctx, client)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.Timeout("renderjobs.list")
		}
		return err
	}

	local, err := h.store.List(ctx, client)
	if err != nil {
		log.Warn("registry list failed, serving worker data only", "error", err.Error())
		local = nil
	}

	items := jobview.Merge(upstream, local)

	if _, dropped, err := reconciler.ApplyQueue(ctx, h.store, client, upstream); err != nil {
		log.Warn("registry status update failed", "error", err.Error())
	} else if dropped > 0 {
		log.Debug("status updates for unknown jobs dropped", "dropped", dropped)
	}
	if h.blockDuplicates {
		expired, err := reconciler.ExpireUnreported(ctx, h.store, client, upstream, h.pendingTTL, time.Now())
		if err != nil {
			log.Warn("expiring unreported jobs failed", "error", err.Error())
		}
		for _, id := range expired {
			log.WithJobID(id).Info("render job expired, worker no longer reports it")
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, jobview.Build(items, h.policy))
	return nil
}

// LocalJobs lists the registry entries for the caller's client, newest first.
func (h *Handler) LocalJobs(w http.ResponseWriter, r *http.Request) error {
	ctx, client, err := h.tenant(r)
	if err != nil {
		return err
	}

	jobs, err := h.store.List(ctx, client)
	if err != nil {
		return unavailable(err, "renderjobs.local")
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"items": jobs})
	return nil
}

// Blocked reports whether a new render of modelName/variantName would be refused.
func (h *Handler) Blocked(w http.ResponseWriter, r *http.Request) error {
	ctx, client, err := h.tenant(r)
	if err != nil {
		return err
	}

	q := r.URL.Query()
	model := strings.TrimSpace(q.Get("modelName"))
	if model == "" {
		return errors.ValidationField("modelName", "modelName is required")
	}
	variant := strings.TrimSpace(q.Get("variantName"))

	blocked, err := h.store.IsBlocked(ctx, client, model, variant)
	if err != nil {
		return unavailable(err, "renderjobs.blocked")
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]bool{"blocked": blocked})
	return nil
}

// Prune removes the caller's completed and failed jobs.
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) error {
	ctx, client, err := h.tenant(r)
	if err != nil {
		return err
	}

	removed, err := h.store.RemoveFinished(ctx, client)
	if err != nil {
		return unavailable(err, "renderjobs.prune")
	}
	metrics.JobsPruned(removed)

	httpkit.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
	return nil
}

// DeleteJob removes one job. Unknown ids succeed.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) error {
	ctx, client, err := h.tenant(r)
	if err != nil {
		return err
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if jobID == "" {
		return errors.ValidationField("jobId", "jobId is required")
	}

	if err := h.store.Delete(logger.ContextWithJobID(ctx, jobID), client, jobID); err != nil {
		return unavailable(err, "renderjobs.delete")
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
