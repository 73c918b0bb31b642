package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderdesk/internal/auth"
	"renderdesk/internal/jobview"
	"renderdesk/internal/pkg/errors"
	"renderdesk/internal/pkg/logger"
	"renderdesk/internal/registry"
	"renderdesk/internal/renderworker"
)

type Deps struct {
	Store    registry.Store
	Worker   renderworker.Client
	Resolver *auth.TenantResolver
	Policy   jobview.Policy
	Log      *logger.Logger

	// BlockDuplicates turns on the 409 for a model/variant that already has an
	// active job. PendingTTL ages out jobs the worker never reported.
	BlockDuplicates bool
	PendingTTL      time.Duration

	// Optional, used by the deep health check only.
	Pool    *pgxpool.Pool
	RDB     *redis.Client
	Backend string
}

type Handler struct {
	store    registry.Store
	worker   renderworker.Client
	resolver *auth.TenantResolver
	policy   jobview.Policy
	log      *logger.Logger

	blockDuplicates bool
	pendingTTL      time.Duration

	pool    *pgxpool.Pool
	rdb     *redis.Client
	backend string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	backend := d.Backend
	if backend == "" {
		backend = registry.BackendMemory
	}
	return &Handler{
		store:    d.Store,
		worker:   d.Worker,
		resolver: d.Resolver,
		policy:   d.Policy,
		log:      log,

		blockDuplicates: d.BlockDuplicates,
		pendingTTL:      d.PendingTTL,

		pool:    d.Pool,
		rdb:     d.RDB,
		backend: backend,
	}
}

// Log is the logger handlers report through; the router wraps handlers with it.
func (h *Handler) Log() *logger.Logger {
	return h.log
}

// tenant resolves the caller's client and returns a context carrying it for logs.
func (h *Handler) tenant(r *http.Request) (context.Context, string, error) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return nil, "", errors.Unauthorized("Unauthorized")
	}
	client, err := h.resolver.Resolve(r.Context(), claims)
	if err != nil {
		return nil, "", err
	}
	return logger.ContextWithClient(r.Context(), client), client, nil
}

// unavailable reports a registry failure as 503.
func unavailable(err error, op string) error {
	return errors.Unavailable(err, op, "registry")
}
