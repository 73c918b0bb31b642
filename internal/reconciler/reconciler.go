package reconciler

import (
	"context"
	"time"

	"renderdesk/internal/metrics"
	"renderdesk/internal/pkg/logger"
	"renderdesk/internal/registry"
	"renderdesk/internal/renderworker"
)

type Deps struct {
	Store    registry.Store
	Worker   renderworker.Client
	Log      *logger.Logger
	Interval time.Duration

	// PendingTTL ages out active jobs the worker no longer reports; 0 disables it.
	PendingTTL time.Duration
}

// Reconciler periodically pulls each tracked client's queue, applies status
// changes and prunes finished jobs, so the registry does not grow without bound.
type Reconciler struct {
	store    registry.Store
	worker   renderworker.Client
	log      *logger.Logger
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
}

func New(d Deps) *Reconciler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Reconciler{
		store:    d.Store,
		worker:   d.Worker,
		log:      log.WithComponent("reconciler"),
		interval: d.Interval,
		ttl:      d.PendingTTL,
		now:      time.Now,
	}
}

// Result summarises one pass.
type Result struct {
	Clients int
	Failed  int
	Applied int
	Dropped int
	Expired int
	Pruned  int
}

// RunOnce syncs every client once. A failing client is logged and skipped;
// only a failure to list clients is returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	clients, err := r.store.Clients(ctx)
	if err != nil {
		return res, err
	}

	for _, client := range clients {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Clients++

		if err := r.syncClient(ctx, client, &res); err != nil {
			res.Failed++
			r.log.WithClient(client).Warn("client sync failed", "error", err.Error())
		}
	}
	return res, nil
}

func (r *Reconciler) syncClient(ctx context.Context, client string, res *Result) error {
	items, err := r.worker.FetchQueue(ctx, client)
	if err != nil {
		return err
	}

	applied, dropped, err := ApplyQueue(ctx, r.store, client, items)
	res.Applied += applied
	res.Dropped += dropped
	if err != nil {
		return err
	}

	expired, err := ExpireUnreported(ctx, r.store, client, items, r.ttl, r.now())
	res.Expired += len(expired)
	for _, id := range expired {
		r.log.WithClient(client).WithJobID(id).Info("render job expired, worker no longer reports it")
	}
	if err != nil {
		return err
	}

	pruned, err := r.store.RemoveFinished(ctx, client)
	if err != nil {
		return err
	}
	res.Pruned += pruned
	metrics.JobsPruned(pruned)
	return nil
}

// Run calls RunOnce every interval until ctx is canceled. A non-positive
// interval returns immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.log.Info("reconciler disabled")
		return nil
	}

	r.log.Info("reconciler started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopping")
			return ctx.Err()
		case <-ticker.C:
		}

		start := time.Now()
		res, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("reconciler stopping")
				return ctx.Err()
			}
			r.log.Warn("reconcile pass failed, retrying next tick", "error", err.Error())
			continue
		}
		r.log.Debug("reconcile pass completed",
			"clients", res.Clients,
			"failed", res.Failed,
			"applied", res.Applied,
			"dropped", res.Dropped,
			"expired", res.Expired,
			"pruned", res.Pruned,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
