// Command reconciler keeps a shared Redis registry in step with the render
// worker when API instances run with RECONCILE_INTERVAL=0.
package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"renderdesk/internal/config"
	"renderdesk/internal/pkg/logger"
	"renderdesk/internal/pkg/shutdown"
	"renderdesk/internal/reconciler"
	"renderdesk/internal/registry"
	"renderdesk/internal/renderworker"
)

const defaultInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "renderdesk-reconciler",
		AddSource:   cfg.Log.Source,
	})

	// A memory registry in its own process would never see a job.
	if cfg.Registry.Backend != config.BackendRedis {
		log.Error("reconciler needs REGISTRY_BACKEND=redis", "backend", cfg.Registry.Backend)
		return
	}
	if !cfg.WorkerConfigured() {
		log.Error("reconciler needs RENDER_PREP_WORKER_URL and RENDER_WORKER_API_TOKEN")
		return
	}

	interval := cfg.Reconcile.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	store, err := registry.New(registry.BackendRedis, rdb)
	if err != nil {
		log.LogFatal("failed to build registry", err)
	}

	rec := reconciler.New(reconciler.Deps{
		Store:    store,
		Worker:   renderworker.NewHTTPClient(cfg.Worker.URL, cfg.Worker.Token, cfg.Worker.Timeout),
		Log:      log,
		Interval: interval,

		PendingTTL: cfg.ExpiryTTL(),
	})

	done := make(chan struct{})
	shutdownMgr.Register("reconciler", func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		err := rec.Run(ctx)
		close(done)
		if ctx.Err() == nil {
			// Run returned on its own; nothing is left to wait for.
			log.Error("reconciler stopped unexpectedly", "error", err)
			shutdownMgr.Shutdown()
		}
	}()

	shutdownMgr.Wait()
}
