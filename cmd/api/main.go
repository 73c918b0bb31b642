package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderdesk/internal/auth"
	"renderdesk/internal/config"
	"renderdesk/internal/httpapi"
	"renderdesk/internal/httpapi/handlers"
	"renderdesk/internal/jobview"
	"renderdesk/internal/metrics"
	"renderdesk/internal/pkg/logger"
	"renderdesk/internal/pkg/shutdown"
	"renderdesk/internal/reconciler"
	"renderdesk/internal/registry"
	"renderdesk/internal/renderworker"
	"renderdesk/internal/repositories"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "renderdesk-api",
		AddSource:   cfg.Log.Source,
	})

	log.Info("starting renderdesk API",
		"version", "0.1.0",
		"registry", cfg.Registry.Backend,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)
	metrics.MustRegister()

	// PostgreSQL is optional: without it every caller resolves from the session token.
	var pool *pgxpool.Pool
	var profiles auth.ProfileLookup
	if cfg.Database.URL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.RegisterSimple("postgres", pool.Close)

		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		profiles = repositories.NewProfileRepository(pool)
		log.Info("PostgreSQL connected")
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		log.Info("connecting to Redis")
		rdb = redis.NewClient(&redis.Options{
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
		log.Info("Redis connected")
	}

	store, err := registry.New(cfg.Registry.Backend, rdb)
	if err != nil {
		log.LogFatal("failed to build registry", err)
	}

	worker := renderworker.NewHTTPClient(cfg.Worker.URL, cfg.Worker.Token, cfg.Worker.Timeout)
	if !worker.Configured() {
		log.Warn("render worker not configured, the list endpoint will answer 500")
	}

	if cfg.Reconcile.Interval > 0 {
		recCtx, cancel := context.WithCancel(ctx)
		rec := reconciler.New(reconciler.Deps{
			Store:    store,
			Worker:   worker,
			Log:      log,
			Interval: cfg.Reconcile.Interval,

			PendingTTL: cfg.ExpiryTTL(),
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = rec.Run(recCtx)
		}()
		shutdownMgr.Register("reconciler", func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Deps: handlers.Deps{
			Store:    store,
			Worker:   worker,
			Resolver: auth.NewTenantResolver(profiles),
			Policy: jobview.Policy{
				TrackedLimit:  cfg.View.TrackedActiveLimit,
				FinishedLimit: cfg.View.FinishedLimit,
			},
			Log:     log,

			BlockDuplicates: cfg.Registry.BlockDuplicates,
			PendingTTL:      cfg.ExpiryTTL(),

			Pool:    pool,
			RDB:     rdb,
			Backend: cfg.Registry.Backend,
		},
		Sessions:       auth.NewSessions(cfg.Session.Secret, cfg.Session.CookieName),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTP.Port,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "error", err.Error())
			shutdownMgr.Shutdown()
			os.Exit(1)
		}
	}()

	shutdownMgr.Wait()
}
