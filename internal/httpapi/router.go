package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"renderdesk/internal/auth"
	"renderdesk/internal/httpapi/handlers"
	"renderdesk/internal/httpkit"
	"renderdesk/internal/pkg/middleware"
)

type Deps struct {
	handlers.Deps

	Sessions       *auth.Sessions
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	h := handlers.New(d.Deps)
	log := h.Log()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	// The job views are read from the browser with the session cookie.
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAgeSeconds:    600,
	}))

	// ---- HEALTH / METRICS ----
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// ---- RENDER JOBS ----
	r.Route("/api/render/jobs", func(r chi.Router) {
		r.Use(middleware.Timeout(d.RequestTimeout))

		r.Post("/register", middleware.WrapHandler(log, h.RegisterJob))

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(d.Sessions, log))

			r.Get("/list", middleware.WrapHandler(log, h.ListJobs))
			r.Get("/local", middleware.WrapHandler(log, h.LocalJobs))
			r.Get("/blocked", middleware.WrapHandler(log, h.Blocked))
			r.Post("/prune", middleware.WrapHandler(log, h.Prune))
			r.Delete("/{jobId}", middleware.WrapHandler(log, h.DeleteJob))
		})
	})

	return r
}
