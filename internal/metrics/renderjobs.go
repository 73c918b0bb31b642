package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsRegistered, jobsPruned, jobsExpired, statusUpdates)
}

// Registration results.
const (
	ResultAccepted = "accepted"
	ResultBlocked  = "blocked"
	ResultInvalid  = "invalid"
)

var (
	jobsRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_jobs_registered_total",
			Help: "Render job submissions by outcome.",
		},
		[]string{"result"},
	)

	jobsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "render_jobs_pruned_total",
			Help: "Finished render jobs removed from the registry.",
		},
	)

	jobsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "render_jobs_expired_total",
			Help: "Active render jobs failed after the worker stopped reporting them.",
		},
	)

	statusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_jobs_status_updates_total",
			Help: "Status updates applied to known jobs or dropped for unknown ones.",
		},
		[]string{"result"},
	)
)

func JobRegistered(result string) {
	jobsRegistered.WithLabelValues(result).Inc()
}

func JobsPruned(n int) {
	if n > 0 {
		jobsPruned.Add(float64(n))
	}
}

func JobsExpired(n int) {
	if n > 0 {
		jobsExpired.Add(float64(n))
	}
}

// StatusUpdate counts an upsert; found=false means the job was unknown here.
func StatusUpdate(found bool) {
	if found {
		statusUpdates.WithLabelValues("applied").Inc()
		return
	}
	statusUpdates.WithLabelValues("dropped").Inc()
}
