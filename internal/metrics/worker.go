package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(workerRequests, workerLatency)
}

// Outcomes of a render worker queue call.
const (
	OutcomeOK             = "ok"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
	OutcomeDecodeError    = "decode_error"
	OutcomeNotConfigured  = "not_configured"
)

var (
	workerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_worker_requests_total",
			Help: "Calls to the render worker queue API by outcome.",
		},
		[]string{"outcome"},
	)

	workerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "render_worker_request_duration_seconds",
			Help:    "Latency of render worker queue calls.",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
	)
)

// ObserveWorkerCall records one queue call. Calls that never left the process
// (not configured) are counted but not timed.
func ObserveWorkerCall(outcome string, took time.Duration) {
	workerRequests.WithLabelValues(outcome).Inc()
	if outcome != OutcomeNotConfigured {
		workerLatency.Observe(took.Seconds())
	}
}
