package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAnswered  = "answered"
	OutcomeFallback  = "fallback"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

var (
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_submissions_total",
			Help: "Submitted drafts by result (accepted or empty).",
		},
		[]string{"result"},
	)

	fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fetch_results_total",
			Help: "Completed generation requests by outcome.",
		},
		[]string{"outcome"},
	)

	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_fetch_duration_seconds",
			Help:    "Latency of generation requests.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_pending_messages",
			Help: "Messages waiting for a reply.",
		},
	)

	sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions",
			Help: "Live chat sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(submissions)
	prometheus.MustRegister(fetches)
	prometheus.MustRegister(fetchDuration)
	prometheus.MustRegister(pending)
	prometheus.MustRegister(sessions)
}

// Submitted counts one submit call; accepted=false means an empty draft.
func Submitted(accepted bool) {
	if accepted {
		submissions.WithLabelValues("accepted").Inc()
		pending.Inc()
		return
	}
	submissions.WithLabelValues("empty").Inc()
}

// Resolved records a finished fetch.
func Resolved(outcome string, elapsed time.Duration) {
	fetches.WithLabelValues(outcome).Inc()
	fetchDuration.Observe(elapsed.Seconds())
	pending.Dec()
}

func SessionCreated() {
	sessions.Inc()
}

func SessionsDeleted(n int) {
	sessions.Sub(float64(n))
}
