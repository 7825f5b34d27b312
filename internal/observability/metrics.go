package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "requests_created_total", Help: "Service requests created"})

	DispatchAttempts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "search_attempts_total", Help: "Expanding-radius search attempts"})
	DispatchExhausted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "search_exhausted_total", Help: "Dispatches that exhausted all radii with no candidates"})
	ProvidersNotified = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "providers_notified_total", Help: "Providers notified of a request"})

	AssignmentsWon  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "assignments_won_total", Help: "Accept attempts that won the assignment"})
	AssignmentsLost = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "assignments_lost_total", Help: "Accept attempts that lost the race"})

	SessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "sessions_connected", Help: "Open real-time channels"})

	NotifySendFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "notify_send_failures_total", Help: "Channel pushes that failed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
