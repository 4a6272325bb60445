package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "corider", Name: "dispatches_total", Help: "Ride requests fanned out to drivers"})
	CandidatesFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "corider",
		Name:      "dispatch_candidates",
		Help:      "Eligible drivers found per dispatch",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
	NotificationsSent  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "corider", Name: "dispatch_notifications_total", Help: "Driver offers published"})
	AcceptConflicts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "corider", Name: "ride_accept_conflicts_total", Help: "Accept attempts that lost the race"})
	RidesCompleted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "corider", Name: "rides_completed_total", Help: "Rides reaching COMPLETED"})
	FareSplitRecompute = promauto.NewCounter(prometheus.CounterOpts{Namespace: "corider", Name: "fare_split_recompute_total", Help: "Carpool fare share recomputations"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "corider", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corider",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
