package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_requests_total",
			Help: "Total backend requests by outcome",
		},
		[]string{"path", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canopy_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_token_refreshes_total",
			Help: "Total access-token refresh attempts",
		},
		[]string{"result"},
	)

	authRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canopy_auth_retries_total",
			Help: "Total requests retried after a token refresh",
		},
	)
)

func recordRequest(path, outcome string) {
	requestsTotal.WithLabelValues(path, outcome).Inc()
}

func recordRefresh(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	tokenRefreshesTotal.WithLabelValues(result).Inc()
}
