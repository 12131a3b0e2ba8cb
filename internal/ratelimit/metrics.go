package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Calls rejected by the rate limiter",
		},
		[]string{"operation", "layer"},
	)

	sharedFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_store_failures_total",
			Help: "Shared store errors that made the limiter fail open",
		},
	)
)
