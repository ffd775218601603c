package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_auth_refresh_rotations_total",
		Help: "Successful refresh-token rotations.",
	})

	metricReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_auth_refresh_reuse_total",
		Help: "Rotated refresh tokens presented again (security events).",
	})

	metricRenewFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_auth_renew_failures_total",
		Help: "Failed renew attempts by reason.",
	}, []string{"reason"})
)
